package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/internal/density"
	"github.com/sells-group/geocluster/internal/facility"
	"github.com/sells-group/geocluster/internal/layer"
	"github.com/sells-group/geocluster/internal/resolver"
)

// GeocodeFile reads the facility list at in, resolves missing coordinates,
// and writes the geocoded list as CSV to out.
func (p *Pipeline) GeocodeFile(ctx context.Context, in, out string) (resolver.Stats, error) {
	var stats resolver.Stats
	err := track("geocode", func() error {
		facilities, err := facility.Read(ctx, in, facility.Options{
			Encoding: p.cfg.Input.Encoding,
			Sheet:    p.cfg.Input.Sheet,
		})
		if err != nil {
			return err
		}
		geocoded, s, err := p.Geocode(ctx, facilities)
		stats = s
		if err != nil {
			return err
		}
		return facility.WriteCSV(out, geocoded)
	})
	return stats, err
}

// EnrichFile reads a geocoded facility list, joins it against the layers,
// and writes the enriched dataset to out.
func (p *Pipeline) EnrichFile(ctx context.Context, in string, specs []layer.Spec, out string) (*dataset.Dataset, error) {
	var d *dataset.Dataset
	err := track("enrich", func() error {
		facilities, err := facility.Read(ctx, in, facility.Options{Encoding: p.cfg.Input.Encoding})
		if err != nil {
			return err
		}
		layers, err := p.LoadLayers(ctx, specs)
		if err != nil {
			return err
		}
		d, err = p.Enrich(facilities, layers)
		if err != nil {
			return err
		}
		return d.Write(out)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ClusterFile reads an enriched dataset, clusters and classifies it, and
// writes the final dataset to out.
func (p *Pipeline) ClusterFile(in, out string) ([]density.Summary, error) {
	var summaries []density.Summary
	err := track("cluster", func() error {
		d, err := dataset.Read(in)
		if err != nil {
			return err
		}
		clustered, res, err := p.Cluster(d)
		if err != nil {
			return err
		}
		summaries = density.Summaries(res, p.thresholds())
		for _, s := range summaries {
			zap.L().Debug("cluster summary",
				zap.String("component", "pipeline"),
				zap.Int("cluster", s.Cluster),
				zap.Int("members", s.Members),
				zap.String("band", s.Band.String()),
			)
		}
		return clustered.Write(out)
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
