// Package pipeline composes the geocode, enrich, and cluster stages and
// writes each stage's artifact once the stage succeeds.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/cluster"
	"github.com/sells-group/geocluster/internal/config"
	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/internal/density"
	"github.com/sells-group/geocluster/internal/enrich"
	"github.com/sells-group/geocluster/internal/facility"
	"github.com/sells-group/geocluster/internal/layer"
	"github.com/sells-group/geocluster/internal/model"
	"github.com/sells-group/geocluster/internal/resolver"
)

// Artifact file names written under the output directory.
const (
	GeocodedFile  = "facilities_geocoded.csv"
	EnrichedFile  = "facilities_enriched.geojson"
	ClusteredFile = "facilities_clustered.geojson"
)

// Pipeline runs the stages with one configuration.
type Pipeline struct {
	cfg      *config.Config
	resolver *resolver.Resolver
	fetcher  layer.Fetcher
}

// New creates a Pipeline. res may be nil when the input already carries
// coordinates for every facility; fetcher may be nil when no layers are used.
func New(cfg *config.Config, res *resolver.Resolver, fetcher layer.Fetcher) *Pipeline {
	return &Pipeline{cfg: cfg, resolver: res, fetcher: fetcher}
}

// Request names the input and output locations of a full run.
type Request struct {
	Input     string       // facility list, .csv or .xlsx
	OutputDir string       // artifacts are written here
	Layers    []layer.Spec // join order
}

// Report summarizes a full run.
type Report struct {
	Facilities int               `json:"facilities"`
	Geocode    resolver.Stats    `json:"geocode"`
	Fields     []string          `json:"fields"`
	Rows       int               `json:"rows"`
	Clusters   []density.Summary `json:"clusters"`
	Artifacts  []string          `json:"artifacts"`
	Duration   time.Duration     `json:"duration"`
}

// Run executes read, geocode, enrich, and cluster in order. Each stage's
// artifact is written before the next stage starts, so a failure leaves
// the artifacts of every earlier stage in place.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "pipeline"))
	log.Info("pipeline: starting",
		zap.String("input", req.Input),
		zap.String("output_dir", req.OutputDir),
		zap.Int("layers", len(req.Layers)),
	)

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create output dir %s", req.OutputDir)
	}
	report := &Report{}

	var facilities []model.Facility
	err := track("read", func() error {
		var err error
		facilities, err = facility.Read(ctx, req.Input, facility.Options{
			Encoding: p.cfg.Input.Encoding,
			Sheet:    p.cfg.Input.Sheet,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	report.Facilities = len(facilities)

	geocodedPath := filepath.Join(req.OutputDir, GeocodedFile)
	err = track("geocode", func() error {
		geocoded, stats, err := p.Geocode(ctx, facilities)
		if err != nil {
			return err
		}
		facilities = geocoded
		report.Geocode = stats
		return facility.WriteCSV(geocodedPath, facilities)
	})
	if err != nil {
		return nil, err
	}
	report.Artifacts = append(report.Artifacts, geocodedPath)

	enrichedPath := filepath.Join(req.OutputDir, EnrichedFile)
	var enriched *dataset.Dataset
	err = track("enrich", func() error {
		layers, err := p.LoadLayers(ctx, req.Layers)
		if err != nil {
			return err
		}
		enriched, err = p.Enrich(facilities, layers)
		if err != nil {
			return err
		}
		return enriched.Write(enrichedPath)
	})
	if err != nil {
		return nil, err
	}
	report.Fields = enriched.Fields
	report.Rows = len(enriched.Rows)
	report.Artifacts = append(report.Artifacts, enrichedPath)

	clusteredPath := filepath.Join(req.OutputDir, ClusteredFile)
	err = track("cluster", func() error {
		clustered, res, err := p.Cluster(enriched)
		if err != nil {
			return err
		}
		report.Clusters = density.Summaries(res, p.thresholds())
		return clustered.Write(clusteredPath)
	})
	if err != nil {
		return nil, err
	}
	report.Artifacts = append(report.Artifacts, clusteredPath)

	report.Duration = time.Since(start)
	log.Info("pipeline: complete",
		zap.Int("facilities", report.Facilities),
		zap.Int("rows", report.Rows),
		zap.Int("clusters", len(report.Clusters)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// Geocode returns a copy of facilities with missing coordinates resolved.
// The input slice is left untouched.
func (p *Pipeline) Geocode(ctx context.Context, facilities []model.Facility) ([]model.Facility, resolver.Stats, error) {
	out := make([]model.Facility, len(facilities))
	pending := 0
	for i := range facilities {
		out[i] = facilities[i].Clone()
		if !out[i].HasCoordinates() {
			pending++
		}
	}
	if pending == 0 {
		return out, resolver.Stats{Skipped: len(out)}, nil
	}
	if p.resolver == nil {
		return nil, resolver.Stats{}, eris.Errorf("pipeline: %d facilities need geocoding but no resolver is configured", pending)
	}

	stats, err := p.resolver.ResolveAll(ctx, out, p.cfg.Geocode.Concurrency)
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// LoadLayers fetches and validates the reference layers in join order.
func (p *Pipeline) LoadLayers(ctx context.Context, specs []layer.Spec) ([]*layer.Layer, error) {
	if len(specs) == 0 {
		zap.L().Warn("pipeline: no reference layers configured", zap.String("component", "pipeline"))
		return nil, nil
	}
	if p.fetcher == nil {
		return nil, eris.New("pipeline: layers configured but no fetcher")
	}
	return layer.LoadAll(ctx, specs, p.fetcher, p.cfg.Enrich.DefaultCRS)
}

// Enrich joins facilities against layers with the configured match policy.
func (p *Pipeline) Enrich(facilities []model.Facility, layers []*layer.Layer) (*dataset.Dataset, error) {
	policy, err := enrich.ParseMatchPolicy(p.cfg.Enrich.MatchPolicy)
	if err != nil {
		return nil, err
	}
	rows, schema, err := enrich.Enrich(facilities, layers, enrich.Options{Policy: policy})
	if err != nil {
		return nil, err
	}
	return dataset.FromEnriched(rows, schema.Fields), nil
}

// Cluster clusters and classifies an enriched dataset using the configured
// k, seed, and thresholds.
func (p *Pipeline) Cluster(d *dataset.Dataset) (*dataset.Dataset, *cluster.Result, error) {
	rows, res, err := Classify(d.Enriched(), p.clusterOptions(), p.thresholds())
	if err != nil {
		return nil, nil, err
	}
	return &dataset.Dataset{Fields: d.Fields, Rows: rows, Clustered: true}, res, nil
}

// Classify assigns every row its cluster id, the member count of that
// cluster, and the cluster's density band. Rows of facilities without
// coordinates get model.Unclustered and the unclassified band.
func Classify(rows []model.EnrichedFacility, opts cluster.Options, th density.Thresholds) ([]model.ClusteredFacility, *cluster.Result, error) {
	points := make([]model.Facility, len(rows))
	for i := range rows {
		points[i] = rows[i].Facility
	}
	res, err := cluster.Run(points, opts)
	if err != nil {
		return nil, nil, err
	}
	bands := density.Classify(res.Assignment, th)

	out := make([]model.ClusteredFacility, len(rows))
	for i := range rows {
		c := res.Assignment[rows[i].ID]
		band := bands[rows[i].ID]
		size := 0
		if c != model.Unclustered {
			size = res.Counts[c]
		}
		out[i] = model.ClusteredFacility{
			EnrichedFacility: rows[i],
			Cluster:          c,
			ClusterSize:      size,
			Band:             band.String(),
			Color:            band.Color(),
		}
	}
	return out, res, nil
}

func (p *Pipeline) clusterOptions() cluster.Options {
	return cluster.Options{
		K:             p.cfg.Cluster.K,
		Seed:          p.cfg.Cluster.Seed,
		MaxIterations: p.cfg.Cluster.MaxIterations,
		Tolerance:     p.cfg.Cluster.Tolerance,
	}
}

func (p *Pipeline) thresholds() density.Thresholds {
	return density.Thresholds{
		Medium:   p.cfg.Density.Medium,
		High:     p.cfg.Density.High,
		Critical: p.cfg.Density.Critical,
	}
}

// track runs one stage, logs its duration, and wraps a failure with the
// stage name.
func track(stage string, fn func() error) error {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("stage", stage))
	log.Info("pipeline: stage starting")

	start := time.Now()
	if err := fn(); err != nil {
		log.Error("pipeline: stage failed",
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Error(err),
		)
		return eris.Wrapf(err, "pipeline: %s", stage)
	}
	log.Info("pipeline: stage complete", zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}
