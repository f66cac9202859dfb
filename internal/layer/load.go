package layer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geocluster/internal/fetcher"
)

// Spec declares one layer to load.
type Spec struct {
	Name        string `yaml:"name" json:"name"`
	Source      string `yaml:"source" json:"source"`             // path or http(s)/ftp URI; .geojson, .json, .shp or .zip
	Suffix      string `yaml:"suffix" json:"suffix"`             // defaults to Name
	MetricField string `yaml:"metric_field" json:"metric_field"` // required attribute on every feature
	CRS         string `yaml:"crs" json:"crs,omitempty"`         // frame to assume when the source declares none
}

// Manifest is an ordered list of layers. Order is the join order.
type Manifest struct {
	Layers []Spec `yaml:"layers"`
}

// LoadManifest reads a YAML layer manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: read manifest %s", path)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "layer: parse manifest %s", path)
	}

	seen := make(map[string]bool)
	for i, s := range m.Layers {
		if s.Name == "" || s.Source == "" {
			return nil, eris.Errorf("layer: manifest entry %d needs name and source", i)
		}
		if seen[s.Name] {
			return nil, eris.Errorf("layer: duplicate layer name %q in manifest", s.Name)
		}
		seen[s.Name] = true
	}
	return &m, nil
}

// Fetcher resolves a source URI to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (string, error)
}

// Load fetches, decodes and validates one layer. A layer without a declared
// frame is assumed to be in spec.CRS, or defaultCRS when that is empty.
func Load(ctx context.Context, spec Spec, f Fetcher, defaultCRS string) (*Layer, error) {
	log := zap.L().With(zap.String("component", "layer"), zap.String("layer", spec.Name))

	local, err := f.Fetch(ctx, spec.Source)
	if err != nil {
		return nil, eris.Wrapf(err, "layer %s", spec.Name)
	}

	path, err := resolveSourceFile(local)
	if err != nil {
		return nil, eris.Wrapf(err, "layer %s", spec.Name)
	}

	var dc *decodedCollection
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		dc, err = readShapefile(path)
	default:
		dc, err = readGeoJSONFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "layer %s", spec.Name)
	}

	crs, err := NormalizeCRS(dc.CRS)
	if err != nil {
		return nil, eris.Wrapf(err, "layer %s", spec.Name)
	}
	if crs == "" {
		fallback := spec.CRS
		if fallback == "" {
			fallback = defaultCRS
		}
		if crs, err = NormalizeCRS(fallback); err != nil {
			return nil, eris.Wrapf(err, "layer %s: default frame", spec.Name)
		}
		if crs == "" {
			crs = DefaultCRS
		}
		log.Info("layer declares no coordinate reference system, assuming default", zap.String("crs", crs))
	}

	l, err := New(spec.Name, spec.Suffix, spec.MetricField, crs, dc.Features)
	if err != nil {
		return nil, err
	}
	log.Info("layer loaded",
		zap.String("source", spec.Source),
		zap.Int("features", len(l.Features)),
		zap.Strings("fields", l.Fields),
	)
	return l, nil
}

// LoadAll loads specs in order, stopping at the first failure.
func LoadAll(ctx context.Context, specs []Spec, f Fetcher, defaultCRS string) ([]*Layer, error) {
	layers := make([]*Layer, 0, len(specs))
	for _, s := range specs {
		l, err := Load(ctx, s, f, defaultCRS)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, nil
}

// resolveSourceFile picks the layer file inside an extracted archive.
func resolveSourceFile(local string) (string, error) {
	info, err := os.Stat(local)
	if err != nil {
		return "", eris.Wrapf(err, "stat %s", local)
	}
	if !info.IsDir() {
		return local, nil
	}
	if p, err := fetcher.FindByExt(local, ".shp"); err == nil {
		return p, nil
	}
	if p, err := fetcher.FindByExt(local, ".geojson"); err == nil {
		return p, nil
	}
	return fetcher.FindByExt(local, ".json")
}

func readGeoJSONFile(path string) (*decodedCollection, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: open %s", path)
	}
	defer file.Close() //nolint:errcheck

	return readGeoJSON(file)
}
