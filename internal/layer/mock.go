package layer

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/atomicfile"
	"github.com/sells-group/geocluster/internal/model"
)

// mockRegion is one synthetic reference polygon: an axis-aligned box.
type mockRegion struct {
	regionID               int
	value                  float64
	minX, minY, maxX, maxY float64
}

// Synthetic reference data covering parts of the US Pacific Northwest.
var (
	mockPopulation = []mockRegion{
		{1, 500, -125, 48, -124, 49},
		{2, 1200, -123, 47, -122, 48},
		{3, 800, -120, 45, -119, 46},
	}
	mockTraffic = []mockRegion{
		{1, 200, -125, 47, -124, 48},
		{2, 400, -123, 45, -122, 46},
		{3, 300, -121, 43, -120, 44},
	}
)

// MockSpecs returns the specs of the mock layers as written by WriteMock
// into dir, in join order.
func MockSpecs(dir string) []Spec {
	return []Spec{
		{Name: "population_density", Source: filepath.Join(dir, "population_density.geojson"), Suffix: "pop_density", MetricField: "population_density"},
		{Name: "traffic_flow", Source: filepath.Join(dir, "traffic_flow.geojson"), Suffix: "traffic", MetricField: "traffic_flow"},
	}
}

// MockLayers builds the synthetic population density and traffic flow layers.
func MockLayers() ([]*Layer, error) {
	pop, err := buildMock("population_density", "pop_density", mockPopulation)
	if err != nil {
		return nil, err
	}
	traffic, err := buildMock("traffic_flow", "traffic", mockTraffic)
	if err != nil {
		return nil, err
	}
	return []*Layer{pop, traffic}, nil
}

func buildMock(metric, suffix string, regions []mockRegion) (*Layer, error) {
	features := make([]RegionFeature, 0, len(regions))
	for i, r := range regions {
		poly := geom.NewPolygonFlat(geom.XY, []float64{
			r.minX, r.minY,
			r.maxX, r.minY,
			r.maxX, r.maxY,
			r.minX, r.maxY,
			r.minX, r.minY,
		}, []int{10})

		props := model.NewProperties()
		props.Set("region_id", r.regionID)
		props.Set(metric, r.value)

		f, err := NewRegionFeature(i, poly, props)
		if err != nil {
			return nil, eris.Wrapf(err, "layer: mock %s", metric)
		}
		features = append(features, f)
	}
	return New(metric, suffix, metric, DefaultCRS, features)
}

// WriteMock writes the mock layers as GeoJSON files into dir and returns
// the written paths.
func WriteMock(dir string) ([]string, error) {
	layers, err := MockLayers()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "layer: create %s", dir)
	}

	paths := make([]string, 0, len(layers))
	for _, l := range layers {
		p := filepath.Join(dir, l.Name+".geojson")
		if err := writeLayerFile(p, l); err != nil {
			return nil, err
		}
		zap.L().Info("mock layer written", zap.String("layer", l.Name), zap.String("path", p))
		paths = append(paths, p)
	}
	return paths, nil
}

func writeLayerFile(path string, l *Layer) error {
	return atomicfile.Write(path, func(w io.Writer) error {
		return WriteGeoJSON(w, l)
	})
}
