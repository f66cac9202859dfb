package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geocluster/internal/cluster"
	"github.com/sells-group/geocluster/internal/config"
	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/internal/density"
	"github.com/sells-group/geocluster/internal/facility"
	"github.com/sells-group/geocluster/internal/fetcher"
	"github.com/sells-group/geocluster/internal/layer"
	"github.com/sells-group/geocluster/internal/model"
	"github.com/sells-group/geocluster/internal/resolver"
	"github.com/sells-group/geocluster/pkg/geocode"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Lookup(ctx context.Context, address string) (*geocode.Coordinate, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geocode.Coordinate), args.Error(1)
}

const facilitiesCSV = `id,name,region,address,latitude,longitude
a,Seattle,WA,400 Broad St,,
b,Coast,WA,1 Coast Rd,47.5,-124.5
c,Lost,,unknown,,
d,Plains,KS,9 East Rd,40,-100
`

func testConfig() *config.Config {
	return &config.Config{
		Geocode: config.GeocodeConfig{MaxRetries: 2, Concurrency: 2},
		Enrich:  config.EnrichConfig{DefaultCRS: "EPSG:4326", MatchPolicy: "all"},
		Cluster: config.ClusterConfig{K: 2, Seed: 42, MaxIterations: 300, Tolerance: 1e-4},
		Density: config.DensityConfig{Medium: 1, High: 5, Critical: 10},
	}
}

func newProvider() *mockProvider {
	p := &mockProvider{}
	p.On("Lookup", mock.Anything, "400 Broad St").
		Return(&geocode.Coordinate{Latitude: 47.6062, Longitude: -122.3321, Source: "mock"}, nil).Once()
	p.On("Lookup", mock.Anything, "unknown").Return(nil, nil).Times(2)
	return p
}

func setup(t *testing.T, provider geocode.Provider) (*Pipeline, Request) {
	t.Helper()
	dir := t.TempDir()

	input := filepath.Join(dir, "facilities.csv")
	require.NoError(t, os.WriteFile(input, []byte(facilitiesCSV), 0o644))

	layerDir := filepath.Join(dir, "layers")
	_, err := layer.WriteMock(layerDir)
	require.NoError(t, err)

	var res *resolver.Resolver
	if provider != nil {
		res = resolver.New(provider, 2, 0)
	}
	p := New(testConfig(), res, fetcher.NewOpener(t.TempDir(), nil, nil))
	return p, Request{Input: input, OutputDir: filepath.Join(dir, "out"), Layers: layer.MockSpecs(layerDir)}
}

func byID(rows []model.ClusteredFacility) map[string]model.ClusteredFacility {
	out := make(map[string]model.ClusteredFacility, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out
}

func TestRun(t *testing.T) {
	provider := newProvider()
	p, req := setup(t, provider)

	report, err := p.Run(context.Background(), req)
	require.NoError(t, err)
	provider.AssertExpectations(t)

	assert.Equal(t, 4, report.Facilities)
	assert.Equal(t, resolver.Stats{Resolved: 1, Missed: 1, Skipped: 2}, report.Geocode)
	assert.Equal(t, 4, report.Rows)
	assert.Equal(t, []string{
		"region_id", "population_density", "index_pop_density",
		"region_id_traffic", "traffic_flow", "index_traffic",
	}, report.Fields)
	require.Len(t, report.Clusters, 2)
	require.Len(t, report.Artifacts, 3)
	for _, a := range report.Artifacts {
		assert.FileExists(t, a)
	}

	d, err := dataset.Read(filepath.Join(req.OutputDir, ClusteredFile))
	require.NoError(t, err)
	require.Len(t, d.Rows, 4)
	rows := byID(d.Rows)

	assert.Equal(t, rows["a"].Cluster, rows["b"].Cluster)
	assert.NotEqual(t, rows["a"].Cluster, rows["d"].Cluster)
	assert.Equal(t, model.Unclustered, rows["c"].Cluster)

	assert.Equal(t, 2, rows["a"].ClusterSize)
	assert.Equal(t, "medium", rows["a"].Band)
	assert.Equal(t, "yellow", rows["a"].Color)
	assert.Equal(t, 1, rows["d"].ClusterSize)
	assert.Equal(t, "low", rows["d"].Band)
	assert.Equal(t, "unclassified", rows["c"].Band)
	assert.Equal(t, "gray", rows["c"].Color)

	assert.InDelta(t, 47.6062, *rows["a"].Latitude, 1e-9)
	assert.Equal(t, 1200.0, rows["a"].Attributes["population_density"])
	assert.Nil(t, rows["a"].Attributes["traffic_flow"])
	assert.Equal(t, 200.0, rows["b"].Attributes["traffic_flow"])
	assert.Nil(t, rows["c"].Attributes["population_density"])
	assert.Nil(t, rows["d"].Attributes["index_traffic"])
}

func TestRun_GeocodedArtifact(t *testing.T) {
	p, req := setup(t, newProvider())
	_, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	facilities, err := facility.Read(context.Background(), filepath.Join(req.OutputDir, GeocodedFile), facility.Options{})
	require.NoError(t, err)
	require.Len(t, facilities, 4)
	assert.Equal(t, "a", facilities[0].ID)
	assert.True(t, facilities[0].HasCoordinates())
	assert.False(t, facilities[2].HasCoordinates())
}

func TestRun_MissingInput(t *testing.T) {
	p, req := setup(t, newProvider())
	req.Input = filepath.Join(t.TempDir(), "missing.csv")

	_, err := p.Run(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: read")
}

func TestRun_NoCoordinatesKeepsEarlierArtifacts(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Lookup", mock.Anything, mock.Anything).Return(nil, nil)

	dir := t.TempDir()
	input := filepath.Join(dir, "facilities.csv")
	require.NoError(t, os.WriteFile(input, []byte("address\n1 Main St\n2 Main St\n"), 0o644))

	p := New(testConfig(), resolver.New(provider, 1, 0), nil)
	out := filepath.Join(dir, "out")
	_, err := p.Run(context.Background(), Request{Input: input, OutputDir: out})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: cluster")
	assert.True(t, eris.Is(err, cluster.ErrNoCoordinates))

	assert.FileExists(t, filepath.Join(out, GeocodedFile))
	assert.FileExists(t, filepath.Join(out, EnrichedFile))
	assert.NoFileExists(t, filepath.Join(out, ClusteredFile))
}

func TestRun_InvalidLayer(t *testing.T) {
	p, req := setup(t, newProvider())
	bad := filepath.Join(t.TempDir(), "bad.geojson")
	require.NoError(t, os.WriteFile(bad, []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"region_id":1,"v":1},"geometry":{"type":"Point","coordinates":[0,0]}}
	]}`), 0o644))
	req.Layers = []layer.Spec{{Name: "bad", Source: bad, MetricField: "v"}}

	_, err := p.Run(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: enrich")
	assert.FileExists(t, filepath.Join(req.OutputDir, GeocodedFile))
	assert.NoFileExists(t, filepath.Join(req.OutputDir, EnrichedFile))
}

func TestGeocode_DoesNotMutateInput(t *testing.T) {
	provider := &mockProvider{}
	provider.On("Lookup", mock.Anything, "1 Main St").
		Return(&geocode.Coordinate{Latitude: 1, Longitude: 2}, nil).Once()
	p := New(testConfig(), resolver.New(provider, 1, 0), nil)

	in := []model.Facility{{ID: "x", Address: "1 Main St"}}
	out, stats, err := p.Geocode(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
	assert.False(t, in[0].HasCoordinates())
	assert.True(t, out[0].HasCoordinates())
}

func TestGeocode_NoResolver(t *testing.T) {
	p := New(testConfig(), nil, nil)

	placed := []model.Facility{{ID: "x", Address: "a", Latitude: model.Float(1), Longitude: model.Float(1)}}
	out, stats, err := p.Geocode(context.Background(), placed)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 1, stats.Skipped)

	_, _, err = p.Geocode(context.Background(), []model.Facility{{ID: "y", Address: "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no resolver")
}

func TestLoadLayers_NeedsFetcher(t *testing.T) {
	p := New(testConfig(), nil, nil)
	layers, err := p.LoadLayers(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, layers)

	_, err = p.LoadLayers(context.Background(), []layer.Spec{{Name: "x", Source: "x.geojson"}})
	require.Error(t, err)
}

func TestEnrich_UnknownPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Enrich.MatchPolicy = "largest"
	_, err := New(cfg, nil, nil).Enrich(nil, nil)
	require.Error(t, err)
}

func TestClassify_DuplicateRowsShareCluster(t *testing.T) {
	base := model.Facility{ID: "a", Address: "x", Latitude: model.Float(1), Longitude: model.Float(1)}
	rows := []model.EnrichedFacility{
		{Facility: base, Attributes: map[string]any{"zone": "r1"}},
		{Facility: base, Attributes: map[string]any{"zone": "r2"}},
		{Facility: model.Facility{ID: "b", Address: "y"}},
	}

	out, res, err := Classify(rows, cluster.Options{K: 1, Seed: 7}, density.DefaultThresholds)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []int{1}, res.Counts)

	assert.Equal(t, 0, out[0].Cluster)
	assert.Equal(t, 0, out[1].Cluster)
	assert.Equal(t, 1, out[0].ClusterSize)
	assert.Equal(t, "low", out[0].Band)
	assert.Equal(t, "r2", out[1].Attributes["zone"])

	assert.Equal(t, model.Unclustered, out[2].Cluster)
	assert.Equal(t, 0, out[2].ClusterSize)
	assert.Equal(t, "unclassified", out[2].Band)
}

func TestClassify_LargerClusterNeverRanksLower(t *testing.T) {
	groups := []struct {
		name     string
		size     int
		lat, lon float64
	}{
		{"seattle", 5, 47.6, -122.3},
		{"portland", 4, 45.5, -122.7},
		{"boise", 3, 43.6, -116.2},
	}
	var rows []model.EnrichedFacility
	for _, g := range groups {
		for i := range g.size {
			off := float64(i) * 0.01
			rows = append(rows, model.EnrichedFacility{Facility: model.Facility{
				ID:        fmt.Sprintf("%s-%d", g.name, i),
				Address:   g.name,
				Latitude:  model.Float(g.lat + off),
				Longitude: model.Float(g.lon - off),
			}})
		}
	}

	th := density.Thresholds{Medium: 3, High: 4, Critical: 10}
	out, _, err := Classify(rows, cluster.Options{K: 3, Seed: 42}, th)
	require.NoError(t, err)
	require.Len(t, out, 12)

	bands := make(map[string]density.Band)
	sizes := make(map[string]int)
	clusters := make(map[string]int)
	for _, r := range out {
		b, err := density.ParseBand(r.Band)
		require.NoError(t, err)
		g := r.Address
		if prev, ok := clusters[g]; ok {
			assert.Equal(t, prev, r.Cluster, "group %s split across clusters", g)
		}
		clusters[g] = r.Cluster
		bands[g] = b
		sizes[g] = r.ClusterSize
	}

	assert.Equal(t, map[string]int{"seattle": 5, "portland": 4, "boise": 3}, sizes)
	assert.Equal(t, density.High, bands["seattle"])
	assert.Equal(t, density.Medium, bands["portland"])
	assert.Equal(t, density.Low, bands["boise"])
	assert.GreaterOrEqual(t, bands["seattle"], bands["boise"])
	assert.GreaterOrEqual(t, bands["seattle"], bands["portland"])
	assert.GreaterOrEqual(t, bands["portland"], bands["boise"])
}

func TestStageFiles(t *testing.T) {
	provider := newProvider()
	p, req := setup(t, provider)
	require.NoError(t, os.MkdirAll(req.OutputDir, 0o755))
	ctx := context.Background()

	geocoded := filepath.Join(req.OutputDir, GeocodedFile)
	stats, err := p.GeocodeFile(ctx, req.Input, geocoded)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)

	enriched := filepath.Join(req.OutputDir, EnrichedFile)
	d, err := p.EnrichFile(ctx, geocoded, req.Layers, enriched)
	require.NoError(t, err)
	assert.Len(t, d.Rows, 4)

	summaries, err := p.ClusterFile(enriched, filepath.Join(req.OutputDir, ClusteredFile))
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	total := 0
	for _, s := range summaries {
		total += s.Members
	}
	assert.Equal(t, 3, total)
	provider.AssertExpectations(t)
}
