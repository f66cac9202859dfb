package layer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

type shpRecord struct {
	parts  [][]shp.Point
	region int
	value  float64
}

// writeTestShapefile writes a polygon shapefile with region_id and metric
// columns and returns the .shp path.
func writeTestShapefile(t *testing.T, dir, prj string, records []shpRecord) string {
	t.Helper()
	base := filepath.Join(dir, "regions")

	w, err := shp.Create(base+".shp", shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.NumberField("region_id", 8),
		shp.FloatField("metric", 12, 1),
	}))
	for _, r := range records {
		row := w.Write((*shp.Polygon)(shp.NewPolyLine(r.parts)))
		require.NoError(t, w.WriteAttribute(int(row), 0, r.region))
		require.NoError(t, w.WriteAttribute(int(row), 1, r.value))
	}
	w.Close()

	// go-shp v0.1.1 names the attribute table "<base>dbf".
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))

	if prj != "" {
		require.NoError(t, os.WriteFile(base+".prj", []byte(prj), 0o644))
	}
	return base + ".shp"
}

// cwBox returns a clockwise closed ring, the shapefile outer-ring order.
func cwBox(minX, minY, maxX, maxY float64) []shp.Point {
	return []shp.Point{
		{X: minX, Y: minY}, {X: minX, Y: maxY}, {X: maxX, Y: maxY}, {X: maxX, Y: minY}, {X: minX, Y: minY},
	}
}

// ccwBox returns a counter-clockwise closed ring, the shapefile hole order.
func ccwBox(minX, minY, maxX, maxY float64) []shp.Point {
	return []shp.Point{
		{X: minX, Y: minY}, {X: maxX, Y: minY}, {X: maxX, Y: maxY}, {X: minX, Y: maxY}, {X: minX, Y: minY},
	}
}

func TestReadShapefile(t *testing.T) {
	path := writeTestShapefile(t, t.TempDir(), wgs84PRJ, []shpRecord{
		{parts: [][]shp.Point{cwBox(0, 0, 10, 10), ccwBox(4, 4, 6, 6)}, region: 1, value: 12.5},
		{parts: [][]shp.Point{cwBox(20, 20, 21, 21), cwBox(30, 30, 31, 31)}, region: 2, value: 40},
	})

	dc, err := readShapefile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultCRS, dc.CRS)
	require.Len(t, dc.Features, 2)

	first := dc.Features[0]
	assert.Equal(t, []string{"region_id", "metric"}, first.Properties.Keys)
	v, _ := first.Properties.Get("region_id")
	assert.Equal(t, 1.0, v)
	v, _ = first.Properties.Get("metric")
	assert.Equal(t, 12.5, v)
	assert.True(t, first.Contains(2, 2))
	assert.False(t, first.Contains(5, 5), "hole")
	assert.InDelta(t, 96.0, first.Area(), 1e-9)

	second := dc.Features[1]
	assert.True(t, second.Contains(20.5, 20.5))
	assert.True(t, second.Contains(30.5, 30.5))
	assert.False(t, second.Contains(25, 25))
}

func TestReadShapefile_NoPRJ(t *testing.T) {
	path := writeTestShapefile(t, t.TempDir(), "", []shpRecord{
		{parts: [][]shp.Point{cwBox(0, 0, 1, 1)}, region: 1, value: 1},
	})

	dc, err := readShapefile(path)
	require.NoError(t, err)
	assert.Equal(t, "", dc.CRS)
	assert.Len(t, dc.Features, 1)
}

func TestReadShapefile_ProjectedPRJ(t *testing.T) {
	path := writeTestShapefile(t, t.TempDir(), `PROJCS["NAD_1983_UTM_Zone_10N",GEOGCS["GCS_North_American_1983"]]`, []shpRecord{
		{parts: [][]shp.Point{cwBox(0, 0, 1, 1)}, region: 1, value: 1},
	})

	_, err := readShapefile(path)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnsupportedCRS))
}

func TestAttributeValue(t *testing.T) {
	assert.Nil(t, attributeValue("", true))
	assert.Equal(t, 3.5, attributeValue("3.5", true))
	assert.Equal(t, "3.5", attributeValue("3.5", false))
	assert.Equal(t, "n/a", attributeValue("n/a", true))
}
