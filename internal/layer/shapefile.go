package layer

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/geocluster/internal/model"
)

// readShapefile reads polygon features and DBF attributes from shpPath and
// the frame from the sibling .prj, if any.
func readShapefile(shpPath string) (*decodedCollection, error) {
	out := &decodedCollection{}

	prjPath := strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj"
	wkt, err := os.ReadFile(prjPath)
	switch {
	case err == nil:
		if out.CRS, err = crsFromPRJ(string(wkt)); err != nil {
			return nil, eris.Wrapf(err, "layer: %s", filepath.Base(prjPath))
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, eris.Wrapf(err, "layer: read %s", prjPath)
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	numeric := make([]bool, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimSpace(strings.TrimRight(f.String(), "\x00"))
		numeric[i] = f.Fieldtype == 'N' || f.Fieldtype == 'F'
	}

	for reader.Next() {
		idx, shape := reader.Shape()

		props := model.NewProperties()
		for i, name := range names {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			props.Set(name, attributeValue(raw, numeric[i]))
		}

		g, err := shapeToGeom(idx, shape)
		if err != nil {
			return nil, err
		}
		rf, err := NewRegionFeature(idx, g, props)
		if err != nil {
			return nil, err
		}
		out.Features = append(out.Features, rf)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "layer: read shapefile %s", shpPath)
	}
	return out, nil
}

// attributeValue converts a DBF cell. Numeric columns become float64 and
// blank cells become nil.
func attributeValue(raw string, numeric bool) any {
	if raw == "" {
		return nil
	}
	if numeric {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return raw
}

// shapeToGeom converts polygon shapes; null shapes yield nil so validation
// reports the missing geometry.
func shapeToGeom(idx int, shape shp.Shape) (geom.T, error) {
	switch s := shape.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Polygon:
		return ringsToMultiPolygon(idx, s.Parts, s.Points)
	case *shp.PolygonZ:
		return ringsToMultiPolygon(idx, s.Parts, s.Points)
	case *shp.PolygonM:
		return ringsToMultiPolygon(idx, s.Parts, s.Points)
	default:
		return nil, eris.Wrapf(ErrInvalidGeometry, "feature %d: non-polygon shape %T", idx, shape)
	}
}

// ringsToMultiPolygon groups shapefile parts into polygons. Shapefiles store
// outer rings clockwise and holes counter-clockwise; a hole belongs to the
// outer ring that precedes it.
func ringsToMultiPolygon(idx int, parts []int32, points []shp.Point) (geom.T, error) {
	if len(parts) == 0 || len(points) == 0 {
		return nil, nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	var current *geom.Polygon
	flush := func() error {
		if current == nil {
			return nil
		}
		if err := mp.Push(current); err != nil {
			return eris.Wrapf(ErrInvalidGeometry, "feature %d: %v", idx, err)
		}
		return nil
	}

	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || start >= end {
			return nil, eris.Wrapf(ErrInvalidGeometry, "feature %d: bad part offsets", idx)
		}

		flat := make([]float64, 0, 2*(end-start))
		for _, p := range points[start:end] {
			flat = append(flat, p.X, p.Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		outer := current == nil || xy.SignedArea(geom.XY, flat) > 0
		if outer {
			if err := flush(); err != nil {
				return nil, err
			}
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			return nil, eris.Wrapf(ErrInvalidGeometry, "feature %d part %d: %v", idx, i, err)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return mp, nil
}
