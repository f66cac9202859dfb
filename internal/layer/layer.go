// Package layer loads and validates polygon reference layers (population
// density, traffic flow and similar regional metrics) used to enrich points.
package layer

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"

	"github.com/sells-group/geocluster/internal/model"
)

// Reference-data error classes. Both are fatal for a run.
var (
	ErrInvalidGeometry = eris.New("layer: invalid geometry")
	ErrUnsupportedCRS  = eris.New("layer: unsupported coordinate reference system")
	ErrMissingField    = eris.New("layer: missing metric field")
)

// RegionFeature is one polygon of a layer with its attributes.
type RegionFeature struct {
	Index      int // position in the source, 0-based
	Geometry   geom.T
	Properties *model.Properties

	minX, minY, maxX, maxY float64
	area                   float64
}

// NewRegionFeature validates g and returns a feature ready for containment
// tests. g must be a *geom.Polygon or *geom.MultiPolygon.
func NewRegionFeature(index int, g geom.T, props *model.Properties) (RegionFeature, error) {
	if props == nil {
		props = model.NewProperties()
	}
	f := RegionFeature{Index: index, Geometry: g, Properties: props}

	var polys []*geom.Polygon
	switch t := g.(type) {
	case nil:
		return f, eris.Wrapf(ErrInvalidGeometry, "feature %d: missing geometry", index)
	case *geom.Polygon:
		if t == nil {
			return f, eris.Wrapf(ErrInvalidGeometry, "feature %d: missing geometry", index)
		}
		polys = []*geom.Polygon{t}
	case *geom.MultiPolygon:
		if t == nil || t.NumPolygons() == 0 {
			return f, eris.Wrapf(ErrInvalidGeometry, "feature %d: empty multipolygon", index)
		}
		for i := range t.NumPolygons() {
			polys = append(polys, t.Polygon(i))
		}
	default:
		return f, eris.Wrapf(ErrInvalidGeometry, "feature %d: non-polygon geometry %T", index, g)
	}

	f.minX, f.minY = math.Inf(1), math.Inf(1)
	f.maxX, f.maxY = math.Inf(-1), math.Inf(-1)
	for pi, p := range polys {
		if p.NumLinearRings() == 0 {
			return f, eris.Wrapf(ErrInvalidGeometry, "feature %d polygon %d: no rings", index, pi)
		}
		for ri := range p.NumLinearRings() {
			if err := f.checkRing(p.Layout(), p.LinearRing(ri).FlatCoords()); err != nil {
				return f, eris.Wrapf(err, "feature %d polygon %d ring %d", index, pi, ri)
			}
		}
		// Ring areas are signed by orientation, which varies between sources.
		outer := math.Abs(p.LinearRing(0).Area())
		if outer == 0 {
			return f, eris.Wrapf(ErrInvalidGeometry, "feature %d polygon %d: zero-area exterior ring", index, pi)
		}
		f.area += outer
		for ri := 1; ri < p.NumLinearRings(); ri++ {
			f.area -= math.Abs(p.LinearRing(ri).Area())
		}
	}
	return f, nil
}

// checkRing verifies ring closure, size and finiteness, extending the bbox.
func (f *RegionFeature) checkRing(layout geom.Layout, flat []float64) error {
	stride := layout.Stride()
	n := len(flat) / stride
	if n < 4 {
		return eris.Wrapf(ErrInvalidGeometry, "ring has %d positions, need at least 4", n)
	}
	for i := 0; i < len(flat); i += stride {
		x, y := flat[i], flat[i+1]
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return eris.Wrapf(ErrInvalidGeometry, "non-finite coordinate at position %d", i/stride)
		}
		f.minX, f.maxX = math.Min(f.minX, x), math.Max(f.maxX, x)
		f.minY, f.maxY = math.Min(f.minY, y), math.Max(f.maxY, y)
	}
	last := len(flat) - stride
	if flat[0] != flat[last] || flat[1] != flat[last+1] {
		return eris.Wrap(ErrInvalidGeometry, "ring is not closed")
	}
	return nil
}

// Area returns the planar area of the feature in squared degrees.
func (f *RegionFeature) Area() float64 { return f.area }

// Contains reports whether (lon, lat) lies strictly inside the feature.
// Points on a boundary, or inside a hole, are not contained.
func (f *RegionFeature) Contains(lon, lat float64) bool {
	if lon < f.minX || lon > f.maxX || lat < f.minY || lat > f.maxY {
		return false
	}
	c := geom.Coord{lon, lat}
	switch g := f.Geometry.(type) {
	case *geom.Polygon:
		return polygonContains(g, c)
	case *geom.MultiPolygon:
		for i := range g.NumPolygons() {
			if polygonContains(g.Polygon(i), c) {
				return true
			}
		}
	}
	return false
}

func polygonContains(p *geom.Polygon, c geom.Coord) bool {
	layout := p.Layout()
	if xy.LocatePointInRing(layout, c, p.LinearRing(0).FlatCoords()) != location.Interior {
		return false
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		if xy.LocatePointInRing(layout, c, p.LinearRing(i).FlatCoords()) != location.Exterior {
			return false
		}
	}
	return true
}

// Layer is an ordered set of region features sharing one schema and frame.
type Layer struct {
	Name        string
	Suffix      string // disambiguates this layer's fields in enriched output
	MetricField string
	CRS         string
	Fields      []string // property names in order of first appearance
	Features    []RegionFeature
}

// New assembles a layer from validated features and checks that every
// feature carries the metric field when one is declared.
func New(name, suffix, metricField, crs string, features []RegionFeature) (*Layer, error) {
	if name == "" {
		return nil, eris.New("layer: name is required")
	}
	if suffix == "" {
		suffix = name
	}

	l := &Layer{
		Name:        name,
		Suffix:      suffix,
		MetricField: metricField,
		CRS:         crs,
		Features:    features,
	}

	seen := make(map[string]bool)
	for i := range features {
		for _, k := range features[i].Properties.Keys {
			if !seen[k] {
				seen[k] = true
				l.Fields = append(l.Fields, k)
			}
		}
	}

	if metricField != "" {
		for i := range features {
			v, ok := features[i].Properties.Get(metricField)
			if !ok || v == nil {
				return nil, eris.Wrapf(ErrMissingField, "layer %s: feature %d has no %q", name, features[i].Index, metricField)
			}
		}
	}
	return l, nil
}

// Matches returns the features strictly containing (lon, lat) in source order.
func (l *Layer) Matches(lon, lat float64) []*RegionFeature {
	var out []*RegionFeature
	for i := range l.Features {
		if l.Features[i].Contains(lon, lat) {
			out = append(out, &l.Features[i])
		}
	}
	return out
}

// Innermost returns the smallest-area feature among matches, ties broken by
// source order. Returns nil for no matches.
func Innermost(matches []*RegionFeature) *RegionFeature {
	if len(matches) == 0 {
		return nil
	}
	sorted := append([]*RegionFeature(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Area() < sorted[j].Area()
	})
	return sorted[0]
}
