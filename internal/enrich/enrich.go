// Package enrich attaches polygon layer attributes to facility points with
// left-outer, strict-containment spatial joins.
package enrich

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/layer"
	"github.com/sells-group/geocluster/internal/model"
)

// MatchPolicy decides which rows a point yields when several polygons of
// one layer contain it.
type MatchPolicy string

const (
	// MatchAll yields one row per containing polygon, in polygon source order.
	MatchAll MatchPolicy = "all"
	// MatchFirst keeps only the first containing polygon in source order.
	MatchFirst MatchPolicy = "first"
	// MatchInnermost keeps the smallest-area containing polygon.
	MatchInnermost MatchPolicy = "innermost"
)

// ParseMatchPolicy maps a config value onto a MatchPolicy. Empty means MatchAll.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch p := MatchPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return MatchAll, nil
	case MatchAll, MatchFirst, MatchInnermost:
		return p, nil
	default:
		return "", eris.Errorf("enrich: unknown match policy %q", s)
	}
}

// Names the join machinery owns. A layer field with one of these names is
// renamed to "<name>_renamed" before the join.
var reservedJoinFields = []string{"index", "index_right"}

// Options configures Enrich.
type Options struct {
	Policy MatchPolicy
}

// FieldMapping records where an output attribute came from.
type FieldMapping struct {
	Layer  string
	Source string // field name in the layer; empty for bookkeeping fields
	Output string
}

// Schema lists the attribute fields added by enrichment in order of appearance.
type Schema struct {
	Fields   []string
	Mappings []FieldMapping
}

// BookkeepingField is the per-join field holding the matched polygon's
// source index.
func BookkeepingField(suffix string) string {
	return "index_" + suffix
}

// Enrich joins every layer onto points in order. Each point appears at least
// once in the output; unmatched points get nil for that layer's fields.
// Facilities without coordinates match nothing and are kept. points is not
// modified.
func Enrich(points []model.Facility, layers []*layer.Layer, opts Options) ([]model.EnrichedFacility, Schema, error) {
	log := zap.L().With(zap.String("component", "enrich"))

	policy := opts.Policy
	if policy == "" {
		policy = MatchAll
	}
	if _, err := ParseMatchPolicy(string(policy)); err != nil {
		return nil, Schema{}, err
	}

	taken := make(map[string]bool, len(model.OutputFields))
	for _, f := range model.OutputFields {
		taken[f] = true
	}
	for i := range points {
		for k := range points[i].Extra {
			taken[k] = true
		}
	}

	bookkeeping := make(map[string]bool, len(layers))
	for _, l := range layers {
		if l == nil {
			return nil, Schema{}, eris.New("enrich: nil layer")
		}
		name := BookkeepingField(l.Suffix)
		if bookkeeping[name] {
			return nil, Schema{}, eris.Errorf("enrich: layer %s: suffix %q used by another layer", l.Name, l.Suffix)
		}
		bookkeeping[name] = true
	}

	rows := make([]model.EnrichedFacility, len(points))
	for i := range points {
		rows[i] = model.EnrichedFacility{
			Facility:   points[i].Clone(),
			Attributes: make(map[string]any),
		}
	}

	var schema Schema
	for _, l := range layers {
		if err := checkFrame(l); err != nil {
			return nil, Schema{}, err
		}

		mappings := planFields(l, taken, bookkeeping)
		for _, m := range mappings {
			taken[m.Output] = true
			schema.Fields = append(schema.Fields, m.Output)
			if m.Source != "" && m.Source != m.Output {
				log.Info("layer field renamed",
					zap.String("layer", l.Name),
					zap.String("field", m.Source),
					zap.String("as", m.Output),
				)
			}
		}
		schema.Mappings = append(schema.Mappings, mappings...)

		var matched, unmatched, extra int
		rows, matched, unmatched, extra = joinLayer(rows, l, mappings, policy)
		log.Info("layer joined",
			zap.String("layer", l.Name),
			zap.String("policy", string(policy)),
			zap.Int("matched", matched),
			zap.Int("unmatched", unmatched),
			zap.Int("extra_rows", extra),
			zap.Int("rows", len(rows)),
		)
	}
	return rows, schema, nil
}

// checkFrame rejects layers whose declared frame cannot be matched against
// WGS84 points. An unset frame is the default.
func checkFrame(l *layer.Layer) error {
	crs, err := layer.NormalizeCRS(l.CRS)
	if err != nil {
		return eris.Wrapf(err, "enrich: layer %s", l.Name)
	}
	if crs == "" {
		zap.L().Info("layer has no coordinate reference system, assuming default",
			zap.String("component", "enrich"),
			zap.String("layer", l.Name),
			zap.String("crs", layer.DefaultCRS),
		)
	}
	return nil
}

// planFields decides the output name of each layer field, then appends the
// layer's bookkeeping field. The bookkeeping field keeps its plain name unless
// an input column already holds it.
func planFields(l *layer.Layer, taken, bookkeeping map[string]bool) []FieldMapping {
	local := make(map[string]bool)
	isTaken := func(name string) bool {
		return taken[name] || local[name] || bookkeeping[name]
	}

	out := make([]FieldMapping, 0, len(l.Fields)+1)
	for _, src := range l.Fields {
		name := src
		if isReserved(name, bookkeeping) {
			name += "_renamed"
		}
		if isTaken(name) {
			name = uniqueName(name+"_"+l.Suffix, isTaken)
		}
		local[name] = true
		out = append(out, FieldMapping{Layer: l.Name, Source: src, Output: name})
	}
	index := uniqueName(BookkeepingField(l.Suffix), func(name string) bool {
		return taken[name] || local[name]
	})
	out = append(out, FieldMapping{Layer: l.Name, Output: index})
	return out
}

func isReserved(name string, bookkeeping map[string]bool) bool {
	for _, r := range reservedJoinFields {
		if name == r {
			return true
		}
	}
	return bookkeeping[name]
}

func uniqueName(base string, isTaken func(string) bool) string {
	if !isTaken(base) {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		if !isTaken(candidate) {
			return candidate
		}
	}
}

// joinLayer performs one left-outer join and returns the new rows together
// with counts of matched rows, unmatched rows and rows added by multiplicity.
func joinLayer(rows []model.EnrichedFacility, l *layer.Layer, mappings []FieldMapping, policy MatchPolicy) ([]model.EnrichedFacility, int, int, int) {
	out := make([]model.EnrichedFacility, 0, len(rows))
	var matched, unmatched, extra int

	for i := range rows {
		var matches []*layer.RegionFeature
		if lat, lon, ok := rows[i].Point(); ok {
			matches = selectMatches(l.Matches(lon, lat), policy)
		}

		if len(matches) == 0 {
			row := cloneRow(&rows[i])
			for _, m := range mappings {
				row.Attributes[m.Output] = nil
			}
			out = append(out, row)
			unmatched++
			continue
		}

		for _, feat := range matches {
			row := cloneRow(&rows[i])
			for _, m := range mappings {
				if m.Source == "" {
					row.Attributes[m.Output] = feat.Index
					continue
				}
				v, _ := feat.Properties.Get(m.Source)
				row.Attributes[m.Output] = v
			}
			out = append(out, row)
		}
		matched++
		extra += len(matches) - 1
	}
	return out, matched, unmatched, extra
}

func selectMatches(matches []*layer.RegionFeature, policy MatchPolicy) []*layer.RegionFeature {
	if len(matches) <= 1 {
		return matches
	}
	switch policy {
	case MatchFirst:
		return matches[:1]
	case MatchInnermost:
		return []*layer.RegionFeature{layer.Innermost(matches)}
	default:
		return matches
	}
}

func cloneRow(r *model.EnrichedFacility) model.EnrichedFacility {
	attrs := make(map[string]any, len(r.Attributes)+4)
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	return model.EnrichedFacility{Facility: r.Facility.Clone(), Attributes: attrs}
}
