// Package dataset encodes enriched and clustered facilities as GeoJSON
// FeatureCollections, the artifact handed to map consumers.
package dataset

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geocluster/internal/atomicfile"
	"github.com/sells-group/geocluster/internal/model"
)

// CRS is the frame every dataset is written in.
const CRS = "EPSG:4326"

// Property names of the facility and cluster fields.
const (
	PropID             = "id"
	PropName           = "name"
	PropRegion         = "region"
	PropAddress        = "address"
	PropLatitude       = "latitude"
	PropLongitude      = "longitude"
	PropCluster        = "cluster"
	PropClusterDensity = "cluster_density"
	PropDensityBand    = "density_band"
	PropColor          = "color"
)

var (
	facilityProps = []string{PropID, PropName, PropRegion, PropAddress, PropLatitude, PropLongitude}
	clusterProps  = []string{PropCluster, PropClusterDensity, PropDensityBand, PropColor}
)

// Dataset is an ordered set of facility records plus the enrichment
// attribute names in output order.
type Dataset struct {
	Fields    []string
	Rows      []model.ClusteredFacility
	Clustered bool // whether cluster properties are written
}

// FromEnriched wraps enriched rows. Cluster fields are left unset.
func FromEnriched(rows []model.EnrichedFacility, fields []string) *Dataset {
	out := make([]model.ClusteredFacility, len(rows))
	for i := range rows {
		out[i] = model.ClusteredFacility{EnrichedFacility: rows[i], Cluster: model.Unclustered}
	}
	return &Dataset{Fields: fields, Rows: out}
}

// Enriched returns the rows without their cluster fields.
func (d *Dataset) Enriched() []model.EnrichedFacility {
	out := make([]model.EnrichedFacility, len(d.Rows))
	for i := range d.Rows {
		out[i] = d.Rows[i].EnrichedFacility
	}
	return out
}

type namedCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type featureCollection struct {
	Type            string    `json:"type"`
	CRS             *namedCRS `json:"crs,omitempty"`
	ExtraFields     []string  `json:"extra_fields,omitempty"`
	AttributeFields []string  `json:"attribute_fields,omitempty"`
	Features        []feature `json:"features"`
}

type feature struct {
	Type       string           `json:"type"`
	Geometry   json.RawMessage  `json:"geometry"`
	Properties model.Properties `json:"properties"`
}

// Encode writes d as a GeoJSON FeatureCollection. Facilities without
// coordinates get a null geometry.
func (d *Dataset) Encode(w io.Writer) error {
	extra := extraFields(d.Rows)
	if err := checkPropertyNames(extra, d.Fields); err != nil {
		return err
	}
	fc := featureCollection{
		Type:            "FeatureCollection",
		CRS:             &namedCRS{Type: "name"},
		ExtraFields:     extra,
		AttributeFields: d.Fields,
		Features:        make([]feature, 0, len(d.Rows)),
	}
	fc.CRS.Properties.Name = CRS

	for i := range d.Rows {
		r := &d.Rows[i]
		f := feature{Type: "Feature", Properties: *model.NewProperties()}

		if lat, lon, ok := r.Point(); ok {
			raw, err := geojson.Marshal(geom.NewPointFlat(geom.XY, []float64{lon, lat}))
			if err != nil {
				return eris.Wrapf(err, "dataset: encode geometry of %s", r.ID)
			}
			f.Geometry = raw
		}

		p := &f.Properties
		p.Set(PropID, r.ID)
		p.Set(PropName, r.Name)
		p.Set(PropRegion, r.Region)
		p.Set(PropAddress, r.Address)
		p.Set(PropLatitude, r.Latitude)
		p.Set(PropLongitude, r.Longitude)
		for _, k := range extra {
			if v, ok := r.Extra[k]; ok {
				p.Set(k, v)
			} else {
				p.Set(k, nil)
			}
		}
		for _, k := range d.Fields {
			p.Set(k, r.Attributes[k])
		}
		if d.Clustered {
			p.Set(PropCluster, r.Cluster)
			p.Set(PropClusterDensity, r.ClusterSize)
			p.Set(PropDensityBand, r.Band)
			p.Set(PropColor, r.Color)
		}
		fc.Features = append(fc.Features, f)
	}

	if err := json.NewEncoder(w).Encode(fc); err != nil {
		return eris.Wrap(err, "dataset: write geojson")
	}
	return nil
}

// checkPropertyNames rejects extra and attribute names that would overwrite
// another property of the same feature.
func checkPropertyNames(extra, fields []string) error {
	seen := make(map[string]string, len(facilityProps)+len(clusterProps)+len(extra)+len(fields))
	for _, k := range facilityProps {
		seen[k] = "facility"
	}
	for _, k := range clusterProps {
		seen[k] = "cluster"
	}
	for _, group := range []struct {
		kind  string
		names []string
	}{{"extra", extra}, {"attribute", fields}} {
		for _, k := range group.names {
			if owner, ok := seen[k]; ok {
				return eris.Errorf("dataset: %s property %q collides with %s property", group.kind, k, owner)
			}
			seen[k] = group.kind
		}
	}
	return nil
}

// Write encodes d to path atomically; on failure any previous file at path
// is left untouched.
func (d *Dataset) Write(path string) error {
	if err := atomicfile.Write(path, d.Encode); err != nil {
		return eris.Wrapf(err, "dataset: write %s", path)
	}
	return nil
}

// Read decodes the dataset at path.
func Read(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	d, err := Decode(f)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: %s", path)
	}
	return d, nil
}

// Decode reads a FeatureCollection written by Encode. Properties that are
// neither facility, extra nor cluster fields are treated as enrichment
// attributes.
func Decode(r io.Reader) (*Dataset, error) {
	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "dataset: decode geojson")
	}
	if fc.Type != "FeatureCollection" {
		return nil, eris.Errorf("dataset: expected FeatureCollection, got %q", fc.Type)
	}

	known := make(map[string]bool)
	for _, k := range facilityProps {
		known[k] = true
	}
	for _, k := range clusterProps {
		known[k] = true
	}
	extra := make(map[string]bool, len(fc.ExtraFields))
	for _, k := range fc.ExtraFields {
		extra[k] = true
	}

	d := &Dataset{Fields: fc.AttributeFields}
	inFields := make(map[string]bool, len(d.Fields))
	for _, k := range d.Fields {
		inFields[k] = true
	}

	for i, f := range fc.Features {
		row, clustered, err := decodeFeature(i, f, known, extra)
		if err != nil {
			return nil, err
		}
		d.Clustered = d.Clustered || clustered
		for _, k := range f.Properties.Keys {
			if !known[k] && !extra[k] && !inFields[k] {
				inFields[k] = true
				d.Fields = append(d.Fields, k)
			}
		}
		d.Rows = append(d.Rows, row)
	}
	return d, nil
}

func decodeFeature(i int, f feature, known, extra map[string]bool) (model.ClusteredFacility, bool, error) {
	p := &f.Properties
	row := model.ClusteredFacility{Cluster: model.Unclustered}
	row.ID = stringProp(p, PropID)
	row.Name = stringProp(p, PropName)
	row.Region = stringProp(p, PropRegion)
	row.Address = stringProp(p, PropAddress)
	if row.ID == "" {
		return row, false, eris.Errorf("dataset: feature %d has no id", i)
	}

	raw := bytes.TrimSpace(f.Geometry)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var g geom.T
		if err := geojson.Unmarshal(raw, &g); err != nil {
			return row, false, eris.Wrapf(err, "dataset: feature %s geometry", row.ID)
		}
		pt, ok := g.(*geom.Point)
		if !ok {
			return row, false, eris.Errorf("dataset: feature %s has %T geometry, want point", row.ID, g)
		}
		lon, lat := pt.X(), pt.Y()
		row.Latitude, row.Longitude = &lat, &lon
	}

	row.Attributes = make(map[string]any)
	for _, k := range p.Keys {
		v, _ := p.Get(k)
		switch {
		case extra[k]:
			if s, ok := v.(string); ok {
				if row.Extra == nil {
					row.Extra = make(map[string]string)
				}
				row.Extra[k] = s
			}
		case !known[k]:
			row.Attributes[k] = v
		}
	}

	_, clustered := p.Get(PropCluster)
	if clustered {
		row.Cluster = intProp(p, PropCluster, model.Unclustered)
		row.ClusterSize = intProp(p, PropClusterDensity, 0)
		row.Band = stringProp(p, PropDensityBand)
		row.Color = stringProp(p, PropColor)
	}
	return row, clustered, nil
}

func stringProp(p *model.Properties, key string) string {
	v, _ := p.Get(key)
	s, _ := v.(string)
	return s
}

func intProp(p *model.Properties, key string, fallback int) int {
	v, _ := p.Get(key)
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return fallback
}

func extraFields(rows []model.ClusteredFacility) []string {
	set := make(map[string]bool)
	for i := range rows {
		for k := range rows[i].Extra {
			set[k] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
