package layer

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geocluster/internal/model"
)

// crs84URN is how layers written by this package declare their frame.
const crs84URN = "urn:ogc:def:crs:OGC:1.3:CRS84"

// namedCRS is the legacy GeoJSON (2008) "crs" member.
type namedCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type featureCollection struct {
	Type     string           `json:"type"`
	CRS      *namedCRS        `json:"crs,omitempty"`
	Features []geojsonFeature `json:"features"`
}

type geojsonFeature struct {
	Type       string           `json:"type"`
	Geometry   json.RawMessage  `json:"geometry"`
	Properties model.Properties `json:"properties"`
}

// decodedCollection is a parsed layer document before validation.
type decodedCollection struct {
	CRS      string
	Features []RegionFeature
}

// readGeoJSON decodes a FeatureCollection and validates each feature.
func readGeoJSON(r io.Reader) (*decodedCollection, error) {
	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "layer: decode geojson")
	}
	if fc.Type != "FeatureCollection" {
		return nil, eris.Errorf("layer: expected FeatureCollection, got %q", fc.Type)
	}

	out := &decodedCollection{}
	if fc.CRS != nil {
		out.CRS = fc.CRS.Properties.Name
	}

	out.Features = make([]RegionFeature, 0, len(fc.Features))
	for i, f := range fc.Features {
		var g geom.T
		raw := bytes.TrimSpace(f.Geometry)
		if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			if err := geojson.Unmarshal(raw, &g); err != nil {
				return nil, eris.Wrapf(ErrInvalidGeometry, "feature %d: %v", i, err)
			}
		}
		props := f.Properties
		rf, err := NewRegionFeature(i, g, &props)
		if err != nil {
			return nil, err
		}
		out.Features = append(out.Features, rf)
	}
	return out, nil
}

// WriteGeoJSON encodes l as a FeatureCollection declaring CRS84, which is
// the same frame as EPSG:4326 with longitude first.
func WriteGeoJSON(w io.Writer, l *Layer) error {
	fc := featureCollection{
		Type:     "FeatureCollection",
		CRS:      &namedCRS{Type: "name"},
		Features: make([]geojsonFeature, 0, len(l.Features)),
	}
	fc.CRS.Properties.Name = crs84URN

	for i := range l.Features {
		f := &l.Features[i]
		raw, err := geojson.Marshal(f.Geometry)
		if err != nil {
			return eris.Wrapf(err, "layer %s: encode feature %d", l.Name, f.Index)
		}
		fc.Features = append(fc.Features, geojsonFeature{
			Type:       "Feature",
			Geometry:   raw,
			Properties: *f.Properties,
		})
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(fc); err != nil {
		return eris.Wrapf(err, "layer %s: write geojson", l.Name)
	}
	return nil
}
