// Package model defines the records that flow through the enrichment pipeline.
package model

import (
	"math"

	"github.com/rotisserie/eris"
)

// Unclustered is the cluster id assigned to facilities without valid coordinates.
const Unclustered = -1

// OutputFields are the facility fields and the final-stage fields every
// output record carries. Input columns and layer fields never take these names.
var OutputFields = []string{
	"id", "name", "region", "address", "latitude", "longitude",
	"cluster", "cluster_density", "density_band", "color",
}

// Facility is a point of interest identified by a free-text address.
type Facility struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Region    string            `json:"region,omitempty"`
	Address   string            `json:"address"`
	Latitude  *float64          `json:"latitude"`
	Longitude *float64          `json:"longitude"`
	Extra     map[string]string `json:"extra,omitempty"` // Input columns with no dedicated field
}

// HasCoordinates reports whether both coordinates are present, finite, and in range.
func (f *Facility) HasCoordinates() bool {
	if f.Latitude == nil || f.Longitude == nil {
		return false
	}
	return ValidCoordinate(*f.Latitude, *f.Longitude)
}

// SetCoordinates fills in the facility's coordinates. Coordinates are written
// at most once; a second write is an error.
func (f *Facility) SetCoordinates(lat, lon float64) error {
	if f.Latitude != nil || f.Longitude != nil {
		return eris.Errorf("model: facility %s already has coordinates", f.ID)
	}
	if !ValidCoordinate(lat, lon) {
		return eris.Errorf("model: coordinate (%f, %f) out of range for facility %s", lat, lon, f.ID)
	}
	f.Latitude = &lat
	f.Longitude = &lon
	return nil
}

// Point returns the facility's (lat, lon) pair. ok is false when HasCoordinates is false.
func (f *Facility) Point() (lat, lon float64, ok bool) {
	if !f.HasCoordinates() {
		return 0, 0, false
	}
	return *f.Latitude, *f.Longitude, true
}

// Clone returns a copy that shares no pointers with f.
func (f Facility) Clone() Facility {
	out := f
	if f.Latitude != nil {
		lat := *f.Latitude
		out.Latitude = &lat
	}
	if f.Longitude != nil {
		lon := *f.Longitude
		out.Longitude = &lon
	}
	if f.Extra != nil {
		out.Extra = make(map[string]string, len(f.Extra))
		for k, v := range f.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// ValidCoordinate reports whether lat/lon are finite WGS84 degrees.
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// EnrichedFacility is a facility plus the attributes inherited from region layers.
// A nil attribute value means no polygon of that layer contained the facility.
type EnrichedFacility struct {
	Facility
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ClusteredFacility is an enriched facility with its cluster and density band.
type ClusteredFacility struct {
	EnrichedFacility
	Cluster     int    `json:"cluster"`
	ClusterSize int    `json:"cluster_density"`
	Band        string `json:"density_band"`
	Color       string `json:"color"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
