// Package density bands clusters by member count against fixed thresholds.
package density

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/geocluster/internal/cluster"
	"github.com/sells-group/geocluster/internal/model"
)

// Band is an ordinal density class. Unclassified sorts below every real band.
type Band int

// Density bands.
const (
	Unclassified Band = iota
	Low
	Medium
	High
	Critical
)

var bandNames = map[Band]string{
	Unclassified: "unclassified",
	Low:          "low",
	Medium:       "medium",
	High:         "high",
	Critical:     "critical",
}

// Rendering hints for map consumers.
var bandColors = map[Band]string{
	Unclassified: "gray",
	Low:          "green",
	Medium:       "yellow",
	High:         "orange",
	Critical:     "red",
}

// String returns the band's lowercase name.
func (b Band) String() string {
	if s, ok := bandNames[b]; ok {
		return s
	}
	return bandNames[Unclassified]
}

// Color returns the rendering color hint for the band.
func (b Band) Color() string {
	if s, ok := bandColors[b]; ok {
		return s
	}
	return bandColors[Unclassified]
}

// MarshalText implements encoding.TextMarshaler.
func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Band) UnmarshalText(text []byte) error {
	v, err := ParseBand(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// ParseBand maps a band name back to its Band.
func ParseBand(s string) (Band, error) {
	for b, name := range bandNames {
		if name == s {
			return b, nil
		}
	}
	return Unclassified, eris.Errorf("density: unknown band %q", s)
}

// Thresholds are the member counts a cluster must exceed to reach the
// medium, high and critical bands.
type Thresholds struct {
	Medium   int
	High     int
	Critical int
}

// DefaultThresholds are the map's original color breaks.
var DefaultThresholds = Thresholds{Medium: 10, High: 30, Critical: 50}

// Validate checks that thresholds are non-negative and strictly ascending.
func (t Thresholds) Validate() error {
	if t.Medium < 0 {
		return eris.Errorf("density: thresholds must be non-negative, got medium=%d", t.Medium)
	}
	if t.Medium >= t.High || t.High >= t.Critical {
		return eris.Errorf("density: thresholds must be strictly ascending, got %d/%d/%d", t.Medium, t.High, t.Critical)
	}
	return nil
}

// BandFor returns the band for a cluster with count members.
// Rules:
//   - critical: count > Critical
//   - high: count > High
//   - medium: count > Medium
//   - low: otherwise, including empty clusters
func BandFor(count int, t Thresholds) Band {
	switch {
	case count > t.Critical:
		return Critical
	case count > t.High:
		return High
	case count > t.Medium:
		return Medium
	default:
		return Low
	}
}

// Counts returns the member count per cluster id. Unclustered facilities
// are not counted.
func Counts(assignment map[string]int) map[int]int {
	counts := make(map[int]int)
	for _, c := range assignment {
		if c == model.Unclustered {
			continue
		}
		counts[c]++
	}
	return counts
}

// Classify gives every facility its cluster's band. Unclustered facilities
// are Unclassified.
func Classify(assignment map[string]int, t Thresholds) map[string]Band {
	counts := Counts(assignment)
	out := make(map[string]Band, len(assignment))
	for id, c := range assignment {
		if c == model.Unclustered {
			out[id] = Unclassified
			continue
		}
		out[id] = BandFor(counts[c], t)
	}
	return out
}

// Summary describes one cluster for reporting.
type Summary struct {
	Cluster  int           `json:"cluster"`
	Members  int           `json:"members"`
	Band     Band          `json:"band"`
	Color    string        `json:"color"`
	Centroid cluster.Point `json:"centroid"`
}

// Summaries returns one entry per cluster id 0..K-1, empty clusters
// included, in id order.
func Summaries(res *cluster.Result, t Thresholds) []Summary {
	if res == nil {
		return nil
	}
	out := make([]Summary, 0, res.K)
	for c := range res.K {
		var members int
		if c < len(res.Counts) {
			members = res.Counts[c]
		}
		band := BandFor(members, t)
		s := Summary{Cluster: c, Members: members, Band: band, Color: band.Color()}
		if c < len(res.Centroids) {
			s.Centroid = res.Centroids[c]
		}
		out = append(out, s)
	}
	return out
}
