package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

const nominatimSearchURL = "https://nominatim.openstreetmap.org"

// nominatimPlace is one element of the Nominatim search response.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Nominatim geocodes via the OpenStreetMap Nominatim search API. The public
// instance requires a descriptive User-Agent and at most one request per second.
type Nominatim struct {
	httpProvider
}

// NewNominatim creates a Nominatim provider limited to rps requests per second.
func NewNominatim(rps float64, opts ...Option) *Nominatim {
	return &Nominatim{httpProvider: newHTTPProvider(nominatimSearchURL, rps, opts)}
}

// Name implements Provider.
func (n *Nominatim) Name() string { return "nominatim" }

// Lookup implements Provider.
func (n *Nominatim) Lookup(ctx context.Context, address string) (*Coordinate, error) {
	params := url.Values{
		"q":      {address},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}

	resp, cancel, err := n.do(ctx, n.Name(), n.baseURL+"/search?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim read body")
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}
	if len(places) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: nominatim parse lat %q", places[0].Lat)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: nominatim parse lon %q", places[0].Lon)
	}

	return &Coordinate{Latitude: lat, Longitude: lon, Source: n.Name()}, nil
}
