package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

const (
	censusBaseURL   = "https://geocoding.geo.census.gov/geocoder"
	censusBenchmark = "Public_AR_Current"
)

// censusOneLineResponse is the JSON response from the Census single-address API.
type censusOneLineResponse struct {
	Result struct {
		AddressMatches []censusAddressMatch `json:"addressMatches"`
	} `json:"result"`
}

type censusAddressMatch struct {
	Coordinates struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	MatchedAddress string `json:"matchedAddress"`
}

// Census geocodes US addresses via the Census Bureau one-line address API.
type Census struct {
	httpProvider
}

// NewCensus creates a Census provider limited to rps requests per second.
func NewCensus(rps float64, opts ...Option) *Census {
	return &Census{httpProvider: newHTTPProvider(censusBaseURL, rps, opts)}
}

// Name implements Provider.
func (c *Census) Name() string { return "census" }

// Lookup implements Provider.
func (c *Census) Lookup(ctx context.Context, address string) (*Coordinate, error) {
	params := url.Values{
		"address":   {address},
		"benchmark": {censusBenchmark},
		"format":    {"json"},
	}

	resp, cancel, err := c.do(ctx, c.Name(), c.baseURL+"/locations/onelineaddress?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census read body")
	}

	var censusResp censusOneLineResponse
	if err := json.Unmarshal(body, &censusResp); err != nil {
		return nil, eris.Wrap(err, "geocode: census parse response")
	}

	if len(censusResp.Result.AddressMatches) == 0 {
		return nil, nil
	}

	match := censusResp.Result.AddressMatches[0]
	return &Coordinate{
		Latitude:  match.Coordinates.Y,
		Longitude: match.Coordinates.X,
		Source:    c.Name(),
	}, nil
}
