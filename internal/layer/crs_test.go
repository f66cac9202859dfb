package layer

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCRS(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ""},
		{in: "EPSG:4326", want: DefaultCRS},
		{in: "epsg:4326", want: DefaultCRS},
		{in: "urn:ogc:def:crs:EPSG::4326", want: DefaultCRS},
		{in: "urn:ogc:def:crs:OGC:1.3:CRS84", want: DefaultCRS},
		{in: "OGC:CRS84", want: DefaultCRS},
		{in: "EPSG:3857", wantErr: true},
		{in: "EPSG:4269", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeCRS(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, eris.Is(err, ErrUnsupportedCRS))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCRSFromPRJ(t *testing.T) {
	wgs84 := `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
	got, err := crsFromPRJ(wgs84)
	require.NoError(t, err)
	assert.Equal(t, DefaultCRS, got)

	got, err = crsFromPRJ("  ")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	nad83 := `GEOGCS["GCS_North_American_1983",DATUM["D_North_American_1983",SPHEROID["GRS_1980",6378137.0,298.257222101]]]`
	_, err = crsFromPRJ(nad83)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnsupportedCRS))

	mercator := `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984"]]]`
	_, err = crsFromPRJ(mercator)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnsupportedCRS))
}
