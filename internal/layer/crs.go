package layer

import (
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultCRS is the frame assumed for layers that declare none:
// WGS84 geographic, longitude/latitude in degrees.
const DefaultCRS = "EPSG:4326"

// wgs84Names are the accepted spellings of the default frame.
var wgs84Names = []string{
	"epsg:4326",
	"urn:ogc:def:crs:epsg::4326",
	"urn:ogc:def:crs:epsg:6.6:4326",
	"http://www.opengis.net/def/crs/epsg/0/4326",
	"ogc:crs84",
	"crs84",
	"urn:ogc:def:crs:ogc:1.3:crs84",
	"urn:ogc:def:crs:ogc::crs84",
	"http://www.opengis.net/def/crs/ogc/1.3/crs84",
	"wgs84",
}

// NormalizeCRS maps a CRS identifier onto DefaultCRS. An empty name returns
// "" so the caller can apply its configured default. Any other frame is
// unsupported; layers are never reprojected.
func NormalizeCRS(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", nil
	}
	if slices.Contains(wgs84Names, n) {
		return DefaultCRS, nil
	}
	return "", eris.Wrapf(ErrUnsupportedCRS, "%q", name)
}

var (
	prjProjected = regexp.MustCompile(`(?i)^\s*PROJCS\[`)
	prjGeogName  = regexp.MustCompile(`(?i)^\s*GEOGCS\[\s*"([^"]*)"`)
	prjDatum     = regexp.MustCompile(`(?i)DATUM\[\s*"([^"]*)"`)
)

// crsFromPRJ classifies the WKT of a shapefile .prj. Geographic WGS84
// definitions map to DefaultCRS; projected or other datums are unsupported.
func crsFromPRJ(wkt string) (string, error) {
	if strings.TrimSpace(wkt) == "" {
		return "", nil
	}
	if prjProjected.MatchString(wkt) {
		return "", eris.Wrap(ErrUnsupportedCRS, "projected coordinate system in .prj")
	}

	geog := prjGeogName.FindStringSubmatch(wkt)
	if geog == nil {
		return "", eris.Wrap(ErrUnsupportedCRS, "unrecognized .prj definition")
	}
	if isWGS84Label(geog[1]) {
		return DefaultCRS, nil
	}
	if datum := prjDatum.FindStringSubmatch(wkt); datum != nil && isWGS84Label(datum[1]) {
		return DefaultCRS, nil
	}
	return "", eris.Wrapf(ErrUnsupportedCRS, "geographic system %q", geog[1])
}

func isWGS84Label(s string) bool {
	s = strings.ToLower(strings.NewReplacer("_", "", " ", "", "-", "").Replace(s))
	return s == "wgs84" || s == "gcswgs1984" || s == "wgs1984" || s == "dwgs1984"
}
