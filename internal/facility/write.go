package facility

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geocluster/internal/atomicfile"
	"github.com/sells-group/geocluster/internal/model"
)

var baseHeader = []string{"id", "name", "region", "address", "latitude", "longitude"}

// WriteCSV writes facilities to path atomically. Extra columns follow the
// fixed columns in name order; missing coordinates are written empty.
func WriteCSV(path string, facilities []model.Facility) error {
	return atomicfile.Write(path, func(w io.Writer) error {
		return EncodeCSV(w, facilities)
	})
}

// EncodeCSV writes facilities as CSV with a header row.
func EncodeCSV(w io.Writer, facilities []model.Facility) error {
	extraSet := make(map[string]bool)
	for i := range facilities {
		for k := range facilities[i].Extra {
			extraSet[k] = true
		}
	}
	extra := make([]string, 0, len(extraSet))
	for k := range extraSet {
		extra = append(extra, k)
	}
	sort.Strings(extra)

	cw := csv.NewWriter(w)
	header := append(append([]string(nil), baseHeader...), extra...)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "facility: write header")
	}

	for i := range facilities {
		f := &facilities[i]
		rec := []string{f.ID, f.Name, f.Region, f.Address, formatCoord(f.Latitude), formatCoord(f.Longitude)}
		for _, k := range extra {
			rec = append(rec, f.Extra[k])
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrapf(err, "facility: write row %s", f.ID)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "facility: flush csv")
	}
	return nil
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
