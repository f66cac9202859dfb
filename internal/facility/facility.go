// Package facility reads facility lists from CSV or XLSX and writes the
// geocoded list back as CSV.
package facility

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/fetcher"
	"github.com/sells-group/geocluster/internal/model"
)

// Options configures how a facility list is read.
type Options struct {
	Encoding string // CSV charset label; empty = utf-8
	Sheet    string // XLSX sheet name; empty = first sheet
}

// Accepted header spellings per field, compared case-insensitively.
var headerAliases = map[string][]string{
	"id":        {"id", "facility_id", "facility id"},
	"name":      {"name", "charger name", "charger_name", "facility name"},
	"region":    {"region", "state"},
	"address":   {"address"},
	"latitude":  {"latitude", "lat"},
	"longitude": {"longitude", "lon", "lng"},
}

// columns maps known fields to their column index; -1 when absent.
type columns struct {
	id, name, region, address, lat, lon int
	extra                               map[int]string
}

func mapHeader(header []string) (columns, error) {
	cols := columns{id: -1, name: -1, region: -1, address: -1, lat: -1, lon: -1, extra: make(map[int]string)}
	targets := map[string]*int{
		"id": &cols.id, "name": &cols.name, "region": &cols.region,
		"address": &cols.address, "latitude": &cols.lat, "longitude": &cols.lon,
	}

	for i, h := range header {
		key := strings.Join(strings.Fields(strings.ToLower(h)), " ")
		if key == "" {
			continue
		}
		matched := false
		for field, aliases := range headerAliases {
			for _, a := range aliases {
				if key == a && *targets[field] == -1 {
					*targets[field] = i
					matched = true
				}
			}
		}
		if !matched {
			cols.extra[i] = strings.TrimSpace(h)
		}
	}
	renameExtra(cols.extra)

	if cols.address == -1 {
		return cols, eris.New("facility: input has no address column")
	}
	return cols, nil
}

// renameExtra gives pass-through columns that would shadow an output field, or
// repeat another column's name, a "<name>_input" name instead.
func renameExtra(extra map[int]string) {
	idx := make([]int, 0, len(extra))
	for i := range extra {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	reserved := make(map[string]bool, len(model.OutputFields))
	for _, f := range model.OutputFields {
		reserved[f] = true
	}
	used := make(map[string]bool, len(extra))
	isTaken := func(name string) bool {
		return reserved[strings.ToLower(name)] || used[name]
	}
	for _, i := range idx {
		name := extra[i]
		if isTaken(name) {
			base := name + "_input"
			name = base
			for n := 2; isTaken(name); n++ {
				name = fmt.Sprintf("%s_%d", base, n)
			}
			zap.L().With(zap.String("component", "facility")).Warn("renamed input column",
				zap.String("column", extra[i]),
				zap.String("renamed", name),
			)
		}
		used[name] = true
		extra[i] = name
	}
}

// Read loads a facility list, choosing the format by file extension.
func Read(ctx context.Context, path string, opts Options) ([]model.Facility, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, opts)
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "facility: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f, opts)
	default:
		return nil, eris.Errorf("facility: unsupported input format %q", filepath.Ext(path))
	}
}

// ReadCSV reads a CSV facility list whose first row is the header.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) ([]model.Facility, error) {
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Encoding:   opts.Encoding,
		LazyQuotes: true,
		TrimSpace:  true,
	})

	var rows [][]string
	for rec := range rowCh {
		rows = append(rows, rec)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "facility: read csv")
	}
	return fromRows(rows)
}

// ReadXLSX reads a facility list from an XLSX sheet whose first row is the header.
func ReadXLSX(path string, opts Options) ([]model.Facility, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: opts.Sheet})
	if err != nil {
		return nil, eris.Wrap(err, "facility: read xlsx")
	}
	return fromRows(rows)
}

func fromRows(rows [][]string) ([]model.Facility, error) {
	if len(rows) == 0 {
		return nil, eris.New("facility: input is empty")
	}
	cols, err := mapHeader(rows[0])
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "facility"))
	out := make([]model.Facility, 0, len(rows)-1)
	seen := make(map[string]int)
	for i, rec := range rows[1:] {
		rowNum := i + 2 // 1-based, after the header
		if blank(rec) {
			continue
		}

		f := parseRow(rowNum, rec, cols, log)
		if prev, dup := seen[f.ID]; dup {
			return nil, eris.Errorf("facility: duplicate id %q on rows %d and %d", f.ID, prev, rowNum)
		}
		seen[f.ID] = rowNum
		out = append(out, f)
	}

	log.Info("facility list read", zap.Int("facilities", len(out)))
	return out, nil
}

func parseRow(rowNum int, rec []string, cols columns, log *zap.Logger) model.Facility {
	get := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	f := model.Facility{
		ID:      get(cols.id),
		Name:    get(cols.name),
		Region:  get(cols.region),
		Address: get(cols.address),
	}
	if f.ID == "" {
		f.ID = StableID(rowNum, f.Address)
	}

	for i, name := range cols.extra {
		if v := get(i); v != "" {
			if f.Extra == nil {
				f.Extra = make(map[string]string)
			}
			f.Extra[name] = v
		}
	}

	latRaw, lonRaw := get(cols.lat), get(cols.lon)
	if latRaw != "" && lonRaw != "" {
		lat, latErr := strconv.ParseFloat(latRaw, 64)
		lon, lonErr := strconv.ParseFloat(lonRaw, 64)
		if latErr == nil && lonErr == nil && model.ValidCoordinate(lat, lon) {
			f.Latitude, f.Longitude = &lat, &lon
		} else {
			log.Warn("ignoring invalid coordinates",
				zap.Int("row", rowNum),
				zap.String("latitude", latRaw),
				zap.String("longitude", lonRaw),
			)
		}
	}
	return f
}

// StableID derives a facility id from its row number and address, so the
// same input always yields the same ids.
func StableID(rowNum int, address string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%d|%s", rowNum, address))).String()
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
