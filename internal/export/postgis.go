// Package export loads the final clustered dataset into PostGIS.
package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/db"
	"github.com/sells-group/geocluster/internal/model"
)

// SRID of exported point geometries.
const SRID = 4326

// Columns are the target table's columns in COPY order.
var Columns = []string{
	"facility_id", "name", "region", "address", "latitude", "longitude",
	"attributes", "cluster", "cluster_density", "density_band", "color", "geom",
}

const createTable = `CREATE TABLE IF NOT EXISTS %s (
	facility_id     TEXT NOT NULL,
	name            TEXT,
	region          TEXT,
	address         TEXT,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	attributes      JSONB NOT NULL DEFAULT '{}',
	cluster         INTEGER NOT NULL,
	cluster_density INTEGER NOT NULL,
	density_band    TEXT NOT NULL,
	color           TEXT,
	geom            geometry(Point, 4326)
)`

// PostGIS replaces the contents of one table with a clustered dataset.
type PostGIS struct {
	pool  db.Pool
	table string
}

// NewPostGIS creates an exporter writing to schema.table. An empty schema
// leaves the table unqualified.
func NewPostGIS(pool db.Pool, schema, table string) *PostGIS {
	if table == "" {
		table = "facility_clusters"
	}
	if schema != "" {
		table = schema + "." + table
	}
	return &PostGIS{pool: pool, table: table}
}

// Table returns the qualified target table name.
func (p *PostGIS) Table() string { return p.table }

// CreateSQL returns the DDL for the target table.
func (p *PostGIS) CreateSQL() string {
	return fmt.Sprintf(createTable, db.Identifier(p.table).Sanitize())
}

// Write creates the table if missing, truncates it and copies rows in.
func (p *PostGIS) Write(ctx context.Context, rows []model.ClusteredFacility) (int64, error) {
	values, err := Rows(rows)
	if err != nil {
		return 0, err
	}

	n, err := db.ReplaceTable(ctx, p.pool, db.ReplaceConfig{
		Table:     p.table,
		CreateSQL: p.CreateSQL(),
		Columns:   Columns,
	}, values)
	if err != nil {
		return 0, eris.Wrap(err, "export: postgis")
	}

	zap.L().Info("dataset exported",
		zap.String("component", "export"),
		zap.String("table", p.table),
		zap.Int64("rows", n),
	)
	return n, nil
}

// Rows converts facilities to COPY rows in Columns order. Facilities without
// coordinates get NULL geometry.
func Rows(rows []model.ClusteredFacility) ([][]any, error) {
	out := make([][]any, 0, len(rows))
	for i := range rows {
		r := &rows[i]

		attrs := r.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		attrJSON, err := json.Marshal(attrs)
		if err != nil {
			return nil, eris.Wrapf(err, "export: encode attributes of %s", r.ID)
		}

		point, err := EncodePoint(r.Latitude, r.Longitude)
		if err != nil {
			return nil, eris.Wrapf(err, "export: encode geometry of %s", r.ID)
		}

		out = append(out, []any{
			r.ID, r.Name, r.Region, r.Address, r.Latitude, r.Longitude,
			string(attrJSON), r.Cluster, r.ClusterSize, r.Band, r.Color, point,
		})
	}
	return out, nil
}

// EncodePoint returns EWKB for the point (lon, lat) with SRID 4326, or nil
// when either coordinate is missing or out of range.
func EncodePoint(lat, lon *float64) ([]byte, error) {
	if lat == nil || lon == nil || !model.ValidCoordinate(*lat, *lon) {
		return nil, nil
	}
	pt := geom.NewPointFlat(geom.XY, []float64{*lon, *lat}).SetSRID(SRID)
	data, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "export: marshal ewkb")
	}
	return data, nil
}
