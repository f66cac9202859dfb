package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceConfig defines a full-table reload.
type ReplaceConfig struct {
	Table     string   // target table, "name" or "schema.name"
	CreateSQL string   // optional CREATE TABLE IF NOT EXISTS statement
	Columns   []string // columns being copied
}

// ReplaceTable swaps the contents of a table in one transaction:
//  1. Creates the table if CreateSQL is set
//  2. TRUNCATEs it
//  3. COPYs rows in
//
// Readers see either the old rows or the new ones.
func ReplaceTable(ctx context.Context, pool Pool, cfg ReplaceConfig, rows [][]any) (int64, error) {
	if cfg.Table == "" {
		return 0, eris.New("db: replace: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if cfg.CreateSQL != "" {
		if _, err := tx.Exec(ctx, cfg.CreateSQL); err != nil {
			return 0, eris.Wrapf(err, "db: replace: create %s", cfg.Table)
		}
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", Identifier(cfg.Table).Sanitize())); err != nil {
		return 0, eris.Wrapf(err, "db: replace: truncate %s", cfg.Table)
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, Identifier(cfg.Table), cfg.Columns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "db: replace: COPY INTO %s", cfg.Table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	return n, nil
}
