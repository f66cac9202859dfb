package geocode

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"
)

const cacheMigration = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	address_hash TEXT PRIMARY KEY,
	address      TEXT NOT NULL,
	provider     TEXT NOT NULL,
	matched      INTEGER NOT NULL,
	latitude     REAL,
	longitude    REAL,
	cached_at    INTEGER NOT NULL
);
`

// NormalizeAddress folds case, applies NFKC and collapses whitespace so that
// trivially different spellings of one address share a cache entry.
func NormalizeAddress(address string) string {
	s := norm.NFKC.String(address)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// CacheKey returns SHA-256 hex of the normalized address.
func CacheKey(address string) string {
	h := sha256.Sum256([]byte(NormalizeAddress(address)))
	return fmt.Sprintf("%x", h)
}

// CachedProvider wraps a Provider with a SQLite lookup cache. Matches and
// definitive misses are cached; errors are never cached.
type CachedProvider struct {
	inner Provider
	db    *sql.DB
	ttl   time.Duration
	now   func() time.Time
}

// NewCachedProvider opens (or creates) the SQLite cache at path.
// A zero ttl keeps entries forever.
func NewCachedProvider(inner Provider, path string, ttl time.Duration) (*CachedProvider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "geocode cache: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "geocode cache: exec %s", pragma)
		}
	}
	if _, err := db.Exec(cacheMigration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "geocode cache: migrate")
	}
	return &CachedProvider{inner: inner, db: db, ttl: ttl, now: time.Now}, nil
}

// Close closes the underlying database.
func (c *CachedProvider) Close() error {
	return c.db.Close()
}

// Name implements Provider.
func (c *CachedProvider) Name() string { return c.inner.Name() }

// Lookup implements Provider.
func (c *CachedProvider) Lookup(ctx context.Context, address string) (*Coordinate, error) {
	key := CacheKey(address)

	coord, hit, err := c.get(ctx, key)
	if err != nil {
		zap.L().Warn("geocode cache read failed", zap.Error(err))
	} else if hit {
		zap.L().Debug("geocode cache hit", zap.String("key", key[:12]), zap.Bool("matched", coord != nil))
		return coord, nil
	}

	coord, err = c.inner.Lookup(ctx, address)
	if err != nil {
		return nil, err
	}

	if storeErr := c.put(ctx, key, address, coord); storeErr != nil {
		zap.L().Warn("geocode cache write failed", zap.Error(storeErr))
	}
	return coord, nil
}

func (c *CachedProvider) get(ctx context.Context, key string) (*Coordinate, bool, error) {
	var (
		provider string
		matched  bool
		lat, lon sql.NullFloat64
		cachedAt int64
	)
	row := c.db.QueryRowContext(ctx,
		`SELECT provider, matched, latitude, longitude, cached_at FROM geocode_cache WHERE address_hash = ?`, key)
	if err := row.Scan(&provider, &matched, &lat, &lon, &cachedAt); err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, eris.Wrap(err, "geocode cache: select")
	}

	if c.ttl > 0 && c.now().Sub(time.Unix(cachedAt, 0)) > c.ttl {
		return nil, false, nil
	}
	if !matched {
		return nil, true, nil
	}
	return &Coordinate{Latitude: lat.Float64, Longitude: lon.Float64, Source: provider}, true, nil
}

func (c *CachedProvider) put(ctx context.Context, key, address string, coord *Coordinate) error {
	var lat, lon sql.NullFloat64
	if coord != nil {
		lat = sql.NullFloat64{Float64: coord.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: coord.Longitude, Valid: true}
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (address_hash, address, provider, matched, latitude, longitude, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address_hash) DO UPDATE SET
			address = excluded.address,
			provider = excluded.provider,
			matched = excluded.matched,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			cached_at = excluded.cached_at`,
		key, address, c.inner.Name(), coord != nil, lat, lon, c.now().Unix(),
	)
	if err != nil {
		return eris.Wrap(err, "geocode cache: upsert")
	}
	return nil
}
