package geocode

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geocluster/internal/resilience"
)

// countingProvider answers from a fixed table and counts calls.
type countingProvider struct {
	answers map[string]*Coordinate
	err     error
	calls   int
}

func (p *countingProvider) Name() string { return "fake" }

func (p *countingProvider) Lookup(_ context.Context, address string) (*Coordinate, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.answers[address], nil
}

func newTestCache(t *testing.T, inner Provider, ttl time.Duration) *CachedProvider {
	t.Helper()
	c, err := NewCachedProvider(inner, filepath.Join(t.TempDir(), "geocode.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "400 broad st, seattle", NormalizeAddress("  400  BROAD St,\tSeattle "))
	assert.Equal(t, "caf\u00e9 rd", NormalizeAddress("CAFE\u0301  RD"))
	assert.Equal(t, CacheKey("1 Main St"), CacheKey("1  MAIN st"))
	assert.NotEqual(t, CacheKey("1 Main St"), CacheKey("2 Main St"))
}

func TestCachedProvider_HitSkipsProvider(t *testing.T) {
	inner := &countingProvider{answers: map[string]*Coordinate{
		"1 Main St": {Latitude: 10, Longitude: 20, Source: "fake"},
	}}
	c := newTestCache(t, inner, 0)

	first, err := c.Lookup(context.Background(), "1 Main St")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := c.Lookup(context.Background(), "1 MAIN ST")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.InDelta(t, 10.0, second.Latitude, 1e-9)
	assert.InDelta(t, 20.0, second.Longitude, 1e-9)
	assert.Equal(t, "fake", second.Source)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedProvider_CachesMisses(t *testing.T) {
	inner := &countingProvider{answers: map[string]*Coordinate{}}
	c := newTestCache(t, inner, 0)

	for range 3 {
		coord, err := c.Lookup(context.Background(), "unknown road")
		require.NoError(t, err)
		assert.Nil(t, coord)
	}
	assert.Equal(t, 1, inner.calls)
}

func TestCachedProvider_ErrorsNotCached(t *testing.T) {
	inner := &countingProvider{err: resilience.NewTransientError(errors.New("timeout"), 504)}
	c := newTestCache(t, inner, 0)

	_, err := c.Lookup(context.Background(), "1 Main St")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	inner.err = nil
	inner.answers = map[string]*Coordinate{"1 Main St": {Latitude: 1, Longitude: 2}}
	coord, err := c.Lookup(context.Background(), "1 Main St")
	require.NoError(t, err)
	require.NotNil(t, coord)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedProvider_TTLExpiry(t *testing.T) {
	inner := &countingProvider{answers: map[string]*Coordinate{"a": {Latitude: 1, Longitude: 1}}}
	c := newTestCache(t, inner, time.Hour)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Lookup(context.Background(), "a")
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	_, err = c.Lookup(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	now = now.Add(2 * time.Hour)
	_, err = c.Lookup(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedProvider_Name(t *testing.T) {
	c := newTestCache(t, &countingProvider{}, 0)
	assert.Equal(t, "fake", c.Name())
}
