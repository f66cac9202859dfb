// Package resolver owns the retry policy around a geocode.Provider and fills
// in missing facility coordinates.
package resolver

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geocluster/internal/model"
	"github.com/sells-group/geocluster/internal/resilience"
	"github.com/sells-group/geocluster/pkg/geocode"
)

// errNotFound marks an empty provider answer. It is retried without delay.
var errNotFound = eris.New("resolver: address not found")

// Resolver resolves addresses through a single provider with bounded retry.
type Resolver struct {
	provider   geocode.Provider
	maxRetries int
	retryDelay time.Duration
}

// Stats summarizes a ResolveAll run.
type Stats struct {
	Resolved int `json:"resolved"`
	Missed   int `json:"missed"`
	Skipped  int `json:"skipped"`
}

// New creates a Resolver whose ResolveAll uses maxRetries attempts per address
// with retryDelay between attempts.
func New(provider geocode.Provider, maxRetries int, retryDelay time.Duration) *Resolver {
	return &Resolver{provider: provider, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Resolve looks up address, retrying transient failures up to maxRetries
// attempts in total with retryDelay between them. A not-found answer is
// retried immediately within the same attempt budget. A miss (not found, permanent
// provider failure, exhausted retries, or an out-of-range answer) returns
// (nil, nil). Errors are reserved for invalid input and cancellation.
func (r *Resolver) Resolve(ctx context.Context, address string, maxRetries int, retryDelay time.Duration) (*geocode.Coordinate, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, eris.New("resolver: address is empty")
	}
	if maxRetries < 1 {
		return nil, eris.Errorf("resolver: maxRetries must be >= 1, got %d", maxRetries)
	}

	log := zap.L().With(
		zap.String("component", "resolver"),
		zap.String("provider", r.provider.Name()),
		zap.String("address", address),
	)

	cfg := resilience.ConstantRetryConfig(maxRetries, retryDelay)
	cfg.ShouldRetry = func(err error) bool {
		return eris.Is(err, errNotFound) || resilience.IsTransient(err)
	}
	cfg.SkipDelay = func(err error) bool { return eris.Is(err, errNotFound) }
	cfg.OnAttempt = func(attempt int, err error) {
		switch {
		case err == nil:
			log.Debug("geocode attempt succeeded", zap.Int("attempt", attempt))
		case eris.Is(err, errNotFound):
			log.Info("address not found", zap.Int("attempt", attempt), zap.Int("max_attempts", maxRetries))
		default:
			log.Info("geocode attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxRetries),
				zap.String("class", string(resilience.Classify(err))),
				zap.Error(err),
			)
		}
	}

	coord, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*geocode.Coordinate, error) {
		c, err := r.provider.Lookup(ctx, address)
		if err == nil && c == nil {
			return nil, errNotFound
		}
		return c, err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, eris.Wrap(ctxErr, "resolver: resolve")
		}
		switch {
		case eris.Is(err, errNotFound):
			log.Warn("address not found after all attempts", zap.Int("attempts", maxRetries))
		case resilience.IsTransient(err):
			log.Warn("geocode retries exhausted", zap.Int("attempts", maxRetries), zap.Error(err))
		default:
			log.Warn("geocode permanent failure", zap.Error(err))
		}
		return nil, nil
	}

	if !model.ValidCoordinate(coord.Latitude, coord.Longitude) {
		log.Warn("provider returned out-of-range coordinate",
			zap.Float64("latitude", coord.Latitude),
			zap.Float64("longitude", coord.Longitude),
		)
		return nil, nil
	}

	log.Info("address resolved",
		zap.Float64("latitude", coord.Latitude),
		zap.Float64("longitude", coord.Longitude),
	)
	return coord, nil
}

// ResolveAll fills coordinates for facilities that lack them, in place.
// Facilities that already have coordinates, or that have no address, are
// skipped. Up to concurrency facilities are resolved at once; each goroutine
// writes only the facility at its own index.
func (r *Resolver) ResolveAll(ctx context.Context, facilities []model.Facility, concurrency int) (Stats, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	log := zap.L().With(zap.String("component", "resolver"))
	log.Info("resolving facility coordinates",
		zap.Int("facilities", len(facilities)),
		zap.Int("concurrency", concurrency),
	)

	var resolved, missed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range facilities {
		f := &facilities[i]
		if f.HasCoordinates() || strings.TrimSpace(f.Address) == "" {
			skipped.Add(1)
			continue
		}
		// A half-filled or out-of-range pair is discarded before lookup.
		f.Latitude, f.Longitude = nil, nil

		g.Go(func() error {
			coord, err := r.Resolve(gctx, f.Address, r.maxRetries, r.retryDelay)
			if err != nil {
				return err
			}
			if coord == nil {
				missed.Add(1)
				return nil
			}
			if err := f.SetCoordinates(coord.Latitude, coord.Longitude); err != nil {
				return eris.Wrapf(err, "resolver: facility %s", f.ID)
			}
			resolved.Add(1)
			return nil
		})
	}

	stats := Stats{
		Skipped: int(skipped.Load()),
	}
	if err := g.Wait(); err != nil {
		stats.Resolved = int(resolved.Load())
		stats.Missed = int(missed.Load())
		return stats, eris.Wrap(err, "resolver: resolve all")
	}
	stats.Resolved = int(resolved.Load())
	stats.Missed = int(missed.Load())

	log.Info("facility coordinates resolved",
		zap.Int("resolved", stats.Resolved),
		zap.Int("missed", stats.Missed),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}
