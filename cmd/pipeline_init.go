package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/fetcher"
	"github.com/sells-group/geocluster/internal/layer"
	"github.com/sells-group/geocluster/internal/pipeline"
	"github.com/sells-group/geocluster/internal/resolver"
	"github.com/sells-group/geocluster/pkg/geocode"
)

// pipelineEnv holds the pipeline and the resources behind it.
type pipelineEnv struct {
	Pipeline *pipeline.Pipeline
	Opener   *fetcher.Opener
	cache    *geocode.CachedProvider // nil when the cache is off
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.cache != nil {
		_ = pe.cache.Close()
	}
}

// initPipeline validates the configuration, constructs the configured
// geocode provider (wrapped by the cache when geocode.cache_path is set),
// and builds the Pipeline. Callers should defer env.Close().
func initPipeline(_ context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []geocode.Option{
		geocode.WithUserAgent(cfg.Geocode.UserAgent),
		geocode.WithTimeout(cfg.Geocode.Timeout),
	}
	if cfg.Geocode.BaseURL != "" {
		opts = append(opts, geocode.WithBaseURL(cfg.Geocode.BaseURL))
	}
	provider, err := geocode.New(cfg.Geocode.Provider, cfg.Geocode.RateLimit, opts...)
	if err != nil {
		return nil, err
	}

	env := &pipelineEnv{}
	if cfg.Geocode.CachePath != "" {
		cached, err := geocode.NewCachedProvider(provider, cfg.Geocode.CachePath, cfg.Geocode.CacheTTL)
		if err != nil {
			return nil, err
		}
		env.cache = cached
		provider = cached
		zap.L().Info("geocode cache enabled", zap.String("path", cfg.Geocode.CachePath))
	}

	res := resolver.New(provider, cfg.Geocode.MaxRetries, cfg.Geocode.RetryDelay)
	env.Opener = fetcher.NewOpener(cfg.Fetch.TempDir,
		fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:   cfg.Geocode.UserAgent,
			Timeout:     cfg.Fetch.Timeout,
			MaxAttempts: cfg.Fetch.MaxAttempts,
		}),
		fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: cfg.Fetch.Timeout}),
	)
	env.Pipeline = pipeline.New(cfg, res, env.Opener)

	zap.L().Info("pipeline initialized",
		zap.String("provider", provider.Name()),
		zap.Int("k", cfg.Cluster.K),
		zap.Uint64("seed", cfg.Cluster.Seed),
		zap.String("match_policy", cfg.Enrich.MatchPolicy),
	)
	return env, nil
}

// layerSpecs resolves the layers to join: mock layers written into
// mockDir when it is set, else the manifest at path (falling back to
// enrich.layers_manifest). No manifest means no layers.
func layerSpecs(path, mockDir string) ([]layer.Spec, error) {
	if mockDir != "" {
		if _, err := layer.WriteMock(mockDir); err != nil {
			return nil, eris.Wrap(err, "write mock layers")
		}
		return layer.MockSpecs(mockDir), nil
	}
	if path == "" {
		path = cfg.Enrich.LayersManifest
	}
	if path == "" {
		return nil, nil
	}
	m, err := layer.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return m.Layers, nil
}
