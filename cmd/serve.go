package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/density"
	"github.com/sells-group/geocluster/internal/pipeline"
	"github.com/sells-group/geocluster/internal/server"
)

var (
	servePort    int
	serveDataset string
	serveOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the clustered dataset over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := []server.Option{server.WithThresholds(density.Thresholds{
			Medium:   cfg.Density.Medium,
			High:     cfg.Density.High,
			Critical: cfg.Density.Critical,
		})}
		if len(serveOrigins) > 0 {
			opts = append(opts, server.WithAllowedOrigins(serveOrigins...))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.New(serveDataset, opts...).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("dataset", serveDataset))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveDataset, "dataset", filepath.Join("data", pipeline.ClusteredFile), "clustered GeoJSON to serve")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "allowed-origins", nil, "CORS origins (default any)")
	rootCmd.AddCommand(serveCmd)
}
