package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/pipeline"
)

var (
	geocodeInput string
	geocodeOut   string

	enrichInput      string
	enrichOut        string
	enrichLayers     string
	enrichMockLayers string

	clusterInput string
	clusterOut   string
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Resolve missing facility coordinates and write the geocoded list",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Pipeline.GeocodeFile(ctx, geocodeInput, geocodeOut)
		if err != nil {
			return err
		}
		zap.L().Info("geocoding complete", zap.String("output", geocodeOut))
		return printJSON(stats)
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Join geocoded facilities against the reference layers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		specs, err := layerSpecs(enrichLayers, enrichMockLayers)
		if err != nil {
			return err
		}

		d, err := env.Pipeline.EnrichFile(ctx, enrichInput, specs, enrichOut)
		if err != nil {
			return err
		}
		zap.L().Info("enrichment complete",
			zap.String("output", enrichOut),
			zap.Int("rows", len(d.Rows)),
			zap.Strings("fields", d.Fields),
		)
		return nil
	},
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster an enriched dataset and classify cluster density",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		summaries, err := pipeline.New(cfg, nil, nil).ClusterFile(clusterInput, clusterOut)
		if err != nil {
			return err
		}
		zap.L().Info("clustering complete", zap.String("output", clusterOut))
		return printJSON(summaries)
	},
}

func init() {
	geocodeCmd.Flags().StringVar(&geocodeInput, "input", "", "facility list, .csv or .xlsx (required)")
	geocodeCmd.Flags().StringVar(&geocodeOut, "out", filepath.Join("data", pipeline.GeocodedFile), "geocoded CSV output")
	_ = geocodeCmd.MarkFlagRequired("input")

	enrichCmd.Flags().StringVar(&enrichInput, "input", filepath.Join("data", pipeline.GeocodedFile), "geocoded facility CSV")
	enrichCmd.Flags().StringVar(&enrichOut, "out", filepath.Join("data", pipeline.EnrichedFile), "enriched GeoJSON output")
	enrichCmd.Flags().StringVar(&enrichLayers, "layers", "", "layer manifest (default from config)")
	enrichCmd.Flags().StringVar(&enrichMockLayers, "mock-layers", "", "write mock layers into this directory and join against them")

	clusterCmd.Flags().StringVar(&clusterInput, "input", filepath.Join("data", pipeline.EnrichedFile), "enriched GeoJSON")
	clusterCmd.Flags().StringVar(&clusterOut, "out", filepath.Join("data", pipeline.ClusteredFile), "clustered GeoJSON output")

	rootCmd.AddCommand(geocodeCmd, enrichCmd, clusterCmd)
}
