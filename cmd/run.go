package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/pipeline"
)

var (
	runInput      string
	runOutDir     string
	runLayers     string
	runMockLayers string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run geocode, enrich, and cluster end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		specs, err := layerSpecs(runLayers, runMockLayers)
		if err != nil {
			return err
		}

		report, err := env.Pipeline.Run(ctx, pipeline.Request{
			Input:     runInput,
			OutputDir: runOutDir,
			Layers:    specs,
		})
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run complete",
			zap.Int("facilities", report.Facilities),
			zap.Int("resolved", report.Geocode.Resolved),
			zap.Int("missed", report.Geocode.Missed),
			zap.Strings("artifacts", report.Artifacts),
		)

		return printJSON(report)
	},
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "facility list, .csv or .xlsx (required)")
	runCmd.Flags().StringVar(&runOutDir, "out", "data", "output directory for stage artifacts")
	runCmd.Flags().StringVar(&runLayers, "layers", "", "layer manifest (default from config)")
	runCmd.Flags().StringVar(&runMockLayers, "mock-layers", "", "write mock layers into this directory and join against them")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}
