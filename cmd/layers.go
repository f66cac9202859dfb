package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/layer"
)

var layersMockDir string

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Reference layer utilities",
}

var layersMockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Write the mock population density and traffic flow layers as GeoJSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := layer.WriteMock(layersMockDir)
		if err != nil {
			return err
		}
		zap.L().Info("mock layers written", zap.Strings("paths", paths))
		return printJSON(layer.MockSpecs(layersMockDir))
	},
}

func init() {
	layersMockCmd.Flags().StringVar(&layersMockDir, "dir", "data/layers", "directory to write mock layers into")
	layersCmd.AddCommand(layersMockCmd)
	rootCmd.AddCommand(layersCmd)
}
