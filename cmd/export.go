package main

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/internal/db"
	"github.com/sells-group/geocluster/internal/export"
	"github.com/sells-group/geocluster/internal/pipeline"
)

var (
	exportInput string
	exportTable string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Replace a PostGIS table with the clustered dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.PostGIS.DatabaseURL == "" {
			return eris.New("export: postgis.database_url is not set")
		}

		d, err := dataset.Read(exportInput)
		if err != nil {
			return err
		}
		if !d.Clustered {
			zap.L().Warn("exporting a dataset without cluster properties", zap.String("input", exportInput))
		}

		pool, err := db.Open(ctx, cfg.PostGIS.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		table := exportTable
		if table == "" {
			table = cfg.PostGIS.Table
		}
		exp := export.NewPostGIS(pool, cfg.PostGIS.Schema, table)

		n, err := exp.Write(ctx, d.Rows)
		if err != nil {
			return err
		}
		zap.L().Info("export complete", zap.String("table", exp.Table()), zap.Int64("rows", n))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportInput, "input", filepath.Join("data", pipeline.ClusteredFile), "clustered GeoJSON")
	exportCmd.Flags().StringVar(&exportTable, "table", "", "target table (default from config)")
	rootCmd.AddCommand(exportCmd)
}
