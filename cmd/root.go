package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/datahub-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "datahub",
	Short: "Tabular dataset acquisition and query service",
	Long:  "Fetches remote tabular datasets (CSV, JSON, ZIP, XLSX) per a configuration catalog, normalizes them into canonical CSV files, and serves filtered paginated reads over them.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
