package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferret-scan/ferret/pkg/catalog"
	"github.com/ferret-scan/ferret/pkg/config"
	"github.com/ferret-scan/ferret/pkg/logging"
	"github.com/ferret-scan/ferret/pkg/store"
)

func newStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog processing statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}

			pool, err := store.Open(cfg.CatalogPath, cfg.Store.PoolSize, cfg.Store.AcquireTimeout, log)
			if err != nil {
				return err
			}
			defer func() { _ = pool.Close() }()

			cat, err := catalog.New(cmd.Context(), pool)
			if err != nil {
				return err
			}

			stats, err := cat.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Total:     %d\nPending:   %d\nExcluded:  %d\nCompleted: %d\nErrors:    %d\n",
				stats.Total, stats.Pending, stats.Excluded, stats.Completed, stats.Errors)
			if stats.Completed > 0 {
				fmt.Printf("Avg time:  %.0f ms\n", stats.AvgProcessingMs)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ferret.yaml", "path to config file")
	return cmd
}
