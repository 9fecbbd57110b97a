package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ferret-scan/ferret/pkg/catalog"
	"github.com/ferret-scan/ferret/pkg/config"
	"github.com/ferret-scan/ferret/pkg/ingest"
	"github.com/ferret-scan/ferret/pkg/logging"
	"github.com/ferret-scan/ferret/pkg/store"
)

func newImportCmd() *cobra.Command {
	var configPath string
	var chunkSize int

	cmd := &cobra.Command{
		Use:   "import <scan.csv>",
		Short: "Import a file share scan CSV into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logging.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := store.Open(cfg.CatalogPath, cfg.Store.PoolSize, cfg.Store.AcquireTimeout, log)
			if err != nil {
				return fmt.Errorf("open catalog store: %w", err)
			}
			defer func() { _ = pool.Close() }()

			cat, err := catalog.New(ctx, pool)
			if err != nil {
				return fmt.Errorf("init catalog: %w", err)
			}

			result, err := ingest.New(chunkSize, log).Parse(ctx, args[0], cat)
			if err != nil {
				return err
			}

			fmt.Printf("Imported: %d\nSkipped:  %d\n", result.Imported, result.Skipped)
			if len(result.Errors) > 0 {
				fmt.Printf("Rows with errors: %d\n", len(result.Errors))
				for _, e := range result.Errors {
					log.Warn(e)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ferret.yaml", "path to config file")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 1000, "rows per catalog insert batch")
	return cmd
}
