package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferret-scan/ferret/pkg/analyzer"
	"github.com/ferret-scan/ferret/pkg/cache"
	"github.com/ferret-scan/ferret/pkg/catalog"
	"github.com/ferret-scan/ferret/pkg/config"
	"github.com/ferret-scan/ferret/pkg/filter"
	"github.com/ferret-scan/ferret/pkg/logging"
	"github.com/ferret-scan/ferret/pkg/prompt"
	"github.com/ferret-scan/ferret/pkg/remote"
	"github.com/ferret-scan/ferret/pkg/resilience"
	"github.com/ferret-scan/ferret/pkg/store"
)

func newAnalyzeCmd() *cobra.Command {
	var configPath string
	var templateName string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Classify pending catalog files through the remote service",
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

			catalogPool, err := store.Open(cfg.CatalogPath, cfg.Store.PoolSize, cfg.Store.AcquireTimeout, log)
			if err != nil {
				return fmt.Errorf("open catalog store: %w", err)
			}
			defer func() { _ = catalogPool.Close() }()

			cat, err := catalog.New(ctx, catalogPool)
			if err != nil {
				return fmt.Errorf("init catalog: %w", err)
			}

			var cacheMgr *cache.Manager
			if cfg.Cache.Enabled {
				cachePool, err := store.Open(cfg.Cache.Path, cfg.Store.PoolSize, cfg.Store.AcquireTimeout, log)
				if err != nil {
					return fmt.Errorf("open cache store: %w", err)
				}
				defer func() { _ = cachePool.Close() }()

				cacheMgr, err = cache.New(ctx, cachePool, cfg.Cache.TTL, cfg.Cache.MaxBytes, log)
				if err != nil {
					return fmt.Errorf("init cache: %w", err)
				}
			}

			prompts, err := prompt.Load(cfg.PromptsPath)
			if err != nil {
				return fmt.Errorf("load prompts: %w", err)
			}

			transport := remote.New(cfg.Remote, log)
			breaker := resilience.NewBreaker(cfg.Breaker, log)
			client := resilience.NewClient(transport, breaker, cfg.Retry, log)

			classifier := analyzer.NewClassifier(cacheMgr, client, prompts, templateName, log)
			runner := analyzer.NewRunner(cat, classifier, filter.New(cfg.Filter), cfg.Analyze, log)

			stats, err := runner.Run(ctx)
			if stats != nil {
				fmt.Printf("Processed:  %d\nCache hits: %d\nExcluded:   %d\nErrors:     %d\nDuration:   %s\n",
					stats.Processed, stats.CacheHits, stats.Excluded, stats.Errors, stats.Duration.Round(time.Millisecond))
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ferret.yaml", "path to config file")
	cmd.Flags().StringVarP(&templateName, "template", "t", "", "prompt template name")
	return cmd
}
