package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cachepkg "github.com/ferret-scan/ferret/pkg/cache"
	"github.com/ferret-scan/ferret/pkg/config"
	"github.com/ferret-scan/ferret/pkg/logging"
	"github.com/ferret-scan/ferret/pkg/store"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the classification cache",
	}

	openCache := func(cmd *cobra.Command) (*cachepkg.Manager, func(), error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		log, err := logging.New(cfg.Log)
		if err != nil {
			return nil, nil, err
		}
		pool, err := store.Open(cfg.Cache.Path, cfg.Store.PoolSize, cfg.Store.AcquireTimeout, log)
		if err != nil {
			return nil, nil, err
		}
		mgr, err := cachepkg.New(cmd.Context(), pool, cfg.Cache.TTL, cfg.Cache.MaxBytes, log)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return mgr, func() { _ = pool.Close() }, nil
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeFn, err := openCache(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := mgr.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Entries:  %d\nRetained: %d bytes\nHits:     %d\nMisses:   %d\n",
				stats.Entries, stats.RetainedBytes, stats.Hits, stats.Misses)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeFn, err := openCache(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			removed, err := mgr.Purge(cmd.Context(), expiredOnly)
			if err != nil {
				return err
			}
			if expiredOnly {
				fmt.Printf("Removed %d expired cache entries.\n", removed)
			} else {
				fmt.Printf("Removed %d cache entries.\n", removed)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ferret.yaml", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
