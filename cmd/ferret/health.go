package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferret-scan/ferret/pkg/config"
	"github.com/ferret-scan/ferret/pkg/logging"
	"github.com/ferret-scan/ferret/pkg/remote"
)

func newHealthCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the remote classification service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}

			client := remote.New(cfg.Remote, log)
			if !client.Health(cmd.Context()) {
				return fmt.Errorf("service at %s is not healthy", cfg.Remote.URL)
			}
			fmt.Printf("Service at %s is healthy.\n", cfg.Remote.URL)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ferret.yaml", "path to config file")
	return cmd
}
