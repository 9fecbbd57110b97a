package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "ferret",
		Short:   "Ferret — resilient file classification with a persistent result cache",
		Version: version,
	}

	root.AddCommand(
		newImportCmd(),
		newAnalyzeCmd(),
		newCacheCmd(),
		newStatsCmd(),
		newHealthCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
