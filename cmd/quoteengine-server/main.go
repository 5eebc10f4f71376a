package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configFile string

func main() {
	root := &cobra.Command{
		Use:          "quoteengine-server",
		Short:        "Deterministic task quoting engine",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file; environment variables override it")
	root.AddCommand(newServeCmd(), newSweepCmd(), newExportCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
