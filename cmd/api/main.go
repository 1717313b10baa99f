package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var debug bool
	rootCmd := &cobra.Command{
		Use:           "docflow",
		Short:         "Docflow document registry API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")

	rootCmd.AddCommand(serveCmd(&debug))
	rootCmd.AddCommand(workerCmd(&debug))
	rootCmd.AddCommand(migrateCmd(&debug))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *debug)
		},
	}
}

func workerCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume text-extraction jobs from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), *debug)
		},
	}
}

func migrateCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), *debug)
		},
	}
}
