// Package main is the entry point for the mtpsched CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/mtpsched/internal/core"
	"github.com/flemzord/mtpsched/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mtpsched",
		Short:         "Runs stored scheduled commands exactly once per due time across replicas",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.AddCommand(
		versionCmd(),
		runCmd(),
		serveCmd(),
		entriesCmd(),
		nextCmd(),
		jobsCmd(),
		configCmd(),
		serviceCmd(),
	)
	return root
}

// params builds app.Params from the persistent flags.
func params(cmd *cobra.Command) app.Params {
	path, _ := cmd.Flags().GetString("config")
	return app.Params{ConfigPath: path, Version: version, LogOutput: cmd.ErrOrStderr()}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mtpsched %s (commit: %s, built: %s)\n", version, commit, date)
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range core.GetModules() {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}
