package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flemzord/mtpsched/internal/runner"
	"github.com/flemzord/mtpsched/pkg/app"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one scheduling cycle and exit",
		Long: `Run one scheduling cycle and exit.

Meant to be launched every minute by an external scheduler. The exit status
is zero whenever the cycle ran; individual job failures are logged and
reported but do not fail the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := app.RunOnce(cmd.Context(), params(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cycle finished in %s: %d executed, %d failed, %d database errors, %d claimed elsewhere, %d not due\n",
				report.Duration().Round(time.Millisecond),
				report.Count(runner.OutcomeExecuted),
				report.Count(runner.OutcomeFailed),
				report.Count(runner.OutcomeDatabaseError),
				report.Count(runner.OutcomeLockDenied)+report.Count(runner.OutcomeNoLongerDue),
				report.Count(runner.OutcomeSkipped),
			)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon with its trigger and gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Serve(cmd.Context(), params(cmd))
		},
	}
}
