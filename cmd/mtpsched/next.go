package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flemzord/mtpsched/internal/config"
	"github.com/flemzord/mtpsched/internal/recurrence"
	"github.com/flemzord/mtpsched/pkg/app"
)

func nextCmd() *cobra.Command {
	var (
		count int
		from  string
	)
	cmd := &cobra.Command{
		Use:   "next <cron expression>",
		Short: "Preview the upcoming occurrences of a recurrence",
		Example: `  mtpsched next "*/15 9-17 * * 1-5" -n 5
  mtpsched next "0 2 * * *" --from 2024-03-31T00:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, _, err := config.LoadOrDefault(path)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			now := time.Now()
			if from != "" {
				if now, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}

			times, err := recurrence.Upcoming(argv[0], now.In(loc), count)
			if err != nil {
				return err
			}
			for _, t := range times {
				fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of occurrences")
	cmd.Flags().StringVar(&from, "from", "", "Start instant (RFC 3339); defaults to now")
	return cmd
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the job names entries may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(_ context.Context, env *app.Env) error {
				for _, name := range env.Jobs.Names() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}
