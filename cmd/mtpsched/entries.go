package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/flemzord/mtpsched/internal/recurrence"
	"github.com/flemzord/mtpsched/internal/schedule"
	"github.com/flemzord/mtpsched/pkg/app"
)

// interactive reports whether prompts can be shown. Tests override it.
var interactive = func() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

func entriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "entries",
		Aliases: []string{"entry"},
		Short:   "Manage scheduled command entries",
	}
	cmd.AddCommand(entriesAddCmd(), entriesListCmd(), entriesShowCmd(), entriesEditCmd(), entriesRemoveCmd())
	return cmd
}

// withEnv bootstraps the store and job modules for the duration of fn.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, env *app.Env) error) error {
	ctx := cmd.Context()
	env, err := app.Bootstrap(ctx, params(cmd), "job")
	if err != nil {
		return err
	}
	defer env.Close(context.Background())
	return fn(ctx, env)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid entry id %q", s)
	}
	return id, nil
}

func entriesAddCmd() *cobra.Command {
	var name, args, expr, next string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an entry (opens a form when run on a terminal without --name)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, env *app.Env) error {
				if name == "" {
					if !interactive() {
						return errors.New("--name is required when not running on a terminal")
					}
					if err := entryForm(env.Jobs.Names(), &name, &args, &expr).Run(); err != nil {
						return err
					}
				}

				e := schedule.Entry{Name: name, ArgString: args, Recurrence: expr}
				if next != "" {
					t, err := time.Parse(time.RFC3339, next)
					if err != nil {
						return fmt.Errorf("--next: %w", err)
					}
					e.NextDueAt = t.UTC()
				}

				created, err := env.Manager().Add(ctx, e)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added entry %d: %s (next %s)\n",
					created.ID, created.String(), created.NextDueAt.In(env.Location).Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Registered job name")
	cmd.Flags().StringVar(&args, "args", "", "Whitespace-separated job arguments")
	cmd.Flags().StringVar(&expr, "cron", "* * * * *", "Five-field cron expression")
	cmd.Flags().StringVar(&next, "next", "", "First due time (RFC 3339); computed from --cron when empty")
	return cmd
}

// entryForm prompts for the fields of a new entry.
func entryForm(jobs []string, name, args, expr *string) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Job").
				Options(huh.NewOptions(jobs...)...).
				Value(name),
			huh.NewInput().
				Title("Arguments").
				Description("Whitespace-separated, passed to the job in order").
				Value(args),
			huh.NewInput().
				Title("Recurrence").
				Description("minute hour day-of-month month day-of-week").
				Value(expr).
				Validate(recurrence.Validate),
		),
	)
}

func entriesListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List entries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, env *app.Env) error {
				entries, err := env.Manager().List(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No entries.")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						strconv.FormatInt(e.ID, 10),
						e.Name,
						e.ArgString,
						e.Recurrence,
						e.NextDueAt.In(env.Location).Format(time.RFC3339),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "NAME", "ARGS", "CRON", "NEXT"}, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func entriesShowCmd() *cobra.Command {
	var upcoming int
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one entry and its upcoming runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			id, err := parseID(argv[0])
			if err != nil {
				return err
			}
			return withEnv(cmd, func(ctx context.Context, env *app.Env) error {
				e, err := env.Manager().Get(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:         %d\n", e.ID)
				fmt.Fprintf(out, "Name:       %s\n", e.Name)
				fmt.Fprintf(out, "Arguments:  %s\n", e.ArgString)
				fmt.Fprintf(out, "Recurrence: %s\n", e.Recurrence)
				fmt.Fprintf(out, "Next due:   %s\n", e.NextDueAt.In(env.Location).Format(time.RFC3339))
				fmt.Fprintf(out, "Updated:    %s\n", e.UpdatedAt.In(env.Location).Format(time.RFC3339))

				times, err := recurrence.Upcoming(e.Recurrence, e.NextDueAt.In(env.Location), upcoming)
				if err != nil {
					fmt.Fprintf(out, "Upcoming:   unavailable (%v)\n", err)
					return nil
				}
				fmt.Fprintln(out, "Then:")
				for _, t := range times {
					fmt.Fprintf(out, "  %s\n", t.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&upcoming, "upcoming", "n", 3, "Number of following occurrences to show")
	return cmd
}

func entriesEditCmd() *cobra.Command {
	var name, args, expr string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change an entry's job, arguments or recurrence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			id, err := parseID(argv[0])
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("name") && !flags.Changed("args") && !flags.Changed("cron") {
				return errors.New("nothing to change: pass --name, --args or --cron")
			}
			return withEnv(cmd, func(ctx context.Context, env *app.Env) error {
				updated, err := env.Manager().Modify(ctx, id, func(e *schedule.Entry) {
					if flags.Changed("name") {
						e.Name = name
					}
					if flags.Changed("args") {
						e.ArgString = args
					}
					if flags.Changed("cron") {
						e.Recurrence = expr
					}
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated entry %d: %s (next %s)\n",
					updated.ID, updated.String(), updated.NextDueAt.In(env.Location).Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Registered job name")
	cmd.Flags().StringVar(&args, "args", "", "Whitespace-separated job arguments")
	cmd.Flags().StringVar(&expr, "cron", "", "Five-field cron expression")
	return cmd
}

func entriesRemoveCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an entry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			id, err := parseID(argv[0])
			if err != nil {
				return err
			}
			return withEnv(cmd, func(ctx context.Context, env *app.Env) error {
				e, err := env.Manager().Get(ctx, id)
				if err != nil {
					return err
				}
				if !yes && interactive() {
					confirmed := false
					prompt := huh.NewConfirm().
						Title(fmt.Sprintf("Delete entry %d (%s)?", e.ID, strings.TrimSpace(e.String()))).
						Value(&confirmed)
					if err := prompt.Run(); err != nil {
						return err
					}
					if !confirmed {
						fmt.Fprintln(cmd.OutOrStdout(), "aborted")
						return nil
					}
				}
				if err := env.Manager().Remove(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed entry %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
