package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/mtpsched/internal/config"
	"github.com/flemzord/mtpsched/internal/core"
	"github.com/flemzord/mtpsched/internal/security"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	var show bool
	check := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration and provision its modules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			appCtx := core.NewAppContext(logger, cfg.DataDir).WithModuleConfigs(cfg.Modules)
			appCtx.RegisterService(security.RedactorService, security.NewRedactor())

			application := core.NewApp(appCtx)
			ids := config.Resolve(cfg, "store", "job", "gateway")
			if err := application.LoadModules(ids); err != nil {
				return err
			}
			defer application.Stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}

			if show {
				redacted, err := redactedYAML(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n%s", redacted)
			}
			return nil
		},
	}
	check.Flags().BoolVar(&show, "show", false, "Print the effective configuration with secrets masked")
	cmd.AddCommand(check)
	return cmd
}

// redactedYAML renders cfg with defaults applied and secret-looking values
// masked.
func redactedYAML(cfg *config.Config) ([]byte, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	security.NewRedactor().RedactMap(tree)
	return yaml.Marshal(tree)
}
