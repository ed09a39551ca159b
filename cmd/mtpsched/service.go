package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/mtpsched/pkg/app"
)

// daemon adapts app.Serve to the service manager's Start/Stop callbacks.
type daemon struct {
	params app.Params
	cancel context.CancelFunc
	done   chan error
}

func (d *daemon) Start(_ service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan error, 1)
	go func() { d.done <- app.Serve(ctx, d.params) }()
	return nil
}

func (d *daemon) Stop(_ service.Service) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	if err := <-d.done; err != nil {
		slog.Error("scheduler daemon exited with error", "error", err)
		return err
	}
	return nil
}

func newService(cmd *cobra.Command) (service.Service, error) {
	p := params(cmd)
	args := []string{"service", "run"}
	if p.ConfigPath != "" {
		abs, err := filepath.Abs(p.ConfigPath)
		if err != nil {
			return nil, err
		}
		p.ConfigPath = abs
		args = append(args, "--config", abs)
	}
	p.LogOutput = os.Stderr

	svc, err := service.New(&daemon{params: p}, &service.Config{
		Name:        "mtpsched",
		DisplayName: "mtpsched scheduler",
		Description: "Runs stored scheduled commands on their recurrence.",
		Arguments:   args,
	})
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	return svc, nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install and control mtpsched as a system service",
	}

	for _, action := range service.ControlAction {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: action + " the system service",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := newService(cmd)
				if err != nil {
					return err
				}
				if err := service.Control(svc, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report the system service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newService(cmd)
			if err != nil {
				return err
			}
			status, err := svc.Status()
			if err != nil && !errors.Is(err, service.ErrNotInstalled) {
				return fmt.Errorf("service status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusString(status, err))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager (used by the installed unit)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newService(cmd)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	})
	return cmd
}

func statusString(s service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed"
	}
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
