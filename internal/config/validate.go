package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/mtpsched/internal/core"
)

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Validate checks the structural validity of a Config and returns every
// problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if core.ModuleID(cfg.Store).Namespace() != "store" {
		errs = append(errs, fmt.Errorf("config: store %q is not a store module", cfg.Store))
	} else if _, ok := core.GetModule(cfg.Store); !ok {
		errs = append(errs, fmt.Errorf("config: unknown store module %q", cfg.Store))
	}

	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateURL("telemetry.otlp_endpoint", cfg.Telemetry.OTLPEndpoint)...)
	errs = append(errs, validateURL("metrics.pushgateway", cfg.Metrics.Pushgateway)...)

	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry.sample_ratio must be within [0, 1], got %g", r))
	}

	return errors.Join(errs...)
}

func validateScheduler(s *SchedulerConfig) []error {
	var errs []error
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("config: scheduler.timezone: %w", err))
	}
	if s.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("config: scheduler.concurrency must be at least 1, got %d", s.Concurrency))
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(s.Trigger); err != nil {
		errs = append(errs, fmt.Errorf("config: scheduler.trigger %q: %w", s.Trigger, err))
	}
	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error
	if !contains(logLevels, l.Level) {
		errs = append(errs, fmt.Errorf("config: logging.level %q (valid: %s)", l.Level, strings.Join(logLevels, ", ")))
	}
	if !contains(logFormats, l.Format) {
		errs = append(errs, fmt.Errorf("config: logging.format %q (valid: %s)", l.Format, strings.Join(logFormats, ", ")))
	}
	return errs
}

func validateURL(field, raw string) []error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("config: %s: %w", field, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("config: %s: scheme must be http or https, got %q", field, u.Scheme)}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
