package exec

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

const (
	defaultTimeout   = 15 * time.Minute
	defaultMaxOutput = 64 << 10
)

// Config holds the exec job module configuration.
type Config struct {
	// Allow lists the programs the job may run, as written in entry
	// arguments. Bare names are resolved through PATH at run time.
	Allow []string `yaml:"allow"`

	// Timeout bounds each run. Defaults to 15m.
	Timeout time.Duration `yaml:"timeout"`

	// Dir is the working directory. Defaults to the data directory.
	Dir string `yaml:"dir"`

	// MaxOutput caps how many bytes of combined output are kept for logs
	// and errors. Defaults to 64KiB.
	MaxOutput int `yaml:"max_output"`

	// InheritEnv passes the process environment to the program after
	// stripping sensitive variables. Defaults to true.
	InheritEnv *bool `yaml:"inherit_env"`

	// Env adds KEY=VALUE pairs to the program environment.
	Env []string `yaml:"env"`
}

func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxOutput == 0 {
		c.MaxOutput = defaultMaxOutput
	}
	if c.InheritEnv == nil {
		t := true
		c.InheritEnv = &t
	}
}

func (c *Config) inheritEnv() bool {
	return c.InheritEnv == nil || *c.InheritEnv
}

func (c *Config) validate() error {
	var errs []error
	if len(c.Allow) == 0 {
		errs = append(errs, errors.New("exec: allow must list at least one program"))
	}
	for _, p := range c.Allow {
		if p == "" {
			errs = append(errs, errors.New("exec: allow contains an empty program"))
			continue
		}
		if filepath.Base(p) != p && !filepath.IsAbs(p) {
			errs = append(errs, fmt.Errorf("exec: allowed program %q must be a bare name or an absolute path", p))
		}
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("exec: timeout must be non-negative, got %s", c.Timeout))
	}
	if c.MaxOutput < 0 {
		errs = append(errs, fmt.Errorf("exec: max_output must be non-negative, got %d", c.MaxOutput))
	}
	return errors.Join(errs...)
}
