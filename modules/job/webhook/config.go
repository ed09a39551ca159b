package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultRetryMax     = 3
	defaultRetryWaitMin = 500 * time.Millisecond
	defaultRetryWaitMax = 5 * time.Second
)

// Target is one named endpoint entries can notify.
type Target struct {
	URL string `yaml:"url"`

	// Secret, when set, signs each body with HMAC-SHA256 in the
	// X-Mtpsched-Signature header as "sha256=<hex>".
	Secret string `yaml:"secret"`

	Headers map[string]string `yaml:"headers"`
}

// Config holds the webhook job module configuration.
type Config struct {
	Targets map[string]Target `yaml:"targets"`

	// Timeout bounds each HTTP attempt. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// RetryMax is the number of retries after the first attempt. Defaults to 3.
	RetryMax *int `yaml:"retry_max"`

	RetryWaitMin time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max"`
}

func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.RetryMax == nil {
		n := defaultRetryMax
		c.RetryMax = &n
	}
	if c.RetryWaitMin == 0 {
		c.RetryWaitMin = defaultRetryWaitMin
	}
	if c.RetryWaitMax == 0 {
		c.RetryWaitMax = defaultRetryWaitMax
	}
}

func (c *Config) retryMax() int {
	if c.RetryMax == nil {
		return defaultRetryMax
	}
	return *c.RetryMax
}

func (c *Config) validate() error {
	var errs []error
	if len(c.Targets) == 0 {
		errs = append(errs, errors.New("webhook: targets must define at least one endpoint"))
	}
	for name, t := range c.Targets {
		u, err := url.Parse(t.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("webhook: target %q: url must be an absolute http(s) URL", name))
		}
	}
	if c.retryMax() < 0 {
		errs = append(errs, fmt.Errorf("webhook: retry_max must be non-negative, got %d", c.retryMax()))
	}
	if c.RetryWaitMax < c.RetryWaitMin {
		errs = append(errs, fmt.Errorf("webhook: retry_wait_max %s is below retry_wait_min %s", c.RetryWaitMax, c.RetryWaitMin))
	}
	return errors.Join(errs...)
}
