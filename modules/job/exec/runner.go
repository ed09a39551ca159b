package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	osexec "os/exec"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/mtpsched/internal/job"
	"github.com/flemzord/mtpsched/internal/security"
)

// ErrNotAllowed is returned when an entry names a program that is not in
// the allow list.
var ErrNotAllowed = errors.New("exec: program not allowed")

// Command runs allow-listed external programs. Its first argument is the
// program, the rest are passed through unchanged. No shell is involved.
type Command struct {
	cfg      Config
	logger   *slog.Logger
	redactor *security.Redactor
}

// Compile-time interface check.
var _ job.Job = (*Command)(nil)

// NewCommand builds a Command from a defaulted, validated config. A nil
// redactor masks nothing.
func NewCommand(cfg Config, logger *slog.Logger, r *security.Redactor) *Command {
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{cfg: cfg, logger: logger, redactor: r}
}

// Run implements job.Job.
func (c *Command) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: exec wants a program", job.ErrBadArgs)
	}
	program := args[0]
	if !slices.Contains(c.cfg.Allow, program) {
		return fmt.Errorf("%w: %q", ErrNotAllowed, program)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	//nolint:gosec // program is checked against the configured allow list.
	cmd := osexec.CommandContext(ctx, program, args[1:]...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = c.env()
	cmd.WaitDelay = 5 * time.Second

	out := &cappedBuffer{max: c.cfg.MaxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	output := c.redact(strings.TrimSpace(out.String()))

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("exec: %s: %w", program, ctx.Err())
		}
		if output != "" {
			return fmt.Errorf("exec: %s: %w: %s", program, err, output)
		}
		return fmt.Errorf("exec: %s: %w", program, err)
	}

	c.logger.Debug("exec finished",
		"program", program,
		"duration", time.Since(start),
		"output", output,
	)
	return nil
}

func (c *Command) env() []string {
	var env []string
	if c.cfg.inheritEnv() {
		env = security.SanitizedEnv(nil, c.redactor)
	} else {
		env = []string{}
	}
	return append(env, c.cfg.Env...)
}

func (c *Command) redact(s string) string {
	if c.redactor == nil {
		return s
	}
	return c.redactor.Redact(s)
}

// cappedBuffer keeps the first max bytes written and discards the rest
// without failing the writer.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.max - b.buf.Len(); room < len(p) {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return n, nil
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + " [truncated]"
	}
	return b.buf.String()
}
