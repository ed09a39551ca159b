package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/flemzord/mtpsched/internal/job"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Mtpsched-Signature"

// ErrUnknownTarget is returned when an entry names an unconfigured target.
var ErrUnknownTarget = errors.New("webhook: unknown target")

// Payload is the JSON body posted to a target.
type Payload struct {
	Target string            `json:"target"`
	Params map[string]string `json:"params,omitempty"`
	SentAt time.Time         `json:"sent_at"`
}

// Notifier posts a Payload to a named target. Its first argument is the
// target name; the rest are key=value params.
type Notifier struct {
	targets map[string]Target
	client  *retryablehttp.Client
	now     func() time.Time
}

// Compile-time interface check.
var _ job.Job = (*Notifier)(nil)

// NewNotifier builds a Notifier from a defaulted config.
func NewNotifier(cfg Config, logger *slog.Logger) *Notifier {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = cfg.Timeout
	client.RetryMax = cfg.retryMax()
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if logger != nil {
		client.Logger = logger
	} else {
		client.Logger = nil
	}

	return &Notifier{
		targets: cfg.Targets,
		client:  client,
		now:     time.Now,
	}
}

// Run implements job.Job.
func (n *Notifier) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: webhook wants a target name", job.ErrBadArgs)
	}
	name := args[0]
	target, ok := n.targets[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, name)
	}

	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	body, err := json.Marshal(Payload{Target: name, Params: params, SentAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, target.URL, body)
	if err != nil {
		return fmt.Errorf("webhook: %s: build request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}
	if target.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(target.Secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: %s: unexpected status %d: %s", name, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func parseParams(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: webhook param %q is not key=value", job.ErrBadArgs, a)
		}
		params[k] = v
	}
	return params, nil
}
