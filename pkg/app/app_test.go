package app

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/mtpsched/internal/config"
	"github.com/flemzord/mtpsched/internal/runner"
	"github.com/flemzord/mtpsched/internal/schedule"
	"github.com/flemzord/mtpsched/internal/security"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// writeConfig writes a sqlite-backed config. modules is appended under the
// modules key, extra at the top level.
func writeConfig(t *testing.T, modules, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`version: "1"
data_dir: %q
store: store.sqlite
modules:
  store.sqlite:
    path: %q
%slogging:
  level: debug
%s`, dir, filepath.Join(dir, "entries.db"), modules, extra)
	path := filepath.Join(dir, config.FileName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func bootstrap(t *testing.T, path string, logs *syncBuffer, clock func() time.Time) *Env {
	t.Helper()
	env, err := Bootstrap(context.Background(), Params{ConfigPath: path, LogOutput: logs, Clock: clock})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	t.Cleanup(func() { env.Close(context.Background()) })
	return env
}

func TestBootstrap_WiresStoreAndJobs(t *testing.T) {
	logs := &syncBuffer{}
	env := bootstrap(t, writeConfig(t, "", ""), logs, nil)

	if env.Store == nil {
		t.Fatal("store not wired")
	}
	for _, name := range []string{"noop", "sleep"} {
		if _, ok := env.Jobs.Lookup(name); !ok {
			t.Errorf("builtin %q not registered", name)
		}
	}
	if err := env.Store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestBootstrap_CollectsJobProviders(t *testing.T) {
	env := bootstrap(t, writeConfig(t, `  job.exec:
    allow: ["true"]
  job.webhook:
    targets:
      payouts:
        url: https://hooks.example.com/payouts
        secret: whsec-abcdef123456
`, ""), &syncBuffer{}, nil)

	for _, name := range []string{"exec", "webhook"} {
		if _, ok := env.Jobs.Lookup(name); !ok {
			t.Errorf("job %q not registered", name)
		}
	}
	if got := env.Redactor.Redact("whsec-abcdef123456"); got == "whsec-abcdef123456" {
		t.Error("webhook secret not registered with the redactor")
	}
}

func TestBootstrap_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("version: \"2\"\nstore: store.nope\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := Bootstrap(context.Background(), Params{ConfigPath: path, LogOutput: &syncBuffer{}})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unsupported version", "store.nope"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q lacks %q", err, want)
		}
	}
}

func TestBootstrap_MissingConfigPath(t *testing.T) {
	_, err := Bootstrap(context.Background(), Params{ConfigPath: "/nonexistent/mtpsched.yaml"})
	if err == nil {
		t.Fatal("expected error for a missing explicit config")
	}
}

func TestRunOnce_ExecutesDueEntryAndPushes(t *testing.T) {
	var pushes atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/metrics/job/mtpsched") {
			pushes.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(gw.Close)

	path := writeConfig(t, "", fmt.Sprintf("metrics:\n  pushgateway: %s\n", gw.URL))
	clock := func() time.Time { return t0 }

	seed := bootstrap(t, path, &syncBuffer{}, clock)
	if _, err := seed.Manager().Add(context.Background(), schedule.Entry{Name: "noop", Recurrence: "*/5 * * * *", NextDueAt: t0}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	seed.Close(context.Background())

	logs := &syncBuffer{}
	report, err := RunOnce(context.Background(), Params{ConfigPath: path, LogOutput: logs, Clock: clock})
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Count(runner.OutcomeExecuted) != 1 {
		t.Fatalf("executed = %d, want 1; logs:\n%s", report.Count(runner.OutcomeExecuted), logs)
	}
	if got := report.Results[0].NextDueAt; !got.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("NextDueAt = %s", got)
	}
	if !strings.Contains(logs.String(), "completed scheduled command") {
		t.Errorf("completion not logged:\n%s", logs)
	}
	if pushes.Load() == 0 {
		t.Error("metrics were not pushed")
	}
}

func TestRunOnce_PushFailureIsNotFatal(t *testing.T) {
	path := writeConfig(t, "", "metrics:\n  pushgateway: http://127.0.0.1:1\n")
	logs := &syncBuffer{}

	if _, err := RunOnce(context.Background(), Params{ConfigPath: path, LogOutput: logs}); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !strings.Contains(logs.String(), "metrics push failed") {
		t.Errorf("push failure not logged:\n%s", logs)
	}
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestServe_StartsGatewayAndStopsOnCancel(t *testing.T) {
	addr := freePort(t)
	path := writeConfig(t,
		fmt.Sprintf("  gateway.http:\n    bind: %q\n", addr),
		"scheduler:\n  trigger: \"@every 1h\"\n",
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, Params{ConfigPath: path, LogOutput: &syncBuffer{}}) }()

	deadline := time.Now().Add(5 * time.Second)
	var resp *http.Response
	for time.Now().Before(deadline) {
		r, err := http.Get("http://" + addr + "/health")
		if err == nil {
			resp = r
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if resp == nil {
		cancel()
		t.Fatal("gateway never became reachable")
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := security.NewRedactor()
	logger, err := NewLogger(&buf, config.LoggingConfig{Level: "warn", Format: "json", Redact: []string{"topsecret"}}, r)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("connecting", "dsn", "postgres://mtp:topsecret@db/mtp")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, `"msg":"connecting"`) {
		t.Errorf("json record missing: %s", out)
	}
	if strings.Contains(out, "topsecret") {
		t.Errorf("secret leaked: %s", out)
	}
}

func TestNewLogger_BadFormat(t *testing.T) {
	t.Parallel()
	if _, err := NewLogger(&bytes.Buffer{}, config.LoggingConfig{Level: "info", Format: "xml"}, security.NewRedactor()); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
