package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/skystories/internal/app"
	"github.com/MrWong99/skystories/internal/config"
	llmmock "github.com/MrWong99/skystories/pkg/provider/llm/mock"
)

// testConfig returns the default config listening on a random local port.
func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func readyz(t *testing.T, h http.Handler) (int, readiness) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body readiness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode /readyz: %v", err)
	}
	return rec.Code, body
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/characters", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/characters status = %d; want 200", rec.Code)
	}
	var chars []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&chars); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chars) != 5 {
		t.Errorf("len(characters) = %d; want 5", len(chars))
	}

	if a.Generator().TextEnabled() {
		t.Error("TextEnabled() = true without an LLM provider")
	}
	if a.Addr() != nil {
		t.Errorf("Addr() = %v before Run; want nil", a.Addr())
	}
}

func TestNew_DegradedWithoutConversation(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(), &app.Providers{})
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	code, body := readyz(t, a.Handler())
	if code != http.StatusOK {
		t.Errorf("status = %d; want 200", code)
	}
	if body.Status != "degraded" {
		t.Errorf("readiness = %q; want %q", body.Status, "degraded")
	}
	if got := body.Checks["catalog"]; got != "ok" {
		t.Errorf("catalog check = %q; want ok", got)
	}
	if _, ok := body.Checks["llm"]; ok {
		t.Error("llm check present while AI is disabled")
	}
}

func TestNew_CharactersFileMissing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CharactersFile = t.TempDir() + "/missing.yaml"
	if _, err := app.New(cfg, nil); err == nil {
		t.Fatal("New() with a missing characters file returned nil error")
	}
}

func TestNew_AIEnabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AI.Enabled = true
	a, err := app.New(cfg, &app.Providers{LLM: &llmmock.Provider{}})
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if !a.Generator().TextEnabled() {
		t.Error("TextEnabled() = false with an LLM provider")
	}
	if a.Generator().ImagesEnabled() {
		t.Error("ImagesEnabled() = true without an image provider")
	}

	_, body := readyz(t, a.Handler())
	if got := body.Checks["llm"]; got != "ok" {
		t.Errorf("llm check = %q; want ok", got)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	old := testConfig()
	old.AI.Enabled = true
	a, err := app.New(old, &app.Providers{LLM: &llmmock.Provider{}}, app.WithLogLevel(&level))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	next := testConfig()
	next.AI.Enabled = true
	next.Server.LogLevel = config.LogDebug
	next.AI.FallbackOnly = true
	next.Story.Pause = time.Hour
	a.ApplyConfig(old, next)

	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v; want debug", got)
	}
	if a.Generator().TextEnabled() {
		t.Error("TextEnabled() = true after switching to fallback only")
	}

	a.ApplyConfig(next, old)
	if got := level.Level(); got != slog.LevelInfo {
		t.Errorf("level after revert = %v; want info", got)
	}
	if !a.Generator().TextEnabled() {
		t.Error("TextEnabled() = false after leaving fallback only")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	var closed []int
	a, err := app.New(testConfig(), nil,
		app.WithCloser(func() error { closed = append(closed, 1); return nil }),
		app.WithCloser(func() error { closed = append(closed, 2); return errors.New("ignored") }),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() returned error: %v", err)
	}
	if len(closed) != 2 || closed[0] != 1 || closed[1] != 2 {
		t.Errorf("closers ran as %v; want [1 2]", closed)
	}

	// Second call is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() returned error: %v", err)
	}
	if len(closed) != 2 {
		t.Errorf("closers ran %d times; want 2", len(closed))
	}
}

func TestApp_ShutdownDeadline(t *testing.T) {
	t.Parallel()

	ran := false
	a, err := app.New(testConfig(), nil, app.WithCloser(func() error { ran = true; return nil }))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() error = %v; want context.Canceled", err)
	}
	if ran {
		t.Error("closer ran after the deadline")
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-errCh:
		t.Fatalf("Run() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not start listening")
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz status = %d; want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v; want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() returned error: %v", err)
	}
}
