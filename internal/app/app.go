// Package app wires all SkyStories subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the catalog, the story
// generator, the session registry and the HTTP surface, Run serves until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithCatalog,
// WithClock, etc.). When an option is not provided, New builds the real
// implementation from the config.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/skystories/internal/character"
	"github.com/MrWong99/skystories/internal/clock"
	"github.com/MrWong99/skystories/internal/config"
	"github.com/MrWong99/skystories/internal/conversation"
	"github.com/MrWong99/skystories/internal/health"
	"github.com/MrWong99/skystories/internal/observe"
	"github.com/MrWong99/skystories/internal/resilience"
	"github.com/MrWong99/skystories/internal/server"
	"github.com/MrWong99/skystories/internal/session"
	"github.com/MrWong99/skystories/internal/storygen"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	clock          clock.Clock
	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler

	catalog  *character.Catalog
	gen      *storygen.Generator
	sessions *session.Manager
	server   *server.Server
	http     *http.Server

	mu    sync.Mutex
	ln    net.Listener
	ready chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCatalog injects a character catalog instead of loading one from config.
func WithCatalog(c *character.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithClock sets the clock for story pacing, timers and the rate limiter.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithLogLevel lets config reloads change the verbosity of the logger that
// was built around lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics records into m instead of the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry uses the instruments and /metrics handler of t.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) {
		a.metrics = t.Metrics
		a.metricsHandler = t.Handler()
	}
}

// WithCloser registers fn to run during Shutdown after the server stopped.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from [BuildProviders]; nil fields leave that feature unconfigured.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.clock == nil {
		a.clock = clock.Real()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Character catalog ─────────────────────────────────────────────
	if err := a.initCatalog(); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 2. Story generator ───────────────────────────────────────────────
	a.initGenerator()

	// ── 3. Session registry ──────────────────────────────────────────────
	a.sessions = session.NewManager(
		session.WithClock(a.clock),
		session.WithMaxSessions(cfg.Server.MaxSessions),
	)

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initCatalog() error {
	if a.catalog != nil {
		return nil
	}
	if a.cfg.CharactersFile == "" {
		a.catalog = character.Default()
		return nil
	}
	c, err := character.LoadFile(a.cfg.CharactersFile)
	if err != nil {
		return err
	}
	slog.Info("characters loaded", "file", a.cfg.CharactersFile, "count", c.Len())
	a.catalog = c
	return nil
}

func (a *App) initGenerator() {
	ai := a.cfg.AI
	opts := []storygen.Option{
		storygen.WithFallbackOnly(ai.FallbackOnly),
		storygen.WithCallTimeout(ai.CallTimeout),
		storygen.WithBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  ai.Breaker.MaxFailures,
			ResetTimeout: ai.Breaker.ResetTimeout,
			HalfOpenMax:  ai.Breaker.HalfOpenMax,
			Clock:        a.clock,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("ai circuit breaker changed state", "breaker", name, "from", from, "to", to)
			},
		}),
		storygen.WithFallbackHook(func(part string, err error) {
			slog.Warn("generated part fell back to static content", "part", part, "err", err)
			a.metrics.RecordAIFallback(context.Background(), part)
		}),
	}
	if ai.Enabled {
		if a.providers.LLM != nil {
			opts = append(opts, storygen.WithLLM(a.providers.LLM))
		}
		if a.providers.Image != nil {
			opts = append(opts, storygen.WithImages(a.providers.Image))
		}
	}
	a.gen = storygen.New(a.catalog, opts...)
}

func (a *App) initServer() error {
	cfg := a.cfg
	srv, err := server.New(server.Config{
		Catalog:        a.catalog,
		Generator:      a.gen,
		ConvAI:         a.providers.ConvAI,
		Conversation:   conversationConfig(cfg.Conversation),
		Story:          server.StoryTiming{Typing: cfg.Story.Typing, Pause: cfg.Story.Pause},
		Starfield:      cfg.Starfield.Params(),
		FrameInterval:  cfg.Starfield.FrameInterval,
		Scene:          cfg.Scene.Descriptor(),
		Metrics:        a.metrics,
		Health:         health.New(a.healthCheckers()...),
		MetricsHandler: a.metricsHandler,
		Sessions:       a.sessions,
		RateLimit: server.RateLimit{
			RPS:   cfg.Server.RateLimit.RPS,
			Burst: cfg.Server.RateLimit.Burst,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticDir:      cfg.Server.StaticDir,
		Clock:          a.clock,
	})
	if err != nil {
		return err
	}
	a.server = srv
	a.http = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// conversationConfig maps the config section onto the per-session template.
func conversationConfig(c config.ConversationConfig) conversation.Config {
	cc := conversation.Config{
		Credentials: conversation.Credentials{
			APIKey:  c.Provider.APIKey,
			AgentID: c.AgentID,
		},
		Language:       c.Language,
		ConnectTimeout: c.ConnectTimeout,
		GreetingWait:   c.GreetingWait,
		Reconnect: conversation.ReconnectPolicy{
			Enabled:    c.Reconnect.Enabled,
			MaxRetries: c.Reconnect.MaxRetries,
			Backoff:    c.Reconnect.Backoff,
			MaxBackoff: c.Reconnect.MaxBackoff,
		},
	}
	if c.Thinking.Enabled {
		cc.ThinkingDelay = c.Thinking.Delay
		cc.ThinkingTimeout = c.Thinking.Timeout
	}
	return cc
}

// healthCheckers reports the catalog as required and every optional backend
// as degradable.
func (a *App) healthCheckers() []health.Checker {
	checkers := []health.Checker{{
		Name: "catalog",
		Check: func(context.Context) error {
			if a.catalog.Len() == 0 {
				return errors.New("no characters loaded")
			}
			return nil
		},
	}, {
		Name:     "conversation",
		Optional: true,
		Check: func(context.Context) error {
			switch {
			case a.providers.ConvAI == nil:
				return errors.New("no conversation provider configured")
			case a.cfg.Conversation.AgentID == "":
				return errors.New("no agent id configured")
			}
			return nil
		},
	}}
	if a.cfg.AI.Enabled && a.providers.LLM != nil {
		checkers = append(checkers, breakerChecker("llm", a.gen.TextBreaker()))
	}
	if a.cfg.AI.Enabled && a.providers.Image != nil {
		checkers = append(checkers, breakerChecker("image", a.gen.ImageBreaker()))
	}
	return checkers
}

func breakerChecker(name string, cb *resilience.CircuitBreaker) health.Checker {
	return health.Checker{
		Name:     name,
		Optional: true,
		Check: func(context.Context) error {
			if cb.State() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		},
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the complete HTTP handler.
func (a *App) Handler() http.Handler { return a.http.Handler }

// Catalog returns the character catalog.
func (a *App) Catalog() *character.Catalog { return a.catalog }

// Generator returns the story generator.
func (a *App) Generator() *storygen.Generator { return a.gen }

// Sessions returns the live session registry.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Ready is closed once Run is listening.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the listening address, or nil before Run started listening.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and next:
// the log level and AI fallback-only mode. Other changes are logged as
// requiring a restart.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.FallbackOnlyChanged {
		a.gen.SetFallbackOnly(d.NewFallbackOnly)
		slog.Info("ai fallback-only mode changed", "fallback_only", d.NewFallbackOnly)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config log level to a slog level. Unknown values map
// to info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled or
// the listener fails. When ctx is done, Run returns context.Canceled (or the
// underlying cause); call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.http.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.http.Addr, err)
	}
	a.mu.Lock()
	a.ln = ln
	a.mu.Unlock()
	close(a.ready)

	errCh := make(chan error, 1)
	go func() {
		if t := a.cfg.Server.TLS; t != nil {
			a.http.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			errCh <- a.http.ServeTLS(ln, t.CertFile, t.KeyFile)
			return
		}
		errCh <- a.http.Serve(ln)
	}()

	slog.Info("server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting requests, cancels every live session and waits
// for them, then runs the registered closers. It respects the context
// deadline: if ctx expires, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))

		if err := a.http.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}
		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("sessions did not end in time", "remaining", a.sessions.Len(), "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
