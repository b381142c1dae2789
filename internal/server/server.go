// Package server exposes SkyStories to the browser: a small JSON API over
// the character catalog plus one websocket per live session (story
// playback, voice conversation, ambient starfield).
//
// Each websocket owns exactly one Sequencer, Controller or Animator.
// Closing the socket, or shutting the server down, cancels it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/skystories/internal/character"
	"github.com/MrWong99/skystories/internal/clock"
	"github.com/MrWong99/skystories/internal/conversation"
	"github.com/MrWong99/skystories/internal/health"
	"github.com/MrWong99/skystories/internal/observe"
	"github.com/MrWong99/skystories/internal/scene"
	"github.com/MrWong99/skystories/internal/session"
	"github.com/MrWong99/skystories/internal/starfield"
	"github.com/MrWong99/skystories/internal/storygen"
	"github.com/MrWong99/skystories/pkg/provider/convai"
)

// ErrNoCatalog is returned by [New] without a character catalog.
var ErrNoCatalog = errors.New("server: character catalog is required")

// StoryTiming paces story playback. Zero values use the sequencer defaults.
type StoryTiming struct {
	Typing time.Duration
	Pause  time.Duration
}

// RateLimit is a token bucket per client IP for session-starting routes.
// RPS <= 0 disables limiting.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Config holds everything the HTTP surface serves. Only Catalog is required.
type Config struct {
	Catalog *character.Catalog

	// Generator answers follow-ups and generates scripts for ?generate=1.
	// When nil a static-only generator over Catalog is used.
	Generator *storygen.Generator

	// ConvAI hosts voice conversations. When nil, conversations report a
	// configuration error to the browser.
	ConvAI convai.Provider

	// Conversation is the template for every conversation session. Persona,
	// Clock and OnAudio are filled in per connection.
	Conversation conversation.Config

	Story         StoryTiming
	Starfield     starfield.Params
	FrameInterval time.Duration
	Scene         scene.Descriptor

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Health and MetricsHandler are mounted when set.
	Health         *health.Handler
	MetricsHandler http.Handler

	// Sessions defaults to an unlimited manager.
	Sessions *session.Manager

	RateLimit      RateLimit
	AllowedOrigins []string
	StaticDir      string

	// Clock drives story pacing, conversation timers and the rate limiter.
	Clock clock.Clock
}

// Server routes API and websocket requests.
type Server struct {
	cfg     Config
	gen     *storygen.Generator
	metrics *observe.Metrics
	limiter *limiterPool
	clock   clock.Clock
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Server, error) {
	if cfg.Catalog == nil || cfg.Catalog.Len() == 0 {
		return nil, ErrNoCatalog
	}
	if err := cfg.Starfield.Validate(); err != nil {
		if cfg.Starfield.Count != 0 {
			return nil, err
		}
		cfg.Starfield = starfield.Defaults()
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = starfield.DefaultFrameInterval
	}
	cfg.Scene = cfg.Scene.WithDefaults()
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewManager()
	}

	s := &Server{
		cfg:     cfg,
		gen:     cfg.Generator,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
	}
	if s.gen == nil {
		s.gen = storygen.New(cfg.Catalog)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = newLimiterPool(cfg.RateLimit.RPS, cfg.RateLimit.Burst, s.clock)
	}
	return s, nil
}

// Sessions returns the live session registry.
func (s *Server) Sessions() *session.Manager { return s.cfg.Sessions }

// Handler returns the complete HTTP handler wrapped in request
// observability.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/characters", s.handleListCharacters)
	mux.HandleFunc("GET /api/characters/{id}", s.handleGetCharacter)
	mux.HandleFunc("GET /api/characters/{id}/script", s.handleGetScript)
	mux.HandleFunc("POST /api/characters/{id}/ask", s.handleAsk)
	mux.HandleFunc("GET /api/scene", s.handleScene)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)

	mux.HandleFunc("GET /ws/story/{id}", s.limited(s.handleStory))
	mux.HandleFunc("GET /ws/conversation/{id}", s.limited(s.handleConversation))
	mux.HandleFunc("GET /ws/starfield", s.limited(s.handleStarfield))

	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	if s.cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}
	if s.cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	return observe.Middleware(s.metrics)(mux)
}

// ── Sessions ──────────────────────────────────────────────────────────────────

// beginSession registers a websocket session before the upgrade so that a
// full or closing server can still answer with a plain HTTP status.
func (s *Server) beginSession(w http.ResponseWriter, r *http.Request, kind session.Kind, characterID string) (context.Context, *session.Handle, bool) {
	ctx, h, err := s.cfg.Sessions.Start(r.Context(), kind, characterID, clientIP(r))
	switch {
	case errors.Is(err, session.ErrTooManySessions):
		writeError(w, http.StatusServiceUnavailable, "too many live sessions, try again later")
		return nil, nil, false
	case errors.Is(err, session.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return nil, nil, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	ctx = observe.WithSession(ctx, observe.SessionInfo{ID: h.ID(), Kind: string(kind), Character: characterID})
	return ctx, h, true
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
}

// closeStatus classifies how a websocket session ended for logging.
func closeStatus(ctx context.Context, err error) (clean bool) {
	if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

func logSessionEnd(ctx context.Context, err error) {
	if closeStatus(ctx, err) {
		observe.Logger(ctx).Debug("session closed")
		return
	}
	observe.Logger(ctx).Warn("session ended with error", "err", err)
}

// ── JSON helpers ──────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
