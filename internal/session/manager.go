// Package session keeps track of the live browser sessions (story playback,
// voice conversation, ambient animation) so the server can list them and
// cancel all of them on shutdown.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/skystories/internal/clock"
)

var (
	// ErrShuttingDown is returned by [Manager.Start] after Shutdown began.
	ErrShuttingDown = errors.New("session: shutting down")

	// ErrTooManySessions is returned by [Manager.Start] when the limit is reached.
	ErrTooManySessions = errors.New("session: too many sessions")
)

// Kind names what a session runs.
type Kind string

const (
	KindStory        Kind = "story"
	KindConversation Kind = "conversation"
	KindStarfield    Kind = "starfield"
)

// Info holds metadata about an active session.
type Info struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Character  string    `json:"character,omitempty"`
	RemoteAddr string    `json:"remoteAddr,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
}

type entry struct {
	info   Info
	cancel context.CancelFunc
}

// Option configures a [Manager].
type Option func(*Manager)

// WithClock sets the clock used for StartedAt.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithMaxSessions caps concurrent sessions. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(m *Manager) { m.max = n }
}

// Manager tracks live sessions. All methods are safe for concurrent use.
type Manager struct {
	clock clock.Clock
	max   int

	mu       sync.Mutex
	sessions map[string]*entry
	closing  bool
	wg       sync.WaitGroup
}

// NewManager returns an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		clock:    clock.Real(),
		sessions: make(map[string]*entry),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Handle is one registered session.
type Handle struct {
	m    *Manager
	id   string
	once sync.Once
}

// ID returns the session id.
func (h *Handle) ID() string { return h.id }

// End unregisters the session. It is idempotent.
func (h *Handle) End() {
	h.once.Do(func() { h.m.end(h.id) })
}

// Start registers a session and returns a context that is cancelled when
// the parent is, when the session ends, or when the manager shuts down.
// The caller must call End on the returned handle.
func (m *Manager) Start(parent context.Context, kind Kind, character, remote string) (context.Context, *Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return nil, nil, ErrShuttingDown
	}
	if m.max > 0 && len(m.sessions) >= m.max {
		return nil, nil, ErrTooManySessions
	}

	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	m.sessions[id] = &entry{
		info: Info{
			ID:         id,
			Kind:       kind,
			Character:  character,
			RemoteAddr: remote,
			StartedAt:  m.clock.Now(),
		},
		cancel: cancel,
	}
	m.wg.Add(1)
	slog.Debug("session started", "session", id, "kind", kind, "character", character)
	return ctx, &Handle{m: m, id: id}, nil
}

func (m *Manager) end(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	m.wg.Done()
	slog.Debug("session ended", "session", id, "kind", e.info.Kind,
		"duration", m.clock.Now().Sub(e.info.StartedAt))
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns the live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.info)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Info) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Shutdown refuses new sessions, cancels every live one and waits until
// all handles have ended or ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	n := len(m.sessions)
	for _, e := range m.sessions {
		e.cancel()
	}
	m.mu.Unlock()

	if n > 0 {
		slog.Info("cancelling live sessions", "count", n)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
