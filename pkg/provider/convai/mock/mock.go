// Package mock provides test doubles for the convai package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to push events into a consumer and inspect what it sent back.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	// ... start the consumer ...
//	sess.Emit(convai.Event{Type: convai.EventSpeaking, Speaking: true})
//	sess.End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/skystories/pkg/provider/convai"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	Ctx context.Context
	Cfg convai.SessionConfig
}

// Provider is a mock implementation of convai.Provider.
type Provider struct {
	mu sync.Mutex

	// Sessions are handed out one per Connect call, in order. When exhausted,
	// Session is returned; when that is nil too, a fresh NewSession.
	Sessions []convai.Session

	// Session is the fallback session returned by Connect.
	Session convai.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectHook, if set, runs inside Connect before anything else. Tests use
	// it to block until the context is cancelled.
	ConnectHook func(ctx context.Context) error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

var _ convai.Provider = (*Provider)(nil)

// Connect records the call and returns the next session or ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg convai.SessionConfig) (convai.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	hook := p.ConnectHook
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if len(p.Sessions) > 0 {
		s := p.Sessions[0]
		p.Sessions = p.Sessions[1:]
		return s, nil
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns the number of Connect calls so far. Thread-safe.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

// Session is a mock implementation of convai.Session.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events. Emit and End write to it.
	EventsCh chan convai.Event

	// ID is returned by ConversationID.
	ID string

	// SendErr, if non-nil, is returned by every Send* call.
	SendErr error

	// ContextualUpdates records every SendContextualUpdate text in order.
	ContextualUpdates []string

	// UserMessages records every SendUserMessage text in order.
	UserMessages []string

	// AudioChunks records a copy of every SendAudio chunk in order.
	AudioChunks [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	errVal error
	ended  bool
}

var _ convai.Session = (*Session)(nil)

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{EventsCh: make(chan convai.Event, 64)}
}

// Emit pushes ev to the event stream.
func (s *Session) Emit(ev convai.Event) {
	s.EventsCh <- ev
}

// End emits the terminal event (EventError when err is non-nil, otherwise
// EventDisconnected) and closes the stream. Subsequent calls are no-ops.
func (s *Session) End(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.errVal = err
	s.mu.Unlock()

	if err != nil {
		s.EventsCh <- convai.Event{Type: convai.EventError, Err: err}
	} else {
		s.EventsCh <- convai.Event{Type: convai.EventDisconnected}
	}
	close(s.EventsCh)
}

// Events returns EventsCh.
func (s *Session) Events() <-chan convai.Event { return s.EventsCh }

// ConversationID returns ID.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ID
}

// SendContextualUpdate records text and returns SendErr.
func (s *Session) SendContextualUpdate(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ContextualUpdates = append(s.ContextualUpdates, text)
	return s.SendErr
}

// SendUserMessage records text and returns SendErr.
func (s *Session) SendUserMessage(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserMessages = append(s.UserMessages, text)
	return s.SendErr
}

// SendAudio records a copy of chunk and returns SendErr.
func (s *Session) SendAudio(_ context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AudioChunks = append(s.AudioChunks, append([]byte(nil), chunk...))
	return s.SendErr
}

// Err returns the error passed to End.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close increments CloseCallCount.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// Updates returns a copy of ContextualUpdates. Thread-safe.
func (s *Session) Updates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ContextualUpdates...)
}

// Messages returns a copy of UserMessages. Thread-safe.
func (s *Session) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.UserMessages...)
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
