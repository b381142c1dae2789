package story

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/skystories/internal/clock"
)

// Default pacing between beats.
const (
	DefaultTyping = 2 * time.Second
	DefaultPause  = 3 * time.Second
)

// EventKind identifies a Sequencer transition.
type EventKind int

const (
	// EventTypingStarted fires when the sequencer starts "typing" the beat at
	// Event.Index.
	EventTypingStarted EventKind = iota + 1

	// EventBeatRevealed fires when the beat at Event.Index is appended to the
	// revealed prefix.
	EventBeatRevealed

	// EventCompleted fires once after the last beat is revealed.
	EventCompleted
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventTypingStarted:
		return "typing"
	case EventBeatRevealed:
		return "beat"
	case EventCompleted:
		return "complete"
	default:
		return "unknown"
	}
}

// Event is a single observable Sequencer transition.
type Event struct {
	Kind  EventKind
	Index int
	// Beat is set for EventBeatRevealed.
	Beat Beat
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithClock sets the time source. Defaults to clock.Real().
func WithClock(c clock.Clock) Option {
	return func(s *Sequencer) { s.clock = c }
}

// WithTyping sets how long a beat is "typed" before it is revealed.
func WithTyping(d time.Duration) Option {
	return func(s *Sequencer) { s.typing = d }
}

// WithPause sets the idle gap between a reveal and the next typing phase.
func WithPause(d time.Duration) Option {
	return func(s *Sequencer) { s.pause = d }
}

// Sequencer reveals the beats of a Script one at a time. It owns at most one
// pending timer. Each scheduled callback captures the generation that was
// current when it was armed and does nothing if the generation has moved on,
// so a cancelled or restarted run can never mutate state.
//
// Listeners are invoked synchronously, in order, while the sequencer's lock is
// held. They must not block and must not call back into the Sequencer.
type Sequencer struct {
	clock  clock.Clock
	typing time.Duration
	pause  time.Duration

	mu        sync.Mutex
	script    Script
	state     RevealState
	gen       uint64
	timer     clock.Timer
	running   bool
	listeners []listener
	nextSub   int
}

type listener struct {
	id int
	fn func(Event)
}

// NewSequencer returns an idle Sequencer.
func NewSequencer(opts ...Option) *Sequencer {
	s := &Sequencer{
		clock:  clock.Real(),
		typing: DefaultTyping,
		pause:  DefaultPause,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it. Listeners are called in subscription order.
func (s *Sequencer) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool { return l.id == id })
	}
}

// Start resets the reveal state and begins playing script. A run already in
// progress is cancelled first. An empty script is ignored and leaves any
// current run untouched.
func (s *Sequencer) Start(script Script) {
	if script.Len() == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.script = script
	s.state = RevealState{}
	s.running = true
	s.beginTypingLocked(s.gen)
}

// Cancel stops the current run. After Cancel returns no further state change
// or event happens for that run. Cancel is idempotent.
func (s *Sequencer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Running reports whether a run is in progress.
func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Snapshot returns a copy of the current reveal state.
func (s *Sequencer) Snapshot() RevealState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Revealed = append([]Beat(nil), s.state.Revealed...)
	return st
}

func (s *Sequencer) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.running = false
}

func (s *Sequencer) beginTypingLocked(gen uint64) {
	s.state.IsRevealing = true
	s.emitLocked(Event{Kind: EventTypingStarted, Index: s.state.NextIndex})
	s.timer = s.clock.AfterFunc(s.typing, func() { s.reveal(gen) })
}

func (s *Sequencer) reveal(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	idx := s.state.NextIndex
	b := s.script.Beat(idx)
	s.state.Revealed = append(s.state.Revealed, b)
	s.state.IsRevealing = false
	s.state.NextIndex++
	s.emitLocked(Event{Kind: EventBeatRevealed, Index: idx, Beat: b})

	if s.state.NextIndex == s.script.Len() {
		s.timer = nil
		s.running = false
		s.emitLocked(Event{Kind: EventCompleted, Index: idx})
		return
	}
	s.timer = s.clock.AfterFunc(s.pause, func() { s.resume(gen) })
}

func (s *Sequencer) resume(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.beginTypingLocked(gen)
}

func (s *Sequencer) emitLocked(ev Event) {
	for _, l := range s.listeners {
		l.fn(ev)
	}
}
