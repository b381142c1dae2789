package conversation

import (
	"sync"
	"time"

	"github.com/MrWong99/skystories/internal/clock"
)

// DefaultGreetingWait bounds how long a fresh connection keeps the
// microphone gated while waiting for the agent's opening turn.
const DefaultGreetingWait = 5 * time.Second

// EventKind discriminates coordinator input events.
type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventDisconnect
	EventStatus
	EventSpeaking
	EventMicMute
	EventMessage
	EventError

	// Internal timer-driven events.
	eventGreetingExpired
	eventThinkingStart
	eventThinkingExpired
)

// Event is one input to the Coordinator. Only the fields relevant to Kind
// are read.
type Event struct {
	Kind EventKind

	Status   Status  // EventStatus
	Speaking bool    // EventSpeaking
	Muted    bool    // EventMicMute
	Speaker  Speaker // EventMessage
	Text     string  // EventMessage
	Err      error   // EventError

	gen uint64
}

// ModeChange is delivered to mode listeners when the derived mode changes.
type ModeChange struct {
	From Mode `json:"from"`
	To   Mode `json:"to"`
}

// StatusChange is delivered to status listeners when the status changes.
type StatusChange struct {
	From Status `json:"from"`
	To   Status `json:"to"`
	Err  string `json:"error,omitempty"`
}

// State is a point-in-time view of the coordinator.
type State struct {
	Mode    Mode    `json:"mode"`
	Status  Status  `json:"status"`
	Err     string  `json:"error,omitempty"`
	Signals Signals `json:"-"`
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock sets the time source for the greeting and thinking timers.
func WithClock(c clock.Clock) CoordinatorOption {
	return func(co *Coordinator) { co.clock = c }
}

// WithGreetingGate keeps the mode out of listening after a connect until the
// agent finishes its opening turn, or until maxWait passes without the agent
// starting to speak. A zero maxWait disables the gate.
func WithGreetingGate(maxWait time.Duration) CoordinatorOption {
	return func(co *Coordinator) { co.greetingWait = maxWait }
}

// WithThinking enables the thinking heuristic: delay after a user utterance
// without agent speech the mode becomes thinking, for at most timeout. A zero
// delay or timeout disables it.
func WithThinking(delay, timeout time.Duration) CoordinatorOption {
	return func(co *Coordinator) {
		co.thinkingDelay = delay
		co.thinkingTimeout = timeout
	}
}

// Coordinator reduces the asynchronous events of one conversation session
// into a single presentation mode and appends messages to the transcript.
//
// Listeners run synchronously and in order on the goroutine that applied the
// event. They may read the coordinator's state but must not call Apply.
type Coordinator struct {
	log             *Log
	clock           clock.Clock
	greetingWait    time.Duration
	thinkingDelay   time.Duration
	thinkingTimeout time.Duration

	// notifyMu serialises whole Apply calls so listeners observe changes in
	// the order they happened. mu guards state only.
	notifyMu sync.Mutex

	mu              sync.Mutex
	signals         Signals
	mode            Mode
	errMsg          string
	greetingGen     uint64
	greetingTimer   clock.Timer
	thinkingGen     uint64
	thinkingTimer   clock.Timer
	modeListeners   []func(ModeChange)
	statusListeners []func(StatusChange)
}

// NewCoordinator returns a Coordinator in the disconnected/idle state that
// appends messages to log.
func NewCoordinator(log *Log, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		log:          log,
		clock:        clock.Real(),
		greetingWait: DefaultGreetingWait,
		signals:      Signals{Status: StatusDisconnected},
		mode:         ModeIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnModeChange registers fn for every subsequent mode change.
func (c *Coordinator) OnModeChange(fn func(ModeChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modeListeners = append(c.modeListeners, fn)
}

// OnStatusChange registers fn for every subsequent status change.
func (c *Coordinator) OnStatusChange(fn func(StatusChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusListeners = append(c.statusListeners, fn)
}

// Log returns the transcript this coordinator appends to.
func (c *Coordinator) Log() *Log { return c.log }

// State returns the current mode, status and signals.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Mode: c.mode, Status: c.signals.Status, Err: c.errMsg, Signals: c.signals}
}

// Mode returns the current presentation mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Apply reduces ev into the coordinator state and notifies listeners of any
// resulting mode or status change.
func (c *Coordinator) Apply(ev Event) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	prevMode, prevStatus := c.mode, c.signals.Status
	c.reduceLocked(ev)
	c.mode = Derive(c.signals)
	mode, status, errMsg := c.mode, c.signals.Status, c.errMsg
	modeListeners := c.modeListeners
	statusListeners := c.statusListeners
	c.mu.Unlock()

	if status != prevStatus {
		sc := StatusChange{From: prevStatus, To: status, Err: errMsg}
		for _, fn := range statusListeners {
			fn(sc)
		}
	}
	if mode != prevMode {
		mc := ModeChange{From: prevMode, To: mode}
		for _, fn := range modeListeners {
			fn(mc)
		}
	}
}

func (c *Coordinator) reduceLocked(ev Event) {
	s := &c.signals
	switch ev.Kind {
	case EventConnect:
		if s.Status == StatusConnected {
			return
		}
		s.Status = StatusConnected
		s.Speaking = false
		c.errMsg = ""
		c.cancelThinkingLocked()
		c.armGreetingLocked()

	case EventDisconnect:
		// A connection error stays visible after the session closes.
		if s.Status != StatusError {
			s.Status = StatusDisconnected
		}
		c.resetTurnLocked()

	case EventStatus:
		if ev.Status == "" || ev.Status == s.Status {
			return
		}
		s.Status = ev.Status
		switch ev.Status {
		case StatusConnecting:
			c.errMsg = ""
		case StatusConnected:
			c.armGreetingLocked()
		default:
			c.resetTurnLocked()
		}

	case EventSpeaking:
		if ev.Speaking {
			c.cancelThinkingLocked()
			c.stopGreetingTimerLocked()
		} else if s.Speaking {
			// The agent finished a turn; its opening turn is over.
			s.GreetingPending = false
		}
		s.Speaking = ev.Speaking

	case EventMicMute:
		s.MicMuted = ev.Muted

	case EventMessage:
		if _, ok := c.log.Append(ev.Speaker, ev.Text); !ok {
			return
		}
		if s.GreetingPending {
			s.GreetingPending = false
			c.stopGreetingTimerLocked()
		}
		switch ev.Speaker {
		case SpeakerUser:
			c.scheduleThinkingLocked()
		case SpeakerAgent:
			c.cancelPendingThinkingLocked()
		}

	case EventError:
		s.Status = StatusError
		c.errMsg = "connection error"
		if ev.Err != nil {
			c.errMsg = ev.Err.Error()
		}
		c.resetTurnLocked()

	case eventGreetingExpired:
		if ev.gen == c.greetingGen {
			c.greetingTimer = nil
			s.GreetingPending = false
		}

	case eventThinkingStart:
		if ev.gen != c.thinkingGen || s.Status != StatusConnected || s.Speaking {
			return
		}
		s.Thinking = true
		gen := c.thinkingGen
		c.thinkingTimer = c.clock.AfterFunc(c.thinkingTimeout, func() {
			c.Apply(Event{Kind: eventThinkingExpired, gen: gen})
		})

	case eventThinkingExpired:
		if ev.gen == c.thinkingGen {
			c.thinkingTimer = nil
			s.Thinking = false
		}
	}
}

// resetTurnLocked clears everything tied to a live connection.
func (c *Coordinator) resetTurnLocked() {
	c.signals.Speaking = false
	c.signals.GreetingPending = false
	c.stopGreetingTimerLocked()
	c.cancelThinkingLocked()
}

func (c *Coordinator) armGreetingLocked() {
	c.stopGreetingTimerLocked()
	if c.greetingWait <= 0 {
		c.signals.GreetingPending = false
		return
	}
	c.signals.GreetingPending = true
	gen := c.greetingGen
	c.greetingTimer = c.clock.AfterFunc(c.greetingWait, func() {
		c.Apply(Event{Kind: eventGreetingExpired, gen: gen})
	})
}

// stopGreetingTimerLocked stops the greeting deadline without lifting the
// gate itself.
func (c *Coordinator) stopGreetingTimerLocked() {
	c.greetingGen++
	if c.greetingTimer != nil {
		c.greetingTimer.Stop()
		c.greetingTimer = nil
	}
}

func (c *Coordinator) scheduleThinkingLocked() {
	if c.thinkingDelay <= 0 || c.thinkingTimeout <= 0 {
		return
	}
	if c.signals.Status != StatusConnected || c.signals.Speaking || c.signals.Thinking {
		return
	}
	c.cancelPendingThinkingLocked()
	gen := c.thinkingGen
	c.thinkingTimer = c.clock.AfterFunc(c.thinkingDelay, func() {
		c.Apply(Event{Kind: eventThinkingStart, gen: gen})
	})
}

// cancelPendingThinkingLocked stops a scheduled thinking start. A thinking
// phase already in progress is left to its own timeout.
func (c *Coordinator) cancelPendingThinkingLocked() {
	if c.signals.Thinking {
		return
	}
	c.thinkingGen++
	if c.thinkingTimer != nil {
		c.thinkingTimer.Stop()
		c.thinkingTimer = nil
	}
}

func (c *Coordinator) cancelThinkingLocked() {
	c.thinkingGen++
	if c.thinkingTimer != nil {
		c.thinkingTimer.Stop()
		c.thinkingTimer = nil
	}
	c.signals.Thinking = false
}
