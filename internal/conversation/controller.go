package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/skystories/internal/clock"
	"github.com/MrWong99/skystories/pkg/provider/convai"
	"github.com/google/uuid"
)

var (
	// ErrConfiguration is returned by Start when required credentials are
	// missing. No connection is attempted.
	ErrConfiguration = errors.New("conversation: configuration error")

	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("conversation: already started")

	// ErrNotConnected is returned by send operations without a live session.
	ErrNotConnected = errors.New("conversation: not connected")
)

// Credentials gate whether a session may start.
type Credentials struct {
	APIKey  string
	AgentID string
}

// missing returns the names of absent credentials.
func (c Credentials) missing() []string {
	var out []string
	if strings.TrimSpace(c.APIKey) == "" {
		out = append(out, "api key")
	}
	if strings.TrimSpace(c.AgentID) == "" {
		out = append(out, "agent id")
	}
	return out
}

// Persona biases the hosted agent toward one character.
type Persona struct {
	CharacterID  string
	Name         string
	Instructions string
	FirstMessage string
}

// ContextualUpdate returns the text sent to the agent right after connect.
func (p Persona) ContextualUpdate() string {
	return strings.TrimSpace(fmt.Sprintf("You are %s. %s", p.Name, p.Instructions))
}

// Config configures a Controller.
type Config struct {
	Credentials Credentials
	Persona     Persona

	// Language overrides the agent language (ISO 639-1). Optional.
	Language string

	// ConnectTimeout bounds each connect attempt. Zero waits until the
	// backend answers or the session is stopped.
	ConnectTimeout time.Duration

	Reconnect ReconnectPolicy

	// GreetingWait and the Thinking fields are passed to the Coordinator; see
	// WithGreetingGate and WithThinking. A negative GreetingWait disables the
	// gate; zero uses DefaultGreetingWait.
	GreetingWait    time.Duration
	ThinkingDelay   time.Duration
	ThinkingTimeout time.Duration

	// Clock drives the coordinator timers and transcript timestamps.
	Clock clock.Clock

	// OnAudio receives agent audio chunks. May be nil.
	OnAudio func([]byte)
}

// Controller runs one conversation session: it gates on configuration,
// connects, primes the agent with the persona, and pumps session events into
// a Coordinator until the session ends or Stop is called.
//
// All methods are safe for concurrent use.
type Controller struct {
	provider convai.Provider
	cfg      Config
	id       string
	log      *Log
	coord    *Coordinator

	mu      sync.Mutex
	sess    convai.Session
	started bool
	stopped bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewController returns a Controller for provider. provider may be nil when
// no backend is configured; Start then fails with ErrConfiguration.
func NewController(provider convai.Provider, cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	greeting := cfg.GreetingWait
	switch {
	case greeting == 0:
		greeting = DefaultGreetingWait
	case greeting < 0:
		greeting = 0
	}

	log := NewLog(cfg.Clock)
	runCtx, cancel := context.WithCancel(context.Background())
	return &Controller{
		provider: provider,
		cfg:      cfg,
		id:       uuid.NewString(),
		log:      log,
		coord: NewCoordinator(log,
			WithClock(cfg.Clock),
			WithGreetingGate(greeting),
			WithThinking(cfg.ThinkingDelay, cfg.ThinkingTimeout),
		),
		runCtx: runCtx,
		cancel: cancel,
	}
}

// ID returns a unique id for this controller, used in logs.
func (c *Controller) ID() string { return c.id }

// Coordinator returns the mode coordinator fed by this controller.
func (c *Controller) Coordinator() *Coordinator { return c.coord }

// Log returns the session transcript.
func (c *Controller) Log() *Log { return c.log }

// State returns the coordinator state.
func (c *Controller) State() State { return c.coord.State() }

// Start validates configuration, connects and starts pumping events. It
// returns once the session is connected and primed, or on the first error.
// A failed Start is final: errors are never retried.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if err := c.checkConfig(); err != nil {
		c.coord.Apply(Event{Kind: EventError, Err: err})
		slog.Warn("conversation not started", "session", c.id, "character", c.cfg.Persona.CharacterID, "err", err)
		return err
	}

	sess, err := c.connect(ctx)
	if err != nil {
		c.coord.Apply(Event{Kind: EventError, Err: err})
		slog.Error("conversation connect failed", "session", c.id, "character", c.cfg.Persona.CharacterID, "err", err)
		return err
	}

	if !c.attach(sess) {
		_ = sess.Close()
		return ErrNotConnected
	}
	slog.Info("conversation started", "session", c.id, "character", c.cfg.Persona.CharacterID)

	c.wg.Add(1)
	go c.pump(sess)
	return nil
}

func (c *Controller) checkConfig() error {
	if missing := c.cfg.Credentials.missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, " and "))
	}
	if c.provider == nil {
		return fmt.Errorf("%w: no conversation provider configured", ErrConfiguration)
	}
	return nil
}

// connect performs one connect attempt, bounded by ConnectTimeout and by Stop.
func (c *Controller) connect(ctx context.Context) (convai.Session, error) {
	c.coord.Apply(Event{Kind: EventStatus, Status: StatusConnecting})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.runCtx, cancel)
	defer stop()
	if c.cfg.ConnectTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer tcancel()
	}

	sess, err := c.provider.Connect(ctx, convai.SessionConfig{
		AgentID:      c.cfg.Credentials.AgentID,
		FirstMessage: c.cfg.Persona.FirstMessage,
		Language:     c.cfg.Language,
		DynamicVariables: map[string]string{
			"character_id":   c.cfg.Persona.CharacterID,
			"character_name": c.cfg.Persona.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: connect: %w", err)
	}
	return sess, nil
}

// attach installs sess as the live session, marks the coordinator connected
// and sends the persona. It reports false if Stop won the race.
func (c *Controller) attach(sess convai.Session) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.sess = sess
	c.mu.Unlock()

	c.coord.Apply(Event{Kind: EventConnect})
	if err := sess.SendContextualUpdate(c.runCtx, c.cfg.Persona.ContextualUpdate()); err != nil {
		slog.Warn("failed to send persona context", "session", c.id, "err", err)
	}
	return true
}

// pump forwards session events to the coordinator. It follows the session
// across reconnects and exits when the conversation is over.
func (c *Controller) pump(sess convai.Session) {
	defer c.wg.Done()

	for sess != nil {
		ended, failed := c.drain(sess)
		if !ended {
			return
		}
		if failed {
			_ = sess.Close()
			c.detach(sess)
			return
		}
		sess = c.handleDisconnect(sess)
	}
}

// drain processes events until the session ends. ended is false when the
// controller was stopped; failed is true when the session ended with an
// error.
func (c *Controller) drain(sess convai.Session) (ended, failed bool) {
	for {
		select {
		case <-c.runCtx.Done():
			return false, false
		case ev, ok := <-sess.Events():
			if !ok {
				return true, false
			}
			switch ev.Type {
			case convai.EventConnected:
				slog.Debug("conversation established", "session", c.id, "conversation_id", ev.ConversationID)
			case convai.EventUserTranscript:
				c.coord.Apply(Event{Kind: EventMessage, Speaker: SpeakerUser, Text: ev.Text})
			case convai.EventAgentResponse:
				c.coord.Apply(Event{Kind: EventMessage, Speaker: SpeakerAgent, Text: ev.Text})
			case convai.EventSpeaking:
				c.coord.Apply(Event{Kind: EventSpeaking, Speaking: ev.Speaking})
			case convai.EventAudio:
				if c.cfg.OnAudio != nil {
					c.cfg.OnAudio(ev.Audio)
				}
			case convai.EventInterruption:
				slog.Debug("agent interrupted", "session", c.id)
			case convai.EventDisconnected:
				return true, false
			case convai.EventError:
				if c.runCtx.Err() != nil {
					return false, false
				}
				c.coord.Apply(Event{Kind: EventError, Err: ev.Err})
				slog.Error("conversation error", "session", c.id, "err", ev.Err)
				return true, true
			}
		}
	}
}

// handleDisconnect reacts to a session the backend closed on its own. It
// returns the replacement session, or nil when the conversation is over.
func (c *Controller) handleDisconnect(old convai.Session) convai.Session {
	if c.runCtx.Err() != nil {
		return nil
	}
	_ = old.Close()

	if n := c.log.Len(); n > 0 {
		slog.Warn("unexpected disconnection", "session", c.id, "character", c.cfg.Persona.CharacterID, "transcript_entries", n)
	}
	c.coord.Apply(Event{Kind: EventDisconnect})

	if !c.cfg.Reconnect.Enabled {
		c.detach(old)
		return nil
	}

	delays := c.cfg.Reconnect.delays()
	for attempt, d := range delays {
		if !sleep(c.runCtx, c.cfg.Clock, d) {
			return nil
		}
		slog.Info("attempting reconnection", "session", c.id, "attempt", attempt+1, "max_retries", len(delays))

		sess, err := c.connect(c.runCtx)
		if err == nil {
			if !c.attach(sess) {
				_ = sess.Close()
				return nil
			}
			slog.Info("reconnection successful", "session", c.id, "attempt", attempt+1)
			return sess
		}
		if c.runCtx.Err() != nil {
			return nil
		}
		slog.Warn("reconnection attempt failed", "session", c.id, "attempt", attempt+1, "err", err)
		c.coord.Apply(Event{Kind: EventStatus, Status: StatusDisconnected})
	}

	err := fmt.Errorf("conversation: reconnection failed after %d attempts", len(delays))
	slog.Error("reconnection failed after max retries", "session", c.id, "max_retries", len(delays))
	c.coord.Apply(Event{Kind: EventError, Err: err})
	c.detach(old)
	return nil
}

func (c *Controller) detach(sess convai.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == sess {
		c.sess = nil
	}
}

func (c *Controller) session() convai.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// SendText submits a typed user turn and logs it. Whitespace-only text is
// dropped silently.
func (c *Controller) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	sess := c.session()
	if sess == nil {
		return ErrNotConnected
	}
	if err := sess.SendUserMessage(ctx, text); err != nil {
		return fmt.Errorf("conversation: send text: %w", err)
	}
	c.coord.Apply(Event{Kind: EventMessage, Speaker: SpeakerUser, Text: text})
	return nil
}

// SendAudio streams a microphone chunk. Chunks are dropped while the
// microphone is muted.
func (c *Controller) SendAudio(ctx context.Context, chunk []byte) error {
	if c.coord.State().Signals.MicMuted {
		return nil
	}
	sess := c.session()
	if sess == nil {
		return ErrNotConnected
	}
	if err := sess.SendAudio(ctx, chunk); err != nil {
		return fmt.Errorf("conversation: send audio: %w", err)
	}
	return nil
}

// SetMicMuted records the user's microphone state.
func (c *Controller) SetMicMuted(muted bool) {
	c.coord.Apply(Event{Kind: EventMicMute, Muted: muted})
}

// Reset clears the transcript.
func (c *Controller) Reset() {
	c.log.Clear()
}

// Stop ends the conversation and waits for the event pump to exit. It is
// idempotent.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	c.cancel()
	var err error
	if sess != nil {
		err = sess.Close()
	}
	c.wg.Wait()

	c.coord.Apply(Event{Kind: EventDisconnect})
	slog.Info("conversation stopped", "session", c.id, "transcript_entries", c.log.Len())
	return err
}
