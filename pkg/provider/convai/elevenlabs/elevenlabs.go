// Package elevenlabs implements convai.Provider for ElevenLabs Conversational
// AI agents.
//
// A session is a single WebSocket to the ConvAI endpoint. The client sends a
// conversation_initiation_client_data message on open and then streams user
// audio chunks, typed messages and contextual updates. The agent streams back
// metadata, transcripts, base64 audio, interruptions and keep-alive pings.
//
// The protocol has no explicit "agent stopped speaking" message, so speaking
// is inferred from the playback length of the received audio: the session
// reports speaking while the cumulative duration of received chunks has not
// yet elapsed, plus a short tail.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/skystories/pkg/provider/convai"
	"github.com/coder/websocket"
)

var (
	_ convai.Provider = (*Provider)(nil)
	_ convai.Session  = (*session)(nil)
)

const (
	defaultBaseURL      = "wss://api.elevenlabs.io/v1/convai/conversation"
	defaultOutputFormat = "pcm_16000"
	defaultSpeakingTail = 250 * time.Millisecond
	eventBuffer         = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the ConvAI WebSocket endpoint. Primarily used in tests
// to point at a local server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithSpeakingTail sets how long after the last audio sample has played the
// agent is still considered to be speaking.
func WithSpeakingTail(d time.Duration) Option {
	return func(p *Provider) { p.speakingTail = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements convai.Provider for ElevenLabs.
type Provider struct {
	apiKey       string
	baseURL      string
	speakingTail time.Duration
}

// New creates a new ElevenLabs ConvAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		speakingTail: defaultSpeakingTail,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Connect dials the ConvAI endpoint for cfg.AgentID and sends the initiation
// message. The returned session starts emitting events immediately.
func (p *Provider) Connect(ctx context.Context, cfg convai.SessionConfig) (convai.Session, error) {
	if cfg.AgentID == "" {
		return nil, errors.New("elevenlabs: agent id must not be empty")
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", cfg.AgentID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"xi-api-key": []string{p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	// Agent audio chunks can be larger than the 32 KiB default.
	conn.SetReadLimit(1 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &session{
		conn:         conn,
		events:       make(chan convai.Event, eventBuffer),
		speakingTail: p.speakingTail,
		outputFormat: defaultOutputFormat,
		ctx:          sessCtx,
		cancel:       sessCancel,
	}

	if err := s.writeJSON(ctx, newInitiation(cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "initiation failed")
		return nil, fmt.Errorf("elevenlabs: send initiation: %w", err)
	}

	go s.run()

	return s, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type initiationMessage struct {
	Type             string            `json:"type"`
	ConfigOverride   *configOverride   `json:"conversation_config_override,omitempty"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

type configOverride struct {
	Agent agentOverride `json:"agent"`
}

type agentOverride struct {
	FirstMessage string `json:"first_message,omitempty"`
	Language     string `json:"language,omitempty"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type audioChunkMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

func newInitiation(cfg convai.SessionConfig) initiationMessage {
	msg := initiationMessage{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: cfg.DynamicVariables,
	}
	if cfg.FirstMessage != "" || cfg.Language != "" {
		msg.ConfigOverride = &configOverride{Agent: agentOverride{
			FirstMessage: cfg.FirstMessage,
			Language:     cfg.Language,
		}}
	}
	return msg
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID    string `json:"conversation_id"`
		AgentOutputFormat string `json:"agent_output_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	UserTranscript *struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	Audio *struct {
		Base64  string `json:"audio_base_64"`
		EventID int64  `json:"event_id"`
	} `json:"audio_event,omitempty"`

	Interruption *struct {
		EventID int64 `json:"event_id"`
	} `json:"interruption_event,omitempty"`

	Ping *struct {
		EventID int64 `json:"event_id"`
	} `json:"ping_event,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn         *websocket.Conn
	events       chan convai.Event
	speakingTail time.Duration

	mu             sync.Mutex
	errVal         error
	closed         bool
	conversationID string

	// Owned by run.
	outputFormat   string
	speaking       bool
	speakingUntil  time.Time
	speakingTimer  *time.Timer
	interruptedIDs int64

	ctx    context.Context
	cancel context.CancelFunc
}

// run owns the events channel: it is the only sender and closes it on exit.
// A helper goroutine performs the blocking reads so that run can also react
// to the speaking timer.
func (s *session) run() {
	defer close(s.events)

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go s.readLoop(frames, readErr)

	for {
		var speakingC <-chan time.Time
		if s.speakingTimer != nil {
			speakingC = s.speakingTimer.C
		}

		select {
		case data := <-frames:
			var evt serverEvent
			if err := json.Unmarshal(data, &evt); err != nil {
				continue
			}
			s.handleServerEvent(&evt)

		case <-speakingC:
			s.speakingTimer = nil
			s.setSpeaking(false)

		case err := <-readErr:
			if s.speakingTimer != nil {
				s.speakingTimer.Stop()
			}
			s.finish(err)
			return
		}
	}
}

func (s *session) readLoop(frames chan<- []byte, readErr chan<- error) {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- data:
		case <-s.ctx.Done():
			readErr <- s.ctx.Err()
			return
		}
	}
}

// finish emits the terminal event. A normal closure from either side is a
// disconnect; anything else is an error.
func (s *session) finish(err error) {
	if s.speaking {
		s.speaking = false
		s.emit(convai.Event{Type: convai.EventSpeaking, Speaking: false})
	}
	if s.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		s.emitFinal(convai.Event{Type: convai.EventDisconnected, At: time.Now()})
		return
	}
	err = fmt.Errorf("elevenlabs: read: %w", err)
	s.setErr(err)
	s.emitFinal(convai.Event{Type: convai.EventError, Err: err, At: time.Now()})
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "conversation_initiation_metadata":
		if evt.Metadata == nil {
			return
		}
		if evt.Metadata.AgentOutputFormat != "" {
			s.outputFormat = evt.Metadata.AgentOutputFormat
		}
		s.mu.Lock()
		s.conversationID = evt.Metadata.ConversationID
		s.mu.Unlock()
		s.emit(convai.Event{
			Type:           convai.EventConnected,
			ConversationID: evt.Metadata.ConversationID,
			OutputFormat:   s.outputFormat,
		})

	case "user_transcript":
		if evt.UserTranscript == nil || strings.TrimSpace(evt.UserTranscript.Text) == "" {
			return
		}
		s.emit(convai.Event{Type: convai.EventUserTranscript, Text: evt.UserTranscript.Text})

	case "agent_response":
		if evt.AgentResponse == nil || strings.TrimSpace(evt.AgentResponse.Text) == "" {
			return
		}
		s.emit(convai.Event{Type: convai.EventAgentResponse, Text: evt.AgentResponse.Text})

	case "audio":
		if evt.Audio == nil || evt.Audio.Base64 == "" {
			return
		}
		// Chunks that belong to an interrupted turn are stale.
		if evt.Audio.EventID != 0 && evt.Audio.EventID <= s.interruptedIDs {
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(evt.Audio.Base64)
		if err != nil || len(chunk) == 0 {
			return
		}
		s.extendSpeaking(chunk)
		s.emit(convai.Event{Type: convai.EventAudio, Audio: chunk})

	case "interruption":
		if evt.Interruption != nil && evt.Interruption.EventID > s.interruptedIDs {
			s.interruptedIDs = evt.Interruption.EventID
		}
		if s.speakingTimer != nil {
			s.speakingTimer.Stop()
			s.speakingTimer = nil
		}
		s.speakingUntil = time.Time{}
		s.setSpeaking(false)
		s.emit(convai.Event{Type: convai.EventInterruption})

	case "ping":
		if evt.Ping == nil {
			return
		}
		_ = s.writeJSON(s.ctx, pongMessage{Type: "pong", EventID: evt.Ping.EventID})
	}
}

// extendSpeaking marks the agent as speaking and pushes the end of the
// current turn out by the playback length of chunk.
func (s *session) extendSpeaking(chunk []byte) {
	now := time.Now()
	if s.speakingUntil.Before(now) {
		s.speakingUntil = now
	}
	s.speakingUntil = s.speakingUntil.Add(playbackDuration(s.outputFormat, len(chunk)))

	if s.speakingTimer != nil {
		s.speakingTimer.Stop()
	}
	s.speakingTimer = time.NewTimer(s.speakingUntil.Sub(now) + s.speakingTail)
	s.setSpeaking(true)
}

func (s *session) setSpeaking(v bool) {
	if s.speaking == v {
		return
	}
	s.speaking = v
	s.emit(convai.Event{Type: convai.EventSpeaking, Speaking: v})
}

func (s *session) emit(ev convai.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// emitFinal delivers the terminal event. After Close it is only delivered if
// there is buffer space left, so an abandoned consumer cannot block run.
func (s *session) emitFinal(ev convai.Event) {
	if s.ctx.Err() == nil {
		s.events <- ev
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("elevenlabs: session closed")
	}
	return nil
}

// playbackDuration returns how long n bytes of audio in format take to play.
// Formats look like "pcm_16000" (16-bit samples) or "ulaw_8000" (8-bit).
func playbackDuration(format string, n int) time.Duration {
	codec, rateStr, ok := strings.Cut(format, "_")
	if !ok {
		return 0
	}
	rate, err := strconv.Atoi(rateStr)
	if err != nil || rate <= 0 {
		return 0
	}
	bytesPerSample := 1
	if codec == "pcm" {
		bytesPerSample = 2
	}
	return time.Duration(n) * time.Second / time.Duration(rate*bytesPerSample)
}

// ── Session methods ───────────────────────────────────────────────────────────

// Events returns the ordered event stream.
func (s *session) Events() <-chan convai.Event { return s.events }

// ConversationID returns the id from the initiation metadata.
func (s *session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// SendContextualUpdate sends a contextual_update message.
func (s *session) SendContextualUpdate(ctx context.Context, text string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(ctx, textMessage{Type: "contextual_update", Text: text})
}

// SendUserMessage sends a typed user turn.
func (s *session) SendUserMessage(ctx context.Context, text string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(ctx, textMessage{Type: "user_message", Text: text})
}

// SendAudio streams a base64-encoded microphone chunk.
func (s *session) SendAudio(ctx context.Context, chunk []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(ctx, audioChunkMessage{
		UserAudioChunk: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Err returns the error that terminated the session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
