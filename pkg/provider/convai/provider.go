// Package convai defines the Provider interface for hosted conversational-AI
// agents.
//
// A conversational agent is a third-party service that runs the whole voice
// loop (speech recognition, language model, speech synthesis) on its side and
// exposes it as a single real-time session. The client streams microphone
// audio or typed text in and receives agent audio, transcripts of both sides,
// and turn-taking signals out. ElevenLabs Conversational AI is the reference
// backend.
//
// A Session delivers everything it observes as a single ordered stream of
// discriminated Events. Consumers reduce that stream into their own state; the
// provider never calls back into the application.
//
// All implementations must be safe for concurrent use.
package convai

import (
	"context"
	"time"
)

// EventType discriminates the payload carried by an Event.
type EventType int

const (
	// EventConnected is delivered once when the agent confirms the session.
	// ConversationID and OutputFormat are populated.
	EventConnected EventType = iota + 1

	// EventUserTranscript carries the final transcript of a user utterance.
	EventUserTranscript

	// EventAgentResponse carries the text of an agent turn.
	EventAgentResponse

	// EventAudio carries a chunk of synthesised agent audio in OutputFormat.
	EventAudio

	// EventSpeaking reports a change in whether the agent is speaking.
	EventSpeaking

	// EventInterruption reports that the user barged in on the agent.
	EventInterruption

	// EventDisconnected is the last event of a session that ended without a
	// transport error (remote close or Close). Err is nil.
	EventDisconnected

	// EventError is the last event of a session that failed. Err is set.
	EventError
)

// String returns a short lowercase name for logging.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventUserTranscript:
		return "user_transcript"
	case EventAgentResponse:
		return "agent_response"
	case EventAudio:
		return "audio"
	case EventSpeaking:
		return "speaking"
	case EventInterruption:
		return "interruption"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one observation from a Session. Only the fields relevant to Type
// are set.
type Event struct {
	Type EventType
	At   time.Time

	// EventConnected
	ConversationID string
	OutputFormat   string

	// EventUserTranscript, EventAgentResponse
	Text string

	// EventAudio
	Audio []byte

	// EventSpeaking
	Speaking bool

	// EventError
	Err error
}

// SessionConfig configures a new conversation.
type SessionConfig struct {
	// AgentID selects the hosted agent. Required.
	AgentID string

	// FirstMessage overrides the agent's opening line. Optional.
	FirstMessage string

	// Language overrides the agent language (ISO 639-1). Optional.
	Language string

	// DynamicVariables are substituted into the agent's prompt templates.
	DynamicVariables map[string]string
}

// Session is a live conversation with a hosted agent.
type Session interface {
	// Events returns the ordered event stream. The channel is closed after the
	// final EventDisconnected or EventError.
	Events() <-chan Event

	// ConversationID returns the id assigned by the backend, or "" before
	// EventConnected.
	ConversationID() string

	// SendContextualUpdate adds background information to the conversation
	// without triggering an agent turn.
	SendContextualUpdate(ctx context.Context, text string) error

	// SendUserMessage submits a typed user turn.
	SendUserMessage(ctx context.Context, text string) error

	// SendAudio streams a chunk of user microphone audio (16 kHz PCM16 mono).
	SendAudio(ctx context.Context, chunk []byte) error

	// Err returns the error that terminated the session, if any.
	Err() error

	// Close ends the session. It is idempotent.
	Close() error
}

// Provider opens conversation sessions.
type Provider interface {
	// Connect dials the backend and returns a session that is ready to accept
	// input. ctx bounds the dial only; the session lives until Close or until
	// the backend ends it.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
