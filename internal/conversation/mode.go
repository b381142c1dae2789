// Package conversation reduces the event stream of a hosted conversational
// agent into a presentation mode and a transcript, and manages the lifetime
// of one such session.
package conversation

// Mode is the presentation state that drives the voice indicator.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeListening Mode = "listening"
	ModeSpeaking  Mode = "speaking"
	ModeThinking  Mode = "thinking"
)

// Status is the connection status of the external session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Signals are the latest known inputs from which the mode is derived.
type Signals struct {
	Status   Status
	Speaking bool
	MicMuted bool

	// GreetingPending holds the microphone closed while the agent delivers
	// its opening turn.
	GreetingPending bool

	// Thinking is the local heuristic between a user utterance and the
	// agent's reply.
	Thinking bool
}

// Derive computes the presentation mode. Speaking always wins; thinking and
// listening require a live connection.
func Derive(s Signals) Mode {
	switch {
	case s.Speaking:
		return ModeSpeaking
	case s.Status != StatusConnected:
		return ModeIdle
	case s.Thinking:
		return ModeThinking
	case !s.MicMuted && !s.GreetingPending:
		return ModeListening
	default:
		return ModeIdle
	}
}
