package conversation

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"testing"
	"time"

	"github.com/MrWong99/skystories/internal/clock/fake"
)

func newTestCoordinator(t *testing.T, opts ...CoordinatorOption) (*Coordinator, *fake.Clock, *[]ModeChange) {
	t.Helper()
	clk := fake.New(time.Unix(0, 0))
	c := NewCoordinator(NewLog(clk), append([]CoordinatorOption{WithClock(clk)}, opts...)...)
	var changes []ModeChange
	c.OnModeChange(func(mc ModeChange) { changes = append(changes, mc) })
	return c, clk, &changes
}

func TestDerive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    Signals
		want Mode
	}{
		{"disconnected", Signals{Status: StatusDisconnected}, ModeIdle},
		{"connected open mic", Signals{Status: StatusConnected}, ModeListening},
		{"connected muted", Signals{Status: StatusConnected, MicMuted: true}, ModeIdle},
		{"greeting pending", Signals{Status: StatusConnected, GreetingPending: true}, ModeIdle},
		{"speaking wins over mute", Signals{Status: StatusConnected, MicMuted: true, Speaking: true}, ModeSpeaking},
		{"speaking while connecting", Signals{Status: StatusConnecting, Speaking: true}, ModeSpeaking},
		{"thinking", Signals{Status: StatusConnected, Thinking: true}, ModeThinking},
		{"thinking needs connection", Signals{Status: StatusError, Thinking: true}, ModeIdle},
		{"error", Signals{Status: StatusError}, ModeIdle},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Derive(tc.s); got != tc.want {
				t.Errorf("Derive(%+v) = %q; want %q", tc.s, got, tc.want)
			}
		})
	}
}

func TestCoordinator_ScenarioB(t *testing.T) {
	t.Parallel()

	c, _, changes := newTestCoordinator(t)
	c.Apply(Event{Kind: EventConnect})
	c.Apply(Event{Kind: EventSpeaking, Speaking: true})
	c.Apply(Event{Kind: EventMessage, Speaker: SpeakerAgent, Text: "Hi"})
	c.Apply(Event{Kind: EventSpeaking, Speaking: false})

	want := []ModeChange{
		{From: ModeIdle, To: ModeSpeaking},
		{From: ModeSpeaking, To: ModeListening},
	}
	if !reflect.DeepEqual(*changes, want) {
		t.Errorf("mode changes = %v; want %v", *changes, want)
	}

	entries := c.Log().Snapshot()
	if len(entries) != 1 || entries[0].Speaker != SpeakerAgent || entries[0].Text != "Hi" {
		t.Errorf("transcript = %+v; want one agent entry Hi", entries)
	}
}

func TestCoordinator_WithoutGreetingGateConnectListens(t *testing.T) {
	t.Parallel()

	c, _, changes := newTestCoordinator(t, WithGreetingGate(0))
	c.Apply(Event{Kind: EventConnect})
	want := []ModeChange{{From: ModeIdle, To: ModeListening}}
	if !reflect.DeepEqual(*changes, want) {
		t.Errorf("mode changes = %v; want %v", *changes, want)
	}
}

func TestCoordinator_GreetingGateExpires(t *testing.T) {
	t.Parallel()

	c, clk, changes := newTestCoordinator(t, WithGreetingGate(time.Second))
	c.Apply(Event{Kind: EventConnect})
	if c.Mode() != ModeIdle {
		t.Fatalf("mode = %q right after connect; want idle", c.Mode())
	}
	clk.Advance(time.Second)
	if c.Mode() != ModeListening {
		t.Fatalf("mode = %q after greeting wait; want listening", c.Mode())
	}
	if len(*changes) != 1 {
		t.Errorf("mode changes = %v; want exactly one", *changes)
	}
}

func TestCoordinator_GreetingWaitStopsOnceAgentSpeaks(t *testing.T) {
	t.Parallel()

	c, clk, _ := newTestCoordinator(t, WithGreetingGate(time.Second))
	c.Apply(Event{Kind: EventConnect})
	c.Apply(Event{Kind: EventSpeaking, Speaking: true})
	clk.Advance(10 * time.Second)
	if c.Mode() != ModeSpeaking {
		t.Errorf("mode = %q; want speaking to persist past greeting wait", c.Mode())
	}
}

func TestCoordinator_MessagesNeverChangeMode(t *testing.T) {
	t.Parallel()

	c, _, changes := newTestCoordinator(t, WithGreetingGate(0))
	c.Apply(Event{Kind: EventConnect})
	before := len(*changes)
	c.Apply(Event{Kind: EventMessage, Speaker: SpeakerUser, Text: "hello"})
	c.Apply(Event{Kind: EventMessage, Speaker: SpeakerAgent, Text: "hi"})
	c.Apply(Event{Kind: EventMessage, Speaker: SpeakerUser, Text: "   "})
	if len(*changes) != before {
		t.Errorf("messages produced mode changes: %v", (*changes)[before:])
	}
	if c.Log().Len() != 2 {
		t.Errorf("transcript length = %d; want 2", c.Log().Len())
	}
}

func TestCoordinator_RepeatedStatusNotifiesOnce(t *testing.T) {
	t.Parallel()

	c, _, changes := newTestCoordinator(t, WithGreetingGate(0))
	var statuses []StatusChange
	c.OnStatusChange(func(sc StatusChange) { statuses = append(statuses, sc) })

	c.Apply(Event{Kind: EventStatus, Status: StatusConnecting})
	c.Apply(Event{Kind: EventStatus, Status: StatusConnecting})
	c.Apply(Event{Kind: EventStatus, Status: StatusConnected})
	c.Apply(Event{Kind: EventStatus, Status: StatusConnected})
	c.Apply(Event{Kind: EventMicMute, Muted: false})
	c.Apply(Event{Kind: EventMicMute, Muted: false})

	if len(statuses) != 2 {
		t.Errorf("status changes = %v; want 2", statuses)
	}
	if len(*changes) != 1 {
		t.Errorf("mode changes = %v; want exactly one", *changes)
	}
	if c.Log().Len() != 0 {
		t.Errorf("status events added %d transcript entries", c.Log().Len())
	}
}

func TestCoordinator_RepeatedConnectWithGreetingGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		repeat Event
	}{
		{"connect", Event{Kind: EventConnect}},
		{"status connected", Event{Kind: EventStatus, Status: StatusConnected}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, clk, changes := newTestCoordinator(t)
			var statuses []StatusChange
			c.OnStatusChange(func(sc StatusChange) { statuses = append(statuses, sc) })

			c.Apply(Event{Kind: EventConnect})
			clk.Advance(DefaultGreetingWait)
			if c.Mode() != ModeListening {
				t.Fatalf("mode = %q after greeting wait; want listening", c.Mode())
			}

			c.Apply(tc.repeat)
			c.Apply(tc.repeat)
			clk.Advance(DefaultGreetingWait)

			want := []ModeChange{{From: ModeIdle, To: ModeListening}}
			if !reflect.DeepEqual(*changes, want) {
				t.Errorf("mode changes = %v; want %v", *changes, want)
			}
			if len(statuses) != 1 {
				t.Errorf("status changes = %v; want exactly one", statuses)
			}
		})
	}
}

func TestCoordinator_MessageLiftsGreetingGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		speaker Speaker
		text    string
	}{
		{"agent text reply", SpeakerAgent, "Hello there"},
		{"typed user turn", SpeakerUser, "hi"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, clk, changes := newTestCoordinator(t)
			c.Apply(Event{Kind: EventConnect})
			c.Apply(Event{Kind: EventMessage, Speaker: tc.speaker, Text: tc.text})
			if c.Mode() != ModeListening {
				t.Fatalf("mode = %q after a message; want listening", c.Mode())
			}

			clk.Advance(DefaultGreetingWait)
			want := []ModeChange{{From: ModeIdle, To: ModeListening}}
			if !reflect.DeepEqual(*changes, want) {
				t.Errorf("mode changes = %v; want %v", *changes, want)
			}
		})
	}
}

func TestCoordinator_BlankMessageKeepsGreetingGate(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCoordinator(t)
	c.Apply(Event{Kind: EventConnect})
	c.Apply(Event{Kind: EventMessage, Speaker: SpeakerUser, Text: "  "})
	if c.Mode() != ModeIdle {
		t.Errorf("mode = %q after a blank message; want idle", c.Mode())
	}
}

func TestCoordinator_SpeakingAlwaysWins(t *testing.T) {
	t.Parallel()

	// Any sequence of connection and mute signals followed by speaking=true
	// derives speaking.
	rng := rand.New(rand.NewPCG(1, 2))
	noise := []Event{
		{Kind: EventConnect},
		{Kind: EventDisconnect},
		{Kind: EventStatus, Status: StatusConnecting},
		{Kind: EventStatus, Status: StatusConnected},
		{Kind: EventStatus, Status: StatusDisconnected},
		{Kind: EventMicMute, Muted: true},
		{Kind: EventMicMute, Muted: false},
		{Kind: EventSpeaking, Speaking: false},
		{Kind: EventMessage, Speaker: SpeakerUser, Text: "hey"},
		{Kind: EventError, Err: errors.New("boom")},
	}
	for i := range 200 {
		c, _, _ := newTestCoordinator(t)
		n := rng.IntN(12)
		for range n {
			c.Apply(noise[rng.IntN(len(noise))])
		}
		c.Apply(Event{Kind: EventSpeaking, Speaking: true})
		if m := c.Mode(); m != ModeSpeaking {
			t.Fatalf("run %d: mode = %q after speaking=true; want speaking", i, m)
		}
		// Mute and message signals after speaking do not override it.
		c.Apply(Event{Kind: EventMicMute, Muted: rng.IntN(2) == 0})
		c.Apply(Event{Kind: EventMessage, Speaker: SpeakerAgent, Text: "still talking"})
		if m := c.Mode(); m != ModeSpeaking {
			t.Fatalf("run %d: mode = %q after mute/message; want speaking", i, m)
		}
	}
}

func TestCoordinator_ErrorSurfacesAndPersists(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCoordinator(t, WithGreetingGate(0))
	var statuses []StatusChange
	c.OnStatusChange(func(sc StatusChange) { statuses = append(statuses, sc) })

	c.Apply(Event{Kind: EventConnect})
	c.Apply(Event{Kind: EventSpeaking, Speaking: true})
	c.Apply(Event{Kind: EventError, Err: errors.New("socket reset")})

	st := c.State()
	if st.Status != StatusError || st.Err != "socket reset" {
		t.Fatalf("state = %+v; want error status with message", st)
	}
	if st.Mode != ModeIdle {
		t.Errorf("mode = %q; want idle after error", st.Mode)
	}

	c.Apply(Event{Kind: EventDisconnect})
	if c.State().Status != StatusError {
		t.Errorf("status = %q after disconnect; want error to persist", c.State().Status)
	}
	last := statuses[len(statuses)-1]
	if last.To != StatusError || last.Err != "socket reset" {
		t.Errorf("last status change = %+v; want error with message", last)
	}
}

func TestCoordinator_ThinkingHeuristic(t *testing.T) {
	t.Parallel()

	t.Run("starts after delay and ends on speech", func(t *testing.T) {
		t.Parallel()
		c, clk, changes := newTestCoordinator(t, WithGreetingGate(0), WithThinking(500*time.Millisecond, 5*time.Second))
		c.Apply(Event{Kind: EventConnect})
		c.Apply(Event{Kind: EventMessage, Speaker: SpeakerUser, Text: "why is the sky green?"})
		if c.Mode() != ModeListening {
			t.Fatalf("mode = %q right after user message; want listening", c.Mode())
		}
		clk.Advance(500 * time.Millisecond)
		if c.Mode() != ModeThinking {
			t.Fatalf("mode = %q after delay; want thinking", c.Mode())
		}
		c.Apply(Event{Kind: EventSpeaking, Speaking: true})
		c.Apply(Event{Kind: EventSpeaking, Speaking: false})
		want := []ModeChange{
			{From: ModeIdle, To: ModeListening},
			{From: ModeListening, To: ModeThinking},
			{From: ModeThinking, To: ModeSpeaking},
			{From: ModeSpeaking, To: ModeListening},
		}
		if !reflect.DeepEqual(*changes, want) {
			t.Errorf("mode changes = %v; want %v", *changes, want)
		}
		clk.Advance(time.Minute)
		if c.Mode() != ModeListening {
			t.Errorf("stale thinking timer changed mode to %q", c.Mode())
		}
	})

	t.Run("times out", func(t *testing.T) {
		t.Parallel()
		c, clk, _ := newTestCoordinator(t, WithGreetingGate(0), WithThinking(time.Second, 2*time.Second))
		c.Apply(Event{Kind: EventConnect})
		c.Apply(Event{Kind: EventMessage, Speaker: SpeakerUser, Text: "hello?"})
		clk.Advance(time.Second)
		if c.Mode() != ModeThinking {
			t.Fatalf("mode = %q; want thinking", c.Mode())
		}
		clk.Advance(2 * time.Second)
		if c.Mode() != ModeListening {
			t.Errorf("mode = %q after timeout; want listening", c.Mode())
		}
	})

	t.Run("agent reply before delay cancels", func(t *testing.T) {
		t.Parallel()
		c, clk, _ := newTestCoordinator(t, WithGreetingGate(0), WithThinking(time.Second, 2*time.Second))
		c.Apply(Event{Kind: EventConnect})
		c.Apply(Event{Kind: EventMessage, Speaker: SpeakerUser, Text: "hello?"})
		c.Apply(Event{Kind: EventMessage, Speaker: SpeakerAgent, Text: "hi!"})
		clk.Advance(time.Minute)
		if c.Mode() != ModeListening {
			t.Errorf("mode = %q; want listening", c.Mode())
		}
	})

	t.Run("disabled by default", func(t *testing.T) {
		t.Parallel()
		c, clk, _ := newTestCoordinator(t, WithGreetingGate(0))
		c.Apply(Event{Kind: EventConnect})
		c.Apply(Event{Kind: EventMessage, Speaker: SpeakerUser, Text: "hello?"})
		clk.Advance(time.Minute)
		if c.Mode() != ModeListening {
			t.Errorf("mode = %q; want listening", c.Mode())
		}
		if clk.Pending() != 0 {
			t.Errorf("pending timers = %d; want 0", clk.Pending())
		}
	})
}

func TestCoordinator_DisconnectResets(t *testing.T) {
	t.Parallel()

	c, clk, _ := newTestCoordinator(t)
	c.Apply(Event{Kind: EventConnect})
	c.Apply(Event{Kind: EventSpeaking, Speaking: true})
	c.Apply(Event{Kind: EventDisconnect})

	st := c.State()
	if st.Mode != ModeIdle || st.Status != StatusDisconnected || st.Signals.Speaking {
		t.Errorf("state = %+v; want idle disconnected not speaking", st)
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d after disconnect; want 0", clk.Pending())
	}
}
