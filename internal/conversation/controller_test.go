package conversation

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/skystories/internal/clock/fake"
	"github.com/MrWong99/skystories/pkg/provider/convai"
	"github.com/MrWong99/skystories/pkg/provider/convai/mock"
)

var farmer = Persona{
	CharacterID:  "farmer",
	Name:         "Farmer Sarah",
	Instructions: "Speak from decades of hands-on experience.",
}

func validConfig() Config {
	return Config{
		Credentials: Credentials{APIKey: "key", AgentID: "agent"},
		Persona:     farmer,
		Clock:       fake.New(time.Unix(0, 0)),
	}
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// advanceUntil steps clk forward until cond holds or the test times out.
func advanceUntil(t *testing.T, clk *fake.Clock, step time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		clk.Advance(step)
		time.Sleep(time.Millisecond)
	}
}

type modeRecorder struct {
	mu      sync.Mutex
	changes []ModeChange
}

func (r *modeRecorder) record(mc ModeChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, mc)
}

func (r *modeRecorder) get() []ModeChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ModeChange(nil), r.changes...)
}

func TestController_MissingConfigurationNeverConnects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		creds Credentials
	}{
		{"missing agent id", Credentials{APIKey: "key"}},
		{"missing api key", Credentials{AgentID: "agent"}},
		{"missing both", Credentials{}},
		{"whitespace agent id", Credentials{APIKey: "key", AgentID: "  "}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{}
			cfg := validConfig()
			cfg.Credentials = tc.creds
			c := NewController(p, cfg)

			err := c.Start(t.Context())
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Start() = %v; want ErrConfiguration", err)
			}
			if n := p.Calls(); n != 0 {
				t.Errorf("Connect called %d times; want 0", n)
			}
			st := c.State()
			if st.Status != StatusError || st.Err == "" {
				t.Errorf("state = %+v; want visible error status", st)
			}
		})
	}
}

func TestController_NilProviderIsConfigurationError(t *testing.T) {
	t.Parallel()

	c := NewController(nil, validConfig())
	if err := c.Start(t.Context()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Start() = %v; want ErrConfiguration", err)
	}
}

func TestController_StartSendsPersonaOnce(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	p := &mock.Provider{Session: sess}
	c := NewController(p, validConfig())
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	want := []string{"You are Farmer Sarah. Speak from decades of hands-on experience."}
	if got := sess.Updates(); !reflect.DeepEqual(got, want) {
		t.Errorf("contextual updates = %q; want %q", got, want)
	}
	if len(p.ConnectCalls) != 1 || p.ConnectCalls[0].Cfg.AgentID != "agent" {
		t.Errorf("ConnectCalls = %+v; want one call for agent", p.ConnectCalls)
	}
	if st := c.State(); st.Status != StatusConnected {
		t.Errorf("status = %q; want connected", st.Status)
	}
	if err := c.Start(t.Context()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v; want ErrAlreadyStarted", err)
	}
}

func TestController_ScenarioB(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	c := NewController(&mock.Provider{Session: sess}, validConfig())
	rec := &modeRecorder{}
	c.Coordinator().OnModeChange(rec.record)

	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	sess.Emit(convai.Event{Type: convai.EventSpeaking, Speaking: true})
	sess.Emit(convai.Event{Type: convai.EventAgentResponse, Text: "Hi"})
	sess.Emit(convai.Event{Type: convai.EventSpeaking, Speaking: false})

	waitFor(t, "listening", func() bool { return c.State().Mode == ModeListening })

	want := []ModeChange{
		{From: ModeIdle, To: ModeSpeaking},
		{From: ModeSpeaking, To: ModeListening},
	}
	if got := rec.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("mode changes = %v; want %v", got, want)
	}
	entries := c.Log().Snapshot()
	if len(entries) != 1 || entries[0].Speaker != SpeakerAgent || entries[0].Text != "Hi" {
		t.Errorf("transcript = %+v; want one agent entry Hi", entries)
	}
}

func TestController_ConnectErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{ConnectErr: errors.New("401 unauthorized")}
	cfg := validConfig()
	cfg.Reconnect = ReconnectPolicy{Enabled: true, Backoff: time.Millisecond}
	c := NewController(p, cfg)

	if err := c.Start(t.Context()); err == nil {
		t.Fatal("Start() = nil; want error")
	}
	time.Sleep(20 * time.Millisecond)
	if n := p.Calls(); n != 1 {
		t.Errorf("Connect called %d times; want 1", n)
	}
	if st := c.State(); st.Status != StatusError {
		t.Errorf("status = %q; want error", st.Status)
	}
}

func TestController_SessionErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	p := &mock.Provider{Session: sess}
	cfg := validConfig()
	cfg.Reconnect = ReconnectPolicy{Enabled: true, Backoff: time.Millisecond}
	c := NewController(p, cfg)
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	sess.End(errors.New("network unreachable"))
	waitFor(t, "error status", func() bool { return c.State().Status == StatusError })

	time.Sleep(20 * time.Millisecond)
	if n := p.Calls(); n != 1 {
		t.Errorf("Connect called %d times; want 1", n)
	}
	if st := c.State(); st.Err != "network unreachable" {
		t.Errorf("error = %q; want network unreachable", st.Err)
	}
	if err := c.SendText(t.Context(), "anyone?"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendText after error = %v; want ErrNotConnected", err)
	}
}

func TestController_UnexpectedDisconnectWithoutReconnect(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	p := &mock.Provider{Session: sess}
	c := NewController(p, validConfig())
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	sess.Emit(convai.Event{Type: convai.EventAgentResponse, Text: "Hello!"})
	sess.End(nil)

	waitFor(t, "disconnected", func() bool { return c.State().Status == StatusDisconnected })
	if n := p.Calls(); n != 1 {
		t.Errorf("Connect called %d times; want 1", n)
	}
	if c.Log().Len() != 1 {
		t.Errorf("transcript length = %d; want 1", c.Log().Len())
	}
}

func TestController_ReconnectsWhenEnabled(t *testing.T) {
	t.Parallel()

	first, second := mock.NewSession(), mock.NewSession()
	p := &mock.Provider{Sessions: []convai.Session{first, second}}
	cfg := validConfig()
	cfg.Reconnect = ReconnectPolicy{Enabled: true, Backoff: time.Millisecond, MaxBackoff: time.Millisecond}
	c := NewController(p, cfg)
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	first.End(nil)
	advanceUntil(t, cfg.Clock.(*fake.Clock), time.Millisecond, "reconnect", func() bool {
		return p.Calls() == 2 && c.State().Status == StatusConnected
	})

	if got := second.Updates(); len(got) != 1 {
		t.Errorf("persona updates on new session = %d; want 1", len(got))
	}
	second.Emit(convai.Event{Type: convai.EventUserTranscript, Text: "back again"})
	waitFor(t, "transcript", func() bool { return c.Log().Len() == 1 })
}

func TestController_ReconnectBackoffFollowsClock(t *testing.T) {
	t.Parallel()

	first, second := mock.NewSession(), mock.NewSession()
	p := &mock.Provider{Sessions: []convai.Session{first, second}}
	clk := fake.New(time.Unix(0, 0))
	cfg := validConfig()
	cfg.Clock = clk
	cfg.Reconnect = ReconnectPolicy{Enabled: true, Backoff: time.Second}
	c := NewController(p, cfg)
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	first.End(nil)
	// The disconnect stops the greeting timer, so the only pending timer left
	// is the backoff.
	waitFor(t, "backoff scheduled", func() bool {
		return c.State().Status == StatusDisconnected && clk.Pending() == 1
	})

	clk.Advance(999 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if n := p.Calls(); n != 1 {
		t.Fatalf("Connect called %d times before the backoff elapsed; want 1", n)
	}

	clk.Advance(time.Millisecond)
	waitFor(t, "reconnect", func() bool { return p.Calls() == 2 && c.State().Status == StatusConnected })
}

func TestController_ReconnectGivesUp(t *testing.T) {
	t.Parallel()

	first := mock.NewSession()
	p := &mock.Provider{Sessions: []convai.Session{first}}
	cfg := validConfig()
	cfg.Reconnect = ReconnectPolicy{Enabled: true, MaxRetries: 2, Backoff: time.Millisecond, MaxBackoff: time.Millisecond}
	c := NewController(p, cfg)
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	p.ConnectErr = errors.New("service unavailable")
	first.End(nil)

	advanceUntil(t, cfg.Clock.(*fake.Clock), time.Millisecond, "error status", func() bool {
		return c.State().Status == StatusError
	})
	if n := p.Calls(); n != 3 {
		t.Errorf("Connect called %d times; want 3", n)
	}
}

func TestController_ConnectTimeout(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{ConnectHook: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	cfg := validConfig()
	cfg.ConnectTimeout = 10 * time.Millisecond
	c := NewController(p, cfg)

	err := c.Start(t.Context())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Start() = %v; want deadline exceeded", err)
	}
	if st := c.State(); st.Status != StatusError {
		t.Errorf("status = %q; want error", st.Status)
	}
}

func TestController_StopCancelsPendingConnect(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	p := &mock.Provider{ConnectHook: func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}}
	c := NewController(p, validConfig())

	errc := make(chan error, 1)
	go func() { errc <- c.Start(context.Background()) }()
	<-entered
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-errc:
		if err == nil {
			t.Error("Start() = nil after Stop; want error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestController_SendTextAndMute(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	c := NewController(&mock.Provider{Session: sess}, validConfig())
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.SendText(t.Context(), "   "); err != nil {
		t.Fatalf("SendText(blank): %v", err)
	}
	if err := c.SendText(t.Context(), " What about GPS? "); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got := sess.Messages(); !reflect.DeepEqual(got, []string{"What about GPS?"}) {
		t.Errorf("user messages = %q", got)
	}
	if c.Log().Len() != 1 {
		t.Errorf("transcript length = %d; want 1", c.Log().Len())
	}

	c.SetMicMuted(true)
	if err := c.SendAudio(t.Context(), []byte{1, 2}); err != nil {
		t.Fatalf("SendAudio(muted): %v", err)
	}
	c.SetMicMuted(false)
	if err := c.SendAudio(t.Context(), []byte{3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if n := len(sess.AudioChunks); n != 1 {
		t.Errorf("audio chunks = %d; want 1 (muted chunk dropped)", n)
	}
}

func TestController_ForwardsAudio(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	got := make(chan []byte, 1)
	cfg := validConfig()
	cfg.OnAudio = func(b []byte) { got <- b }
	c := NewController(&mock.Provider{Session: sess}, cfg)
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	sess.Emit(convai.Event{Type: convai.EventAudio, Audio: []byte{9, 9}})
	select {
	case b := <-got:
		if !reflect.DeepEqual(b, []byte{9, 9}) {
			t.Errorf("audio = %v; want [9 9]", b)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio")
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	c := NewController(&mock.Provider{Session: sess}, validConfig())
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if sess.Closes() != 1 {
		t.Errorf("session closed %d times; want 1", sess.Closes())
	}
	if st := c.State(); st.Status != StatusDisconnected {
		t.Errorf("status = %q; want disconnected", st.Status)
	}
}

func TestReconnectPolicy_Delays(t *testing.T) {
	t.Parallel()

	got := ReconnectPolicy{MaxRetries: 5, Backoff: time.Second, MaxBackoff: 5 * time.Second}.delays()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("delays = %v; want %v", got, want)
	}
	if n := len(ReconnectPolicy{}.delays()); n != defaultMaxRetries {
		t.Errorf("default retries = %d; want %d", n, defaultMaxRetries)
	}
}
