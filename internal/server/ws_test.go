package server_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/skystories/internal/character"
	"github.com/MrWong99/skystories/internal/conversation"
	"github.com/MrWong99/skystories/internal/server"
	"github.com/MrWong99/skystories/internal/starfield"
	"github.com/MrWong99/skystories/internal/storygen"
	"github.com/MrWong99/skystories/pkg/provider/convai"
	convaimock "github.com/MrWong99/skystories/pkg/provider/convai/mock"
	"github.com/MrWong99/skystories/pkg/provider/llm"
	llmmock "github.com/MrWong99/skystories/pkg/provider/llm/mock"
)

var fastStory = server.StoryTiming{Typing: time.Millisecond, Pause: time.Millisecond}

// ── Story ─────────────────────────────────────────────────────────────────────

func TestStory_PlaysWholeScript(t *testing.T) {
	t.Parallel()

	metrics, reader := newMetrics(t)
	_, srv := startServer(t, server.Config{Story: fastStory, Metrics: metrics})
	conn := dial(t, srv, "/ws/story/farmer")

	want, _ := character.Default().Script("farmer")

	script := readFrame(t, conn)
	if script["type"] != "script" || script["character"] != "farmer" {
		t.Fatalf("first frame = %v; want the farmer script", script)
	}
	if beats, _ := script["beats"].([]any); len(beats) != want.Len() {
		t.Fatalf("script beats = %d; want %d", len(beats), want.Len())
	}
	if _, ok := script["sources"]; ok {
		t.Error("static script carries sources")
	}

	var revealed []string
	for {
		f := readFrame(t, conn)
		if f["type"] == "complete" {
			break
		}
		if f["type"] == "beat" {
			beat := f["beat"].(map[string]any)
			revealed = append(revealed, beat["id"].(string))
		}
	}
	if len(revealed) != want.Len() {
		t.Fatalf("revealed %d beats; want %d", len(revealed), want.Len())
	}
	for i, id := range revealed {
		if id != want.Beat(i).ID {
			t.Errorf("beat %d = %q; want %q", i, id, want.Beat(i).ID)
		}
	}

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
		t.Errorf("close status = %v (%v); want normal closure", got, err)
	}
	if got := counterTotal(t, reader, "skystories.story.beats_revealed"); got != int64(want.Len()) {
		t.Errorf("beats_revealed = %d; want %d", got, want.Len())
	}
	if got := counterTotal(t, reader, "skystories.story.playbacks"); got != 1 {
		t.Errorf("playbacks = %d; want 1", got)
	}
}

func TestStory_Generated(t *testing.T) {
	t.Parallel()

	catalog := character.Default()
	gen := storygen.New(catalog, storygen.WithLLM(&llmmock.Provider{
		Response: &llm.Response{Content: "A freshly told tale."},
	}))
	_, srv := startServer(t, server.Config{Catalog: catalog, Generator: gen, Story: fastStory})
	conn := dial(t, srv, "/ws/story/pilot?generate=1")

	script := readFrame(t, conn)
	sources, _ := script["sources"].(map[string]any)
	if sources[storygen.PartStory] != string(storygen.SourceAI) {
		t.Errorf("sources = %v; want story from ai", sources)
	}
	beats := script["beats"].([]any)
	mainBeat := beats[1].(map[string]any)
	if mainBeat["content"] != "A freshly told tale." {
		t.Errorf("main story = %q; want the generated text", mainBeat["content"])
	}
}

func TestStory_UnknownCharacter(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t, server.Config{})
	if resp := get(t, srv, "/ws/story/pirate"); resp.StatusCode != 404 {
		t.Errorf("status = %d; want 404", resp.StatusCode)
	}
}

func TestStory_ClientCloseCancels(t *testing.T) {
	t.Parallel()

	metrics, reader := newMetrics(t)
	s, srv := startServer(t, server.Config{
		Story:   server.StoryTiming{Typing: time.Hour, Pause: time.Hour},
		Metrics: metrics,
	})
	conn := dial(t, srv, "/ws/story/operator")
	readUntil(t, conn, ofType("typing"))
	if n := s.Sessions().Len(); n != 1 {
		t.Fatalf("live sessions = %d; want 1", n)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(3 * time.Second)
	for s.Sessions().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still registered after client close")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := counterTotal(t, reader, "skystories.story.playbacks"); got != 1 {
		t.Errorf("playbacks = %d; want 1 cancelled", got)
	}
}

// ── Conversation ──────────────────────────────────────────────────────────────

func conversationConfig() conversation.Config {
	return conversation.Config{
		Credentials:  conversation.Credentials{APIKey: "key", AgentID: "agent"},
		GreetingWait: -1,
	}
}

func TestConversation_Bridge(t *testing.T) {
	t.Parallel()

	sess := convaimock.NewSession()
	provider := &convaimock.Provider{Session: sess}
	_, srv := startServer(t, server.Config{ConvAI: provider, Conversation: conversationConfig()})
	conn := dial(t, srv, "/ws/conversation/farmer")

	readUntil(t, conn, func(f map[string]any) bool {
		return f["type"] == "status" && f["status"] == string(conversation.StatusConnected)
	})

	// Agent speaks: mode flips and the agent object becomes visible.
	sess.Emit(convai.Event{Type: convai.EventSpeaking, Speaking: true})
	mode := readUntil(t, conn, func(f map[string]any) bool {
		return f["type"] == "mode" && f["mode"] == string(conversation.ModeSpeaking)
	})
	vis := mode["visibility"].(map[string]any)
	if vis["agent"] != true || vis["user"] != false {
		t.Errorf("visibility = %v; want agent only", vis)
	}

	sess.Emit(convai.Event{Type: convai.EventAgentResponse, Text: "Hi"})
	tr := readUntil(t, conn, ofType("transcript"))
	entries := tr["entries"].([]any)
	if len(entries) != 1 || entries[0].(map[string]any)["text"] != "Hi" {
		t.Errorf("transcript = %v; want one agent entry", entries)
	}
	if updates := sess.Updates(); len(updates) != 1 || !strings.HasPrefix(updates[0], "You are Farmer Sarah.") {
		t.Errorf("contextual updates = %q; want one persona update", updates)
	}

	// Agent audio is forwarded as a binary message.
	sess.Emit(convai.Event{Type: convai.EventAudio, Audio: []byte{1, 2, 3}})
	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if typ == websocket.MessageBinary {
			if string(data) != "\x01\x02\x03" {
				t.Errorf("audio = %v; want [1 2 3]", data)
			}
			break
		}
	}

	// Typed turn and microphone audio reach the session.
	writeJSON(t, conn, map[string]any{"type": "text", "text": "What do you grow?"})
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{9, 9}); err != nil {
		t.Fatalf("Write audio: %v", err)
	}
	tr = readUntil(t, conn, func(f map[string]any) bool {
		return f["type"] == "transcript" && len(f["entries"].([]any)) == 2
	})
	if got := tr["entries"].([]any)[1].(map[string]any)["speaker"]; got != "user" {
		t.Errorf("second entry speaker = %v; want user", got)
	}
	if msgs := sess.Messages(); len(msgs) != 1 || msgs[0] != "What do you grow?" {
		t.Errorf("user messages = %q", msgs)
	}

	// Unknown messages are answered with an error frame.
	writeJSON(t, conn, map[string]any{"type": "dance"})
	if f := readUntil(t, conn, ofType("error")); !strings.Contains(f["error"].(string), "dance") {
		t.Errorf("error frame = %v", f)
	}

	// Reset clears the transcript.
	writeJSON(t, conn, map[string]any{"type": "reset"})
	readUntil(t, conn, func(f map[string]any) bool {
		return f["type"] == "transcript" && len(f["entries"].([]any)) == 0
	})

	conn.Close(websocket.StatusNormalClosure, "")
	deadline := time.Now().Add(3 * time.Second)
	for sess.Closes() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("provider session not closed after the browser left")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConversation_MissingCredentials(t *testing.T) {
	t.Parallel()

	provider := &convaimock.Provider{}
	cfg := conversationConfig()
	cfg.Credentials.AgentID = ""
	_, srv := startServer(t, server.Config{ConvAI: provider, Conversation: cfg})
	conn := dial(t, srv, "/ws/conversation/astronaut")

	f := readUntil(t, conn, func(f map[string]any) bool {
		return f["type"] == "status" && f["status"] == string(conversation.StatusError)
	})
	if msg, _ := f["error"].(string); !strings.Contains(msg, "agent id") {
		t.Errorf("status error = %q; want it to name the agent id", msg)
	}
	if n := provider.Calls(); n != 0 {
		t.Errorf("Connect calls = %d; want 0", n)
	}

	// The socket stays usable so the page can show the error.
	writeJSON(t, conn, map[string]any{"type": "text", "text": "hello?"})
	if f := readUntil(t, conn, ofType("error")); !strings.Contains(f["error"].(string), "not connected") {
		t.Errorf("error frame = %v; want not connected", f)
	}
}

func TestConversation_ConnectError(t *testing.T) {
	t.Parallel()

	provider := &convaimock.Provider{ConnectErr: errors.New("dial refused")}
	_, srv := startServer(t, server.Config{ConvAI: provider, Conversation: conversationConfig()})
	conn := dial(t, srv, "/ws/conversation/pilot")

	f := readUntil(t, conn, func(f map[string]any) bool {
		return f["type"] == "status" && f["status"] == string(conversation.StatusError)
	})
	if msg, _ := f["error"].(string); !strings.Contains(msg, "dial refused") {
		t.Errorf("status error = %q", msg)
	}
	if n := provider.Calls(); n != 1 {
		t.Errorf("Connect calls = %d; want exactly 1", n)
	}
}

// ── Starfield ─────────────────────────────────────────────────────────────────

func TestStarfield_FramesAndResize(t *testing.T) {
	t.Parallel()

	params := starfield.Defaults()
	params.Count = 12
	metrics, reader := newMetrics(t)
	_, srv := startServer(t, server.Config{Starfield: params, Metrics: metrics})
	conn := dial(t, srv, "/ws/starfield?width=320&height=200&fps=60")

	f := readUntil(t, conn, func(f map[string]any) bool {
		return f["type"] == "frame" && f["width"] == 320.0
	})
	if stars := f["stars"].([]any); len(stars) != 12 {
		t.Errorf("stars = %d; want 12", len(stars))
	}

	writeJSON(t, conn, map[string]any{"type": "resize", "width": 800, "height": 600})
	f = readUntil(t, conn, func(f map[string]any) bool { return f["width"] == 800.0 })
	if f["height"] != 600.0 {
		t.Errorf("height = %v; want 600", f["height"])
	}
	for _, s := range f["stars"].([]any) {
		star := s.(map[string]any)
		if x := star["x"].(float64); x < 0 || x > 800 {
			t.Errorf("star x = %g outside the resized viewport", x)
		}
	}

	if got := counterTotal(t, reader, "skystories.starfield.frames"); got < 2 {
		t.Errorf("frames = %d; want at least 2", got)
	}
}

func TestStarfield_BadQuery(t *testing.T) {
	t.Parallel()
	_, srv := startServer(t, server.Config{})

	paths := []string{
		"/ws/starfield?fps=0",
		"/ws/starfield?fps=240",
		"/ws/starfield?parallax=maybe",
		"/ws/starfield?width=wide",
		"/ws/starfield?width=320&height=-1",
		"/ws/starfield?height=NaN",
	}
	for _, path := range paths {
		if resp := get(t, srv, path); resp.StatusCode != 400 {
			t.Errorf("GET %s = %d; want 400", path, resp.StatusCode)
		}
	}
}
