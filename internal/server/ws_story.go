package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/skystories/internal/observe"
	"github.com/MrWong99/skystories/internal/session"
	"github.com/MrWong99/skystories/internal/story"
	"github.com/MrWong99/skystories/internal/storygen"
)

// storyFrame is one server-to-browser message on /ws/story/{id}.
//
//	{"type":"script","character":"farmer","beats":[...],"sources":{...}}
//	{"type":"typing","index":2}
//	{"type":"beat","index":2,"beat":{...}}
//	{"type":"complete"}
//	{"type":"error","error":"..."}
type storyFrame struct {
	Type      string                     `json:"type"`
	Character string                     `json:"character,omitempty"`
	Index     *int                       `json:"index,omitempty"`
	Beat      *story.Beat                `json:"beat,omitempty"`
	Beats     []story.Beat               `json:"beats,omitempty"`
	Sources   map[string]storygen.Source `json:"sources,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

func frameForEvent(ev story.Event) storyFrame {
	f := storyFrame{Type: ev.Kind.String()}
	switch ev.Kind {
	case story.EventTypingStarted:
		f.Index = &ev.Index
	case story.EventBeatRevealed:
		f.Index = &ev.Index
		f.Beat = &ev.Beat
	}
	return f
}

// handleStory handles GET /ws/story/{id}. The socket receives the whole
// script first, then the paced reveal events, and is closed normally after
// the completion frame. ?generate=1 asks the story generator for fresh parts.
func (s *Server) handleStory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.cfg.Catalog.Get(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	generate, _ := strconv.ParseBool(r.URL.Query().Get("generate"))

	ctx, h, ok := s.beginSession(w, r, session.KindStory, id)
	if !ok {
		return
	}
	defer h.End()

	conn, err := s.accept(w, r)
	if err != nil {
		slog.Warn("websocket accept failed", "route", "story", "err", err)
		return
	}
	defer conn.CloseNow()

	// The browser never sends anything; reading only detects its close.
	ctx = conn.CloseRead(ctx)
	done := s.metrics.SessionStarted(ctx, string(session.KindStory))
	defer done()

	script, sources, err := s.storyScript(ctx, id, generate)
	if err != nil {
		_ = wsjson.Write(ctx, conn, storyFrame{Type: "error", Error: err.Error()})
		conn.Close(websocket.StatusInternalError, "script unavailable")
		return
	}
	if err := wsjson.Write(ctx, conn, storyFrame{
		Type:      "script",
		Character: id,
		Beats:     script.Beats(),
		Sources:   sources,
	}); err != nil {
		logSessionEnd(ctx, err)
		return
	}

	seq := story.NewSequencer(s.storyOptions()...)
	err = story.Play(ctx, seq, script, func(ev story.Event) error {
		if ev.Kind == story.EventBeatRevealed {
			s.metrics.RecordBeat(ctx, id, string(ev.Beat.Kind))
		}
		return wsjson.Write(ctx, conn, frameForEvent(ev))
	})
	if err != nil {
		s.metrics.RecordStory(context.WithoutCancel(ctx), id, "cancelled")
		logSessionEnd(ctx, err)
		return
	}
	s.metrics.RecordStory(ctx, id, "completed")
	observe.Logger(ctx).Debug("story completed", "beats", script.Len())
	conn.Close(websocket.StatusNormalClosure, "story complete")
}

func (s *Server) storyScript(ctx context.Context, id string, generate bool) (story.Script, map[string]storygen.Source, error) {
	if generate {
		script, res, err := s.gen.Script(ctx, id)
		if err != nil {
			return story.Script{}, nil, err
		}
		return script, res.Sources, nil
	}
	script, err := s.cfg.Catalog.Script(id)
	return script, nil, err
}

func (s *Server) storyOptions() []story.Option {
	opts := []story.Option{story.WithClock(s.clock)}
	if s.cfg.Story.Typing > 0 {
		opts = append(opts, story.WithTyping(s.cfg.Story.Typing))
	}
	if s.cfg.Story.Pause > 0 {
		opts = append(opts, story.WithPause(s.cfg.Story.Pause))
	}
	return opts
}
