package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/skystories/internal/character"
	"github.com/MrWong99/skystories/internal/conversation"
	"github.com/MrWong99/skystories/internal/observe"
	"github.com/MrWong99/skystories/internal/scene"
	"github.com/MrWong99/skystories/internal/session"
)

// maxClientMessage bounds a single browser message (a microphone chunk or a
// typed turn).
const maxClientMessage = 1 << 20

// convFrame is one JSON server-to-browser message on /ws/conversation/{id}.
// Agent audio travels as binary messages.
//
//	{"type":"status","status":"error","error":"..."}
//	{"type":"mode","from":"idle","mode":"speaking","visibility":{"agent":true,"user":false}}
//	{"type":"transcript","entries":[...]}
//	{"type":"error","error":"..."}
type convFrame struct {
	Type       string              `json:"type"`
	Status     conversation.Status `json:"status,omitempty"`
	From       conversation.Mode   `json:"from,omitempty"`
	Mode       conversation.Mode   `json:"mode,omitempty"`
	Visibility *scene.Visibility   `json:"visibility,omitempty"`
	Error      string              `json:"error,omitempty"`
}

type transcriptFrame struct {
	Type    string               `json:"type"`
	Entries []conversation.Entry `json:"entries"`
}

// clientMessage is one JSON browser-to-server message. Microphone audio
// travels as binary messages.
//
//	{"type":"text","text":"What do you grow?"}
//	{"type":"mute","muted":true}
//	{"type":"reset"}
type clientMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Muted bool   `json:"muted,omitempty"`
}

func modeFrame(from, to conversation.Mode) convFrame {
	vis := scene.VisibilityFor(to)
	return convFrame{Type: "mode", From: from, Mode: to, Visibility: &vis}
}

func personaFor(ch character.Character) conversation.Persona {
	return conversation.Persona{
		CharacterID:  ch.ID,
		Name:         ch.DisplayName(),
		Instructions: ch.Instructions(),
	}
}

// handleConversation handles GET /ws/conversation/{id}. It bridges the
// browser to one conversation Controller for the lifetime of the socket.
// Configuration and connection errors are reported as status frames; the
// socket stays open so the page can show them.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ch, err := s.cfg.Catalog.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	ctx, h, ok := s.beginSession(w, r, session.KindConversation, id)
	if !ok {
		return
	}
	defer h.End()

	conn, err := s.accept(w, r)
	if err != nil {
		slog.Warn("websocket accept failed", "route", "conversation", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxClientMessage)

	done := s.metrics.SessionStarted(ctx, string(session.KindConversation))
	defer done()

	out := newOutbox()
	cfg := s.cfg.Conversation
	cfg.Persona = personaFor(ch)
	cfg.Clock = s.clock
	cfg.OnAudio = out.pushBinary
	ctrl := conversation.NewController(s.cfg.ConvAI, cfg)

	coord := ctrl.Coordinator()
	coord.OnStatusChange(func(c conversation.StatusChange) {
		out.pushJSON(convFrame{Type: "status", Status: c.To, Error: c.Err})
	})
	coord.OnModeChange(func(c conversation.ModeChange) {
		s.metrics.RecordModeChange(ctx, string(c.From), string(c.To))
		out.pushJSON(modeFrame(c.From, c.To))
	})

	st := ctrl.State()
	out.pushJSON(convFrame{Type: "status", Status: st.Status, Error: st.Err})
	out.pushJSON(modeFrame(st.Mode, st.Mode))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return out.run(gctx, conn) })
	g.Go(func() error { return s.forwardTranscript(gctx, ctrl.Log(), out) })
	g.Go(func() error { return readConversation(gctx, conn, ctrl, out) })
	g.Go(func() error {
		if err := ctrl.Start(gctx); err != nil && !errors.Is(err, conversation.ErrConfiguration) {
			observe.Logger(ctx).Debug("conversation start failed", "err", err)
		}
		return nil
	})
	err = g.Wait()

	_ = ctrl.Stop()
	logSessionEnd(ctx, err)
	conn.Close(websocket.StatusNormalClosure, "")
}

// readConversation dispatches browser messages to ctrl until the socket
// closes.
func readConversation(ctx context.Context, conn *websocket.Conn, ctrl *conversation.Controller, out *outbox) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if typ == websocket.MessageBinary {
			if err := ctrl.SendAudio(ctx, data); err != nil && !errors.Is(err, conversation.ErrNotConnected) {
				observe.Logger(ctx).Debug("dropping microphone chunk", "err", err)
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			out.pushJSON(convFrame{Type: "error", Error: "invalid message"})
			continue
		}
		switch msg.Type {
		case "text":
			if err := ctrl.SendText(ctx, msg.Text); err != nil {
				out.pushJSON(convFrame{Type: "error", Error: err.Error()})
			}
		case "mute":
			ctrl.SetMicMuted(msg.Muted)
		case "reset":
			ctrl.Reset()
		default:
			out.pushJSON(convFrame{Type: "error", Error: "unknown message type " + msg.Type})
		}
	}
}

// forwardTranscript sends the full transcript whenever the log changes.
func (s *Server) forwardTranscript(ctx context.Context, log *conversation.Log, out *outbox) error {
	var seen uint64
	for {
		changed := log.Changed()
		added, v := log.Since(seen)
		if v != seen {
			for _, e := range added {
				s.metrics.RecordTranscriptEntry(ctx, string(e.Speaker))
			}
			entries := log.Snapshot()
			if entries == nil {
				entries = []conversation.Entry{}
			}
			out.pushJSON(transcriptFrame{Type: "transcript", Entries: entries})
			seen = v
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
