package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/skystories/internal/session"
	"github.com/MrWong99/skystories/internal/starfield"
)

// maxFPS caps the frame rate a browser may request.
const maxFPS = 60

type starfieldFrame struct {
	Type string `json:"type"`
	starfield.Frame
}

type resizeMessage struct {
	Type   string  `json:"type"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// handleStarfield handles GET /ws/starfield. The browser sends
// {"type":"resize","width":w,"height":h} whenever its viewport changes and
// receives one frame per tick. Optional query parameters: width and height
// for the initial viewport, fps, and parallax=0|1.
func (s *Server) handleStarfield(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := s.cfg.Starfield
	if v := q.Get("parallax"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "parallax must be a boolean")
			return
		}
		params.Parallax = on
	}
	interval, err := frameInterval(q.Get("fps"), s.cfg.FrameInterval)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	width, err := viewportSize("width", q.Get("width"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	height, err := viewportSize("height", q.Get("height"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	field, err := starfield.NewField(params, rand.Uint64())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, h, ok := s.beginSession(w, r, session.KindStarfield, "")
	if !ok {
		return
	}
	defer h.End()

	conn, err := s.accept(w, r)
	if err != nil {
		slog.Warn("websocket accept failed", "route", "starfield", "err", err)
		return
	}
	defer conn.CloseNow()

	done := s.metrics.SessionStarted(ctx, string(session.KindStarfield))
	defer done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	animator := starfield.NewAnimator(field, func(ctx context.Context, f starfield.Frame) error {
		if err := wsjson.Write(ctx, conn, starfieldFrame{Type: "frame", Frame: f}); err != nil {
			return err
		}
		s.metrics.FramesSent.Add(ctx, 1)
		return nil
	}, starfield.WithFrameInterval(interval))
	if width > 0 && height > 0 {
		animator.Resize(width, height)
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- readResizes(ctx, conn, animator)
		cancel()
	}()

	err = animator.Run(ctx)
	cancel()
	if err == nil {
		err = <-readErr
	}
	logSessionEnd(ctx, err)
	conn.Close(websocket.StatusNormalClosure, "")
}

// readResizes applies viewport changes until the socket closes. Other
// messages are ignored.
func readResizes(ctx context.Context, conn *websocket.Conn, a *starfield.Animator) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg resizeMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "resize" {
			continue
		}
		a.Resize(msg.Width, msg.Height)
	}
}

// frameInterval parses an fps query value; empty keeps def.
func frameInterval(fps string, def time.Duration) (time.Duration, error) {
	if fps == "" {
		return def, nil
	}
	n, err := strconv.Atoi(fps)
	if err != nil || n < 1 || n > maxFPS {
		return 0, errFPS
	}
	return time.Second / time.Duration(n), nil
}

var errFPS = fmt.Errorf("fps must be between 1 and %d", maxFPS)

// viewportSize parses an initial viewport dimension. Empty means unknown.
func viewportSize(name, v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number", name)
	}
	return n, nil
}
