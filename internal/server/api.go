package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrWong99/skystories/internal/character"
	"github.com/MrWong99/skystories/internal/conversation"
	"github.com/MrWong99/skystories/internal/observe"
	"github.com/MrWong99/skystories/internal/scene"
	"github.com/MrWong99/skystories/internal/story"
	"github.com/MrWong99/skystories/internal/storygen"
)

// maxAskBody bounds the JSON body of a follow-up question.
const maxAskBody = 4 << 10

// handleListCharacters handles GET /api/characters.
func (s *Server) handleListCharacters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Catalog.List())
}

// handleGetCharacter handles GET /api/characters/{id}.
func (s *Server) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	ch, err := s.cfg.Catalog.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

type scriptResponse struct {
	Character string       `json:"character"`
	Beats     []story.Beat `json:"beats"`
}

// handleGetScript handles GET /api/characters/{id}/script and always returns
// the static script.
func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	script, err := s.cfg.Catalog.Script(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scriptResponse{Character: id, Beats: script.Beats()})
}

type askRequest struct {
	Question string `json:"question"`
}

// handleAsk handles POST /api/characters/{id}/ask.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ans, err := s.gen.Ask(r.Context(), r.PathValue("id"), req.Question)
	switch {
	case errors.Is(err, character.ErrUnknownCharacter):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storygen.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, "question is required")
	case err != nil:
		observe.Logger(r.Context()).Error("ask failed", "character", r.PathValue("id"), "err", err)
		writeError(w, http.StatusInternalServerError, "could not answer")
	default:
		writeJSON(w, http.StatusOK, ans)
	}
}

type sceneResponse struct {
	Scene      scene.Descriptor                        `json:"scene"`
	Visibility map[conversation.Mode]scene.Visibility `json:"visibility"`
	Camera     *scene.Camera                           `json:"camera,omitempty"`
}

// handleScene handles GET /api/scene. A ?width= query adds the camera
// preset for that viewport width.
func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	resp := sceneResponse{Scene: s.cfg.Scene, Visibility: scene.Table()}
	if v := r.URL.Query().Get("width"); v != "" {
		width, err := strconv.Atoi(v)
		if err != nil || width <= 0 {
			writeError(w, http.StatusBadRequest, "width must be a positive integer")
			return
		}
		cam := scene.CameraFor(width)
		resp.Camera = &cam
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSessions handles GET /api/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Sessions.List())
}
