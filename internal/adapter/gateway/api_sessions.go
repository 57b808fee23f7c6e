package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/usecase"
)

type sessionResponse struct {
	usecase.SessionSnapshot
	Context string `json:"context"`
	Created bool   `json:"created"`
}

func newSessionResponse(snap usecase.SessionSnapshot, created bool) sessionResponse {
	return sessionResponse{
		SessionSnapshot: snap,
		Context:         usecase.RenderTranscript(snap.Messages),
		Created:         created,
	}
}

// handleCreateSession accepts an optional {"session_id": "..."} body; an
// existing id is returned as is.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, domain.NewDomainError("gateway.createSession", domain.ErrInvalidInput, err.Error()))
		return
	}

	snap, created, err := s.deps.Sessions.GetOrCreate(r.Context(), req.SessionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, newSessionResponse(snap, created))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Sessions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(snap, false))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := s.deps.Sessions.Delete(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, domain.NewDomainError("gateway.deleteSession", domain.ErrSessionNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}

// handleAppendMessage records one turn in an existing session.
func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.deps.Sessions.AppendMessage(r.Context(), mux.Vars(r)["id"], req.Role, req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
