package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/middleware"
	"github.com/cfieandres/cyphr-tableau/internal/usecase"
)

// routeRequest is the body of POST /route and POST /{endpoint}. data may
// be a JSON string or any JSON value.
type routeRequest struct {
	Data       json.RawMessage `json:"data"`
	TaskType   string          `json:"task_type"`
	Question   string          `json:"question"`
	SessionID  string          `json:"session_id"`
	FormatType string          `json:"format_type"`
	AutoCreate *bool           `json:"auto_create"`
}

// payload returns data as text: a JSON string is unquoted, any other
// value is passed through as its JSON source.
func (req routeRequest) payload() (string, error) {
	raw := strings.TrimSpace(string(req.Data))
	if raw == "" || raw == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(req.Data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return raw, nil
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, "")
}

func (s *Server) handleDirect(w http.ResponseWriter, r *http.Request) {
	endpoint := mux.Vars(r)["endpoint"]
	if endpoint == "api" || strings.HasPrefix(endpoint, "api/") {
		middleware.WriteError(w, http.StatusNotFound, string(domain.CodeNotFound), "not found")
		return
	}
	s.dispatch(w, r, normalizePath(endpoint))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, endpoint string) {
	var req routeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	data, err := req.payload()
	if err != nil {
		s.fail(w, r, domain.NewDomainError("gateway.dispatch", domain.ErrInvalidInput, "data: "+err.Error()))
		return
	}
	if data == "" && strings.TrimSpace(req.Question) == "" {
		s.fail(w, r, domain.NewDomainError("gateway.dispatch", domain.ErrInvalidInput, "data or question is required"))
		return
	}
	format, err := usecase.ParseFormatType(req.FormatType)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.deps.Dispatcher.Handle(r.Context(), usecase.DispatchRequest{
		Endpoint:       endpoint,
		TaskType:       req.TaskType,
		Data:           data,
		Question:       req.Question,
		SessionID:      req.SessionID,
		RequireSession: req.AutoCreate != nil && !*req.AutoCreate,
		Format:         format,
		RequestPath:    r.URL.Path,
		ClientIP:       middleware.ClientIP(r, s.cfg.TrustedProxies),
		RequestID:      middleware.RequestIDFrom(r.Context()),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// endpointRequest is the body of POST /api/endpoints. "endpoint" and
// "name" are accepted as aliases of endpoint_path and display_name.
type endpointRequest struct {
	domain.AgentDescriptor
	Endpoint string `json:"endpoint"`
	Name     string `json:"name"`
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": s.deps.Registry.List()})
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Registry.Get(normalizePath(mux.Vars(r)["path"]))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpsertEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d := req.AgentDescriptor
	if d.EndpointPath == "" {
		d.EndpointPath = req.Endpoint
	}
	if d.DisplayName == "" {
		d.DisplayName = req.Name
	}
	if strings.TrimSpace(d.EndpointPath) != "" {
		d.EndpointPath = normalizePath(d.EndpointPath)
	}
	// Timestamps are owned by the registry.
	d.CreatedAt, d.UpdatedAt = time.Time{}, time.Time{}

	saved, replaced, err := s.deps.Registry.Upsert(r.Context(), d)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	status, verb := http.StatusCreated, "created"
	if replaced {
		status, verb = http.StatusOK, "updated"
	}
	writeJSON(w, status, map[string]any{
		"status":   "success",
		"message":  fmt.Sprintf("Endpoint %s %s successfully", saved.EndpointPath, verb),
		"endpoint": saved,
	})
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	path := normalizePath(mux.Vars(r)["path"])
	removed, err := s.deps.Registry.Remove(r.Context(), path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !removed {
		s.fail(w, r, domain.NewDomainError("gateway.deleteEndpoint", domain.ErrEndpointNotFound, path))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Endpoint '%s' deleted successfully", path),
	})
}

// normalizePath adds the leading slash endpoint paths are keyed by.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
