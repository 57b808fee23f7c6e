package gateway

import (
	"net/http"
)

// StatusResponse is the JSON body returned by GET /.
type StatusResponse struct {
	Service       string `json:"service"`
	Version       string `json:"version"`
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Agents        int    `json:"agents"`
	Sessions      int    `json:"sessions"`
}

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Service:       "cyphr",
		Version:       s.deps.Version,
		Status:        "running",
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
	}
	if s.deps.Registry != nil {
		resp.Agents = s.deps.Registry.Len()
	}
	if s.deps.Sessions != nil {
		resp.Sessions = s.deps.Sessions.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
