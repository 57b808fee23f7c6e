package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

// DefaultDaysToKeep is the retention used by DELETE /api/logs without a
// days_to_keep parameter.
const DefaultDaysToKeep = 30

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLogFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logs, err := s.deps.Logs.ListLogs(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLogFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.deps.Logs.Stats(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	l, err := s.deps.Logs.GetLog(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handlePurgeLogs(w http.ResponseWriter, r *http.Request) {
	days := DefaultDaysToKeep
	if v := r.URL.Query().Get("days_to_keep"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(w, r, domain.NewDomainError("gateway.purgeLogs", domain.ErrInvalidInput,
				fmt.Sprintf("days_to_keep %q must be a non-negative integer", v)))
			return
		}
		days = n
	}

	cutoff := s.now().UTC().AddDate(0, 0, -days)
	n, err := s.deps.Logs.PurgeLogsBefore(r.Context(), cutoff)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("request logs purged", "deleted", n, "days_to_keep", days)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n, "days_to_keep": days})
}

// parseLogFilter reads start, end, endpoint, selected_endpoint, model,
// status, limit and offset. Dates are RFC 3339 or YYYY-MM-DD; a bare end
// date covers the whole day.
func parseLogFilter(q url.Values) (domain.LogFilter, error) {
	f := domain.LogFilter{
		Endpoint:         q.Get("endpoint"),
		SelectedEndpoint: q.Get("selected_endpoint"),
		Model:            q.Get("model"),
		Status:           q.Get("status"),
	}

	var err error
	if f.Start, err = parseDate(q.Get("start"), false); err != nil {
		return f, invalidParam("start", err)
	}
	if f.End, err = parseDate(q.Get("end"), true); err != nil {
		return f, invalidParam("end", err)
	}
	if f.Limit, err = parseNonNegative(q.Get("limit")); err != nil {
		return f, invalidParam("limit", err)
	}
	if f.Offset, err = parseNonNegative(q.Get("offset")); err != nil {
		return f, invalidParam("offset", err)
	}
	return f, nil
}

func parseDate(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or YYYY-MM-DD")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Microsecond)
	}
	return t, nil
}

func parseNonNegative(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("want a non-negative integer")
	}
	return n, nil
}

func invalidParam(name string, err error) error {
	return domain.NewDomainError("gateway.parseLogFilter", domain.ErrInvalidInput, name+": "+err.Error())
}
