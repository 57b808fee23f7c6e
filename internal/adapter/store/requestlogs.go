package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

const logColumns = `id, endpoint, selected_endpoint, agent_id, route_reason, session_id,
	prompt_data, response, execution_time_ms, input_tokens, output_tokens,
	model, status, error, client_ip, timestamp`

// defaultLogLimit caps ListLogs when the filter sets no limit.
const defaultLogLimit = 100

// InsertLog stores one request log.
func (s *SQLiteStore) InsertLog(ctx context.Context, l domain.RequestLog) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO request_logs ("+logColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		l.ID, l.Endpoint, l.SelectedEndpoint, l.AgentID, l.RouteReason, l.SessionID,
		l.PromptData, l.Response, l.ExecutionTimeMS, l.InputTokens, l.OutputTokens,
		l.Model, l.Status, l.Error, l.ClientIP, formatTime(l.Timestamp),
	)
	if err != nil {
		return storageErr("SQLiteStore.InsertLog", err)
	}
	return nil
}

// GetLog returns one request log by id.
func (s *SQLiteStore) GetLog(ctx context.Context, id string) (*domain.RequestLog, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+logColumns+" FROM request_logs WHERE id = ?", id)
	l, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("SQLiteStore.GetLog", domain.ErrLogNotFound, id)
	}
	if err != nil {
		return nil, storageErr("SQLiteStore.GetLog", err)
	}
	return &l, nil
}

// ListLogs returns logs matching filter, newest first.
func (s *SQLiteStore) ListLogs(ctx context.Context, filter domain.LogFilter) ([]domain.RequestLog, error) {
	where, args := logWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	offset := max(filter.Offset, 0)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+logColumns+" FROM request_logs"+where+" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?",
		args...)
	if err != nil {
		return nil, storageErr("SQLiteStore.ListLogs", err)
	}
	defer rows.Close()

	logs := []domain.RequestLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, storageErr("SQLiteStore.ListLogs", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("SQLiteStore.ListLogs", err)
	}
	return logs, nil
}

// Stats aggregates the logs matching filter. Limit and offset are ignored.
func (s *SQLiteStore) Stats(ctx context.Context, filter domain.LogFilter) (*domain.RequestStats, error) {
	where, args := logWhere(filter)

	stats := &domain.RequestStats{
		ByEndpoint:         map[string]int{},
		BySelectedEndpoint: map[string]int{},
		ByModel:            map[string]int{},
	}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			AVG(execution_time_ms),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0)
		FROM request_logs`+where,
		append([]any{domain.StatusSuccess, domain.StatusError}, args...)...,
	).Scan(&stats.TotalRequests, &stats.SuccessCount, &stats.ErrorCount, &avg,
		&stats.TotalInputTokens, &stats.TotalOutputTokens)
	if err != nil {
		return nil, storageErr("SQLiteStore.Stats", err)
	}
	stats.AvgExecutionTimeMS = avg.Float64

	groups := []struct {
		column string
		into   map[string]int
	}{
		{"endpoint", stats.ByEndpoint},
		{"selected_endpoint", stats.BySelectedEndpoint},
		{"model", stats.ByModel},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, where, args, g.into); err != nil {
			return nil, storageErr("SQLiteStore.Stats", err)
		}
	}
	return stats, nil
}

// countBy fills into with row counts grouped by column. column is never
// caller supplied.
func (s *SQLiteStore) countBy(ctx context.Context, column, where string, args []any, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM request_logs"+where+" GROUP BY "+column, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		if key != "" {
			into[key] = n
		}
	}
	return rows.Err()
}

// PurgeLogsBefore deletes logs older than cutoff and returns how many
// were removed.
func (s *SQLiteStore) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM request_logs WHERE timestamp < ?", formatTime(cutoff))
	if err != nil {
		return 0, storageErr("SQLiteStore.PurgeLogsBefore", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("SQLiteStore.PurgeLogsBefore", err)
	}
	return n, nil
}

func logWhere(f domain.LogFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !f.Start.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatTime(f.Start))
	}
	if !f.End.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, formatTime(f.End))
	}
	for _, eq := range []struct{ column, value string }{
		{"endpoint", f.Endpoint},
		{"selected_endpoint", f.SelectedEndpoint},
		{"model", f.Model},
		{"status", f.Status},
	} {
		if eq.value != "" {
			conds = append(conds, eq.column+" = ?")
			args = append(args, eq.value)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanLog(row scanner) (domain.RequestLog, error) {
	var (
		l  domain.RequestLog
		ts string
	)
	err := row.Scan(&l.ID, &l.Endpoint, &l.SelectedEndpoint, &l.AgentID, &l.RouteReason, &l.SessionID,
		&l.PromptData, &l.Response, &l.ExecutionTimeMS, &l.InputTokens, &l.OutputTokens,
		&l.Model, &l.Status, &l.Error, &l.ClientIP, &ts)
	if err != nil {
		return l, err
	}
	l.Timestamp = parseTime(ts)
	return l, nil
}
