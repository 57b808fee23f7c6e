package domain

import (
	"context"
	"time"
)

// Request log statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RequestLog records one dispatched request.
type RequestLog struct {
	ID               string    `json:"id"`
	Endpoint         string    `json:"endpoint"`
	SelectedEndpoint string    `json:"selected_endpoint"`
	AgentID          string    `json:"agent_id"`
	RouteReason      string    `json:"route_reason,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	PromptData       string    `json:"prompt_data"`
	Response         string    `json:"response"`
	ExecutionTimeMS  int64     `json:"execution_time_ms"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	Model            string    `json:"model"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
	ClientIP         string    `json:"client_ip,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// LogFilter narrows a request log query. Zero values do not filter.
type LogFilter struct {
	Start            time.Time
	End              time.Time
	Endpoint         string
	SelectedEndpoint string
	Model            string
	Status           string
	Limit            int
	Offset           int
}

// RequestStats aggregates request logs.
type RequestStats struct {
	TotalRequests      int            `json:"total_requests"`
	SuccessCount       int            `json:"success_count"`
	ErrorCount         int            `json:"error_count"`
	AvgExecutionTimeMS float64        `json:"avg_execution_time_ms"`
	TotalInputTokens   int            `json:"total_input_tokens"`
	TotalOutputTokens  int            `json:"total_output_tokens"`
	ByEndpoint         map[string]int `json:"by_endpoint"`
	BySelectedEndpoint map[string]int `json:"by_selected_endpoint"`
	ByModel            map[string]int `json:"by_model"`
}

// RequestLogStore persists request logs.
type RequestLogStore interface {
	InsertLog(ctx context.Context, log RequestLog) error
	GetLog(ctx context.Context, id string) (*RequestLog, error)
	ListLogs(ctx context.Context, filter LogFilter) ([]RequestLog, error)
	Stats(ctx context.Context, filter LogFilter) (*RequestStats, error)
	PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
