package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	// ErrValidation rejects a malformed agent descriptor. The registry is
	// left untouched when it is returned.
	ErrValidation = fmt.Errorf("validation failed")
	// ErrNoRoute means no descriptor could handle a request.
	ErrNoRoute = fmt.Errorf("no route found")
	// ErrEndpointNotFound is returned for lookups of an unknown endpoint path.
	ErrEndpointNotFound = fmt.Errorf("endpoint not found: %w", ErrNotFound)
	// ErrSessionNotFound is returned when a caller references an unknown
	// session and auto-create is disabled.
	ErrSessionNotFound = fmt.Errorf("session not found")
	// ErrLogNotFound is returned for an unknown request log id.
	ErrLogNotFound = fmt.Errorf("request log not found: %w", ErrNotFound)

	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrStorage          = fmt.Errorf("storage operation failed")

	// Upstream (LLM) errors. ErrUpstreamUnavailable is transient; the
	// others are fatal for the request.
	ErrUpstreamUnavailable = fmt.Errorf("upstream unavailable")
	ErrRateLimit           = fmt.Errorf("rate limit exceeded: %w", ErrUpstreamUnavailable)
	ErrContextOverflow     = fmt.Errorf("context window exceeded")
	ErrAuthInvalid         = fmt.Errorf("authentication failed")
	ErrProviderError       = fmt.Errorf("provider error")

	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrForbidden         = fmt.Errorf("forbidden: insufficient permissions")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Upsert")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
// The core itself never retries; this is for callers and circuit breakers.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category surfaced to API callers.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeDuplicate           ErrorCode = "DUPLICATE"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeValidation          ErrorCode = "VALIDATION_ERROR"
	CodeNoRoute             ErrorCode = "NO_ROUTE_FOUND"
	CodeEndpointNotFound    ErrorCode = "ENDPOINT_NOT_FOUND"
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeLogNotFound         ErrorCode = "LOG_NOT_FOUND"
	CodeProviderNotFound    ErrorCode = "PROVIDER_NOT_FOUND"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeStorage             ErrorCode = "STORAGE"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeContextOverflow     ErrorCode = "CONTEXT_OVERFLOW"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeProviderError       ErrorCode = "PROVIDER_ERROR"
	CodeGatewayAuth         ErrorCode = "GATEWAY_AUTH"
	CodeForbidden           ErrorCode = "FORBIDDEN"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrDuplicate:    CodeDuplicate,
	ErrTimeout:      CodeTimeout,
	ErrInvalidInput: CodeInvalidInput,

	ErrValidation:          CodeValidation,
	ErrNoRoute:             CodeNoRoute,
	ErrEndpointNotFound:    CodeEndpointNotFound,
	ErrSessionNotFound:     CodeSessionNotFound,
	ErrLogNotFound:         CodeLogNotFound,
	ErrProviderNotFound:    CodeProviderNotFound,
	ErrConfigLoad:          CodeConfigLoad,
	ErrStorage:             CodeStorage,
	ErrUpstreamUnavailable: CodeUpstreamUnavailable,
	ErrRateLimit:           CodeRateLimit,
	ErrContextOverflow:     CodeContextOverflow,
	ErrAuthInvalid:         CodeAuthInvalid,
	ErrProviderError:       CodeProviderError,
	ErrGatewayAuthFailed:   CodeGatewayAuth,
	ErrForbidden:           CodeForbidden,
}

// codePrecedence lists the codes checked when walking a wrapped chain.
// More specific sentinels come before the categories they wrap.
var codePrecedence = []error{
	ErrGatewayAuthFailed,
	ErrRateLimit,
	ErrEndpointNotFound,
	ErrLogNotFound,
	ErrValidation,
	ErrNoRoute,
	ErrSessionNotFound,
	ErrProviderNotFound,
	ErrConfigLoad,
	ErrStorage,
	ErrUpstreamUnavailable,
	ErrContextOverflow,
	ErrAuthInvalid,
	ErrProviderError,
	ErrForbidden,
	ErrNotFound,
	ErrDuplicate,
	ErrTimeout,
	ErrInvalidInput,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for _, sentinel := range codePrecedence {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying error.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
