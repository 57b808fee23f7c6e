package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/middleware"
)

// statusByCode maps domain error codes to HTTP statuses. Codes not listed
// are internal errors.
var statusByCode = map[domain.ErrorCode]int{
	domain.CodeInvalidInput:        http.StatusBadRequest,
	domain.CodeValidation:          http.StatusBadRequest,
	domain.CodeNotFound:            http.StatusNotFound,
	domain.CodeEndpointNotFound:    http.StatusNotFound,
	domain.CodeSessionNotFound:     http.StatusNotFound,
	domain.CodeLogNotFound:         http.StatusNotFound,
	domain.CodeNoRoute:             http.StatusNotFound,
	domain.CodeDuplicate:           http.StatusConflict,
	domain.CodeGatewayAuth:         http.StatusUnauthorized,
	domain.CodeForbidden:           http.StatusForbidden,
	domain.CodeContextOverflow:     http.StatusRequestEntityTooLarge,
	domain.CodeUpstreamUnavailable: http.StatusServiceUnavailable,
	domain.CodeRateLimit:           http.StatusServiceUnavailable,
	domain.CodeProviderNotFound:    http.StatusServiceUnavailable,
	domain.CodeTimeout:             http.StatusGatewayTimeout,
	domain.CodeAuthInvalid:         http.StatusBadGateway,
	domain.CodeProviderError:       http.StatusBadGateway,
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	if status, ok := statusByCode[domain.ErrorCodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError writes err as the error envelope. Internal errors keep
// their detail out of the response.
func writeDomainError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	code := domain.ErrorCodeOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		if code == domain.CodeUnknown {
			code = "INTERNAL"
		}
		msg = "internal server error"
	}
	middleware.WriteError(w, status, string(code), msg)
}

// decodeJSON reads a JSON body into v. An oversized body is reported as
// 413 and anything unparseable as invalid input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
			return false
		}
		middleware.WriteError(w, http.StatusBadRequest, string(domain.CodeInvalidInput), "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
