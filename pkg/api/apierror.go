// Package api is the HTTP admin and query surface for the aggregator, with
// RFC 7807 Problem Detail error responses.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/quorumlabs/votegrid/pkg/power"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs). All API
// error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// RequestID links to the request log for this occurrence.
	RequestID string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:      fmt.Sprintf("https://votegrid.dev/errors/%d", status),
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		RequestID: w.Header().Get("X-Request-ID"),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteUnauthorized writes a 401 response.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusUnauthorized, "Unauthorized", detail)
}

// statusFor maps the core error kinds onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, power.ErrAccessDenied):
		return http.StatusForbidden, "Access Denied"
	case errors.Is(err, power.ErrActionDenied):
		return http.StatusForbidden, "Action Denied"
	case errors.Is(err, power.ErrNoPowerSource):
		return http.StatusNotFound, "No Power Source"
	case errors.Is(err, power.ErrIndexOutOfRange):
		return http.StatusNotFound, "Index Out Of Range"
	case errors.Is(err, power.ErrSourceAlreadyAdded):
		return http.StatusConflict, "Source Already Added"
	case errors.Is(err, power.ErrTooManySources):
		return http.StatusConflict, "Too Many Sources"
	case errors.Is(err, power.ErrSameWeight):
		return http.StatusConflict, "Same Weight"
	case errors.Is(err, power.ErrSourceEnabled):
		return http.StatusConflict, "Source Already Enabled"
	case errors.Is(err, power.ErrSourceDisabled):
		return http.StatusConflict, "Source Already Disabled"
	case errors.Is(err, power.ErrZeroWeight):
		return http.StatusBadRequest, "Zero Weight"
	case errors.Is(err, power.ErrInvalidSourceKind):
		return http.StatusBadRequest, "Invalid Source Kind"
	case errors.Is(err, power.ErrInvalidSource):
		return http.StatusUnprocessableEntity, "Invalid Source"
	case errors.Is(err, power.ErrSourceCallFailed):
		return http.StatusBadGateway, "Source Call Failed"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

// WriteDomainError maps a core error to its HTTP representation.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := statusFor(err)
	WriteError(w, r, status, title, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
