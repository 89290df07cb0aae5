// Package api is the HTTP adapter for the gridsplit ledger, with RFC
// 7807 Problem Detail error responses.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gridsplit/gridsplit/pkg/ledger"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
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
	// TraceID links to the request for correlation.
	TraceID string `json:"trace_id,omitempty"`
	// Field names the failing input field for validation problems.
	Field string `json:"field,omitempty"`
	// BlockingPurchaseIDs lists the uncontributed earlier purchases for
	// sequencing problems.
	BlockingPurchaseIDs []string `json:"blocking_purchase_ids,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, r *http.Request, p *ProblemDetail) {
	p.Type = fmt.Sprintf("https://gridsplit.dev/errors/%d", p.Status)
	if r != nil {
		p.Instance = r.URL.Path
		p.TraceID = w.Header().Get("X-Request-ID")
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, nil, &ProblemDetail{Title: title, Status: status, Detail: detail})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteLedgerError maps the typed ledger error taxonomy onto Problem
// Detail responses. Unknown errors become opaque 500s.
func WriteLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *ledger.ValidationError
		seq        *ledger.SequencingError
		constraint *ledger.ConstraintError
		duplicate  *ledger.DuplicateError
		permission *ledger.PermissionError
		notFound   *ledger.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		writeProblem(w, r, &ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: validation.Reason,
			Field:  validation.Field,
		})
	case errors.As(err, &seq):
		writeProblem(w, r, &ProblemDetail{
			Title:               "Sequencing Violation",
			Status:              http.StatusConflict,
			Detail:              err.Error(),
			BlockingPurchaseIDs: seq.BlockingPurchaseIDs,
		})
	case errors.As(err, &duplicate):
		writeProblem(w, r, &ProblemDetail{
			Title:  "Duplicate Contribution",
			Status: http.StatusConflict,
			Detail: err.Error(),
		})
	case errors.As(err, &constraint):
		writeProblem(w, r, &ProblemDetail{
			Title:  "Constraint Violation",
			Status: http.StatusConflict,
			Detail: constraint.Detail,
		})
	case errors.As(err, &permission):
		writeProblem(w, r, &ProblemDetail{
			Title:  "Forbidden",
			Status: http.StatusForbidden,
			Detail: permission.Reason,
		})
	case errors.As(err, &notFound):
		writeProblem(w, r, &ProblemDetail{
			Title:  "Not Found",
			Status: http.StatusNotFound,
			Detail: err.Error(),
		})
	default:
		WriteInternal(w, err)
	}
}
