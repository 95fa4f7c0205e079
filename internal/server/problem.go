package server

import (
	"encoding/json"
	"net/http"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound    = "https://servicedesk.io/problems/not-found"
	ProblemTypeBadRequest  = "https://servicedesk.io/problems/bad-request"
	ProblemTypeInternal    = "https://servicedesk.io/problems/internal-error"
	ProblemTypeConflict    = "https://servicedesk.io/problems/conflict"
	ProblemTypeRateLimited = "https://servicedesk.io/problems/rate-limited"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// problemWriter returns a helper that writes a fixed problem type. The title
// is the status text.
func problemWriter(typ string, status int) func(w http.ResponseWriter, detail, instance string) {
	return func(w http.ResponseWriter, detail, instance string) {
		WriteProblem(w, Problem{
			Type:     typ,
			Title:    http.StatusText(status),
			Status:   status,
			Detail:   detail,
			Instance: instance,
		})
	}
}

// Helpers for the problem types above. Each takes the detail message and the
// request path as instance.
var (
	NotFound      = problemWriter(ProblemTypeNotFound, http.StatusNotFound)
	BadRequest    = problemWriter(ProblemTypeBadRequest, http.StatusBadRequest)
	InternalError = problemWriter(ProblemTypeInternal, http.StatusInternalServerError)
	Conflict      = problemWriter(ProblemTypeConflict, http.StatusConflict)
	RateLimited   = problemWriter(ProblemTypeRateLimited, http.StatusTooManyRequests)
)
