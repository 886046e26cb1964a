package api

import (
	"encoding/json"
	"net/http"
)

// Denial codes returned in the "code" field of error bodies. They let a
// client UI branch without revealing why a credential was rejected.
const (
	CodeInternal      = 1
	CodeBadEnrollment = 2 // bad, missing or throttled enrollment code
	CodeBadToken      = 3 // bad or missing bearer token
	CodeWrongMethod   = 4 // login attempted with a method other than POST
	CodeForbidden     = 5 // valid token, role not allowed
	CodeBadRequest    = 6
	CodeUnavailable   = 7 // optional subsystem not configured
)

// Error strings paired with the denial codes.
const (
	ErrUnauthorized = "Unauthorized"
	ErrForbidden    = "Forbidden"
	ErrBadRequest   = "BadRequest"
	ErrInternal     = "Internal"
	ErrUnavailable  = "Unavailable"
)

// Error is the body of every failed request.
type Error struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// emptyBody is sent when a response cannot be serialised.
var emptyBody = []byte("{}")

// writeJSON serialises v and writes it with status 200. Gateway routes
// signal failures in the body, never with the status line. A value that
// cannot be serialised is replaced by {}.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Debug("response serialisation failed", "error", err)
		body = emptyBody
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(body)
}

// writeError writes an Error body.
func (s *Server) writeError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, Error{Error: message, Code: code})
}

// writeUnauthorized denies with ErrUnauthorized and code.
func (s *Server) writeUnauthorized(w http.ResponseWriter, code int) {
	s.writeError(w, ErrUnauthorized, code)
}
