package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/thaeryn/httpgateway/internal/audit"
	"github.com/thaeryn/httpgateway/internal/auth"
)

// loginResponse is the body of a successful code redemption.
type loginResponse struct {
	Token string `json:"_auth"`
}

// codeResponse is the body of a successful code issuance.
type codeResponse struct {
	Code string `json:"code"`
}

// handleLogin serves /api/login. Only POST can redeem a code; any other
// method gets the code-4 denial.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeUnauthorized(w, CodeWrongMethod)
		return
	}

	remote := clientIP(r)
	if s.limiter != nil && !s.limiter.Allow(remote) {
		s.loginFailed(w, r, resultThrottled)
		return
	}

	identity, err := s.registry.Redeem(r.URL.Query().Get("code"))
	if err != nil {
		s.logger.Debug("login rejected", "reason", err, "remote_addr", remote)
		s.loginFailed(w, r, resultFailure)
		return
	}

	token, err := s.tokens.Issue(identity)
	if err != nil {
		s.logger.Error("token signing failed", "user_id", identity.UserID, "error", err)
		s.loginFailed(w, r, resultFailure)
		return
	}

	s.metrics.incLogin(resultSuccess)
	if s.telemetry != nil {
		s.telemetry.WriteLogin(resultSuccess)
	}
	s.auditLog(&audit.AuditLog{
		Action:     audit.ActionLogin,
		Result:     audit.ResultSuccess,
		UserID:     identity.UserID,
		UserName:   identity.UserName,
		RoleID:     identity.RoleID,
		Source:     audit.SourceAPI,
		RemoteAddr: remote,
	})
	s.logger.Info("login succeeded", "user_id", identity.UserID)

	s.writeJSON(w, loginResponse{Token: token})
}

// loginFailed records a failed attempt and writes the code-2 denial.
func (s *Server) loginFailed(w http.ResponseWriter, r *http.Request, result string) {
	s.metrics.incLogin(result)
	if s.telemetry != nil {
		s.telemetry.WriteLogin(result)
	}
	s.auditLog(&audit.AuditLog{
		Action:     audit.ActionLogin,
		Result:     audit.ResultFailure,
		Source:     audit.SourceAPI,
		RemoteAddr: clientIP(r),
		Details:    map[string]any{"reason": result},
	})
	s.writeUnauthorized(w, CodeBadEnrollment)
}

// handleIssueCode mints a code. The body names the identity; an empty
// body issues for the caller's own identity.
func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFromContext(r.Context())
	identity := caller

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, ErrBadRequest, CodeBadRequest)
		return
	}
	if len(body) > 0 {
		var req auth.Identity
		if err := json.Unmarshal(body, &req); err != nil || req.UserID == "" {
			s.writeError(w, ErrBadRequest, CodeBadRequest)
			return
		}
		identity = req
	}

	code, err := s.IssueCode(r.Context(), identity, audit.SourceAPI)
	if err != nil {
		s.writeError(w, ErrInternal, CodeInternal)
		return
	}

	s.logger.Info("enrollment code issued by admin",
		"issued_by", caller.UserID,
		"user_id", identity.UserID,
	)
	s.writeJSON(w, codeResponse{Code: code})
}
