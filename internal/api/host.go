package api

import "net/http"

// handleServer returns the host snapshot. A snapshot that cannot be
// produced yields {}.
func (s *Server) handleServer(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.host.Snapshot(r.Context())
	if err != nil {
		s.logger.Warn("host snapshot unavailable", "host", s.host.Name(), "error", err)
		s.writeJSON(w, struct{}{})
		return
	}
	s.writeJSON(w, snapshot)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"host":     s.host.Name(),
		"sessions": s.hub.Count(),
	})
}
