// Package logging provides structured logging for the HTTP gateway.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the gateway.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Security
//
// Never log bearer tokens or the signing secret. Enrollment code values are
// logged only once, for the bootstrap identity at startup.
package logging
