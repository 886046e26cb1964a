package localstate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MaxPort is the largest valid TCP port.
const MaxPort = 65535

// PortResult describes how the listening port was resolved.
type PortResult struct {
	Port int

	// Created is true when the port file was missing and has been written.
	Created bool

	// Invalid holds the parse failure when the file content was rejected
	// and the default was used instead.
	Invalid error
}

// LoadOrCreatePort reads the listening port from path.
//
// A missing file is created holding def. Content that is not an integer in
// [0, MaxPort] yields def with Invalid set; the file is left untouched so an
// operator can see and fix it. Only I/O failures are returned as errors.
func LoadOrCreatePort(path string, def int) (PortResult, error) {
	if def < 0 || def > MaxPort {
		return PortResult{}, fmt.Errorf("default port %d out of range", def)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	switch {
	case err == nil:
		port, parseErr := ParsePort(string(data))
		if parseErr != nil {
			return PortResult{Port: def, Invalid: parseErr}, nil
		}
		return PortResult{Port: port}, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return PortResult{}, fmt.Errorf("reading port file: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return PortResult{}, fmt.Errorf("creating port directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(def)), 0o644); err != nil { //nolint:gosec // port is not sensitive
		return PortResult{}, fmt.Errorf("writing port file: %w", err)
	}

	return PortResult{Port: def, Created: true}, nil
}

// ParsePort parses a decimal port number, ignoring surrounding whitespace.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", strings.TrimSpace(s), err)
	}
	if port < 0 || port > MaxPort {
		return 0, fmt.Errorf("port %d out of range 0-%d", port, MaxPort)
	}
	return port, nil
}
