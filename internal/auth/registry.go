package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"
)

// CodeLength is the number of characters in an enrollment code.
const CodeLength = 6

// codeAlphabet holds the characters codes are drawn from.
const codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Bytes at or above this bound are rejected so that byte % len(codeAlphabet)
// stays uniform.
const codeRejectBound = 256 - 256%len(codeAlphabet)

// maxGenerateAttempts bounds retries when a fresh code collides with an active one.
const maxGenerateAttempts = 16

// RegistryConfig controls code lifetime.
type RegistryConfig struct {
	// SingleUse removes a code on its first successful redemption.
	SingleUse bool

	// TTL expires unredeemed codes. Zero means codes live until restart.
	TTL time.Duration
}

type codeEntry struct {
	identity  Identity
	expiresAt time.Time
}

// Registry maps enrollment codes to identities. It is the only place codes
// are held; nothing is persisted.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Registry struct {
	cfg     RegistryConfig
	entropy io.Reader
	now     func() time.Time

	mu    sync.Mutex
	codes map[string]codeEntry
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:     cfg,
		entropy: rand.Reader,
		now:     time.Now,
		codes:   make(map[string]codeEntry),
	}
}

// Generate creates a new code for id, stores it and returns it. The code is
// unique among the codes currently held. An error means the random source
// failed, which callers should treat as fatal.
func (r *Registry) Generate(id Identity) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for range maxGenerateAttempts {
		code, err := randomCode(r.entropy)
		if err != nil {
			return "", err
		}
		if _, exists := r.codes[code]; exists {
			continue
		}

		entry := codeEntry{identity: id}
		if r.cfg.TTL > 0 {
			entry.expiresAt = r.now().Add(r.cfg.TTL)
		}
		r.codes[code] = entry
		return code, nil
	}

	return "", fmt.Errorf("generating code: %d collisions in a row", maxGenerateAttempts)
}

// Redeem returns the identity bound to code.
//
// It returns ErrCodeMalformed when code is not CodeLength characters and
// ErrCodeNotFound when the code is unknown or expired. With SingleUse the
// code is removed on success.
func (r *Registry) Redeem(code string) (Identity, error) {
	if len(code) != CodeLength {
		return Identity{}, ErrCodeMalformed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.codes[code]
	if !ok || r.expired(entry) {
		return Identity{}, ErrCodeNotFound
	}
	if r.cfg.SingleUse {
		delete(r.codes, code)
	}
	return entry.identity, nil
}

// Len returns the number of codes held, including expired ones not yet purged.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// Purge removes expired codes and returns how many were removed.
func (r *Registry) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for code, entry := range r.codes {
		if r.expired(entry) {
			delete(r.codes, code)
			removed++
		}
	}
	return removed
}

// RunPurge calls Purge every interval until ctx is cancelled. It returns
// immediately when codes never expire.
func (r *Registry) RunPurge(ctx context.Context, interval time.Duration) {
	if r.cfg.TTL <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Purge()
		}
	}
}

// expired must be called with r.mu held.
func (r *Registry) expired(e codeEntry) bool {
	return !e.expiresAt.IsZero() && !r.now().Before(e.expiresAt)
}

// randomCode draws CodeLength characters from codeAlphabet using rejection
// sampling over src.
func randomCode(src io.Reader) (string, error) {
	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)

	for len(out) < CodeLength {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", fmt.Errorf("reading random source: %w", err)
		}
		for _, b := range buf {
			if int(b) >= codeRejectBound {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == CodeLength {
				break
			}
		}
	}

	return string(out), nil
}

// IsCodeFormat reports whether s has the shape of an enrollment code.
func IsCodeFormat(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}
