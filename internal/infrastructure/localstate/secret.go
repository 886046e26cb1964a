package localstate

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SecretSize is the signing secret length in bytes.
const SecretSize = 32

// ErrSecretCorrupt is returned when the secret file exists but does not hold
// a valid hex-encoded secret of at least SecretSize bytes.
var ErrSecretCorrupt = errors.New("secret file is corrupt")

// LoadOrCreateSecret returns the signing secret stored at path, generating
// and persisting a fresh one when the file does not exist.
//
// The second return value reports whether a new secret was created.
func LoadOrCreateSecret(path string) ([]byte, bool, error) {
	return loadOrCreateSecret(path, rand.Reader)
}

func loadOrCreateSecret(path string, entropy io.Reader) ([]byte, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	switch {
	case err == nil:
		secret, decodeErr := decodeSecret(data)
		if decodeErr != nil {
			return nil, false, fmt.Errorf("%w: %s: %w", ErrSecretCorrupt, path, decodeErr)
		}
		return secret, false, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, false, fmt.Errorf("reading secret file: %w", err)
	}

	secret := make([]byte, SecretSize)
	if _, err := io.ReadFull(entropy, secret); err != nil {
		return nil, false, fmt.Errorf("generating secret: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, false, fmt.Errorf("creating secret directory: %w", err)
		}
	}

	// O_EXCL: never overwrite a secret another process created first.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // path comes from trusted config
	if err != nil {
		return nil, false, fmt.Errorf("creating secret file: %w", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(secret)); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("writing secret file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, false, fmt.Errorf("closing secret file: %w", err)
	}

	return secret, true, nil
}

func decodeSecret(data []byte) ([]byte, error) {
	text := strings.TrimSpace(string(data))
	secret, err := hex.DecodeString(text)
	if err != nil {
		return nil, err
	}
	if len(secret) < SecretSize {
		return nil, fmt.Errorf("secret is %d bytes, need at least %d", len(secret), SecretSize)
	}
	return secret, nil
}
