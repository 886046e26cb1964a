package auth

import "errors"

// Identity is the user/role triple a code is bound to and a token carries.
// It is treated as immutable once created.
type Identity struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	RoleID   string `json:"role_id"`
}

// Sentinel errors for auth operations.
var (
	ErrCodeNotFound  = errors.New("enrollment code not found")
	ErrCodeMalformed = errors.New("enrollment code malformed")
	ErrTokenInvalid  = errors.New("invalid token")
	ErrSecretEmpty   = errors.New("signing secret is empty")
	ErrNoSubject     = errors.New("identity has no user id")
)
