package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultValidity is the bearer token lifetime when none is configured.
const DefaultValidity = 365 * 24 * time.Hour

// Claims is the bearer token payload: the registered claims plus the
// identity's display name and role.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// Identity returns the identity the token was issued for.
func (c *Claims) Identity() Identity {
	return Identity{
		UserID:   c.Subject,
		UserName: c.Name,
		RoleID:   c.Role,
	}
}

// TokenConfig fixes the claims every token is issued and checked against.
type TokenConfig struct {
	Issuer   string
	Audience string
	Validity time.Duration
}

// TokenService signs and verifies HS256 bearer tokens with one shared secret.
//
// A token is valid when its signature verifies, issuer and audience match
// exactly, and not_before <= now < expires_at. Timestamps have second
// precision and no leeway is applied.
//
// Thread Safety:
//   - TokenService holds no mutable state after construction and is safe
//     for concurrent use.
type TokenService struct {
	secret []byte
	cfg    TokenConfig
	parser *jwt.Parser
	now    func() time.Time
}

// NewTokenService creates a TokenService bound to secret. The secret is
// copied; later changes to the caller's slice have no effect.
func NewTokenService(secret []byte, cfg TokenConfig) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, ErrSecretEmpty
	}
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultValidity
	}

	s := &TokenService{
		secret: append([]byte(nil), secret...),
		cfg:    cfg,
		now:    time.Now,
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// Issue signs a token for id, valid from now for the configured validity.
// The output depends only on id and the current second. An identity without
// a UserID is refused with ErrNoSubject, since Parse rejects such tokens.
func (s *TokenService) Issue(id Identity) (string, error) {
	if id.UserID == "" {
		return "", ErrNoSubject
	}
	now := s.now().Truncate(time.Second)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   id.UserID,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.Validity)),
		},
		Name: id.UserName,
		Role: id.RoleID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenString and returns its claims. Every failure wraps
// ErrTokenInvalid; the underlying cause is kept for server-side logging only.
func (s *TokenService) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	token, err := s.parser.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.NotBefore == nil {
		return nil, fmt.Errorf("%w: missing not_before", ErrTokenInvalid)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return claims, nil
}

// Validate reports whether tokenString is currently valid. It never
// distinguishes why a token was rejected.
func (s *TokenService) Validate(tokenString string) bool {
	_, err := s.Parse(tokenString)
	return err == nil
}

// IsExpired reports whether err came from an expired token. Intended for
// diagnostics logging, never for client responses.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
