// Package auth implements enrollment codes and bearer tokens for the gateway.
//
// Access starts with a six-character enrollment code held by a Registry and
// bound to an Identity. Redeeming a code yields the Identity, for which the
// TokenService issues an HS256 JWT carrying sub, name, role, iss, aud, iat,
// nbf and exp. Every protected entry point validates that token with the
// same TokenService and treats all failures alike.
//
// Codes are drawn from crypto/rand over [A-Za-z0-9]. By default a code is
// removed once redeemed; a TTL can additionally expire codes never used.
// Tokens are stateless: there is no server-side session table, so the only
// way to revoke them is to replace the signing secret.
package auth
