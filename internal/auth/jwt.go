// Package auth provides access-token signing, password hashing, the request
// authenticator middleware and the GitHub identity provider.
//
// SESSION MODEL OVERVIEW:
//  1. Login (password or GitHub) yields two credentials:
//     - a short-lived access token (a signed JWT, never stored server-side)
//     - a long-lived refresh token (an opaque random string stored in the DB)
//  2. Every protected request carries "Authorization: Bearer <access token>".
//     The Authenticate middleware checks the blacklist, verifies the
//     signature and expiry, and puts the Principal in the request context.
//  3. When the access token expires the client trades its refresh token for a
//     new pair. The old refresh token is revoked in the same transaction.
//  4. Logout revokes the refresh token and blacklists the access token, so a
//     still-unexpired access token stops working immediately.
//
// JWT STRUCTURE (three base64url parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header:  {"alg":"HS256","typ":"JWT"}
//	- Payload: {"email":"a@x.com","authorities":"ROLE_USER","sub":"a@x.com","jti":...,"iat":...,"exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/sakif/teamspace/internal/apperror"
)

// RoleUser is the authority every authenticated account carries.
const RoleUser = "ROLE_USER"

// MinSecretLength is the shortest signing secret NewTokenService accepts.
const MinSecretLength = 16

// TokenService signs and parses access tokens.
//
// The secret is loaded once at startup and injected here; it never changes for
// the lifetime of the process, so a TokenService is safe for concurrent use.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService.
// Example secret: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret, issuer string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, errors.New("auth: access token TTL must be positive")
	}
	return &TokenService{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of issued access tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// claims is the JWT payload. Authorities travel as one comma-joined string.
type claims struct {
	Email       string `json:"email"`
	Authorities string `json:"authorities"`
	jwt.RegisteredClaims
}

// Issue creates a signed access token for the given identity.
//
// Signing algorithm: HS256 (HMAC-SHA256), symmetric: the same secret signs
// and verifies.
func (s *TokenService) Issue(email string, authorities []string) (string, error) {
	if email == "" {
		return "", errors.New("auth: cannot issue a token without an email")
	}
	now := s.now()

	c := claims{
		Email:       email,
		Authorities: strings.Join(authorities, ","),
		RegisteredClaims: jwt.RegisteredClaims{
			// jti keeps two tokens issued in the same second distinct, so
			// blacklisting one never blocks the other.
			ID:        xid.New().String(),
			Subject:   email,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns the identity it carries.
//
// Any failure (malformed, bad signature, wrong issuer, expired, missing
// email) is reported as apperror.ErrInvalidToken. The wrapped cause is for
// server logs only.
//
// ALGORITHM CONFUSION ATTACK:
// Without pinning the algorithm an attacker could send a token with
// "alg":"none" or an RSA header. jwt.WithValidMethods rejects both.
func (s *TokenService) Parse(tokenStr string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("auth: %w", tokenError("token expired", err))
		}
		return nil, fmt.Errorf("auth: %w", tokenError("invalid token", err))
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, apperror.InvalidToken("invalid token claims")
	}
	if c.Email == "" {
		return nil, apperror.InvalidToken("token has no email claim")
	}

	return &Principal{Email: c.Email, Authorities: splitAuthorities(c.Authorities)}, nil
}

// tokenError keeps the jwt cause in the chain next to the InvalidToken kind.
func tokenError(message string, cause error) error {
	return fmt.Errorf("%w: %w", apperror.InvalidToken(message), cause)
}

func splitAuthorities(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
