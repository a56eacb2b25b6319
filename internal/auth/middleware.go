package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	Email       string
	Authorities []string
}

// HasAuthority reports whether the token granted authority.
func (p *Principal) HasAuthority(authority string) bool {
	return slices.Contains(p.Authorities, authority)
}

// contextKey is an unexported type used for context keys in this package.
// A package-private type means no other package can read or shadow the value.
type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal, or (nil, false)
// for anonymous requests.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// Blacklist reports whether an access token was revoked before it expired.
type Blacklist interface {
	IsBlacklisted(ctx context.Context, rawToken string) (bool, error)
}

// Messages written by Authenticate. Clients see only these; parse errors are
// logged server-side.
const (
	MsgAuthRequired = "Authentication required"
	MsgTokenRevoked = "Token has been revoked"
	MsgInvalidToken = "Invalid token"
)

// Authenticate is the request authenticator for protected routes.
//
// Per request, in order:
//  1. read the bearer token from the Authorization header (absent → 401)
//  2. check the blacklist (listed → 401 "Token has been revoked"), before
//     any signature verification
//  3. verify signature and expiry (failure → 401 with a generic message)
//  4. require the RoleUser authority (missing → 401, same generic message)
//  5. store the Principal in the request context and call next
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes an http.Handler and returns one that wraps it. Chi
// applies them in order: req → M1 → M2 → Handler → M2 → M1 → resp.
func Authenticate(tokens *TokenService, blacklist Blacklist, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", MsgAuthRequired)
				return
			}

			revoked, err := blacklist.IsBlacklisted(r.Context(), raw)
			if err != nil {
				logger.Error("blacklist lookup failed", slog.String("path", r.URL.Path), slog.Any("error", err))
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
				return
			}
			if revoked {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", MsgTokenRevoked)
				return
			}

			principal, err := tokens.Parse(raw)
			if err != nil {
				logger.Debug("rejected access token", slog.String("path", r.URL.Path), slog.Any("error", err))
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", MsgInvalidToken)
				return
			}
			if !principal.HasAuthority(RoleUser) {
				logger.Debug("access token lacks authority",
					slog.String("path", r.URL.Path),
					slog.String("authority", RoleUser),
					slog.Any("authorities", principal.Authorities),
				)
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", MsgInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// writeAuthError writes the same {code, message} body shape as the handler
// package. It lives here because the middleware runs before any handler.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="teamspace"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
