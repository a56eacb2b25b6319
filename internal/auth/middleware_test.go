package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBlacklist is an in-memory Blacklist that counts lookups.
type fakeBlacklist struct {
	listed map[string]bool
	err    error
	calls  int
}

func (f *fakeBlacklist) IsBlacklisted(_ context.Context, raw string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.listed[raw], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// protectedHandler echoes the principal email, proving the middleware let
// the request through with a populated context.
func protectedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, "no principal", http.StatusTeapot)
			return
		}
		_, _ = io.WriteString(w, p.Email)
	})
}

func serveWithAuth(t *testing.T, bl *fakeBlacklist, header string) *httptest.ResponseRecorder {
	t.Helper()
	ts := newTestTokenService(t)
	h := Authenticate(ts, bl, discardLogger())(protectedHandler())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["message"]
}

func TestAuthenticate_ValidToken(t *testing.T) {
	token, err := newTestTokenService(t).Issue("a@x.com", []string{RoleUser})
	require.NoError(t, err)

	rec := serveWithAuth(t, &fakeBlacklist{}, "Bearer "+token)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@x.com", rec.Body.String())
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	bl := &fakeBlacklist{}
	rec := serveWithAuth(t, bl, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, MsgAuthRequired, decodeMessage(t, rec))
	assert.Zero(t, bl.calls)
}

func TestAuthenticate_BlacklistedBeforeParse(t *testing.T) {
	// A garbage token that is blacklisted must be rejected as revoked, which
	// shows the blacklist is consulted before signature verification.
	bl := &fakeBlacklist{listed: map[string]bool{"garbage": true}}
	rec := serveWithAuth(t, bl, "Bearer garbage")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, MsgTokenRevoked, decodeMessage(t, rec))
}

func TestAuthenticate_InvalidTokenIsGeneric(t *testing.T) {
	rec := serveWithAuth(t, &fakeBlacklist{}, "Bearer not.a.jwt")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, MsgInvalidToken, decodeMessage(t, rec))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestAuthenticate_RequiresUserAuthority(t *testing.T) {
	ts := newTestTokenService(t)
	for name, authorities := range map[string][]string{
		"none":  nil,
		"other": {"ROLE_AUDIT"},
	} {
		t.Run(name, func(t *testing.T) {
			token, err := ts.Issue("a@x.com", authorities)
			require.NoError(t, err)

			rec := serveWithAuth(t, &fakeBlacklist{}, "Bearer "+token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, MsgInvalidToken, decodeMessage(t, rec))
		})
	}
}

func TestPrincipal_HasAuthority(t *testing.T) {
	p := &Principal{Email: "a@x.com", Authorities: []string{RoleUser, "ROLE_AUDIT"}}
	assert.True(t, p.HasAuthority(RoleUser))
	assert.True(t, p.HasAuthority("ROLE_AUDIT"))
	assert.False(t, p.HasAuthority("ROLE_ADMIN"))
	assert.False(t, (&Principal{}).HasAuthority(RoleUser))
}

func TestAuthenticate_BlacklistFailure(t *testing.T) {
	rec := serveWithAuth(t, &fakeBlacklist{err: errors.New("db down")}, "Bearer x")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", tc.header)
		got, ok := BearerToken(req)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.want, got, tc.header)
	}
}

func TestPrincipalFromContext_Anonymous(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), &Principal{Email: "a@x.com"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", p.Email)
}
