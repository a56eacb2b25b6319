package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/sakif/teamspace/internal/auth"
	"github.com/sakif/teamspace/internal/config"
	"github.com/sakif/teamspace/internal/repository/gormdb"
	"github.com/sakif/teamspace/internal/server"
	"github.com/sakif/teamspace/internal/service"
)

// captureMailer keeps the last reset token mailed to each address.
type captureMailer struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = map[string]string{}
	}
	m.tokens[email] = token
	return nil
}

func (m *captureMailer) token(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[email]
}

// countingLimiter is an in-memory middleware.Counter.
type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *countingLimiter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[key]++
	return c.counts[key], nil
}

type testServer struct {
	t      *testing.T
	ts     *httptest.Server
	mailer *captureMailer
	tokens *gormdb.TokenStore
}

// bootstrapManager is the one address the test server creates as a manager.
const bootstrapManager = "boss@x.com"

type option func(*config.Config, *server.Deps)

func withRateLimit(max int) option {
	return func(cfg *config.Config, deps *server.Deps) {
		cfg.RateLimitMax = max
		cfg.RateLimitWindow = time.Minute
		deps.RateLimiter = &countingLimiter{}
	}
}

// newTestServer wires the real router, services and an in-memory SQLite.
func newTestServer(t *testing.T, opts ...option) *testServer {
	t.Helper()

	db, err := gormdb.Open(context.Background(), gormdb.Options{
		Driver:   gormdb.DriverSQLite,
		DSN:      ":memory:",
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec, err := auth.NewTokenService("test-secret-at-least-16-chars!!", "teamspace", 200*time.Minute)
	require.NoError(t, err)

	tokens := db.Tokens(gormdb.TokenPolicy{RefreshTTL: 24 * time.Hour, ResetTTL: time.Hour, MaxRefreshPerUser: 5})
	mailer := &captureMailer{}
	authService := service.NewAuthService(db.Users(), tokens, codec, auth.NewPasswordServiceForTest(), mailer, log).
		WithManagerEmails(bootstrapManager)
	access := service.NewAccessService(db.Users(), db.Projects(), log)

	cfg := &config.Config{
		Port:               0,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		DBDriver:           config.DriverSQLite,
	}
	deps := server.Deps{
		DB:        db,
		Tokens:    codec,
		Blacklist: tokens,
		Auth:      authService,
		Access:    access,
		Projects:  service.NewProjectService(db.Projects(), db.Users(), access, log),
		Tasks:     service.NewTaskService(db.Tasks(), db.Projects(), db.Users(), access, log),
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	ts := httptest.NewServer(server.New(cfg, deps, log).Handler())
	t.Cleanup(ts.Close)
	return &testServer{t: t, ts: ts, mailer: mailer, tokens: tokens}
}

type response struct {
	status int
	body   map[string]any
	raw    []byte
}

func (s *testServer) do(method, path, token string, body any) response {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := s.ts.Client().Do(req)
	require.NoError(s.t, err)
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	require.NoError(s.t, err)

	out := response{status: res.StatusCode, raw: raw}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(s.t, json.Unmarshal(raw, &out.body))
	}
	return out
}

func (s *testServer) register(email, designation string) {
	s.t.Helper()
	res := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "password1", "name": "Test User", "designation": designation,
	})
	require.Equal(s.t, http.StatusCreated, res.status, string(res.raw))
}

// login returns the access and refresh tokens.
func (s *testServer) login(email, password string) (string, string) {
	s.t.Helper()
	res := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(s.t, http.StatusOK, res.status, string(res.raw))
	return res.body["token"].(string), res.body["refreshToken"].(string)
}

// =========================================================================
// REGISTRATION AND LOGIN
// =========================================================================

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	res := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": "Alice@Example.com", "password": "password1", "name": "Alice",
	})
	require.Equal(t, http.StatusCreated, res.status)
	assert.Equal(t, "alice@example.com", res.body["email"])
	assert.NotContains(t, string(res.raw), "password")

	res = s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": "alice@example.com", "password": "password1", "name": "Alice",
	})
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "conflict", res.body["code"])

	res = s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": "bob@example.com", "password": "short", "name": "Bob",
	})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "password", res.body["field"])

	res = s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": "carol@example.com", "password": "password1", "name": "Carol", "designation": "ceo",
	})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "designation", res.body["field"])

	res = s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": "dave@example.com", "password": "password1", "name": "Dave", "designation": "manager",
	})
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, service.MsgManagerGrant, res.body["message"])
}

func TestLogin_FailuresLookTheSame(t *testing.T) {
	s := newTestServer(t)
	s.register("a@x.com", "")

	wrongPassword := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "a@x.com", "password": "wrong-pass"})
	unknownEmail := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "nobody@x.com", "password": "password1"})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.status)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.status)
	assert.Equal(t, wrongPassword.body, unknownEmail.body)
}

func TestLogin_ReturnsTokenPairAndUser(t *testing.T) {
	s := newTestServer(t)
	s.register("a@x.com", "employee")

	res := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "A@X.com", "password": "password1"})
	require.Equal(t, http.StatusOK, res.status)
	assert.NotEmpty(t, res.body["token"])
	assert.NotEmpty(t, res.body["refreshToken"])

	user := res.body["user"].(map[string]any)
	assert.Equal(t, "a@x.com", user["email"])
	assert.Equal(t, "employee", user["designation"])
}

// =========================================================================
// AUTHENTICATED REQUESTS
// =========================================================================

func TestMe(t *testing.T) {
	s := newTestServer(t)
	s.register("a@x.com", "")
	access, _ := s.login("a@x.com", "password1")

	res := s.do(http.MethodGet, "/auth/me", access, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "a@x.com", res.body["email"])

	res = s.do(http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, auth.MsgAuthRequired, res.body["message"])

	res = s.do(http.MethodGet, "/auth/me", "not.a.jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, auth.MsgInvalidToken, res.body["message"])
}

func TestUpdateMe(t *testing.T) {
	s := newTestServer(t)
	s.register("a@x.com", "")
	access, _ := s.login("a@x.com", "password1")

	res := s.do(http.MethodPost, "/auth/me", access, map[string]string{"title": "Engineer", "designation": "Employee"})
	require.Equal(t, http.StatusOK, res.status, string(res.raw))
	assert.Equal(t, "Engineer", res.body["title"])
	assert.Equal(t, "employee", res.body["designation"])
	assert.Equal(t, "Test User", res.body["name"])
}

func TestUpdateMe_CannotSelfPromote(t *testing.T) {
	s := newTestServer(t)
	s.register("a@x.com", "employee")
	access, _ := s.login("a@x.com", "password1")

	res := s.do(http.MethodPost, "/auth/me", access, map[string]string{"designation": "Manager"})
	assert.Equal(t, http.StatusForbidden, res.status, string(res.raw))

	assert.Equal(t, "employee", s.do(http.MethodGet, "/auth/me", access, nil).body["designation"])
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/users", access, nil).status)
}

// =========================================================================
// REFRESH, LOGOUT, REVOCATION
// =========================================================================

func TestRefresh_TokenWorksOnce(t *testing.T) {
	s := newTestServer(t)
	s.register("a@x.com", "")
	_, refresh := s.login("a@x.com", "password1")

	first := s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, first.status)
	assert.NotEqual(t, refresh, first.body["refreshToken"])

	second := s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, second.status)

	// The successor still works.
	third := s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": first.body["refreshToken"].(string)})
	assert.Equal(t, http.StatusOK, third.status)
}

func TestRefresh_MissingToken(t *testing.T) {
	s := newTestServer(t)

	res := s.do(http.MethodPost, "/auth/refresh", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "refreshToken", res.body["field"])
}

func TestLogout_RevokesBothTokens(t *testing.T) {
	s := newTestServer(t)
	s.register("a@x.com", "")
	access, refresh := s.login("a@x.com", "password1")

	res := s.do(http.MethodPost, "/auth/logout", access, map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, res.status)

	res = s.do(http.MethodGet, "/auth/me", access, nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, auth.MsgTokenRevoked, res.body["message"])

	res = s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, res.status)

	// A new login is unaffected.
	fresh, _ := s.login("a@x.com", "password1")
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/auth/me", fresh, nil).status)
}

func TestLogout_AlwaysSucceeds(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/auth/logout", "", nil).status)
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/auth/logout", "", map[string]string{"refreshToken": "unknown"}).status)
}

func TestLogout_AnonymousBearerIsNotBlacklisted(t *testing.T) {
	s := newTestServer(t)

	for _, bearer := range []string{"garbage", "not.a.jwt"} {
		res := s.do(http.MethodPost, "/auth/logout", bearer, nil)
		require.Equal(t, http.StatusOK, res.status)

		listed, err := s.tokens.IsBlacklisted(context.Background(), bearer)
		require.NoError(t, err)
		assert.False(t, listed, bearer)
	}
}

func TestRevokeAll(t *testing.T) {
	s := newTestServer(t)
	s.register("a@x.com", "")
	access, refreshA := s.login("a@x.com", "password1")
	_, refreshB := s.login("a@x.com", "password1")

	res := s.do(http.MethodPost, "/auth/revoke-all", access, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.EqualValues(t, 2, res.body["revoked"])

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/auth/me", access, nil).status)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refreshA}).status)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refreshB}).status)
}

// =========================================================================
// PASSWORDS
// =========================================================================

func TestPasswordChange(t *testing.T) {
	s := newTestServer(t)
	s.register("a@x.com", "")
	access, refresh := s.login("a@x.com", "password1")

	res := s.do(http.MethodPost, "/auth/password-change", access, map[string]string{
		"currentPassword": "wrong-pass", "newPassword": "password2",
	})
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = s.do(http.MethodPost, "/auth/password-change", access, map[string]string{
		"currentPassword": "password1", "newPassword": "password2",
	})
	require.Equal(t, http.StatusOK, res.status)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refresh}).status)
	s.login("a@x.com", "password2")
}

func TestPasswordReset_Flow(t *testing.T) {
	s := newTestServer(t)
	s.register("a@x.com", "")

	known := s.do(http.MethodPost, "/auth/password-reset-request", "", map[string]string{"email": "a@x.com"})
	unknown := s.do(http.MethodPost, "/auth/password-reset-request", "", map[string]string{"email": "nobody@x.com"})
	require.Equal(t, http.StatusOK, known.status)
	require.Equal(t, http.StatusOK, unknown.status)
	assert.Equal(t, known.body, unknown.body)
	assert.Equal(t, service.MsgResetRequested, known.body["message"])

	token := s.mailer.token("a@x.com")
	require.NotEmpty(t, token)

	res := s.do(http.MethodPost, "/auth/password-reset", "", map[string]string{"token": token, "newPassword": "password2"})
	require.Equal(t, http.StatusOK, res.status)
	s.login("a@x.com", "password2")

	res = s.do(http.MethodPost, "/auth/password-reset", "", map[string]string{"token": token, "newPassword": "password3"})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "invalid_token", res.body["code"])
}

// =========================================================================
// AUTHORIZATION
// =========================================================================

func TestUsers_ManagerOnly(t *testing.T) {
	s := newTestServer(t)
	s.register(bootstrapManager, "")
	s.register("dev@x.com", "employee")
	boss, _ := s.login(bootstrapManager, "password1")
	dev, _ := s.login("dev@x.com", "password1")

	res := s.do(http.MethodGet, "/users", dev, nil)
	assert.Equal(t, http.StatusForbidden, res.status)

	res = s.do(http.MethodGet, "/users?limit=10", boss, nil)
	require.Equal(t, http.StatusOK, res.status)
	var users []map[string]any
	require.NoError(t, json.Unmarshal(res.raw, &users))
	assert.Len(t, users, 2)

	res = s.do(http.MethodGet, "/users?limit=abc", boss, nil)
	assert.Equal(t, http.StatusBadRequest, res.status)
}

func TestUsers_SetDesignation(t *testing.T) {
	s := newTestServer(t)
	s.register(bootstrapManager, "")
	s.register("dev@x.com", "employee")
	s.register("peer@x.com", "employee")
	boss, _ := s.login(bootstrapManager, "password1")
	dev, _ := s.login("dev@x.com", "password1")
	peer, _ := s.login("peer@x.com", "password1")
	devID := s.do(http.MethodGet, "/auth/me", dev, nil).body["id"].(string)
	peerID := s.do(http.MethodGet, "/auth/me", peer, nil).body["id"].(string)

	res := s.do(http.MethodPost, "/users/"+peerID+"/designation", dev, map[string]string{"designation": "manager"})
	assert.Equal(t, http.StatusForbidden, res.status)

	res = s.do(http.MethodPost, "/users/"+devID+"/designation", boss, map[string]string{"designation": "manager"})
	require.Equal(t, http.StatusOK, res.status, string(res.raw))
	assert.Equal(t, "manager", res.body["designation"])

	// Same access token, new designation.
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/users", dev, nil).status)

	res = s.do(http.MethodPost, "/users/"+peerID+"/designation", boss, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, res.status)
	res = s.do(http.MethodPost, "/users/missing/designation", boss, map[string]string{"designation": "employee"})
	assert.Equal(t, http.StatusNotFound, res.status)
}

func TestProjects_AdminChecks(t *testing.T) {
	s := newTestServer(t)
	s.register("owner@x.com", "")
	s.register("helper@x.com", "")
	s.register("stranger@x.com", "")
	owner, _ := s.login("owner@x.com", "password1")
	helper, _ := s.login("helper@x.com", "password1")
	stranger, _ := s.login("stranger@x.com", "password1")

	res := s.do(http.MethodPost, "/projects", owner, map[string]string{"name": "Apollo"})
	require.Equal(t, http.StatusCreated, res.status, string(res.raw))
	projectID := res.body["id"].(string)
	path := "/projects/" + projectID

	// Non-members can neither read nor modify.
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, path, stranger, nil).status)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPut, path, stranger, map[string]string{"name": "Mine"}).status)

	helperID := s.do(http.MethodGet, "/auth/me", helper, nil).body["id"].(string)

	// A plain member may read but not modify.
	res = s.do(http.MethodPost, path+"/members", owner, map[string]string{"userId": helperID, "role": "member"})
	require.Equal(t, http.StatusOK, res.status, string(res.raw))
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, helper, nil).status)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPut, path, helper, map[string]string{"name": "Renamed"}).status)

	// Promoted to admin, the same request succeeds.
	res = s.do(http.MethodPost, path+"/members", owner, map[string]string{"userId": helperID, "role": "admin"})
	require.Equal(t, http.StatusOK, res.status)
	res = s.do(http.MethodPut, path, helper, map[string]string{"name": "Renamed"})
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "Renamed", res.body["name"])

	// Only the fields sent change.
	res = s.do(http.MethodPut, path, owner, map[string]string{"description": "lunar"})
	require.Equal(t, http.StatusOK, res.status, string(res.raw))
	res = s.do(http.MethodPut, path, owner, map[string]string{"name": "Artemis"})
	require.Equal(t, http.StatusOK, res.status, string(res.raw))
	assert.Equal(t, "Artemis", res.body["name"])
	assert.Equal(t, "lunar", res.body["description"])

	// Owner cannot be granted.
	res = s.do(http.MethodPost, path+"/members", owner, map[string]string{"userId": helperID, "role": "owner"})
	assert.Equal(t, http.StatusBadRequest, res.status)

	res = s.do(http.MethodGet, "/projects/does-not-exist", owner, nil)
	assert.Equal(t, http.StatusNotFound, res.status)
}

func TestTasks(t *testing.T) {
	s := newTestServer(t)
	s.register("owner@x.com", "")
	owner, _ := s.login("owner@x.com", "password1")

	res := s.do(http.MethodPost, "/projects", owner, map[string]string{"name": "Apollo"})
	require.Equal(t, http.StatusCreated, res.status)
	path := "/projects/" + res.body["id"].(string) + "/tasks"

	res = s.do(http.MethodPost, path, owner, map[string]string{"title": "Write docs"})
	require.Equal(t, http.StatusCreated, res.status, string(res.raw))
	assert.Equal(t, "todo", res.body["status"])
	taskID := res.body["id"].(string)

	res = s.do(http.MethodPatch, path+"/"+taskID, owner, map[string]string{"status": "done"})
	require.Equal(t, http.StatusOK, res.status, string(res.raw))
	assert.Equal(t, "done", res.body["status"])

	res = s.do(http.MethodPatch, path+"/"+taskID, owner, map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, res.status)

	res = s.do(http.MethodGet, path, owner, nil)
	require.Equal(t, http.StatusOK, res.status)
	var tasks []map[string]any
	require.NoError(t, json.Unmarshal(res.raw, &tasks))
	assert.Len(t, tasks, 1)
}

// =========================================================================
// INFRASTRUCTURE ROUTES
// =========================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	res := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "ok", res.body["status"])
}

func TestRateLimit_Login(t *testing.T) {
	s := newTestServer(t, withRateLimit(2))

	for i := 0; i < 2; i++ {
		res := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "a@x.com", "password": "password1"})
		assert.Equal(t, http.StatusUnauthorized, res.status)
	}
	res := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "a@x.com", "password": "password1"})
	assert.Equal(t, http.StatusTooManyRequests, res.status)
	assert.Equal(t, "rate_limited", res.body["code"])

	// Refresh is not limited.
	res = s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": "x"})
	assert.Equal(t, http.StatusUnauthorized, res.status)
}

func TestGitHubRoutes_NotMountedWithoutProvider(t *testing.T) {
	s := newTestServer(t)

	res := s.do(http.MethodGet, "/auth/github/login", "", nil)
	assert.Equal(t, http.StatusNotFound, res.status)
}
