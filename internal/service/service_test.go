package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/sakif/teamspace/internal/auth"
	"github.com/sakif/teamspace/internal/model"
	"github.com/sakif/teamspace/internal/repository/gormdb"
)

// fakeMailer records reset mails instead of sending them.
type fakeMailer struct {
	mu   sync.Mutex
	sent map[string][]string // email → tokens
	err  error
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.sent == nil {
		m.sent = map[string][]string{}
	}
	m.sent[email] = append(m.sent[email], token)
	return nil
}

func (m *fakeMailer) last(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := m.sent[email]
	if len(tokens) == 0 {
		return ""
	}
	return tokens[len(tokens)-1]
}

// testEnv wires every service against one in-memory SQLite database.
type testEnv struct {
	db       *gormdb.DB
	codec    *auth.TokenService
	mailer   *fakeMailer
	auth     *AuthService
	access   *AccessService
	projects *ProjectService
	tasks    *TaskService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gormdb.Open(context.Background(), gormdb.Options{
		Driver:   gormdb.DriverSQLite,
		DSN:      ":memory:",
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	codec, err := auth.NewTokenService("test-secret-at-least-16-chars!!", "teamspace", 200*time.Minute)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := db.Tokens(gormdbPolicy())
	mailer := &fakeMailer{}
	access := NewAccessService(db.Users(), db.Projects(), log)

	return &testEnv{
		db:       db,
		codec:    codec,
		mailer:   mailer,
		auth:     NewAuthService(db.Users(), tokens, codec, auth.NewPasswordServiceForTest(), mailer, log),
		access:   access,
		projects: NewProjectService(db.Projects(), db.Users(), access, log),
		tasks:    NewTaskService(db.Tasks(), db.Projects(), db.Users(), access, log),
	}
}

// register creates an account with password "password1". Registration
// cannot grant manager, so managers are promoted straight in the store.
func (e *testEnv) register(t *testing.T, email string, designation model.Designation) *model.User {
	t.Helper()
	requested := designation
	if designation == model.DesignationManager {
		requested = model.DesignationEmployee
	}
	u, err := e.auth.Register(context.Background(), RegisterInput{
		Email:       email,
		Password:    "password1",
		Name:        "User " + email,
		Designation: string(requested),
	})
	require.NoError(t, err)
	if designation == model.DesignationManager {
		u.Designation = designation
		require.NoError(t, e.db.Users().Update(context.Background(), u))
	}
	return u
}

// as returns a context authenticated as the given email.
func as(email string) context.Context {
	return auth.WithPrincipal(context.Background(), &auth.Principal{Email: email, Authorities: []string{auth.RoleUser}})
}

func gormdbPolicy() gormdb.TokenPolicy {
	return gormdb.TokenPolicy{RefreshTTL: 7 * 24 * time.Hour, ResetTTL: time.Hour, MaxRefreshPerUser: 5}
}
