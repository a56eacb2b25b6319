package service

// AuthService is the session lifecycle: register, login, refresh, logout,
// password change and reset, and GitHub sign-in.
//
//	AuthHandler (HTTP) → AuthService → UserRepository / TokenStore (DB)
//	                                 ↘ TokenService (JWT), PasswordService (bcrypt)
//
// SESSION STATES (conceptual, nothing persists the state itself):
//
//	Anonymous ──login──▶ Authenticated ──refresh──▶ Authenticated (new pair)
//	                          │                            │
//	                          └──────────logout────────────┴──▶ LoggedOut

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/teamspace/internal/apperror"
	"github.com/sakif/teamspace/internal/auth"
	"github.com/sakif/teamspace/internal/model"
	"github.com/sakif/teamspace/internal/repository"
)

// Client-facing messages. Login failures share one message so a caller
// cannot tell an unknown email from a wrong password.
const (
	MsgBadCredentials      = "Invalid email or password"
	MsgWrongPassword       = "Current password is incorrect"
	MsgResetRequested      = "If an account exists for that email, a password reset link has been sent"
	MsgRefreshTokenMissing = "refresh token is required"
	MsgManagerGrant        = "only a manager can grant the manager designation"
)

// AuthService handles the authentication business logic.
type AuthService struct {
	users     repository.UserRepository
	tokens    repository.TokenStore
	codec     *auth.TokenService
	passwords *auth.PasswordService
	mailer    Mailer
	logger    *slog.Logger

	// managerEmails start as managers when their account is created.
	managerEmails map[string]bool
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens repository.TokenStore,
	codec *auth.TokenService,
	passwords *auth.PasswordService,
	mailer Mailer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		codec:     codec,
		passwords: passwords,
		mailer:    mailer,
		logger:    logger,
	}
}

// WithManagerEmails sets the addresses that are created with the manager
// designation. It returns s for chaining at construction time.
func (s *AuthService) WithManagerEmails(emails ...string) *AuthService {
	s.managerEmails = make(map[string]bool, len(emails))
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			s.managerEmails[e] = true
		}
	}
	return s
}

// initialDesignation decides the designation of a new account. Manager comes
// only from the configured list; asking for it otherwise is Forbidden.
func (s *AuthService) initialDesignation(email string, requested model.Designation) (model.Designation, error) {
	if s.managerEmails[email] {
		return model.DesignationManager, nil
	}
	if requested == model.DesignationManager {
		return "", apperror.Forbidden(MsgManagerGrant)
	}
	return requested, nil
}

// Session is the credential pair handed to a client after login or refresh.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *model.User
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Email       string
	Password    string
	Name        string
	Designation string
}

// ProfileUpdate holds the profile fields to change; nil means "keep".
type ProfileUpdate struct {
	Name        *string
	Phone       *string
	Title       *string
	AvatarURL   *string
	Designation *string
}

// =========================================================================
// REGISTRATION AND LOGIN
// =========================================================================

// Register creates an account. It does not log the user in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email := normalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)

	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}
	if len(name) > MaxNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	if err := validatePassword("password", in.Password); err != nil {
		return nil, err
	}
	requested, err := parseDesignation(in.Designation)
	if err != nil {
		return nil, err
	}
	designation, err := s.initialDesignation(email, requested)
	if err != nil {
		return nil, err
	}

	// Friendly pre-check; the unique index still decides under a race.
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperror.Conflict("user", email)
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: checking email: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Designation:  designation,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		s.logger.Error("failed to create user", slog.String("email", email), slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID), slog.String("email", email))
	return user, nil
}

// Login verifies credentials and issues a session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("login failed", slog.String("email", email), slog.String("reason", "unknown email"))
			return nil, apperror.Unauthorized(MsgBadCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("password verification failed", slog.String("userID", user.ID), slog.String("error", err.Error()))
		}
		s.logger.Warn("login failed", slog.String("email", email), slog.String("reason", "bad password"))
		return nil, apperror.Unauthorized(MsgBadCredentials)
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return session, nil
}

// LoginWithGitHub signs in the account matching the GitHub email, creating
// it on first use. The new account gets an unguessable password hash, so it
// can only log in through GitHub until the owner resets the password.
func (s *AuthService) LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*Session, error) {
	if gh == nil {
		return nil, errors.New("service/auth: GitHub user must not be nil")
	}
	email := normalizeEmail(gh.Email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "GitHub account has no email")
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		user, err = s.createGitHubUser(ctx, email, gh)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", gh.Login),
	)
	return session, nil
}

func (s *AuthService) createGitHubUser(ctx context.Context, email string, gh *auth.GitHubUser) (*model.User, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("service/auth: generating password: %w", err)
	}
	hash, err := s.passwords.Hash(base64.RawURLEncoding.EncodeToString(secret))
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	name := gh.DisplayName()
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	designation, _ := s.initialDesignation(email, model.DesignationEmployee)
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		AvatarURL:    gh.AvatarURL,
		Designation:  designation,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating GitHub user: %w", err)
	}
	s.logger.Info("user registered via GitHub", slog.String("userID", user.ID), slog.String("login", gh.Login))
	return user, nil
}

// issueSession mints an access token and a fresh refresh token for user.
func (s *AuthService) issueSession(ctx context.Context, user *model.User) (*Session, error) {
	access, err := s.codec.Issue(user.Email, authoritiesFor(user))
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing refresh token: %w", err)
	}
	return &Session{AccessToken: access, RefreshToken: refresh.Token, User: user}, nil
}

// authoritiesFor returns the authorities embedded in a user's access token.
// Manager status is not one of them: it is read from the user record on
// every check, so a designation change applies without re-login.
func authoritiesFor(*model.User) []string {
	return []string{auth.RoleUser}
}

// =========================================================================
// REFRESH, LOGOUT AND REVOCATION
// =========================================================================

// Refresh rotates refreshToken and issues a new pair for its owner.
// A token can be rotated once; replaying it fails with Unauthorized.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, apperror.ValidationFailed("refreshToken", MsgRefreshTokenMissing)
	}

	next, user, err := s.tokens.RotateRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			s.logger.Warn("refresh rejected", slog.String("token", tokenPrefix(refreshToken)))
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: rotating refresh token: %w", err)
	}

	access, err := s.codec.Issue(user.Email, authoritiesFor(user))
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing access token: %w", err)
	}

	s.logger.Info("session refreshed", slog.String("userID", user.ID))
	return &Session{AccessToken: access, RefreshToken: next.Token, User: user}, nil
}

// Logout ends a session. Revoking the refresh token and blacklisting the
// access token are independent: a failure in one is logged and the other
// still runs. Either argument may be empty. Only an access token that still
// verifies is blacklisted; anything else could not authenticate anyway.
func (s *AuthService) Logout(ctx context.Context, refreshToken, accessToken string) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken != "" {
		if err := s.tokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
			level := slog.LevelError
			if errors.Is(err, apperror.ErrNotFound) {
				level = slog.LevelWarn
			}
			s.logger.Log(ctx, level, "logout: revoking refresh token failed",
				slog.String("token", tokenPrefix(refreshToken)),
				slog.String("error", err.Error()),
			)
		}
	}

	blacklisted := false
	if accessToken != "" {
		if _, err := s.codec.Parse(accessToken); err != nil {
			s.logger.Debug("logout: ignoring unverifiable access token", slog.String("error", err.Error()))
		} else if err := s.tokens.BlacklistAccessToken(ctx, accessToken); err != nil {
			s.logger.Error("logout: blacklisting access token failed", slog.String("error", err.Error()))
		} else {
			blacklisted = true
		}
	}

	s.logger.Info("user logged out",
		slog.Bool("refreshToken", refreshToken != ""),
		slog.Bool("accessToken", blacklisted),
	)
}

// RevokeAll revokes every refresh token of the current user and blacklists
// the access token used for the call. It returns the number of refresh
// tokens revoked.
func (s *AuthService) RevokeAll(ctx context.Context, accessToken string) (int64, error) {
	user, err := currentUser(ctx, s.users)
	if err != nil {
		return 0, err
	}

	n, err := s.tokens.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("service/auth: revoking sessions: %w", err)
	}
	if accessToken != "" {
		if err := s.tokens.BlacklistAccessToken(ctx, accessToken); err != nil {
			return n, fmt.Errorf("service/auth: blacklisting access token: %w", err)
		}
	}

	s.logger.Info("all sessions revoked", slog.String("userID", user.ID), slog.Int64("refreshTokens", n))
	return n, nil
}

// =========================================================================
// PASSWORDS
// =========================================================================

// ChangePassword replaces the current user's password after re-checking the
// old one, then signs the user out everywhere else.
func (s *AuthService) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	user, err := currentUser(ctx, s.users)
	if err != nil {
		return err
	}

	if err := s.passwords.Verify(user.PasswordHash, currentPassword); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("password verification failed", slog.String("userID", user.ID), slog.String("error", err.Error()))
		}
		return apperror.Unauthorized(MsgWrongPassword)
	}
	if err := validatePassword("newPassword", newPassword); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("service/auth: updating password: %w", err)
	}

	s.revokeAfterPasswordChange(ctx, user.ID)
	s.logger.Info("password changed", slog.String("userID", user.ID))
	return nil
}

// RequestPasswordReset issues a reset token and mails it. The outcome is
// the same whether or not the email belongs to an account.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email", slog.String("email", email))
			return nil
		}
		return fmt.Errorf("service/auth: looking up user: %w", err)
	}

	prt, err := s.tokens.IssuePasswordResetToken(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("service/auth: issuing reset token: %w", err)
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, prt.Token); err != nil {
		// Same response as for an unknown email; the user can ask again.
		s.logger.Error("sending password reset mail failed", slog.String("userID", user.ID), slog.String("error", err.Error()))
		return nil
	}

	s.logger.Info("password reset issued", slog.String("userID", user.ID))
	return nil
}

// ResetPassword consumes a reset token and sets the new password in the
// same transaction, then revokes every refresh token of the account.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperror.InvalidToken("password reset token is invalid or expired")
	}
	if err := validatePassword("newPassword", newPassword); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}

	user, err := s.tokens.ConsumePasswordResetToken(ctx, token, hash)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidToken) {
			s.logger.Warn("password reset rejected", slog.String("token", tokenPrefix(token)))
			return err
		}
		return fmt.Errorf("service/auth: consuming reset token: %w", err)
	}

	s.revokeAfterPasswordChange(ctx, user.ID)
	s.logger.Info("password reset completed", slog.String("userID", user.ID))
	return nil
}

func (s *AuthService) revokeAfterPasswordChange(ctx context.Context, userID string) {
	n, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("revoking sessions after password change failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("sessions revoked after password change", slog.String("userID", userID), slog.Int64("refreshTokens", n))
}

// =========================================================================
// PROFILE
// =========================================================================

// Me returns the current user's record.
func (s *AuthService) Me(ctx context.Context) (*model.User, error) {
	return currentUser(ctx, s.users)
}

// UpdateProfile applies the non-nil fields of upd to the current user.
func (s *AuthService) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*model.User, error) {
	user, err := currentUser(ctx, s.users)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, apperror.ValidationFailed("name", "name must not be empty")
		}
		if len(name) > MaxNameLength {
			return nil, apperror.ValidationFailed("name",
				fmt.Sprintf("name must be %d characters or less", MaxNameLength))
		}
		user.Name = name
	}
	if upd.Phone != nil {
		user.Phone = strings.TrimSpace(*upd.Phone)
	}
	if upd.Title != nil {
		user.Title = strings.TrimSpace(*upd.Title)
	}
	if upd.AvatarURL != nil {
		user.AvatarURL = strings.TrimSpace(*upd.AvatarURL)
	}
	if upd.Designation != nil {
		d, err := parseDesignation(*upd.Designation)
		if err != nil {
			return nil, err
		}
		if d == model.DesignationManager && !user.IsManager() {
			return nil, apperror.Forbidden(MsgManagerGrant)
		}
		user.Designation = d
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: updating profile: %w", err)
	}

	s.logger.Info("profile updated", slog.String("userID", user.ID))
	return user, nil
}

// SetDesignation changes another account's designation. Only a manager may
// call it; this is how the manager designation spreads past the configured list.
func (s *AuthService) SetDesignation(ctx context.Context, userID, designation string) (*model.User, error) {
	caller, err := currentUser(ctx, s.users)
	if err != nil {
		return nil, err
	}
	if !caller.IsManager() {
		return nil, apperror.Forbidden(MsgManagerGrant)
	}
	d, err := parseDesignation(designation)
	if err != nil {
		return nil, err
	}
	if d == "" {
		return nil, apperror.ValidationFailed("designation", "designation is required")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Designation = d
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: updating designation: %w", err)
	}

	s.logger.Info("designation changed",
		slog.String("userID", user.ID),
		slog.String("designation", string(d)),
		slog.String("by", caller.ID),
	)
	return user, nil
}

// ListUsers returns a page of accounts. Callers gate it behind the manager check.
func (s *AuthService) ListUsers(ctx context.Context, limit, offset int) ([]model.User, error) {
	users, err := s.users.List(ctx, listOptions(limit, offset))
	if err != nil {
		s.logger.Error("failed to list users", slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/auth: listing users: %w", err)
	}
	return users, nil
}
