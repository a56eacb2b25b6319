package handler

import (
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/teamspace/internal/auth"
	"github.com/sakif/teamspace/internal/model"
	"github.com/sakif/teamspace/internal/service"
)

// AuthHandler exposes the session lifecycle over HTTP.
//
// HANDLER RESPONSIBILITIES:
//   - decode and validate the JSON body
//   - call one AuthService method
//   - translate the result (or error) into a response
//
// Business rules live in service.AuthService; nothing here touches the DB.
type AuthHandler struct {
	auth     *service.AuthService
	github   *auth.GitHubProvider // nil when GitHub login is not configured
	validate *Validator
	respond  *Responder
	logger   *slog.Logger
}

func NewAuthHandler(
	authService *service.AuthService,
	github *auth.GitHubProvider,
	validate *Validator,
	respond *Responder,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:     authService,
		github:   github,
		validate: validate,
		respond:  respond,
		logger:   logger,
	}
}

// =========================================================================
// REQUEST / RESPONSE BODIES
// =========================================================================

type registerRequest struct {
	Email       string `json:"email"       validate:"required,email,max=255"`
	Password    string `json:"password"    validate:"required,min=8,max=72"`
	Name        string `json:"name"        validate:"required,max=100"`
	Designation string `json:"designation" validate:"max=32"`
}

type loginRequest struct {
	Email    string `json:"email"    validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword"     validate:"required,min=8,max=72"`
}

type passwordResetRequestRequest struct {
	Email string `json:"email" validate:"required"`
}

type passwordResetRequest struct {
	Token       string `json:"token"       validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

type updateProfileRequest struct {
	Name        *string `json:"name"        validate:"omitempty,max=100"`
	Phone       *string `json:"phone"       validate:"omitempty,max=32"`
	Title       *string `json:"title"       validate:"omitempty,max=100"`
	AvatarURL   *string `json:"avatarUrl"   validate:"omitempty,max=500"`
	Designation *string `json:"designation" validate:"omitempty,max=32"`
}

// SessionResponse is returned by login, refresh and the GitHub callback.
type SessionResponse struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
	User         *model.User `json:"user"`
}

func sessionResponse(s *service.Session) SessionResponse {
	return SessionResponse{Token: s.AccessToken, RefreshToken: s.RefreshToken, User: s.User}
}

// =========================================================================
// REGISTRATION, LOGIN, REFRESH, LOGOUT
// =========================================================================

// HandleRegister creates an account.
//
// HTTP: POST /auth/register → 201 + user
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	user, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		Name:        req.Name,
		Designation: req.Designation,
	})
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// HandleLogin verifies credentials and returns a token pair.
//
// HTTP: POST /auth/login → 200 + {token, refreshToken, user}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

// HandleRefresh trades a refresh token for a new pair.
//
// HTTP: POST /auth/refresh → 200 + {token, refreshToken, user}
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := h.validate.decodeJSON(w, r, &req, true); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	session, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

// HandleLogout revokes the refresh token in the body and blacklists the
// bearer token when it verifies. It always answers 200.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := h.validate.decodeJSON(w, r, &req, true); err != nil {
		// A malformed body still ends whatever session the header names.
		h.logger.Debug("logout: ignoring unreadable body", slog.String("error", err.Error()))
	}
	accessToken, _ := auth.BearerToken(r)

	h.auth.Logout(r.Context(), req.RefreshToken, accessToken)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// HandleRevokeAll signs the caller out of every session.
//
// HTTP: POST /auth/revoke-all (bearer)
func (h *AuthHandler) HandleRevokeAll(w http.ResponseWriter, r *http.Request) {
	accessToken, _ := auth.BearerToken(r)
	n, err := h.auth.RevokeAll(r.Context(), accessToken)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// =========================================================================
// CURRENT USER
// =========================================================================

// HandleMe returns the authenticated user.
//
// HTTP: GET /auth/me (bearer)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Me(r.Context())
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleUpdateMe changes profile fields; absent fields are kept.
//
// HTTP: POST /auth/me (bearer)
func (h *AuthHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}

	user, err := h.auth.UpdateProfile(r.Context(), service.ProfileUpdate{
		Name:        req.Name,
		Phone:       req.Phone,
		Title:       req.Title,
		AvatarURL:   req.AvatarURL,
		Designation: req.Designation,
	})
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// =========================================================================
// PASSWORDS
// =========================================================================

// HandlePasswordChange re-checks the current password and sets a new one.
//
// HTTP: POST /auth/password-change (bearer)
func (h *AuthHandler) HandlePasswordChange(w http.ResponseWriter, r *http.Request) {
	var req passwordChangeRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password changed successfully"})
}

// HandlePasswordResetRequest always answers 200 with the same message.
//
// HTTP: POST /auth/password-reset-request
func (h *AuthHandler) HandlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequestRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: service.MsgResetRequested})
}

// HandlePasswordReset consumes a reset token.
//
// HTTP: POST /auth/password-reset
func (h *AuthHandler) HandlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset"})
}

// =========================================================================
// GITHUB LOGIN
// =========================================================================

const oauthStateCookie = "oauth_state"

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state is stored in a short-lived HttpOnly cookie and must come
// back unchanged on the callback.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/github",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow and returns the same token
// pair as a password login.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: invalid OAuth state")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "validation_error", Message: "invalid OAuth state"})
		return
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/auth/github", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: "unauthorized", Message: "GitHub authorization was denied"})
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "validation_error", Message: "missing OAuth code"})
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Code: "upstream_error", Message: "GitHub authentication failed"})
		return
	}

	session, err := h.auth.LoginWithGitHub(r.Context(), ghUser)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}
