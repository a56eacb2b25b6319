package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/teamspace/internal/service"
)

// UserHandler serves the user directory. The router mounts it behind the
// manager check, so the handler itself does no authorization.
type UserHandler struct {
	auth     *service.AuthService
	validate *Validator
	respond  *Responder
	logger   *slog.Logger
}

func NewUserHandler(authService *service.AuthService, validate *Validator, respond *Responder, logger *slog.Logger) *UserHandler {
	return &UserHandler{auth: authService, validate: validate, respond: respond, logger: logger}
}

type designationRequest struct {
	Designation string `json:"designation" validate:"required"`
}

// HandleList returns a page of users.
//
// HTTP: GET /users?limit=20&offset=0 (manager)
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	users, err := h.auth.ListUsers(r.Context(), limit, offset)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleSetDesignation changes another user's designation.
//
// HTTP: POST /users/{id}/designation (manager)
func (h *UserHandler) HandleSetDesignation(w http.ResponseWriter, r *http.Request) {
	var req designationRequest
	if err := h.validate.decodeJSON(w, r, &req, false); err != nil {
		h.respond.Error(w, r, err)
		return
	}
	user, err := h.auth.SetDesignation(r.Context(), chi.URLParam(r, "id"), req.Designation)
	if err != nil {
		h.respond.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
