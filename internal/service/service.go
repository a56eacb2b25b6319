// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)      → parses requests, writes responses
//	Service (business layer)  → validates, enforces rules, orchestrates
//	Repository (data layer)   → reads/writes the database
//
// Services take repository interfaces, never the gorm store directly, and
// return apperror kinds, never HTTP status codes.
//
// THE CURRENT USER:
// The request authenticator stores an auth.Principal in the request context.
// Services that act "as the caller" read it from ctx (see currentUser), so
// the same call works from a handler, a test or a background job that builds
// its own context with auth.WithPrincipal.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sakif/teamspace/internal/apperror"
	"github.com/sakif/teamspace/internal/auth"
	"github.com/sakif/teamspace/internal/model"
	"github.com/sakif/teamspace/internal/repository"
)

// Validation and pagination limits.
const (
	MinPasswordLength    = 8
	MaxNameLength        = 100
	MaxProjectNameLength = 100
	MaxTaskTitleLength   = 200
	DefaultListLimit     = 20
	MaxListLimit         = 100
)

// currentUser resolves the request principal to its user record.
//
// No principal means the caller is anonymous (Unauthorized). A principal
// whose account no longer exists yields NotFound.
func currentUser(ctx context.Context, users repository.UserRepository) (*model.User, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, apperror.Unauthorized("authentication required")
	}
	u, err := users.GetByEmail(ctx, p.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("user", p.Email)
		}
		return nil, fmt.Errorf("service: loading current user: %w", err)
	}
	return u, nil
}

// listOptions clamps caller-supplied pagination to sane bounds.
func listOptions(limit, offset int) repository.ListOptions {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return repository.ListOptions{Limit: limit, Offset: offset}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// parseDesignation trims and lower-cases s and checks it against the known set.
func parseDesignation(s string) (model.Designation, error) {
	d := model.Designation(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", apperror.ValidationFailed("designation",
			fmt.Sprintf("designation must be %q or %q", model.DesignationManager, model.DesignationEmployee))
	}
	return d, nil
}

func validatePassword(field, password string) error {
	if len(password) < MinPasswordLength {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}
	return nil
}

// tokenPrefix shortens a secret for log lines.
func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}
