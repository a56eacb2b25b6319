// Package repository declares the persistence ports used by the service layer.
//
// Implementations live in sub-packages (gormdb). Services depend only on these
// interfaces, so tests can substitute fakes and the storage engine can change
// without touching business logic.
package repository

import (
	"context"
	"time"

	"github.com/sakif/teamspace/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository reads and writes user accounts. Lookups return an error
// wrapping apperror.ErrNotFound when no row matches.
type UserRepository interface {
	// Create inserts a user and assigns its ID. A duplicate email yields apperror.ErrConflict.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// Update persists the profile fields (name, phone, title, avatar, designation).
	Update(ctx context.Context, user *model.User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	List(ctx context.Context, opts ListOptions) ([]model.User, error)
}

// SweepResult counts the rows removed by TokenStore.SweepExpired.
type SweepResult struct {
	RefreshTokens       int64
	PasswordResetTokens int64
	BlacklistedTokens   int64
}

// TokenStore persists refresh tokens, password-reset tokens and blacklisted
// access tokens.
//
// Rotation and reset consumption are atomic per token: of two concurrent
// calls presenting the same token, exactly one succeeds.
type TokenStore interface {
	IssueRefreshToken(ctx context.Context, userID string) (*model.RefreshToken, error)
	// ValidateRefreshToken returns the owner of a usable token, or apperror.ErrUnauthorized.
	ValidateRefreshToken(ctx context.Context, token string) (*model.User, error)
	// RotateRefreshToken revokes oldToken and issues its successor in one transaction.
	RotateRefreshToken(ctx context.Context, oldToken string) (*model.RefreshToken, *model.User, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)

	// IssuePasswordResetToken marks the user's outstanding reset tokens used
	// and creates a fresh one.
	IssuePasswordResetToken(ctx context.Context, userID string) (*model.PasswordResetToken, error)
	// ConsumePasswordResetToken marks the token used and stores newPasswordHash
	// in the same transaction. Unusable tokens yield apperror.ErrInvalidToken.
	ConsumePasswordResetToken(ctx context.Context, token, newPasswordHash string) (*model.User, error)

	// BlacklistAccessToken is idempotent.
	BlacklistAccessToken(ctx context.Context, rawToken string) error
	IsBlacklisted(ctx context.Context, rawToken string) (bool, error)

	// SweepExpired deletes refresh and reset tokens that expired before now,
	// and blacklist entries recorded before blacklistCutoff.
	SweepExpired(ctx context.Context, now, blacklistCutoff time.Time) (SweepResult, error)
}

// ProjectRepository stores projects and their memberships.
type ProjectRepository interface {
	// Create inserts the project and an owner membership for its creator.
	Create(ctx context.Context, project *model.Project) error
	GetByID(ctx context.Context, id string) (*model.Project, error)
	// ListForUser returns projects the user created or belongs to.
	ListForUser(ctx context.Context, userID string, opts ListOptions) ([]model.Project, error)
	Update(ctx context.Context, project *model.Project) error
	// Delete removes the project with its memberships and tasks.
	Delete(ctx context.Context, id string) error

	GetMember(ctx context.Context, projectID, userID string) (*model.ProjectMember, error)
	ListMembers(ctx context.Context, projectID string) ([]model.ProjectMember, error)
	UpsertMember(ctx context.Context, member *model.ProjectMember) error
	RemoveMember(ctx context.Context, projectID, userID string) error
}

type TaskRepository interface {
	Create(ctx context.Context, task *model.Task) error
	GetByID(ctx context.Context, id string) (*model.Task, error)
	ListByProject(ctx context.Context, projectID string, opts ListOptions) ([]model.Task, error)
	Update(ctx context.Context, task *model.Task) error
}
