package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/teamspace/internal/apperror"
	"github.com/sakif/teamspace/internal/model"
	"github.com/sakif/teamspace/internal/repository"
)

// AccessService answers authorization questions about the current user.
//
// Each check comes as a predicate (IsX) and a throwing variant (RequireX).
// Checks only read; callers run them before mutating project or task state.
type AccessService struct {
	users    repository.UserRepository
	projects repository.ProjectRepository
	logger   *slog.Logger
}

func NewAccessService(users repository.UserRepository, projects repository.ProjectRepository, logger *slog.Logger) *AccessService {
	return &AccessService{users: users, projects: projects, logger: logger}
}

// IsProjectAdminOrOwner reports whether the current user created the project
// or holds the admin or owner role in it. A missing user or project is
// NotFound.
func (s *AccessService) IsProjectAdminOrOwner(ctx context.Context, projectID string) (bool, error) {
	user, project, err := s.resolve(ctx, projectID)
	if err != nil {
		return false, err
	}
	if project.CreatedBy == user.ID {
		return true, nil
	}
	role, err := s.roleOf(ctx, projectID, user.ID)
	if err != nil {
		return false, err
	}
	return role.CanManage(), nil
}

// RequireProjectAdminOrOwner fails with Forbidden unless IsProjectAdminOrOwner.
func (s *AccessService) RequireProjectAdminOrOwner(ctx context.Context, projectID string) error {
	ok, err := s.IsProjectAdminOrOwner(ctx, projectID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("project admin check denied", slog.String("projectID", projectID))
		return apperror.Forbidden("project admin or owner role required")
	}
	return nil
}

// IsProjectMember reports whether the current user created the project or
// holds any membership role in it.
func (s *AccessService) IsProjectMember(ctx context.Context, projectID string) (bool, error) {
	user, project, err := s.resolve(ctx, projectID)
	if err != nil {
		return false, err
	}
	if project.CreatedBy == user.ID {
		return true, nil
	}
	role, err := s.roleOf(ctx, projectID, user.ID)
	if err != nil {
		return false, err
	}
	return role != "", nil
}

// RequireProjectMember fails with Forbidden unless IsProjectMember.
func (s *AccessService) RequireProjectMember(ctx context.Context, projectID string) error {
	ok, err := s.IsProjectMember(ctx, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.Forbidden("project membership required")
	}
	return nil
}

// IsManager reports whether the current user's designation is manager.
// The designation is read from the database, not from the access token.
func (s *AccessService) IsManager(ctx context.Context) (bool, error) {
	user, err := currentUser(ctx, s.users)
	if err != nil {
		return false, err
	}
	return user.IsManager(), nil
}

// RequireManagerRole fails with Forbidden unless IsManager.
func (s *AccessService) RequireManagerRole(ctx context.Context) error {
	ok, err := s.IsManager(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("manager check denied")
		return apperror.Forbidden("manager role required")
	}
	return nil
}

func (s *AccessService) resolve(ctx context.Context, projectID string) (*model.User, *model.Project, error) {
	user, err := currentUser(ctx, s.users)
	if err != nil {
		return nil, nil, err
	}
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("service/access: loading project %s: %w", projectID, err)
	}
	return user, project, nil
}

// roleOf returns the user's role in the project, or "" without a membership.
func (s *AccessService) roleOf(ctx context.Context, projectID, userID string) (model.ProjectRole, error) {
	m, err := s.projects.GetMember(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("service/access: loading membership: %w", err)
	}
	return m.Role, nil
}
