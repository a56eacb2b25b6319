package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/teamspace/internal/apperror"
	"github.com/sakif/teamspace/internal/model"
	"github.com/sakif/teamspace/internal/repository"
)

// ProjectService manages projects and their memberships. Mutations go
// through AccessService first.
type ProjectService struct {
	projects repository.ProjectRepository
	users    repository.UserRepository
	access   *AccessService
	logger   *slog.Logger
}

func NewProjectService(
	projects repository.ProjectRepository,
	users repository.UserRepository,
	access *AccessService,
	logger *slog.Logger,
) *ProjectService {
	return &ProjectService{projects: projects, users: users, access: access, logger: logger}
}

// Create saves a project owned by the current user.
func (s *ProjectService) Create(ctx context.Context, name, description string) (*model.Project, error) {
	user, err := currentUser(ctx, s.users)
	if err != nil {
		return nil, err
	}
	name, err = validateProjectName(name)
	if err != nil {
		return nil, err
	}

	project := &model.Project{
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedBy:   user.ID,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		s.logger.Error("failed to create project", slog.String("name", name), slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/project: creating project: %w", err)
	}

	s.logger.Info("project created", slog.String("projectID", project.ID), slog.String("userID", user.ID))
	return project, nil
}

// List returns projects the current user created or belongs to.
func (s *ProjectService) List(ctx context.Context, limit, offset int) ([]model.Project, error) {
	user, err := currentUser(ctx, s.users)
	if err != nil {
		return nil, err
	}
	projects, err := s.projects.ListForUser(ctx, user.ID, listOptions(limit, offset))
	if err != nil {
		return nil, fmt.Errorf("service/project: listing projects: %w", err)
	}
	return projects, nil
}

// Get returns a project visible to the current user.
func (s *ProjectService) Get(ctx context.Context, id string) (*model.Project, error) {
	if err := s.access.RequireProjectMember(ctx, id); err != nil {
		return nil, err
	}
	return s.projects.GetByID(ctx, id)
}

// ProjectPatch lists the project fields to change; nil means "keep".
type ProjectPatch struct {
	Name        *string
	Description *string
}

// Update applies patch to a project. Admin or owner only.
func (s *ProjectService) Update(ctx context.Context, id string, patch ProjectPatch) (*model.Project, error) {
	if err := s.access.RequireProjectAdminOrOwner(ctx, id); err != nil {
		return nil, err
	}
	project, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if project.Name, err = validateProjectName(*patch.Name); err != nil {
			return nil, err
		}
	}
	if patch.Description != nil {
		project.Description = strings.TrimSpace(*patch.Description)
	}

	if err := s.projects.Update(ctx, project); err != nil {
		return nil, fmt.Errorf("service/project: updating project %s: %w", id, err)
	}
	s.logger.Info("project updated", slog.String("projectID", id))
	return project, nil
}

// Delete removes a project with its tasks and memberships.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if err := s.access.RequireProjectAdminOrOwner(ctx, id); err != nil {
		return err
	}
	if err := s.projects.Delete(ctx, id); err != nil {
		return fmt.Errorf("service/project: deleting project %s: %w", id, err)
	}
	s.logger.Info("project deleted", slog.String("projectID", id))
	return nil
}

// =========================================================================
// MEMBERS
// =========================================================================

func (s *ProjectService) ListMembers(ctx context.Context, projectID string) ([]model.ProjectMember, error) {
	if err := s.access.RequireProjectMember(ctx, projectID); err != nil {
		return nil, err
	}
	members, err := s.projects.ListMembers(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("service/project: listing members: %w", err)
	}
	return members, nil
}

// AddMember adds a user to the project or changes their role. The owner
// role cannot be granted.
func (s *ProjectService) AddMember(ctx context.Context, projectID, userID string, role model.ProjectRole) (*model.ProjectMember, error) {
	if err := s.access.RequireProjectAdminOrOwner(ctx, projectID); err != nil {
		return nil, err
	}
	if !role.Valid() || role == model.RoleOwner {
		return nil, apperror.ValidationFailed("role", "role must be one of admin, member, guest, viewer")
	}

	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if userID == project.CreatedBy {
		return nil, apperror.ValidationFailed("userId", "the project creator's role cannot be changed")
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/project: loading user %s: %w", userID, err)
	}

	member := &model.ProjectMember{ProjectID: projectID, UserID: userID, Role: role}
	if err := s.projects.UpsertMember(ctx, member); err != nil {
		return nil, fmt.Errorf("service/project: adding member: %w", err)
	}
	s.logger.Info("project member set",
		slog.String("projectID", projectID),
		slog.String("userID", userID),
		slog.String("role", string(role)),
	)
	return s.projects.GetMember(ctx, projectID, userID)
}

// RemoveMember removes a membership. The creator cannot be removed.
func (s *ProjectService) RemoveMember(ctx context.Context, projectID, userID string) error {
	if err := s.access.RequireProjectAdminOrOwner(ctx, projectID); err != nil {
		return err
	}
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return err
	}
	if userID == project.CreatedBy {
		return apperror.ValidationFailed("userId", "the project creator cannot be removed")
	}
	if err := s.projects.RemoveMember(ctx, projectID, userID); err != nil {
		return err
	}
	s.logger.Info("project member removed", slog.String("projectID", projectID), slog.String("userID", userID))
	return nil
}

func validateProjectName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.ValidationFailed("name", "project name is required")
	}
	if len(name) > MaxProjectNameLength {
		return "", apperror.ValidationFailed("name",
			fmt.Sprintf("project name must be %d characters or less", MaxProjectNameLength))
	}
	return name, nil
}
