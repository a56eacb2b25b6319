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

type TaskService struct {
	tasks    repository.TaskRepository
	projects repository.ProjectRepository
	users    repository.UserRepository
	access   *AccessService
	logger   *slog.Logger
}

func NewTaskService(
	tasks repository.TaskRepository,
	projects repository.ProjectRepository,
	users repository.UserRepository,
	access *AccessService,
	logger *slog.Logger,
) *TaskService {
	return &TaskService{tasks: tasks, projects: projects, users: users, access: access, logger: logger}
}

// List returns the tasks of a project the current user belongs to.
func (s *TaskService) List(ctx context.Context, projectID string, limit, offset int) ([]model.Task, error) {
	if err := s.access.RequireProjectMember(ctx, projectID); err != nil {
		return nil, err
	}
	tasks, err := s.tasks.ListByProject(ctx, projectID, listOptions(limit, offset))
	if err != nil {
		return nil, fmt.Errorf("service/task: listing tasks: %w", err)
	}
	return tasks, nil
}

// Create adds a task. Only project admins and owners may create tasks, and
// the assignee, if any, must belong to the project.
func (s *TaskService) Create(ctx context.Context, projectID, title, description, assigneeID string) (*model.Task, error) {
	if err := s.access.RequireProjectAdminOrOwner(ctx, projectID); err != nil {
		return nil, err
	}
	user, err := currentUser(ctx, s.users)
	if err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperror.ValidationFailed("title", "task title is required")
	}
	if len(title) > MaxTaskTitleLength {
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("task title must be %d characters or less", MaxTaskTitleLength))
	}
	assigneeID = strings.TrimSpace(assigneeID)
	if err := s.checkAssignee(ctx, projectID, assigneeID); err != nil {
		return nil, err
	}

	task := &model.Task{
		ProjectID:   projectID,
		Title:       title,
		Description: strings.TrimSpace(description),
		Status:      model.TaskTodo,
		AssigneeID:  assigneeID,
		CreatedBy:   user.ID,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		s.logger.Error("failed to create task", slog.String("projectID", projectID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("service/task: creating task: %w", err)
	}

	s.logger.Info("task created", slog.String("taskID", task.ID), slog.String("projectID", projectID))
	return task, nil
}

// TaskPatch lists the task fields to change; nil means "keep".
type TaskPatch struct {
	Title      *string
	Status     *model.TaskStatus
	AssigneeID *string
}

// Update applies patch to a task of the project. Admin or owner only.
func (s *TaskService) Update(ctx context.Context, projectID, taskID string, patch TaskPatch) (*model.Task, error) {
	if err := s.access.RequireProjectAdminOrOwner(ctx, projectID); err != nil {
		return nil, err
	}
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ProjectID != projectID {
		return nil, apperror.NotFound("task", taskID)
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" || len(title) > MaxTaskTitleLength {
			return nil, apperror.ValidationFailed("title",
				fmt.Sprintf("task title must be 1 to %d characters", MaxTaskTitleLength))
		}
		task.Title = title
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, apperror.ValidationFailed("status", "status must be one of todo, in_progress, done")
		}
		task.Status = *patch.Status
	}
	if patch.AssigneeID != nil {
		assignee := strings.TrimSpace(*patch.AssigneeID)
		if err := s.checkAssignee(ctx, projectID, assignee); err != nil {
			return nil, err
		}
		task.AssigneeID = assignee
	}

	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("service/task: updating task %s: %w", taskID, err)
	}
	s.logger.Info("task updated", slog.String("taskID", taskID), slog.String("status", string(task.Status)))
	return task, nil
}

// checkAssignee accepts "" (unassigned), the project creator or any member.
func (s *TaskService) checkAssignee(ctx context.Context, projectID, assigneeID string) error {
	if assigneeID == "" {
		return nil
	}
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return err
	}
	if project.CreatedBy == assigneeID {
		return nil
	}
	if _, err := s.projects.GetMember(ctx, projectID, assigneeID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.ValidationFailed("assigneeId", "assignee must be a member of the project")
		}
		return fmt.Errorf("service/task: checking assignee: %w", err)
	}
	return nil
}
