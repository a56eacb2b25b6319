package gormdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/xid"
	"gorm.io/gorm"

	"github.com/sakif/teamspace/internal/apperror"
	"github.com/sakif/teamspace/internal/model"
	"github.com/sakif/teamspace/internal/repository"
)

var _ repository.TaskRepository = (*TaskStore)(nil)

type TaskStore struct {
	db *gorm.DB
}

func (s *TaskStore) Create(ctx context.Context, task *model.Task) error {
	if task.ID == "" {
		task.ID = xid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("gormdb: inserting task in project %s: %w", task.ProjectID, err)
	}
	return nil
}

func (s *TaskStore) GetByID(ctx context.Context, id string) (*model.Task, error) {
	var t model.Task
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("task", id)
		}
		return nil, fmt.Errorf("gormdb: getting task %s: %w", id, err)
	}
	return &t, nil
}

func (s *TaskStore) ListByProject(ctx context.Context, projectID string, opts repository.ListOptions) ([]model.Task, error) {
	tasks := []model.Task{}
	q := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at ASC, id ASC")
	if err := limitOffset(q, opts.Limit, opts.Offset).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("gormdb: listing tasks of project %s: %w", projectID, err)
	}
	return tasks, nil
}

func (s *TaskStore) Update(ctx context.Context, task *model.Task) error {
	res := s.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", task.ID).
		Select("title", "description", "status", "assignee_id", "updated_at").
		Updates(task)
	if res.Error != nil {
		return fmt.Errorf("gormdb: updating task %s: %w", task.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("task", task.ID)
	}
	return nil
}
