package gormdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sakif/teamspace/internal/apperror"
	"github.com/sakif/teamspace/internal/model"
	"github.com/sakif/teamspace/internal/repository"
)

var _ repository.ProjectRepository = (*ProjectStore)(nil)

type ProjectStore struct {
	db *gorm.DB
}

func (s *ProjectStore) Create(ctx context.Context, project *model.Project) error {
	if project.ID == "" {
		project.ID = xid.New().String()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return fmt.Errorf("gormdb: inserting project: %w", err)
		}
		owner := &model.ProjectMember{
			ProjectID: project.ID,
			UserID:    project.CreatedBy,
			Role:      model.RoleOwner,
			JoinedAt:  project.CreatedAt,
		}
		if err := tx.Create(owner).Error; err != nil {
			return fmt.Errorf("gormdb: inserting owner membership for project %s: %w", project.ID, err)
		}
		return nil
	})
}

func (s *ProjectStore) GetByID(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("project", id)
		}
		return nil, fmt.Errorf("gormdb: getting project %s: %w", id, err)
	}
	return &p, nil
}

func (s *ProjectStore) ListForUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Project, error) {
	projects := []model.Project{}
	member := s.db.Model(&model.ProjectMember{}).Select("project_id").Where("user_id = ?", userID)
	q := s.db.WithContext(ctx).
		Where("created_by = ? OR id IN (?)", userID, member).
		Order("created_at DESC, id DESC")
	if err := limitOffset(q, opts.Limit, opts.Offset).Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("gormdb: listing projects for user %s: %w", userID, err)
	}
	return projects, nil
}

func (s *ProjectStore) Update(ctx context.Context, project *model.Project) error {
	res := s.db.WithContext(ctx).Model(&model.Project{}).Where("id = ?", project.ID).
		Select("name", "description", "updated_at").
		Updates(project)
	if res.Error != nil {
		return fmt.Errorf("gormdb: updating project %s: %w", project.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("project", project.ID)
	}
	return nil
}

func (s *ProjectStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&model.Task{}).Error; err != nil {
			return fmt.Errorf("gormdb: deleting tasks of project %s: %w", id, err)
		}
		if err := tx.Where("project_id = ?", id).Delete(&model.ProjectMember{}).Error; err != nil {
			return fmt.Errorf("gormdb: deleting members of project %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&model.Project{})
		if res.Error != nil {
			return fmt.Errorf("gormdb: deleting project %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperror.NotFound("project", id)
		}
		return nil
	})
}

func (s *ProjectStore) GetMember(ctx context.Context, projectID, userID string) (*model.ProjectMember, error) {
	var m model.ProjectMember
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("project member", userID)
		}
		return nil, fmt.Errorf("gormdb: getting member %s of project %s: %w", userID, projectID, err)
	}
	return &m, nil
}

func (s *ProjectStore) ListMembers(ctx context.Context, projectID string) ([]model.ProjectMember, error) {
	members := []model.ProjectMember{}
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("joined_at ASC, user_id ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("gormdb: listing members of project %s: %w", projectID, err)
	}
	return members, nil
}

// UpsertMember inserts a membership or changes the role of an existing one.
// JoinedAt is kept from the existing row.
func (s *ProjectStore) UpsertMember(ctx context.Context, member *model.ProjectMember) error {
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(member).Error
	if err != nil {
		return fmt.Errorf("gormdb: upserting member %s of project %s: %w", member.UserID, member.ProjectID, err)
	}
	return nil
}

func (s *ProjectStore) RemoveMember(ctx context.Context, projectID, userID string) error {
	res := s.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Delete(&model.ProjectMember{})
	if res.Error != nil {
		return fmt.Errorf("gormdb: removing member %s of project %s: %w", userID, projectID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("project member", userID)
	}
	return nil
}
