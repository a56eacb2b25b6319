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

var _ repository.UserRepository = (*UserStore)(nil)

type UserStore struct {
	db *gorm.DB
}

// Create inserts a new user with a fresh xid. The unique index on email is
// the final arbiter for duplicates: a concurrent registration that passed the
// service's pre-check still fails here with a conflict.
func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("gormdb: inserting user %s: %w", user.Email, err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("gormdb: getting user %s: %w", id, err)
	}
	return &u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("gormdb: getting user by email: %w", err)
	}
	return &u, nil
}

// Update writes the profile columns only. Email and password hash are
// changed through their own flows.
func (s *UserStore) Update(ctx context.Context, user *model.User) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", user.ID).
		Select("name", "phone", "title", "avatar_url", "designation", "updated_at").
		Updates(user)
	if res.Error != nil {
		return fmt.Errorf("gormdb: updating user %s: %w", user.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

func (s *UserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).
		Update("password_hash", passwordHash)
	if res.Error != nil {
		return fmt.Errorf("gormdb: updating password for user %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (s *UserStore) List(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	users := []model.User{}
	q := limitOffset(s.db.WithContext(ctx).Order("created_at ASC, id ASC"), opts.Limit, opts.Offset)
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("gormdb: listing users: %w", err)
	}
	return users, nil
}
