package gormdb

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sakif/teamspace/internal/apperror"
	"github.com/sakif/teamspace/internal/model"
	"github.com/sakif/teamspace/internal/repository"
)

var _ repository.TokenStore = (*TokenStore)(nil)

// opaqueTokenBytes is the entropy of refresh and reset tokens (256 bits).
const opaqueTokenBytes = 32

// TokenPolicy holds the lifetimes applied when tokens are issued.
type TokenPolicy struct {
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	// MaxRefreshPerUser caps concurrently valid refresh tokens per user; the
	// oldest are revoked when a new one would exceed it. 0 disables the cap.
	MaxRefreshPerUser int
}

// TokenStore implements repository.TokenStore.
//
// Single-use semantics rely on conditional UPDATEs rather than read-then-write:
// the statement that flips `revoked`/`used` also re-checks usability, and the
// caller proceeds only if exactly one row changed. Two transactions racing on
// the same token therefore cannot both see RowsAffected == 1.
type TokenStore struct {
	db     *gorm.DB
	policy TokenPolicy
	now    func() time.Time
}

func newTokenStore(db *gorm.DB, policy TokenPolicy, now func() time.Time) *TokenStore {
	if now == nil {
		now = time.Now
	}
	return &TokenStore{db: db, policy: policy, now: now}
}

// WithClock returns a copy of the store that reads the current time from now.
func (s *TokenStore) WithClock(now func() time.Time) *TokenStore {
	return newTokenStore(s.db, s.policy, now)
}

func (s *TokenStore) clock() time.Time {
	return s.now().UTC()
}

// =========================================================================
// REFRESH TOKENS
// =========================================================================

func (s *TokenStore) IssueRefreshToken(ctx context.Context, userID string) (*model.RefreshToken, error) {
	var issued *model.RefreshToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		issued, err = s.issueRefresh(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// issueRefresh creates a refresh token inside tx and enforces the per-user cap.
func (s *TokenStore) issueRefresh(tx *gorm.DB, userID string) (*model.RefreshToken, error) {
	raw, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	rt := &model.RefreshToken{
		Token:     raw,
		UserID:    userID,
		ExpiresAt: now.Add(s.policy.RefreshTTL),
		CreatedAt: now,
	}
	if err := tx.Create(rt).Error; err != nil {
		return nil, fmt.Errorf("gormdb: inserting refresh token for user %s: %w", userID, err)
	}

	if s.policy.MaxRefreshPerUser > 0 {
		var valid []uint
		err := tx.Model(&model.RefreshToken{}).
			Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, now).
			Order("created_at DESC, id DESC").
			Pluck("id", &valid).Error
		if err != nil {
			return nil, fmt.Errorf("gormdb: listing refresh tokens for user %s: %w", userID, err)
		}
		if len(valid) > s.policy.MaxRefreshPerUser {
			excess := valid[s.policy.MaxRefreshPerUser:]
			if err := tx.Model(&model.RefreshToken{}).Where("id IN ?", excess).
				Update("revoked", true).Error; err != nil {
				return nil, fmt.Errorf("gormdb: evicting refresh tokens for user %s: %w", userID, err)
			}
		}
	}
	return rt, nil
}

func (s *TokenStore) ValidateRefreshToken(ctx context.Context, token string) (*model.User, error) {
	var rt model.RefreshToken
	err := s.db.WithContext(ctx).Preload("User").Where("token = ?", token).First(&rt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.Unauthorized("invalid refresh token")
		}
		return nil, fmt.Errorf("gormdb: looking up refresh token: %w", err)
	}
	if !rt.Usable(s.clock()) || rt.User == nil {
		return nil, apperror.Unauthorized("invalid refresh token")
	}
	return rt.User, nil
}

func (s *TokenStore) RotateRefreshToken(ctx context.Context, oldToken string) (*model.RefreshToken, *model.User, error) {
	var (
		next *model.RefreshToken
		user model.User
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.RefreshToken{}).
			Where("token = ? AND revoked = ? AND expires_at > ?", oldToken, false, s.clock()).
			Update("revoked", true)
		if res.Error != nil {
			return fmt.Errorf("gormdb: revoking refresh token: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return apperror.Unauthorized("invalid refresh token")
		}

		var old model.RefreshToken
		if err := tx.Where("token = ?", oldToken).First(&old).Error; err != nil {
			return fmt.Errorf("gormdb: reloading refresh token: %w", err)
		}
		if err := tx.Where("id = ?", old.UserID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.Unauthorized("invalid refresh token")
			}
			return fmt.Errorf("gormdb: loading refresh token owner: %w", err)
		}

		var err error
		next, err = s.issueRefresh(tx, old.UserID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return next, &user, nil
}

// RevokeRefreshToken marks a token revoked. Revoking an already revoked
// token succeeds; an unknown token yields apperror.ErrNotFound.
func (s *TokenStore) RevokeRefreshToken(ctx context.Context, token string) error {
	res := s.db.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("token = ?", token).
		Update("revoked", true)
	if res.Error != nil {
		return fmt.Errorf("gormdb: revoking refresh token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("refresh token", "(redacted)")
	}
	return nil
}

func (s *TokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true)
	if res.Error != nil {
		return 0, fmt.Errorf("gormdb: revoking refresh tokens for user %s: %w", userID, res.Error)
	}
	return res.RowsAffected, nil
}

// =========================================================================
// PASSWORD RESET TOKENS
// =========================================================================

func (s *TokenStore) IssuePasswordResetToken(ctx context.Context, userID string) (*model.PasswordResetToken, error) {
	raw, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	prt := &model.PasswordResetToken{
		Token:     raw,
		UserID:    userID,
		ExpiresAt: now.Add(s.policy.ResetTTL),
		CreatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.PasswordResetToken{}).
			Where("user_id = ? AND used = ?", userID, false).
			Update("used", true).Error; err != nil {
			return fmt.Errorf("gormdb: invalidating reset tokens for user %s: %w", userID, err)
		}
		if err := tx.Create(prt).Error; err != nil {
			return fmt.Errorf("gormdb: inserting reset token for user %s: %w", userID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prt, nil
}

func (s *TokenStore) ConsumePasswordResetToken(ctx context.Context, token, newPasswordHash string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.PasswordResetToken{}).
			Where("token = ? AND used = ? AND expires_at > ?", token, false, s.clock()).
			Update("used", true)
		if res.Error != nil {
			return fmt.Errorf("gormdb: consuming reset token: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return apperror.InvalidToken("password reset token is invalid or expired")
		}

		var prt model.PasswordResetToken
		if err := tx.Where("token = ?", token).First(&prt).Error; err != nil {
			return fmt.Errorf("gormdb: reloading reset token: %w", err)
		}

		// Any other outstanding token for this user dies with the reset.
		if err := tx.Model(&model.PasswordResetToken{}).
			Where("user_id = ? AND used = ?", prt.UserID, false).
			Update("used", true).Error; err != nil {
			return fmt.Errorf("gormdb: invalidating reset tokens for user %s: %w", prt.UserID, err)
		}

		res = tx.Model(&model.User{}).Where("id = ?", prt.UserID).
			Update("password_hash", newPasswordHash)
		if res.Error != nil {
			return fmt.Errorf("gormdb: updating password for user %s: %w", prt.UserID, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperror.NotFound("user", prt.UserID)
		}
		return tx.Where("id = ?", prt.UserID).First(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// =========================================================================
// ACCESS TOKEN BLACKLIST
// =========================================================================

func (s *TokenStore) BlacklistAccessToken(ctx context.Context, rawToken string) error {
	entry := &model.BlacklistedToken{Token: rawToken, BlacklistedAt: s.clock()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "token"}}, DoNothing: true}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("gormdb: blacklisting access token: %w", err)
	}
	return nil
}

func (s *TokenStore) IsBlacklisted(ctx context.Context, rawToken string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.BlacklistedToken{}).
		Where("token = ?", rawToken).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gormdb: checking blacklist: %w", err)
	}
	return count > 0, nil
}

// =========================================================================
// SWEEP
// =========================================================================

func (s *TokenStore) SweepExpired(ctx context.Context, now, blacklistCutoff time.Time) (repository.SweepResult, error) {
	var out repository.SweepResult
	now, blacklistCutoff = now.UTC(), blacklistCutoff.UTC()
	db := s.db.WithContext(ctx)

	res := db.Where("expires_at < ?", now).Delete(&model.RefreshToken{})
	if res.Error != nil {
		return out, fmt.Errorf("gormdb: sweeping refresh tokens: %w", res.Error)
	}
	out.RefreshTokens = res.RowsAffected

	res = db.Where("expires_at < ?", now).Delete(&model.PasswordResetToken{})
	if res.Error != nil {
		return out, fmt.Errorf("gormdb: sweeping reset tokens: %w", res.Error)
	}
	out.PasswordResetTokens = res.RowsAffected

	res = db.Where("blacklisted_at < ?", blacklistCutoff).Delete(&model.BlacklistedToken{})
	if res.Error != nil {
		return out, fmt.Errorf("gormdb: sweeping blacklist: %w", res.Error)
	}
	out.BlacklistedTokens = res.RowsAffected

	return out, nil
}

// newOpaqueToken returns a URL-safe random string from crypto/rand.
func newOpaqueToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("gormdb: generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
