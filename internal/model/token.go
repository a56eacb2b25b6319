package model

import "time"

// RefreshToken is an opaque, server-side session credential. It is usable
// while it is neither revoked nor past ExpiresAt.
type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	Token     string    `gorm:"type:text;uniqueIndex;not null"`
	UserID    string    `gorm:"size:20;index;not null"`
	User      *User     `gorm:"constraint:OnDelete:CASCADE"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
	Revoked   bool `gorm:"not null;default:false"`
}

func (RefreshToken) TableName() string { return "refresh_token" }

func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// PasswordResetToken is a single-use credential mailed to the account owner.
type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey"`
	Token     string    `gorm:"type:text;uniqueIndex;not null"`
	UserID    string    `gorm:"size:20;index;not null"`
	User      *User     `gorm:"constraint:OnDelete:CASCADE"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
	Used      bool `gorm:"not null;default:false"`
}

func (PasswordResetToken) TableName() string { return "password_reset_token" }

func (t *PasswordResetToken) Usable(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// BlacklistedToken records an access token that was revoked before its expiry.
type BlacklistedToken struct {
	ID            uint      `gorm:"primaryKey"`
	Token         string    `gorm:"type:text;uniqueIndex;not null"`
	BlacklistedAt time.Time `gorm:"index;not null"`
}

func (BlacklistedToken) TableName() string { return "blacklisted_tokens" }
