// Package model defines the data structures used throughout the application.
//
// The structs double as gorm models: the `gorm` tags describe columns and
// indexes for AutoMigrate, and TableName pins the table names used by the
// relational schema.
package model

import "time"

// Designation is a user's organisation-wide role label.
type Designation string

const (
	DesignationManager  Designation = "manager"
	DesignationEmployee Designation = "employee"
)

// Valid reports whether d is one of the known designations. The empty
// designation is valid and means "not set".
func (d Designation) Valid() bool {
	switch d {
	case "", DesignationManager, DesignationEmployee:
		return true
	}
	return false
}

// User is a registered account. Email is the login identity and the subject
// of every access token issued for the account.
type User struct {
	ID           string      `json:"id"          gorm:"primaryKey;size:20"`
	Email        string      `json:"email"       gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string      `json:"-"           gorm:"column:password_hash;not null"`
	Name         string      `json:"name"        gorm:"size:100;not null"`
	Phone        string      `json:"phone"       gorm:"size:32"`
	Title        string      `json:"title"       gorm:"size:100"`
	AvatarURL    string      `json:"avatarUrl"   gorm:"size:500"`
	Designation  Designation `json:"designation" gorm:"size:32"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// IsManager reports whether the user carries the manager designation.
func (u *User) IsManager() bool {
	return u.Designation == DesignationManager
}
