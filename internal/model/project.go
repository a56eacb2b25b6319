package model

import "time"

// Project is a unit of team work. CreatedBy is the owning user's ID; the
// creator is always treated as an owner, membership row or not.
type Project struct {
	ID          string    `json:"id"          gorm:"primaryKey;size:20"`
	Name        string    `json:"name"        gorm:"size:100;not null"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedBy   string    `json:"createdBy"   gorm:"size:20;index;not null"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Project) TableName() string { return "projects" }

// ProjectRole is a member's role inside one project.
type ProjectRole string

const (
	RoleOwner  ProjectRole = "owner"
	RoleAdmin  ProjectRole = "admin"
	RoleMember ProjectRole = "member"
	RoleGuest  ProjectRole = "guest"
	RoleViewer ProjectRole = "viewer"
)

func (r ProjectRole) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleGuest, RoleViewer:
		return true
	}
	return false
}

// CanManage reports whether the role may perform project-mutating actions.
func (r ProjectRole) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

type ProjectMember struct {
	ProjectID string      `json:"projectId" gorm:"primaryKey;size:20"`
	UserID    string      `json:"userId"    gorm:"primaryKey;size:20;index"`
	Role      ProjectRole `json:"role"      gorm:"size:16;not null"`
	JoinedAt  time.Time   `json:"joinedAt"  gorm:"not null"`
}

func (ProjectMember) TableName() string { return "projectmembers" }

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone:
		return true
	}
	return false
}

type Task struct {
	ID          string     `json:"id"          gorm:"primaryKey;size:20"`
	ProjectID   string     `json:"projectId"   gorm:"size:20;index;not null"`
	Title       string     `json:"title"       gorm:"size:200;not null"`
	Description string     `json:"description" gorm:"type:text"`
	Status      TaskStatus `json:"status"      gorm:"size:16;not null"`
	AssigneeID  string     `json:"assigneeId,omitempty" gorm:"size:20"`
	CreatedBy   string     `json:"createdBy"   gorm:"size:20;not null"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (Task) TableName() string { return "tasks" }
