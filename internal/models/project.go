package models

import "time"

// ProjectStatus defines the status of a project
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusArchived  ProjectStatus = "archived"
)

// ValidProjectStatuses contains all valid project status values
var ValidProjectStatuses = []ProjectStatus{
	ProjectStatusActive,
	ProjectStatusCompleted,
	ProjectStatusArchived,
}

// IsValidProjectStatus checks if a status string is a valid ProjectStatus
func IsValidProjectStatus(s string) bool {
	for _, status := range ValidProjectStatuses {
		if string(status) == s {
			return true
		}
	}
	return false
}

// Project owns a set of tasks. Projects follow the same offline flow as
// tasks, except that deletes require connectivity.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	IsTemp      bool          `json:"_isTemp,omitempty"`
}

// ProjectPatch carries a partial project update.
type ProjectPatch struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Status      *ProjectStatus `json:"status,omitempty"`
}

// Apply writes the non-nil patch fields onto p.
func (pp ProjectPatch) Apply(p *Project) {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Description != nil {
		p.Description = *pp.Description
	}
	if pp.Status != nil {
		p.Status = *pp.Status
	}
}

// ProjectMember is a user's membership in a project.
type ProjectMember struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}
