package models

import (
	"slices"
	"time"
)

// TaskStatus defines the status of a task
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// ValidTaskStatuses contains all valid task status values
var ValidTaskStatuses = []TaskStatus{
	TaskStatusTodo,
	TaskStatusInProgress,
	TaskStatusDone,
	TaskStatusBlocked,
}

// IsValidTaskStatus checks if a status string is a valid TaskStatus
func IsValidTaskStatus(s string) bool {
	for _, status := range ValidTaskStatuses {
		if string(status) == s {
			return true
		}
	}
	return false
}

// TaskPriority defines the priority of a task
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// ValidTaskPriorities contains all valid task priority values
var ValidTaskPriorities = []TaskPriority{
	TaskPriorityLow,
	TaskPriorityMedium,
	TaskPriorityHigh,
}

// IsValidTaskPriority checks if a priority string is a valid TaskPriority
func IsValidTaskPriority(s string) bool {
	for _, p := range ValidTaskPriorities {
		if string(p) == s {
			return true
		}
	}
	return false
}

// Task is a unit of work in a parent/child hierarchy with an independent
// dependency graph. Version increases on every accepted mutation and is the
// basis of optimistic-concurrency conflict detection.
type Task struct {
	ID             string       `json:"id"`
	ProjectID      string       `json:"projectId,omitempty"`
	ParentID       string       `json:"parentId,omitempty"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Assignee       string       `json:"assignee"`
	StartTime      *time.Time   `json:"startTime,omitempty"`
	EndTime        *time.Time   `json:"endTime,omitempty"`
	Status         TaskStatus   `json:"status"`
	Priority       TaskPriority `json:"priority"`
	Tags           []string     `json:"tags"`
	Dependencies   []string     `json:"dependencies"`
	SortOrder      int          `json:"sortOrder"`
	Version        int          `json:"version"`
	LastModifiedBy string       `json:"lastModifiedBy,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	IsTemp         bool         `json:"_isTemp,omitempty"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	c.Tags = slices.Clone(t.Tags)
	c.Dependencies = slices.Clone(t.Dependencies)
	if t.StartTime != nil {
		st := *t.StartTime
		c.StartTime = &st
	}
	if t.EndTime != nil {
		et := *t.EndTime
		c.EndTime = &et
	}
	return c
}

// DependsOn reports whether the task lists id as a dependency.
func (t Task) DependsOn(id string) bool {
	return slices.Contains(t.Dependencies, id)
}

// TaskPatch carries a partial update. Nil fields are left untouched.
type TaskPatch struct {
	ParentID     *string       `json:"parentId,omitempty"`
	Title        *string       `json:"title,omitempty"`
	Description  *string       `json:"description,omitempty"`
	Assignee     *string       `json:"assignee,omitempty"`
	StartTime    *time.Time    `json:"startTime,omitempty"`
	EndTime      *time.Time    `json:"endTime,omitempty"`
	Status       *TaskStatus   `json:"status,omitempty"`
	Priority     *TaskPriority `json:"priority,omitempty"`
	Tags         *[]string     `json:"tags,omitempty"`
	Dependencies *[]string     `json:"dependencies,omitempty"`
	SortOrder    *int          `json:"sortOrder,omitempty"`
}

// Apply writes the non-nil patch fields onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.ParentID != nil {
		t.ParentID = *p.ParentID
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.StartTime != nil {
		st := *p.StartTime
		t.StartTime = &st
	}
	if p.EndTime != nil {
		et := *p.EndTime
		t.EndTime = &et
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Tags != nil {
		t.Tags = UniqueStrings(*p.Tags)
	}
	if p.Dependencies != nil {
		t.Dependencies = UniqueStrings(*p.Dependencies)
	}
	if p.SortOrder != nil {
		t.SortOrder = *p.SortOrder
	}
}

// Merge folds other into p; fields set in other win.
func (p TaskPatch) Merge(other TaskPatch) TaskPatch {
	out := p
	if other.ParentID != nil {
		out.ParentID = other.ParentID
	}
	if other.Title != nil {
		out.Title = other.Title
	}
	if other.Description != nil {
		out.Description = other.Description
	}
	if other.Assignee != nil {
		out.Assignee = other.Assignee
	}
	if other.StartTime != nil {
		out.StartTime = other.StartTime
	}
	if other.EndTime != nil {
		out.EndTime = other.EndTime
	}
	if other.Status != nil {
		out.Status = other.Status
	}
	if other.Priority != nil {
		out.Priority = other.Priority
	}
	if other.Tags != nil {
		out.Tags = other.Tags
	}
	if other.Dependencies != nil {
		out.Dependencies = other.Dependencies
	}
	if other.SortOrder != nil {
		out.SortOrder = other.SortOrder
	}
	return out
}

// PatchFromTask builds a patch that carries every user-editable field of t.
func PatchFromTask(t Task) TaskPatch {
	tags := slices.Clone(t.Tags)
	deps := slices.Clone(t.Dependencies)
	parent := t.ParentID
	title := t.Title
	desc := t.Description
	assignee := t.Assignee
	status := t.Status
	priority := t.Priority
	sortOrder := t.SortOrder
	p := TaskPatch{
		ParentID:     &parent,
		Title:        &title,
		Description:  &desc,
		Assignee:     &assignee,
		Status:       &status,
		Priority:     &priority,
		Tags:         &tags,
		Dependencies: &deps,
		SortOrder:    &sortOrder,
	}
	if t.StartTime != nil {
		st := *t.StartTime
		p.StartTime = &st
	}
	if t.EndTime != nil {
		et := *t.EndTime
		p.EndTime = &et
	}
	return p
}

// TaskInput is the data accepted when creating a task. Zero values get defaults.
type TaskInput struct {
	ProjectID    string       `json:"projectId,omitempty"`
	ParentID     string       `json:"parentId,omitempty"`
	Title        string       `json:"title,omitempty"`
	Description  string       `json:"description,omitempty"`
	Assignee     string       `json:"assignee,omitempty"`
	StartTime    *time.Time   `json:"startTime,omitempty"`
	EndTime      *time.Time   `json:"endTime,omitempty"`
	Status       TaskStatus   `json:"status,omitempty"`
	Priority     TaskPriority `json:"priority,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`
	SortOrder    int          `json:"sortOrder,omitempty"`
}

// TaskNode is a task with its nested children, sorted by SortOrder.
type TaskNode struct {
	Task     Task        `json:"task"`
	Children []*TaskNode `json:"children,omitempty"`
}

// DependencyLink is a finish-to-start edge derived from Task.Dependencies.
type DependencyLink struct {
	Source string `json:"source"` // the dependency
	Target string `json:"target"` // the dependent task
	Type   string `json:"type"`
}

// LinkFinishToStart is the only link type the dependency graph produces.
const LinkFinishToStart = "0"

// Filters narrows FilteredTasks. Empty fields match everything.
type Filters struct {
	Status   TaskStatus   `json:"status,omitempty"`
	Priority TaskPriority `json:"priority,omitempty"`
	Tags     []string     `json:"tags,omitempty"`
	Assignee string       `json:"assignee,omitempty"`
}

// Matches reports whether t passes every set filter. Tags match on any overlap.
func (f Filters) Matches(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Assignee != "" && t.Assignee != f.Assignee {
		return false
	}
	if len(f.Tags) > 0 {
		for _, tag := range t.Tags {
			if slices.Contains(f.Tags, tag) {
				return true
			}
		}
		return false
	}
	return true
}

// UniqueStrings returns s without duplicates, keeping first-seen order.
// A nil input yields an empty, non-nil slice.
func UniqueStrings(s []string) []string {
	out := make([]string, 0, len(s))
	seen := make(map[string]bool, len(s))
	for _, v := range s {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
