package tools

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fitz/tasksync/internal/engine"
	"github.com/fitz/tasksync/internal/models"
)

const timeLayout = time.RFC3339

// Handler provides the dependencies needed by tool handlers.
type Handler struct {
	Engine *engine.Engine
	Logger *slog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(e *engine.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine: e,
		Logger: logger,
	}
}

// TaskView is the tool-facing rendering of a task.
type TaskView struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id,omitempty"`
	ParentID     string   `json:"parent_id,omitempty"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Assignee     string   `json:"assignee,omitempty"`
	StartTime    string   `json:"start_time,omitempty"`
	EndTime      string   `json:"end_time,omitempty"`
	Status       string   `json:"status"`
	Priority     string   `json:"priority"`
	Tags         []string `json:"tags"`
	Dependencies []string `json:"dependencies"`
	SortOrder    int      `json:"sort_order"`
	Version      int      `json:"version"`
	Pending      bool     `json:"pending_create,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

func viewTask(t models.Task) TaskView {
	v := TaskView{
		ID:           t.ID,
		ProjectID:    t.ProjectID,
		ParentID:     t.ParentID,
		Title:        t.Title,
		Description:  t.Description,
		Assignee:     t.Assignee,
		Status:       string(t.Status),
		Priority:     string(t.Priority),
		Tags:         nonNil(t.Tags),
		Dependencies: nonNil(t.Dependencies),
		SortOrder:    t.SortOrder,
		Version:      t.Version,
		Pending:      t.IsTemp,
		CreatedAt:    t.CreatedAt.Format(timeLayout),
		UpdatedAt:    t.UpdatedAt.Format(timeLayout),
	}
	if t.StartTime != nil {
		v.StartTime = t.StartTime.Format(timeLayout)
	}
	if t.EndTime != nil {
		v.EndTime = t.EndTime.Format(timeLayout)
	}
	return v
}

func viewTasks(tasks []models.Task) []TaskView {
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, viewTask(t))
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, *s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid %s: %q (use RFC 3339 or YYYY-MM-DD)", field, *s)
}

func parseStatus(s string) (models.TaskStatus, error) {
	if !models.IsValidTaskStatus(s) {
		return "", fmt.Errorf("invalid status: %s (must be one of: todo, in_progress, done, blocked)", s)
	}
	return models.TaskStatus(s), nil
}

func parsePriority(s string) (models.TaskPriority, error) {
	if !models.IsValidTaskPriority(s) {
		return "", fmt.Errorf("invalid priority: %s (must be one of: low, medium, high)", s)
	}
	return models.TaskPriority(s), nil
}
