package tools

import (
	"context"
	"fmt"

	"github.com/fitz/tasksync/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// CreateTaskInput defines the input for the create_task tool.
type CreateTaskInput struct {
	Title        string   `json:"title" jsonschema:"Title of the task"`
	Description  string   `json:"description,omitempty" jsonschema:"Longer description"`
	ProjectID    string   `json:"project_id,omitempty" jsonschema:"Project the task belongs to (default: the current project)"`
	ParentID     string   `json:"parent_id,omitempty" jsonschema:"ID of the parent task; empty for a root task"`
	Assignee     string   `json:"assignee,omitempty" jsonschema:"User the task is assigned to"`
	Status       string   `json:"status,omitempty" jsonschema:"Task status: todo, in_progress, done, blocked (default: todo)"`
	Priority     string   `json:"priority,omitempty" jsonschema:"Task priority: low, medium, high (default: medium)"`
	StartTime    *string  `json:"start_time,omitempty" jsonschema:"Planned start, RFC 3339 or YYYY-MM-DD"`
	EndTime      *string  `json:"end_time,omitempty" jsonschema:"Planned end, RFC 3339 or YYYY-MM-DD"`
	Tags         []string `json:"tags,omitempty" jsonschema:"Tags for categorizing the task"`
	Dependencies []string `json:"dependencies,omitempty" jsonschema:"IDs of tasks that must finish before this one starts"`
}

// CreateTaskOutput defines the output for the create_task tool.
type CreateTaskOutput struct {
	Task TaskView `json:"task"`
}

// CreateTaskTool returns the tool definition for create_task.
func CreateTaskTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "create_task",
		Description: "Create a task. It is stored locally at once with a temporary ID and synced to the server in the background; the ID is replaced when the server confirms.",
	}
}

// HandleCreateTask handles the create_task tool call.
func (h *Handler) HandleCreateTask(ctx context.Context, req *mcp.CallToolRequest, input CreateTaskInput) (*mcp.CallToolResult, CreateTaskOutput, error) {
	h.Logger.Info("create_task", "title_len", len(input.Title), "parent_id", input.ParentID)

	in := models.TaskInput{
		ProjectID:    input.ProjectID,
		ParentID:     input.ParentID,
		Title:        input.Title,
		Description:  input.Description,
		Assignee:     input.Assignee,
		Tags:         input.Tags,
		Dependencies: input.Dependencies,
	}
	var err error
	if input.Status != "" {
		if in.Status, err = parseStatus(input.Status); err != nil {
			return nil, CreateTaskOutput{}, err
		}
	}
	if input.Priority != "" {
		if in.Priority, err = parsePriority(input.Priority); err != nil {
			return nil, CreateTaskOutput{}, err
		}
	}
	if in.StartTime, err = parseTime("start_time", input.StartTime); err != nil {
		return nil, CreateTaskOutput{}, err
	}
	if in.EndTime, err = parseTime("end_time", input.EndTime); err != nil {
		return nil, CreateTaskOutput{}, err
	}

	created, err := h.Engine.CreateTask(in)
	if err != nil {
		h.Logger.Error("create_task failed", "error", err)
		return nil, CreateTaskOutput{}, fmt.Errorf("failed to create task: %w", err)
	}

	h.Logger.Info("create_task complete", "id", created.ID)
	return nil, CreateTaskOutput{Task: viewTask(created)}, nil
}
