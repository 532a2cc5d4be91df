package tools

import (
	"context"
	"fmt"

	"github.com/fitz/tasksync/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// UpdateTaskInput defines the input for the update_task tool.
type UpdateTaskInput struct {
	ID           string    `json:"id" jsonschema:"The ID of the task to update"`
	Title        *string   `json:"title,omitempty" jsonschema:"New title"`
	Description  *string   `json:"description,omitempty" jsonschema:"New description"`
	Assignee     *string   `json:"assignee,omitempty" jsonschema:"New assignee"`
	Status       *string   `json:"status,omitempty" jsonschema:"New status: todo, in_progress, done, blocked"`
	Priority     *string   `json:"priority,omitempty" jsonschema:"New priority: low, medium, high"`
	StartTime    *string   `json:"start_time,omitempty" jsonschema:"New planned start"`
	EndTime      *string   `json:"end_time,omitempty" jsonschema:"New planned end"`
	Tags         *[]string `json:"tags,omitempty" jsonschema:"New tags (replaces existing)"`
	Dependencies *[]string `json:"dependencies,omitempty" jsonschema:"New dependency IDs (replaces existing)"`
}

// UpdateTaskOutput defines the output for the update_task tool.
type UpdateTaskOutput struct {
	Task TaskView `json:"task"`
}

// UpdateTaskTool returns the tool definition for update_task.
func UpdateTaskTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "update_task",
		Description: "Update a task. Only provided fields change. Marking a task done fails while any dependency is unfinished, and a dependency set that would form a cycle is rejected.",
	}
}

// HandleUpdateTask handles the update_task tool call.
func (h *Handler) HandleUpdateTask(ctx context.Context, req *mcp.CallToolRequest, input UpdateTaskInput) (*mcp.CallToolResult, UpdateTaskOutput, error) {
	h.Logger.Info("update_task", "id", input.ID)

	if input.ID == "" {
		return nil, UpdateTaskOutput{}, fmt.Errorf("id is required")
	}

	patch := models.TaskPatch{
		Title:        input.Title,
		Description:  input.Description,
		Assignee:     input.Assignee,
		Tags:         input.Tags,
		Dependencies: input.Dependencies,
	}
	if input.Status != nil {
		status, err := parseStatus(*input.Status)
		if err != nil {
			return nil, UpdateTaskOutput{}, err
		}
		patch.Status = &status
	}
	if input.Priority != nil {
		priority, err := parsePriority(*input.Priority)
		if err != nil {
			return nil, UpdateTaskOutput{}, err
		}
		patch.Priority = &priority
	}
	var err error
	if patch.StartTime, err = parseTime("start_time", input.StartTime); err != nil {
		return nil, UpdateTaskOutput{}, err
	}
	if patch.EndTime, err = parseTime("end_time", input.EndTime); err != nil {
		return nil, UpdateTaskOutput{}, err
	}

	updated, err := h.Engine.UpdateTask(input.ID, patch)
	if err != nil {
		h.Logger.Error("update_task failed", "id", input.ID, "error", err)
		return nil, UpdateTaskOutput{}, fmt.Errorf("failed to update task: %w", err)
	}

	h.Logger.Info("update_task complete", "id", updated.ID, "version", updated.Version)
	return nil, UpdateTaskOutput{Task: viewTask(updated)}, nil
}
