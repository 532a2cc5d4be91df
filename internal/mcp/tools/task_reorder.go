package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ReorderTaskInput defines the input for the reorder_task tool.
type ReorderTaskInput struct {
	ID       string `json:"id" jsonschema:"The ID of the task to move"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"New parent task ID; empty moves the task to the root"`
	Index    int    `json:"index" jsonschema:"Zero-based position among the new siblings"`
}

// ReorderTaskOutput defines the output for the reorder_task tool.
type ReorderTaskOutput struct {
	Task     TaskView   `json:"task"`
	Siblings []TaskView `json:"siblings"`
}

// ReorderTaskTool returns the tool definition for reorder_task.
func ReorderTaskTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "reorder_task",
		Description: "Move a task under a new parent at the given position. Siblings are renumbered locally; the server is told once the task has been still for a moment.",
	}
}

// HandleReorderTask handles the reorder_task tool call.
func (h *Handler) HandleReorderTask(ctx context.Context, req *mcp.CallToolRequest, input ReorderTaskInput) (*mcp.CallToolResult, ReorderTaskOutput, error) {
	h.Logger.Info("reorder_task", "id", input.ID, "parent_id", input.ParentID, "index", input.Index)

	if input.ID == "" {
		return nil, ReorderTaskOutput{}, fmt.Errorf("id is required")
	}
	if input.Index < 0 {
		return nil, ReorderTaskOutput{}, fmt.Errorf("index must not be negative")
	}

	moved, err := h.Engine.ReorderTask(input.ID, input.ParentID, input.Index)
	if err != nil {
		h.Logger.Error("reorder_task failed", "id", input.ID, "error", err)
		return nil, ReorderTaskOutput{}, fmt.Errorf("failed to reorder task: %w", err)
	}

	siblings := make([]TaskView, 0)
	for _, t := range h.Engine.Tasks() {
		if t.ParentID == moved.ParentID {
			siblings = append(siblings, viewTask(t))
		}
	}
	sortBySortOrder(siblings)

	h.Logger.Info("reorder_task complete", "id", moved.ID, "sort_order", moved.SortOrder)
	return nil, ReorderTaskOutput{Task: viewTask(moved), Siblings: siblings}, nil
}
