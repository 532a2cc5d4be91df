package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/fitz/tasksync/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// GetTaskInput defines the input for the get_task tool.
type GetTaskInput struct {
	ID string `json:"id" jsonschema:"The ID of the task to retrieve"`
}

// GetTaskOutput defines the output for the get_task tool.
type GetTaskOutput struct {
	Task            TaskView   `json:"task"`
	Children        []TaskView `json:"children"`
	DependencyChain []string   `json:"dependency_chain"`
	CanMarkAsDone   bool       `json:"can_mark_as_done"`
	PendingSync     int        `json:"pending_sync"`
}

// GetTaskTool returns the tool definition for get_task.
func GetTaskTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_task",
		Description: "Get a task with its direct children, its transitive dependency chain, whether it can be marked done and how many of its changes are still waiting to sync.",
	}
}

// HandleGetTask handles the get_task tool call.
func (h *Handler) HandleGetTask(ctx context.Context, req *mcp.CallToolRequest, input GetTaskInput) (*mcp.CallToolResult, GetTaskOutput, error) {
	h.Logger.Info("get_task", "id", input.ID)

	if input.ID == "" {
		return nil, GetTaskOutput{}, fmt.Errorf("id is required")
	}

	task, ok := h.Engine.GetTask(input.ID)
	if !ok {
		return nil, GetTaskOutput{}, fmt.Errorf("task not found: %s", input.ID)
	}

	children := make([]TaskView, 0)
	for _, t := range h.Engine.Tasks() {
		if t.ParentID == task.ID {
			children = append(children, viewTask(t))
		}
	}
	sortBySortOrder(children)

	pending := 0
	for _, it := range h.Engine.QueueItems() {
		if it.Entity == models.EntityTask && it.EntityID == task.ID {
			pending++
		}
	}

	return nil, GetTaskOutput{
		Task:            viewTask(task),
		Children:        children,
		DependencyChain: nonNil(h.Engine.DependencyChain(task.ID)),
		CanMarkAsDone:   h.Engine.CanMarkAsDone(task.ID),
		PendingSync:     pending,
	}, nil
}

func sortBySortOrder(views []TaskView) {
	slices.SortStableFunc(views, func(a, b TaskView) int {
		if a.SortOrder != b.SortOrder {
			return a.SortOrder - b.SortOrder
		}
		return strings.Compare(a.ID, b.ID)
	})
}
