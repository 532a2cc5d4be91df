package tools

import (
	"context"

	"github.com/fitz/tasksync/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ListTasksInput defines the input for the list_tasks tool.
type ListTasksInput struct {
	All bool `json:"all,omitempty" jsonschema:"Ignore the active filters and the current project"`
}

// ListTasksOutput defines the output for the list_tasks tool.
type ListTasksOutput struct {
	Tasks   []TaskView  `json:"tasks"`
	Count   int         `json:"count"`
	Filters FiltersView `json:"filters"`
}

// ListTasksTool returns the tool definition for list_tasks.
func ListTasksTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_tasks",
		Description: "List the tasks of the current project that pass the active filters (see set_filter). Set all to list every task in the local store.",
	}
}

// HandleListTasks handles the list_tasks tool call.
func (h *Handler) HandleListTasks(ctx context.Context, req *mcp.CallToolRequest, input ListTasksInput) (*mcp.CallToolResult, ListTasksOutput, error) {
	var tasks []models.Task
	if input.All {
		tasks = h.Engine.Tasks()
	} else {
		tasks = h.Engine.FilteredTasks()
	}
	h.Logger.Debug("list_tasks", "all", input.All, "count", len(tasks))

	return nil, ListTasksOutput{
		Tasks:   viewTasks(tasks),
		Count:   len(tasks),
		Filters: viewFilters(h.Engine.Filters()),
	}, nil
}

// TreeEntry is one task in depth-first tree order.
type TreeEntry struct {
	Depth int      `json:"depth"`
	Task  TaskView `json:"task"`
}

// TaskTreeInput defines the input for the task_tree tool.
type TaskTreeInput struct {
	RootID string `json:"root_id,omitempty" jsonschema:"Only return the subtree under this task"`
}

// TaskTreeOutput defines the output for the task_tree tool.
type TaskTreeOutput struct {
	Entries []TreeEntry `json:"entries"`
}

// TaskTreeTool returns the tool definition for task_tree.
func TaskTreeTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "task_tree",
		Description: "Return the parent/child hierarchy in depth-first order, siblings sorted by position. Tasks whose parent is missing appear as roots.",
	}
}

// HandleTaskTree handles the task_tree tool call.
func (h *Handler) HandleTaskTree(ctx context.Context, req *mcp.CallToolRequest, input TaskTreeInput) (*mcp.CallToolResult, TaskTreeOutput, error) {
	h.Logger.Debug("task_tree", "root_id", input.RootID)

	entries := make([]TreeEntry, 0)
	var walk func(nodes []*models.TaskNode, depth int, inside bool)
	walk = func(nodes []*models.TaskNode, depth int, inside bool) {
		for _, n := range nodes {
			if inside || input.RootID == "" {
				entries = append(entries, TreeEntry{Depth: depth, Task: viewTask(n.Task)})
				walk(n.Children, depth+1, true)
				continue
			}
			if n.Task.ID == input.RootID {
				entries = append(entries, TreeEntry{Depth: 0, Task: viewTask(n.Task)})
				walk(n.Children, 1, true)
				return
			}
			walk(n.Children, depth, false)
		}
	}
	walk(h.Engine.Tree(), 0, false)

	return nil, TaskTreeOutput{Entries: entries}, nil
}
