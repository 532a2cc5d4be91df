package tools

import (
	"context"
	"fmt"

	"github.com/fitz/tasksync/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FiltersView renders the active list filters.
type FiltersView struct {
	Status   string   `json:"status,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Assignee string   `json:"assignee,omitempty"`
	Tags     []string `json:"tags"`
}

func viewFilters(f models.Filters) FiltersView {
	return FiltersView{
		Status:   string(f.Status),
		Priority: string(f.Priority),
		Assignee: f.Assignee,
		Tags:     nonNil(f.Tags),
	}
}

// SetFilterInput defines the input for the set_filter tool.
type SetFilterInput struct {
	Status   *string   `json:"status,omitempty" jsonschema:"Only tasks in this status; empty string clears"`
	Priority *string   `json:"priority,omitempty" jsonschema:"Only tasks with this priority; empty string clears"`
	Assignee *string   `json:"assignee,omitempty" jsonschema:"Only tasks assigned to this user; empty string clears"`
	Tags     *[]string `json:"tags,omitempty" jsonschema:"Only tasks carrying any of these tags; empty list clears"`
}

// FiltersOutput is returned by set_filter and clear_filters.
type FiltersOutput struct {
	Filters FiltersView `json:"filters"`
	Matches int         `json:"matches"`
}

// SetFilterTool returns the tool definition for set_filter.
func SetFilterTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "set_filter",
		Description: "Change the filters used by list_tasks. Only provided fields change; filters are kept across restarts.",
	}
}

// HandleSetFilter handles the set_filter tool call.
func (h *Handler) HandleSetFilter(ctx context.Context, req *mcp.CallToolRequest, input SetFilterInput) (*mcp.CallToolResult, FiltersOutput, error) {
	f := h.Engine.Filters()
	if input.Status != nil {
		f.Status = ""
		if *input.Status != "" {
			status, err := parseStatus(*input.Status)
			if err != nil {
				return nil, FiltersOutput{}, err
			}
			f.Status = status
		}
	}
	if input.Priority != nil {
		f.Priority = ""
		if *input.Priority != "" {
			priority, err := parsePriority(*input.Priority)
			if err != nil {
				return nil, FiltersOutput{}, err
			}
			f.Priority = priority
		}
	}
	if input.Assignee != nil {
		f.Assignee = *input.Assignee
	}
	if input.Tags != nil {
		f.Tags = *input.Tags
	}

	if err := h.Engine.SetFilter(f); err != nil {
		return nil, FiltersOutput{}, fmt.Errorf("failed to set filter: %w", err)
	}
	h.Logger.Info("set_filter", "status", f.Status, "priority", f.Priority, "tags", len(f.Tags))
	return nil, h.filtersOutput(), nil
}

// ClearFiltersInput defines the input for the clear_filters tool.
type ClearFiltersInput struct{}

// ClearFiltersTool returns the tool definition for clear_filters.
func ClearFiltersTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "clear_filters",
		Description: "Remove every list filter.",
	}
}

// HandleClearFilters handles the clear_filters tool call.
func (h *Handler) HandleClearFilters(ctx context.Context, req *mcp.CallToolRequest, input ClearFiltersInput) (*mcp.CallToolResult, FiltersOutput, error) {
	h.Engine.ClearFilters()
	h.Logger.Info("clear_filters")
	return nil, h.filtersOutput(), nil
}

func (h *Handler) filtersOutput() FiltersOutput {
	return FiltersOutput{
		Filters: viewFilters(h.Engine.Filters()),
		Matches: len(h.Engine.FilteredTasks()),
	}
}
