package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ProjectView is the tool-facing rendering of a project.
type ProjectView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Pending bool   `json:"pending_create,omitempty"`
}

// SetCurrentProjectInput defines the input for the set_current_project tool.
type SetCurrentProjectInput struct {
	ProjectID string `json:"project_id" jsonschema:"The project to work in"`
	Reload    bool   `json:"reload,omitempty" jsonschema:"Reload the project's tasks from the server afterwards"`
}

// SetCurrentProjectOutput defines the output for the set_current_project tool.
type SetCurrentProjectOutput struct {
	CurrentProject string        `json:"current_project"`
	Projects       []ProjectView `json:"projects"`
	Reloaded       int           `json:"reloaded"`
}

// SetCurrentProjectTool returns the tool definition for set_current_project.
func SetCurrentProjectTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "set_current_project",
		Description: "Switch the active project. New tasks default to it, list_tasks is scoped to it and realtime updates follow it.",
	}
}

// HandleSetCurrentProject handles the set_current_project tool call.
func (h *Handler) HandleSetCurrentProject(ctx context.Context, req *mcp.CallToolRequest, input SetCurrentProjectInput) (*mcp.CallToolResult, SetCurrentProjectOutput, error) {
	h.Logger.Info("set_current_project", "project_id", input.ProjectID, "reload", input.Reload)

	if input.ProjectID == "" {
		return nil, SetCurrentProjectOutput{}, fmt.Errorf("project_id is required")
	}
	if err := h.Engine.SetCurrentProject(input.ProjectID); err != nil {
		return nil, SetCurrentProjectOutput{}, fmt.Errorf("failed to set current project: %w", err)
	}

	out := SetCurrentProjectOutput{CurrentProject: h.Engine.CurrentProject(), Projects: make([]ProjectView, 0)}
	if input.Reload {
		n, err := h.Engine.ForceReloadTasks(ctx)
		if err != nil {
			return nil, SetCurrentProjectOutput{}, fmt.Errorf("failed to reload tasks: %w", err)
		}
		out.Reloaded = n
	}
	for _, p := range h.Engine.Projects() {
		out.Projects = append(out.Projects, ProjectView{ID: p.ID, Name: p.Name, Status: string(p.Status), Pending: p.IsTemp})
	}
	return nil, out, nil
}
