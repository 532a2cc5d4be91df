package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fitz/tasksync/internal/conflict"
	"github.com/fitz/tasksync/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FieldConflictView shows one diverging field. Values are JSON encoded.
type FieldConflictView struct {
	Field         string `json:"field"`
	Local         string `json:"local"`
	Server        string `json:"server"`
	AutoMergeable bool   `json:"auto_mergeable"`
}

// ConflictView is the tool-facing rendering of a conflict.
type ConflictView struct {
	ID            string              `json:"id"`
	EntityID      string              `json:"entity_id"`
	Title         string              `json:"title"`
	Status        string              `json:"status"`
	LocalVersion  int                 `json:"local_version"`
	ServerVersion int                 `json:"server_version"`
	Fields        []FieldConflictView `json:"fields"`
	DetectedAt    string              `json:"detected_at"`
	ResolvedAt    string              `json:"resolved_at,omitempty"`
}

func viewConflict(c models.Conflict) ConflictView {
	v := ConflictView{
		ID:            c.ID,
		EntityID:      c.EntityID,
		Title:         c.LocalData.Title,
		Status:        string(c.Status),
		LocalVersion:  c.LocalVersion,
		ServerVersion: c.ServerVersion,
		Fields:        make([]FieldConflictView, 0, len(c.Fields)),
		DetectedAt:    c.DetectedAt.Format(timeLayout),
	}
	for _, f := range c.Fields {
		v.Fields = append(v.Fields, FieldConflictView{
			Field:         f.Field,
			Local:         encodeValue(f.LocalValue),
			Server:        encodeValue(f.ServerValue),
			AutoMergeable: f.AutoMergeable,
		})
	}
	if c.ResolvedAt != nil {
		v.ResolvedAt = c.ResolvedAt.Format(timeLayout)
	}
	return v
}

func encodeValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// ListConflictsInput defines the input for the list_conflicts tool.
type ListConflictsInput struct {
	History bool `json:"history,omitempty" jsonschema:"Include resolved and ignored conflicts"`
}

// ListConflictsOutput defines the output for the list_conflicts tool.
type ListConflictsOutput struct {
	Conflicts []ConflictView `json:"conflicts"`
	Count     int            `json:"count"`
}

// ListConflictsTool returns the tool definition for list_conflicts.
func ListConflictsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_conflicts",
		Description: "List conflicts between local edits and the server that need a decision, with the diverging fields on each side.",
	}
}

// HandleListConflicts handles the list_conflicts tool call.
func (h *Handler) HandleListConflicts(ctx context.Context, req *mcp.CallToolRequest, input ListConflictsInput) (*mcp.CallToolResult, ListConflictsOutput, error) {
	list := h.Engine.Conflicts()
	if input.History {
		list = h.Engine.ConflictHistory()
	}
	out := ListConflictsOutput{Conflicts: make([]ConflictView, 0, len(list)), Count: len(list)}
	for _, c := range list {
		out.Conflicts = append(out.Conflicts, viewConflict(c))
	}
	return nil, out, nil
}

// ResolveConflictInput defines the input for the resolve_conflict tool.
type ResolveConflictInput struct {
	ID       string            `json:"id" jsonschema:"The conflict ID"`
	Strategy string            `json:"strategy,omitempty" jsonschema:"keep_local, keep_server, merge or ignore (default: keep_server)"`
	Fields   map[string]string `json:"fields,omitempty" jsonschema:"Per-field choice of local or server, overriding the strategy"`
}

// ResolveConflictOutput defines the output for the resolve_conflict tool.
type ResolveConflictOutput struct {
	Resolved bool     `json:"resolved"`
	Task     TaskView `json:"task"`
}

// ResolveConflictTool returns the tool definition for resolve_conflict.
func ResolveConflictTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "resolve_conflict",
		Description: "Settle a pending conflict. merge takes the newer side per field and unions tags but keeps the server's dependencies; ignore accepts the server copy and drops the local edit. The result is synced with a version above both sides.",
	}
}

// HandleResolveConflict handles the resolve_conflict tool call.
func (h *Handler) HandleResolveConflict(ctx context.Context, req *mcp.CallToolRequest, input ResolveConflictInput) (*mcp.CallToolResult, ResolveConflictOutput, error) {
	h.Logger.Info("resolve_conflict", "id", input.ID, "strategy", input.Strategy)

	if input.ID == "" {
		return nil, ResolveConflictOutput{}, fmt.Errorf("id is required")
	}

	if input.Strategy == "ignore" {
		task, ok := h.Engine.IgnoreConflict(input.ID)
		if !ok {
			return nil, ResolveConflictOutput{}, fmt.Errorf("no pending conflict %s", input.ID)
		}
		return nil, ResolveConflictOutput{Resolved: true, Task: viewTask(task)}, nil
	}

	choices := make(map[string]conflict.Side, len(input.Fields))
	for field, side := range input.Fields {
		choices[field] = conflict.Side(side)
	}
	task, ok, err := h.Engine.ResolveConflict(input.ID, conflict.Strategy(input.Strategy), choices)
	if err != nil {
		h.Logger.Error("resolve_conflict failed", "id", input.ID, "error", err)
		return nil, ResolveConflictOutput{}, fmt.Errorf("failed to resolve conflict: %w", err)
	}
	if !ok {
		return nil, ResolveConflictOutput{}, fmt.Errorf("no pending conflict %s", input.ID)
	}

	h.Logger.Info("resolve_conflict complete", "id", input.ID, "version", task.Version)
	return nil, ResolveConflictOutput{Resolved: true, Task: viewTask(task)}, nil
}
