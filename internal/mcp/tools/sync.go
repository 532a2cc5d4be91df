package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/fitz/tasksync/internal/engine"
	"github.com/fitz/tasksync/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// QueueItemView is the tool-facing rendering of a sync queue item.
type QueueItemView struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	Entity     string `json:"entity"`
	EntityID   string `json:"entity_id"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
	ConflictID string `json:"conflict_id,omitempty"`
}

func viewQueueItem(it models.SyncQueueItem) QueueItemView {
	return QueueItemView{
		ID:         it.ID,
		Action:     string(it.Action),
		Entity:     string(it.Entity),
		EntityID:   it.EntityID,
		Status:     string(it.Status),
		RetryCount: it.RetryCount,
		LastError:  it.LastError,
		ConflictID: it.ConflictID,
	}
}

// SyncItemInput selects one queue item, or all when empty.
type SyncItemInput struct {
	ItemID string `json:"item_id,omitempty" jsonschema:"Queue item ID; empty applies to every failed item"`
}

// SyncItemOutput reports how many items were affected.
type SyncItemOutput struct {
	Affected int `json:"affected"`
}

// RetryFailedSyncTool returns the tool definition for retry_failed_sync.
func RetryFailedSyncTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "retry_failed_sync",
		Description: "Put failed sync items back in the queue with a fresh retry budget. Items waiting on a conflict stay put until the conflict is resolved.",
	}
}

// HandleRetryFailedSync handles the retry_failed_sync tool call.
func (h *Handler) HandleRetryFailedSync(ctx context.Context, req *mcp.CallToolRequest, input SyncItemInput) (*mcp.CallToolResult, SyncItemOutput, error) {
	n := h.Engine.RetryFailedSync(input.ItemID)
	h.Logger.Info("retry_failed_sync", "item_id", input.ItemID, "retried", n)
	return nil, SyncItemOutput{Affected: n}, nil
}

// ClearFailedSyncTool returns the tool definition for clear_failed_sync.
func ClearFailedSyncTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "clear_failed_sync",
		Description: "Dismiss sync items that ran out of retries. The local data is kept as is.",
	}
}

// HandleClearFailedSync handles the clear_failed_sync tool call.
func (h *Handler) HandleClearFailedSync(ctx context.Context, req *mcp.CallToolRequest, input SyncItemInput) (*mcp.CallToolResult, SyncItemOutput, error) {
	n := h.Engine.ClearFailedSync(input.ItemID)
	h.Logger.Info("clear_failed_sync", "item_id", input.ItemID, "cleared", n)
	return nil, SyncItemOutput{Affected: n}, nil
}

// ForceReloadTasksInput defines the input for the force_reload_tasks tool.
type ForceReloadTasksInput struct{}

// ForceReloadTasksOutput defines the output for the force_reload_tasks tool.
type ForceReloadTasksOutput struct {
	Tasks int `json:"tasks"`
}

// ForceReloadTasksTool returns the tool definition for force_reload_tasks.
func ForceReloadTasksTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "force_reload_tasks",
		Description: "Replace the local tasks with the server's copy of the current project. Tasks that have not reached the server yet are kept. Needs connectivity.",
	}
}

// HandleForceReloadTasks handles the force_reload_tasks tool call.
func (h *Handler) HandleForceReloadTasks(ctx context.Context, req *mcp.CallToolRequest, input ForceReloadTasksInput) (*mcp.CallToolResult, ForceReloadTasksOutput, error) {
	n, err := h.Engine.ForceReloadTasks(ctx)
	if err != nil {
		h.Logger.Error("force_reload_tasks failed", "error", err)
		return nil, ForceReloadTasksOutput{}, fmt.Errorf("failed to reload tasks: %w", err)
	}
	return nil, ForceReloadTasksOutput{Tasks: n}, nil
}

// SyncStatusInput defines the input for the sync_status tool.
type SyncStatusInput struct {
	SyncNow bool `json:"sync_now,omitempty" jsonschema:"Drain the queue before reporting"`
}

// NotificationView is the tool-facing rendering of a notification.
type NotificationView struct {
	Level      string `json:"level"`
	Message    string `json:"message"`
	ItemID     string `json:"item_id,omitempty"`
	ConflictID string `json:"conflict_id,omitempty"`
	At         string `json:"at"`
}

// SyncStatusOutput defines the output for the sync_status tool.
type SyncStatusOutput struct {
	Online           bool               `json:"online"`
	Realtime         string             `json:"realtime"`
	Pending          int                `json:"pending"`
	Syncing          int                `json:"syncing"`
	Failed           int                `json:"failed"`
	Held             int                `json:"held"`
	PendingConflicts int                `json:"pending_conflicts"`
	Tasks            int                `json:"tasks"`
	CurrentProject   string             `json:"current_project,omitempty"`
	LastSync         string             `json:"last_sync,omitempty"`
	Synced           int                `json:"synced"`
	Queue            []QueueItemView    `json:"queue"`
	Notifications    []NotificationView `json:"notifications"`
}

// SyncStatusTool returns the tool definition for sync_status.
func SyncStatusTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "sync_status",
		Description: "Report connectivity, the sync queue, pending conflicts and recent notifications. Set sync_now to push queued changes first.",
	}
}

// HandleSyncStatus handles the sync_status tool call.
func (h *Handler) HandleSyncStatus(ctx context.Context, req *mcp.CallToolRequest, input SyncStatusInput) (*mcp.CallToolResult, SyncStatusOutput, error) {
	var out SyncStatusOutput
	if input.SyncNow {
		n, err := h.Engine.SyncNow(ctx)
		if err != nil && !errors.Is(err, engine.ErrOffline) {
			return nil, SyncStatusOutput{}, fmt.Errorf("failed to sync: %w", err)
		}
		out.Synced = n
	}

	st := h.Engine.Status()
	out.Online = st.Online
	out.Realtime = string(st.Realtime)
	out.Pending = st.Queue.Pending
	out.Syncing = st.Queue.Syncing
	out.Failed = st.Queue.Failed
	out.Held = st.Queue.Held
	out.PendingConflicts = st.PendingConflicts
	out.Tasks = st.Tasks
	out.CurrentProject = st.CurrentProject
	if st.LastSync != nil {
		out.LastSync = st.LastSync.Format(timeLayout)
	}

	out.Queue = make([]QueueItemView, 0)
	for _, it := range h.Engine.QueueItems() {
		out.Queue = append(out.Queue, viewQueueItem(it))
	}
	out.Notifications = make([]NotificationView, 0)
	for _, n := range h.Engine.Notifications() {
		out.Notifications = append(out.Notifications, NotificationView{
			Level:      string(n.Level),
			Message:    n.Message,
			ItemID:     n.ItemID,
			ConflictID: n.ConflictID,
			At:         n.At.Format(timeLayout),
		})
	}
	return nil, out, nil
}
