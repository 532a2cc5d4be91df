package engine

import (
	"context"
	"fmt"

	"github.com/fitz/tasksync/internal/conflict"
	"github.com/fitz/tasksync/internal/models"
	"github.com/fitz/tasksync/internal/realtime"
)

// applyRemote merges an inbound realtime event into the store. Events are
// applied in arrival order.
func (e *Engine) applyRemote(ev realtime.TaskSync) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Type {
	case realtime.SyncDeleted:
		if e.store.Remove(ev.Task.ID) {
			e.queue.DropEntity(models.EntityTask, ev.Task.ID)
			delete(e.before, ev.Task.ID)
			e.logger.Debug("applied remote delete", "id", ev.Task.ID)
		}
	case realtime.SyncCreated, realtime.SyncUpdated:
		if e.currentProject != "" && ev.Task.ProjectID != "" && ev.Task.ProjectID != e.currentProject {
			return
		}
		// updates only replace records we already hold
		if _, ok := e.store.Get(ev.Task.ID); !ok && ev.Type == realtime.SyncUpdated {
			e.logger.Debug("ignoring update for unknown task", "id", ev.Task.ID)
			return
		}
		e.mergeServerTask(ev.Task)
	default:
		e.logger.Warn("ignoring unknown task sync type", "type", ev.Type, "id", ev.Task.ID)
	}
}

// mergeServerTask folds a server record into the store. Local records with
// queued updates are reconciled against the version those updates were made
// on; a queued delete keeps the local intent. Otherwise newer server
// versions win. Callers hold e.mu.
func (e *Engine) mergeServerTask(server models.Task) {
	local, ok := e.store.Get(server.ID)
	if !ok {
		e.store.Put(server)
		return
	}
	if !e.queue.HasPending(models.EntityTask, server.ID) {
		if server.Version >= local.Version {
			e.store.Put(server)
		}
		return
	}

	base, ok := e.queue.PendingBase(models.EntityTask, server.ID)
	if !ok {
		return
	}
	out := e.resolver.ReconcileFrom(base, local, server)
	switch out.Kind {
	case conflict.OutcomeAutoResolved:
		e.store.Put(out.Task)
		if _, err := e.queue.Rebase(models.EntityTask, server.ID, server.Version, models.PatchFromTask(out.Task)); err != nil {
			e.logger.Error("failed to rebase queued update", "id", server.ID, "error", err)
		}
	case conflict.OutcomePending:
		e.queue.HoldEntity(models.EntityTask, server.ID, out.Conflict.ID)
		e.notes.add(models.NotifyWarning, "conflicting edits on \""+local.Title+"\" need a decision", "", out.Conflict.ID)
	}
}

// ForceReloadTasks replaces the store with the server's task list for the
// current project. Tasks still waiting for their first sync are kept.
func (e *Engine) ForceReloadTasks(ctx context.Context) (int, error) {
	if e.api == nil || !e.Online() {
		return 0, ErrOffline
	}
	e.mu.Lock()
	project := e.currentProject
	e.mu.Unlock()

	tasks, err := e.api.ListTasks(ctx, project, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to reload tasks: %w", err)
	}

	e.mu.Lock()
	now := e.now()
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		seen[t.ID] = true
	}
	for _, item := range e.queue.Items() {
		if item.Entity != models.EntityTask || item.Action != models.SyncActionCreate || seen[item.EntityID] {
			continue
		}
		if t, ok := e.store.Get(item.EntityID); ok {
			tasks = append(tasks, t)
			seen[t.ID] = true
		}
	}
	e.store.ReplaceAll(tasks)
	e.lastSync = &now
	e.mu.Unlock()

	e.persistLater()
	e.notes.add(models.NotifyPositive, fmt.Sprintf("reloaded %d tasks", len(tasks)), "", "")
	e.logger.Info("tasks reloaded", "project_id", project, "count", len(tasks))
	return len(tasks), nil
}

// Pull fetches tasks changed on the server since the last sync and merges
// them. Without a previous sync it behaves like ForceReloadTasks.
func (e *Engine) Pull(ctx context.Context) (int, error) {
	if e.api == nil || !e.Online() {
		return 0, ErrOffline
	}
	e.mu.Lock()
	project, since := e.currentProject, e.lastSync
	e.mu.Unlock()
	if since == nil {
		return e.ForceReloadTasks(ctx)
	}

	start := e.now()
	tasks, err := e.api.ListTasks(ctx, project, since)
	if err != nil {
		return 0, fmt.Errorf("failed to pull tasks: %w", err)
	}

	e.mu.Lock()
	for _, t := range tasks {
		e.mergeServerTask(t)
	}
	e.lastSync = &start
	e.mu.Unlock()

	e.persistLater()
	return len(tasks), nil
}

// SetCurrentProject switches the active project and joins its realtime
// room.
func (e *Engine) SetCurrentProject(id string) error {
	e.mu.Lock()
	e.currentProject = id
	e.mu.Unlock()
	e.persistLater()

	if e.channel != nil {
		if err := e.channel.SetProject(id); err != nil {
			return err
		}
	}
	return nil
}

// CurrentProject returns the active project id.
func (e *Engine) CurrentProject() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentProject
}
