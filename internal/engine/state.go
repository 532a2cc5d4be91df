package engine

import (
	"context"
	"slices"

	"github.com/fitz/tasksync/internal/persistence"
	"github.com/fitz/tasksync/internal/store"
)

// snapshot captures the persisted state. It is the persister's source.
func (e *Engine) snapshot() persistence.Snapshot {
	st := e.store.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := persistence.Snapshot{
		Tasks:          st.Tasks,
		Links:          st.Links,
		Tags:           st.Tags,
		CurrentProject: e.currentProject,
		Projects:       slices.Clone(e.projects),
		SyncQueue:      e.queue.Items(),
		Conflicts:      e.resolver.All(),
		Cleanup:        e.cleanup,
		Filters:        e.filters,
	}
	if e.lastSync != nil {
		ls := *e.lastSync
		snap.LastSync = &ls
	}
	return snap
}

// Snapshot returns the state as it would be persisted.
func (e *Engine) Snapshot() persistence.Snapshot {
	return e.snapshot()
}

func (e *Engine) load(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	snap, err := e.persister.Load(ctx)
	if err != nil {
		return err
	}

	tags := snap.Tags
	if len(tags) == 0 {
		tags = nil
	}
	e.mu.Lock()
	e.store.Restore(store.State{Tasks: snap.Tasks, Links: snap.Links, Tags: tags})
	e.queue.Restore(snap.SyncQueue)
	e.resolver.Restore(snap.Conflicts)
	e.projects = snap.Projects
	e.currentProject = snap.CurrentProject
	e.filters = snap.Filters
	e.lastSync = snap.LastSync
	e.cleanup = snap.Cleanup
	e.mu.Unlock()

	e.logger.Info("restored local state", "tasks", len(snap.Tasks), "queued", len(snap.SyncQueue), "conflicts", len(snap.Conflicts))
	return nil
}

// Flush writes any pending snapshot now.
func (e *Engine) Flush() error {
	if e.persister == nil {
		return nil
	}
	return e.persister.Flush()
}
