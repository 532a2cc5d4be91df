package engine

import (
	"fmt"

	"github.com/fitz/tasksync/internal/conflict"
	"github.com/fitz/tasksync/internal/models"
	"github.com/fitz/tasksync/internal/queue"
	"github.com/fitz/tasksync/internal/store"
)

// CreateTask adds a task locally and queues its creation. A missing
// project id defaults to the current project.
func (e *Engine) CreateTask(in models.TaskInput) (models.Task, error) {
	e.mu.Lock()
	if in.ProjectID == "" {
		in.ProjectID = e.currentProject
	}
	t := e.store.Create(in)
	_, err := e.queue.Enqueue(queue.Request{
		Action:   models.SyncActionCreate,
		Entity:   models.EntityTask,
		EntityID: t.ID,
		Payload:  t,
	})
	e.mu.Unlock()
	if err != nil {
		return t, err
	}

	e.drainAfterEnqueue()
	return t, nil
}

// UpdateTask applies patch locally and queues it. Validation errors
// return without any change.
func (e *Engine) UpdateTask(id string, patch models.TaskPatch) (models.Task, error) {
	e.mu.Lock()
	prev, ok := e.store.Get(id)
	if !ok {
		e.mu.Unlock()
		return models.Task{}, fmt.Errorf("failed to update task %s: %w", id, store.ErrTaskNotFound)
	}
	dependents := e.store.Dependents(id)

	t, err := e.store.Update(id, patch)
	if err != nil {
		e.mu.Unlock()
		return models.Task{}, err
	}
	e.remember(prev)
	err = e.enqueueUpdate(id, patch, prev.Version)

	// auto-blocked dependents travel to the server too
	for _, d := range dependents {
		if d.Status == models.TaskStatusBlocked {
			continue
		}
		cur, ok := e.store.Get(d.ID)
		if !ok || cur.Status != models.TaskStatusBlocked {
			continue
		}
		e.remember(d)
		blocked := models.TaskStatusBlocked
		if qerr := e.enqueueUpdate(d.ID, models.TaskPatch{Status: &blocked}, d.Version); qerr != nil && err == nil {
			err = qerr
		}
	}
	e.mu.Unlock()
	if err != nil {
		return t, err
	}

	e.drainAfterEnqueue()
	return t, nil
}

// enqueueUpdate queues a task update. Callers hold e.mu.
func (e *Engine) enqueueUpdate(id string, patch models.TaskPatch, baseVersion int) error {
	_, err := e.queue.Enqueue(queue.Request{
		Action:      models.SyncActionUpdate,
		Entity:      models.EntityTask,
		EntityID:    id,
		Payload:     patch,
		BaseVersion: baseVersion,
	})
	return err
}

// remember keeps the pre-mutation record for rollback, once per unsynced
// run of edits. Callers hold e.mu.
func (e *Engine) remember(prev models.Task) {
	if _, ok := e.before[prev.ID]; !ok {
		e.before[prev.ID] = prev.Clone()
	}
}

// DeleteTask removes a task and its descendants and queues the deletes.
func (e *Engine) DeleteTask(id string) ([]string, error) {
	e.mu.Lock()
	removed, err := e.store.Delete(id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	for _, rid := range removed {
		delete(e.before, rid)
		delete(e.reorderBase, rid)
		if _, qerr := e.queue.Enqueue(queue.Request{
			Action:   models.SyncActionDelete,
			Entity:   models.EntityTask,
			EntityID: rid,
		}); qerr != nil && err == nil {
			err = qerr
		}
	}
	e.mu.Unlock()
	if err != nil {
		return removed, err
	}

	e.drainAfterEnqueue()
	return removed, nil
}

// ReorderTask moves a task to newIndex under newParentID. The server
// confirmation is debounced per task so a burst of moves sends one update.
func (e *Engine) ReorderTask(id, newParentID string, newIndex int) (models.Task, error) {
	e.mu.Lock()
	prev, ok := e.store.Get(id)
	if !ok {
		e.mu.Unlock()
		return models.Task{}, fmt.Errorf("failed to reorder task %s: %w", id, store.ErrInvalidReorderTarget)
	}
	t, err := e.store.Reorder(id, newParentID, newIndex)
	if err != nil {
		e.mu.Unlock()
		return models.Task{}, err
	}
	e.remember(prev)
	if _, ok := e.reorderBase[id]; !ok {
		e.reorderBase[id] = prev.Version
	}
	e.mu.Unlock()

	e.reorders.Trigger(id)
	return t, nil
}

func (e *Engine) confirmReorder(id string) {
	e.mu.Lock()
	base, ok := e.reorderBase[id]
	delete(e.reorderBase, id)
	t, exists := e.store.Get(id)
	if !ok || !exists {
		e.mu.Unlock()
		return
	}
	parent, sortOrder := t.ParentID, t.SortOrder
	err := e.enqueueUpdate(id, models.TaskPatch{ParentID: &parent, SortOrder: &sortOrder}, base)
	e.mu.Unlock()
	if err != nil {
		e.logger.Error("failed to queue reorder", "id", id, "error", err)
		return
	}
	e.drainAfterEnqueue()
}

// DuplicateTask copies a task next to the original and queues the copy.
func (e *Engine) DuplicateTask(id string) (models.Task, error) {
	e.mu.Lock()
	t, err := e.store.Duplicate(id)
	if err == nil {
		_, err = e.queue.Enqueue(queue.Request{
			Action:   models.SyncActionCreate,
			Entity:   models.EntityTask,
			EntityID: t.ID,
			Payload:  t,
		})
	}
	e.mu.Unlock()
	if err != nil {
		return t, err
	}
	e.drainAfterEnqueue()
	return t, nil
}

// GetTask returns a task by id.
func (e *Engine) GetTask(id string) (models.Task, bool) {
	return e.store.Get(id)
}

// Tasks returns every task.
func (e *Engine) Tasks() []models.Task {
	return e.store.All()
}

// Tree returns the task forest.
func (e *Engine) Tree() []*models.TaskNode {
	return e.store.Tree()
}

// Links returns the dependency links.
func (e *Engine) Links() []models.DependencyLink {
	return e.store.Links()
}

// DependencyChain returns every transitive dependency of id.
func (e *Engine) DependencyChain(id string) []string {
	return e.store.DependencyChain(id)
}

// CanMarkAsDone reports whether every dependency of id is done.
func (e *Engine) CanMarkAsDone(id string) bool {
	return e.store.CanMarkAsDone(id)
}

// BlockedTasks returns unfinished tasks waiting on an incomplete dependency.
func (e *Engine) BlockedTasks() []models.Task {
	return e.store.BlockedTasks()
}

// SetFilter replaces the active filters.
func (e *Engine) SetFilter(f models.Filters) error {
	if f.Status != "" && !models.IsValidTaskStatus(string(f.Status)) {
		return fmt.Errorf("invalid status filter %q", f.Status)
	}
	if f.Priority != "" && !models.IsValidTaskPriority(string(f.Priority)) {
		return fmt.Errorf("invalid priority filter %q", f.Priority)
	}
	e.mu.Lock()
	e.filters = f
	e.mu.Unlock()
	e.persistLater()
	return nil
}

// ClearFilters resets the filters.
func (e *Engine) ClearFilters() {
	e.mu.Lock()
	e.filters = models.Filters{}
	e.mu.Unlock()
	e.persistLater()
}

// Filters returns the active filters.
func (e *Engine) Filters() models.Filters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filters
}

// FilteredTasks returns the tasks of the current project passing the
// active filters.
func (e *Engine) FilteredTasks() []models.Task {
	e.mu.Lock()
	f, project := e.filters, e.currentProject
	e.mu.Unlock()
	out := e.store.FilteredTasks(f)
	if project == "" {
		return out
	}
	kept := out[:0]
	for _, t := range out {
		if t.ProjectID == "" || t.ProjectID == project {
			kept = append(kept, t)
		}
	}
	return kept
}

// Tags returns the tag vocabulary.
func (e *Engine) Tags() []string {
	return e.store.Tags()
}

// AddTag extends the tag vocabulary.
func (e *Engine) AddTag(tag string) bool {
	return e.store.AddTag(tag)
}

// RemoveTag drops a tag from the vocabulary and every task.
func (e *Engine) RemoveTag(tag string) bool {
	return e.store.RemoveTag(tag)
}

// QueueItems returns the sync queue in drain order.
func (e *Engine) QueueItems() []models.SyncQueueItem {
	return e.queue.Items()
}

// RetryFailedSync returns failed items to pending; an empty id retries
// all of them.
func (e *Engine) RetryFailedSync(id string) int {
	n := e.queue.Retry(id)
	if n > 0 {
		e.kickDrain()
	}
	return n
}

// ClearFailedSync dismisses terminally failed items.
func (e *Engine) ClearFailedSync(id string) int {
	return e.queue.Clear(id)
}

// Conflicts returns the pending conflicts.
func (e *Engine) Conflicts() []models.Conflict {
	return e.resolver.Pending()
}

// ConflictHistory returns every recorded conflict.
func (e *Engine) ConflictHistory() []models.Conflict {
	return e.resolver.All()
}

// ResolveConflict settles a pending conflict, writes the result to the
// store and queues it in place of the held item. It reports false when the
// conflict is unknown or already settled.
func (e *Engine) ResolveConflict(id string, strategy conflict.Strategy, choices map[string]conflict.Side) (models.Task, bool, error) {
	e.mu.Lock()
	c, known := e.resolver.Get(id)
	resolved, ok, err := e.resolver.Resolve(id, strategy, choices)
	if err != nil || !ok || !known {
		e.mu.Unlock()
		return resolved, ok, err
	}
	err = e.requeueResolved(c, resolved)
	e.mu.Unlock()
	if err != nil {
		return resolved, true, err
	}
	e.drainAfterEnqueue()
	return resolved, true, nil
}

// IgnoreConflict accepts the server snapshot for a pending conflict and
// drops the local edit.
func (e *Engine) IgnoreConflict(id string) (models.Task, bool) {
	e.mu.Lock()
	server, ok := e.resolver.Ignore(id)
	if ok {
		e.queue.Discard(id)
		e.store.Put(server)
		delete(e.before, server.ID)
	}
	e.mu.Unlock()
	return server, ok
}

// requeueResolved stores a resolution and replaces the held item with a
// full update based on the server version. Callers hold e.mu.
func (e *Engine) requeueResolved(c models.Conflict, resolved models.Task) error {
	e.queue.Discard(c.ID)
	if _, exists := e.store.Get(resolved.ID); !exists {
		return nil
	}
	e.store.Put(resolved)
	return e.enqueueUpdate(resolved.ID, models.PatchFromTask(resolved), c.ServerVersion)
}
