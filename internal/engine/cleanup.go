package engine

import (
	"github.com/fitz/tasksync/internal/models"
	"github.com/fitz/tasksync/internal/persistence"
)

// RunCleanup prunes settled conflicts older than the retention window and
// repairs the dependency graph. Repairs are queued like user edits.
func (e *Engine) RunCleanup() persistence.Cleanup {
	e.mu.Lock()
	now := e.now()
	pruned := e.resolver.Prune(now.Add(-e.tuning.ConflictRetention))
	repaired, before := e.store.ValidateDependencies()
	for _, prev := range before {
		cur, ok := e.store.Get(prev.ID)
		if !ok {
			continue
		}
		e.remember(prev)
		patch := models.TaskPatch{Status: &cur.Status, Dependencies: &cur.Dependencies}
		if err := e.enqueueUpdate(cur.ID, patch, prev.Version); err != nil {
			e.logger.Error("failed to queue dependency repair", "id", cur.ID, "error", err)
		}
	}
	e.cleanup = persistence.Cleanup{
		LastRun:              &now,
		PrunedConflicts:      pruned,
		RepairedDependencies: repaired,
	}
	out := e.cleanup
	e.mu.Unlock()

	e.persistLater()
	if len(before) > 0 {
		e.drainAfterEnqueue()
	}
	e.logger.Info("cleanup complete", "pruned_conflicts", pruned, "repaired_dependencies", repaired)
	return out
}
