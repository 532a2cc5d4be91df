package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/fitz/tasksync/internal/models"
)

// Items returns the queue contents in drain order.
func (q *Queue) Items() []models.SyncQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sorted()
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats counts items by state. Held items are counted separately from
// failed ones.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s Stats
	for _, it := range q.items {
		switch {
		case it.Status == models.SyncStatusSyncing:
			s.Syncing++
		case it.ConflictID != "":
			s.Held++
		case it.Status == models.SyncStatusFailed && it.RetryCount >= q.maxRetries:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

// Failed returns the items that exhausted their retries.
func (q *Queue) Failed() []models.SyncQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.SyncQueueItem
	for _, it := range q.sorted() {
		if q.terminal(it) {
			out = append(out, it)
		}
	}
	return out
}

func (q *Queue) terminal(it models.SyncQueueItem) bool {
	return it.Status == models.SyncStatusFailed && it.ConflictID == "" && it.RetryCount >= q.maxRetries
}

// Retry returns failed items to pending with a fresh retry budget. An empty
// id retries every failed item. Held items stay held. It returns the count.
func (q *Queue) Retry(id string) int {
	q.mu.Lock()
	n := 0
	for i := range q.items {
		it := &q.items[i]
		if (id != "" && it.ID != id) || it.Status != models.SyncStatusFailed || it.ConflictID != "" {
			continue
		}
		it.Status = models.SyncStatusPending
		it.RetryCount = 0
		it.LastAttempt = nil
		it.LastError = ""
		n++
	}
	q.mu.Unlock()

	if n > 0 {
		q.logger.Info("retrying failed sync items", "count", n)
		q.changed()
	}
	return n
}

// Clear removes terminally failed items. An empty id clears all of them.
func (q *Queue) Clear(id string) int {
	q.mu.Lock()
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(it models.SyncQueueItem) bool {
		return (id == "" || it.ID == id) && q.terminal(it)
	})
	n := before - len(q.items)
	q.mu.Unlock()

	if n > 0 {
		q.logger.Info("cleared failed sync items", "count", n)
		q.changed()
	}
	return n
}

// Release returns items held for conflictID to pending.
func (q *Queue) Release(conflictID string) int {
	q.mu.Lock()
	n := 0
	for i := range q.items {
		it := &q.items[i]
		if it.ConflictID != conflictID {
			continue
		}
		it.ConflictID = ""
		it.Status = models.SyncStatusPending
		it.LastAttempt = nil
		it.LastError = ""
		n++
	}
	q.mu.Unlock()

	if n > 0 {
		q.changed()
	}
	return n
}

// Discard removes every item held for conflictID.
func (q *Queue) Discard(conflictID string) int {
	q.mu.Lock()
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(it models.SyncQueueItem) bool {
		return it.ConflictID == conflictID
	})
	n := before - len(q.items)
	q.mu.Unlock()

	if n > 0 {
		q.changed()
	}
	return n
}

// RewriteEntityID points items that reference oldID at newID, including
// references inside payloads.
func (q *Queue) RewriteEntityID(oldID, newID string) int {
	if oldID == newID {
		return 0
	}
	from := []byte(`"` + oldID + `"`)
	to := []byte(`"` + newID + `"`)

	q.mu.Lock()
	n := 0
	for i := range q.items {
		it := &q.items[i]
		touched := false
		if it.EntityID == oldID {
			it.EntityID = newID
			touched = true
		}
		if bytes.Contains(it.Payload, from) {
			it.Payload = bytes.ReplaceAll(it.Payload, from, to)
			touched = true
		}
		if touched {
			n++
		}
	}
	q.mu.Unlock()

	if n > 0 {
		q.changed()
	}
	return n
}

// HasPending reports whether any item references the entity.
func (q *Queue) HasPending(entity models.EntityType, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Entity == entity && it.EntityID == id {
			return true
		}
	}
	return false
}

// Restore replaces the contents with items loaded from storage. Items left
// syncing by an interrupted drain go back to pending.
func (q *Queue) Restore(items []models.SyncQueueItem) {
	q.mu.Lock()
	q.items = slices.Clone(items)
	for i := range q.items {
		if q.items[i].Status == models.SyncStatusSyncing {
			q.items[i].Status = models.SyncStatusPending
		}
	}
	q.mu.Unlock()
}

// DropEntity removes every non-syncing item for the entity.
func (q *Queue) DropEntity(entity models.EntityType, id string) int {
	q.mu.Lock()
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(it models.SyncQueueItem) bool {
		return it.Entity == entity && it.EntityID == id && it.Status != models.SyncStatusSyncing
	})
	n := before - len(q.items)
	q.mu.Unlock()

	if n > 0 {
		q.changed()
	}
	return n
}

// Others counts items for the entity other than skipID.
func (q *Queue) Others(entity models.EntityType, id, skipID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.Entity == entity && it.EntityID == id && it.ID != skipID {
			n++
		}
	}
	return n
}

// waitingUpdate reports whether it is an update the drain has not picked up.
func waitingUpdate(it models.SyncQueueItem, entity models.EntityType, id string) bool {
	return it.Entity == entity && it.EntityID == id &&
		it.Action == models.SyncActionUpdate && it.Status != models.SyncStatusSyncing
}

// PendingBase returns the server version the oldest waiting update for the
// entity was made on.
func (q *Queue) PendingBase(entity models.EntityType, id string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if waitingUpdate(it, entity, id) {
			return it.BaseVersion, true
		}
	}
	return 0, false
}

// Rebase points waiting updates for the entity at a newer server version
// and replaces their payload with patch.
func (q *Queue) Rebase(entity models.EntityType, id string, base int, patch any) (int, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return 0, fmt.Errorf("failed to encode sync payload: %w", err)
	}

	q.mu.Lock()
	n := 0
	for i := range q.items {
		it := &q.items[i]
		if !waitingUpdate(*it, entity, id) {
			continue
		}
		it.BaseVersion = base
		it.Payload = payload
		n++
	}
	q.mu.Unlock()

	if n > 0 {
		q.changed()
	}
	return n, nil
}

// HoldEntity parks waiting updates for the entity until conflictID is
// released or discarded.
func (q *Queue) HoldEntity(entity models.EntityType, id, conflictID string) int {
	q.mu.Lock()
	n := 0
	for i := range q.items {
		it := &q.items[i]
		if !waitingUpdate(*it, entity, id) {
			continue
		}
		it.Status = models.SyncStatusFailed
		it.ConflictID = conflictID
		it.LastError = (&holdError{conflictID: conflictID}).Error()
		n++
	}
	q.mu.Unlock()

	if n > 0 {
		q.changed()
	}
	return n
}
