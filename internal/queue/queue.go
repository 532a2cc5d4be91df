// Package queue is the durable outbound mutation queue. Items drain in
// priority-then-age order with per-item exponential backoff.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fitz/tasksync/internal/models"
	"github.com/fitz/tasksync/internal/schedule"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultMaxRetries is the failure count after which an item is terminal.
	DefaultMaxRetries = 5
)

// DefaultBackoff is min(1s * 2^retryCount, 30s).
var DefaultBackoff = schedule.Backoff{Base: time.Second, Max: 30 * time.Second}

// Executor sends one item to the server. A nil error removes the item.
type Executor interface {
	Execute(ctx context.Context, item models.SyncQueueItem) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, item models.SyncQueueItem) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, item models.SyncQueueItem) error {
	return f(ctx, item)
}

// Options configures a Queue.
type Options struct {
	Logger     *slog.Logger
	Now        func() time.Time
	Backoff    schedule.Backoff
	MaxRetries int
	// OnChange runs after the queue contents change, outside the lock.
	OnChange func()
	// OnTerminalFailure runs once when an item exhausts its retries.
	OnTerminalFailure func(models.SyncQueueItem)
}

// Request describes a mutation to enqueue.
type Request struct {
	Action      models.SyncAction
	Entity      models.EntityType
	EntityID    string
	Payload     any
	BaseVersion int
	// Priority defaults to high for creates and normal otherwise.
	Priority models.SyncPriority
}

// Stats summarizes the queue.
type Stats struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
	Held    int `json:"held"`
}

// Queue holds SyncQueueItems. It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    []models.SyncQueueItem
	draining bool
	entropy  io.Reader

	logger     *slog.Logger
	now        func() time.Time
	backoff    schedule.Backoff
	maxRetries int
	onChange   func()
	onTerminal func(models.SyncQueueItem)
}

// New creates an empty queue.
func New(opts Options) *Queue {
	q := &Queue{
		logger:     opts.Logger,
		now:        opts.Now,
		backoff:    opts.Backoff,
		maxRetries: opts.MaxRetries,
		onChange:   opts.OnChange,
		onTerminal: opts.OnTerminalFailure,
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.now == nil {
		q.now = func() time.Time { return time.Now().UTC() }
	}
	if q.backoff == (schedule.Backoff{}) {
		q.backoff = DefaultBackoff
	}
	if q.maxRetries <= 0 {
		q.maxRetries = DefaultMaxRetries
	}
	return q
}

func (q *Queue) changed() {
	if q.onChange != nil {
		q.onChange()
	}
}

// Enqueue adds a mutation. Updates fold into a waiting update for the same
// entity. A delete drops waiting updates, and if the entity's create never
// reached the server the create is dropped too and no delete is queued; the
// returned item then has an empty ID.
func (q *Queue) Enqueue(req Request) (models.SyncQueueItem, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return models.SyncQueueItem{}, fmt.Errorf("failed to encode sync payload: %w", err)
	}
	if req.Payload == nil {
		payload = nil
	}

	q.mu.Lock()
	var item models.SyncQueueItem
	switch req.Action {
	case models.SyncActionUpdate:
		if i := q.waitingIndex(req.Entity, req.EntityID, models.SyncActionUpdate); i >= 0 {
			if merged, ok := mergePayload(q.items[i].Payload, payload); ok {
				q.items[i].Payload = merged
				item = q.items[i]
				q.mu.Unlock()
				q.logger.Debug("coalesced sync update", "item_id", item.ID, "entity_id", req.EntityID)
				q.changed()
				return item, nil
			}
		}
	case models.SyncActionDelete:
		created := q.waitingIndex(req.Entity, req.EntityID, models.SyncActionCreate) >= 0
		q.items = slices.DeleteFunc(q.items, func(it models.SyncQueueItem) bool {
			return it.Entity == req.Entity && it.EntityID == req.EntityID && it.Status != models.SyncStatusSyncing
		})
		if created {
			q.mu.Unlock()
			q.logger.Debug("dropped unsent create", "entity_id", req.EntityID)
			q.changed()
			return models.SyncQueueItem{}, nil
		}
	}

	now := q.now()
	item = models.SyncQueueItem{
		ID:          ulid.MustNew(ulid.Timestamp(now), q.entropy).String(),
		Action:      req.Action,
		Entity:      req.Entity,
		EntityID:    req.EntityID,
		Payload:     payload,
		BaseVersion: req.BaseVersion,
		Status:      models.SyncStatusPending,
		Priority:    req.Priority,
		CreatedAt:   now,
	}
	if item.Priority == "" {
		item.Priority = models.SyncPriorityNormal
		if req.Action == models.SyncActionCreate {
			item.Priority = models.SyncPriorityHigh
		}
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.logger.Debug("enqueued sync item", "item_id", item.ID, "action", item.Action, "entity_id", item.EntityID)
	q.changed()
	return item, nil
}

// waitingIndex finds a non-syncing item for the entity with action.
func (q *Queue) waitingIndex(entity models.EntityType, id string, action models.SyncAction) int {
	for i, it := range q.items {
		if it.Entity == entity && it.EntityID == id && it.Action == action && it.Status != models.SyncStatusSyncing {
			return i
		}
	}
	return -1
}

func mergePayload(base, next json.RawMessage) (json.RawMessage, bool) {
	var a, b map[string]json.RawMessage
	if len(base) > 0 {
		if err := json.Unmarshal(base, &a); err != nil {
			return nil, false
		}
	}
	if len(next) > 0 {
		if err := json.Unmarshal(next, &b); err != nil {
			return nil, false
		}
	}
	if a == nil {
		a = make(map[string]json.RawMessage, len(b))
	}
	for k, v := range b {
		a[k] = v
	}
	out, err := json.Marshal(a)
	if err != nil {
		return nil, false
	}
	return out, true
}

// Drain runs exec over every eligible item in priority-then-age order,
// re-evaluating eligibility after each attempt so items unblocked by an
// earlier success go out in the same pass. Each item is attempted at most
// once per pass. Only one drain runs at a time; a concurrent call returns
// immediately. It returns the number of items that succeeded.
func (q *Queue) Drain(ctx context.Context, exec Executor) int {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return 0
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	attempted := make(map[string]bool)
	done := 0
	for ctx.Err() == nil {
		item, ok := q.next(attempted)
		if !ok {
			break
		}
		attempted[item.ID] = true
		err := exec.Execute(ctx, item)
		if q.finish(item, err) {
			done++
		}
	}
	if len(attempted) > 0 {
		q.logger.Debug("drain complete", "attempted", len(attempted), "succeeded", done)
	}
	return done
}

// Draining reports whether a drain pass is running.
func (q *Queue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

func (q *Queue) sorted() []models.SyncQueueItem {
	items := slices.Clone(q.items)
	slices.SortStableFunc(items, func(a, b models.SyncQueueItem) int {
		if r := a.Priority.Rank() - b.Priority.Rank(); r != 0 {
			return r
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return items
}

// eligible reports whether it may be sent now. Callers hold the lock.
func (q *Queue) eligible(it models.SyncQueueItem, now time.Time) bool {
	switch it.Status {
	case models.SyncStatusSyncing:
		return false
	case models.SyncStatusFailed:
		if it.ConflictID != "" || it.RetryCount >= q.maxRetries {
			return false
		}
	}
	if it.RetryCount > 0 && it.LastAttempt != nil && now.Sub(*it.LastAttempt) < q.backoff.Delay(it.RetryCount) {
		return false
	}
	if it.Action != models.SyncActionCreate {
		for _, other := range q.items {
			if other.ID != it.ID && other.Action == models.SyncActionCreate &&
				other.Entity == it.Entity && other.EntityID == it.EntityID {
				return false
			}
		}
	}
	return true
}

// next marks the first eligible item not yet attempted as syncing.
func (q *Queue) next(attempted map[string]bool) (models.SyncQueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, it := range q.sorted() {
		if attempted[it.ID] || !q.eligible(it, now) {
			continue
		}
		i := q.indexOf(it.ID)
		q.items[i].Status = models.SyncStatusSyncing
		q.items[i].LastAttempt = &now
		return q.items[i], true
	}
	return models.SyncQueueItem{}, false
}

// finish records the outcome of an attempt. It reports success.
func (q *Queue) finish(item models.SyncQueueItem, err error) bool {
	q.mu.Lock()
	i := q.indexOf(item.ID)
	if i < 0 {
		q.mu.Unlock()
		q.changed()
		return err == nil
	}

	var terminal *models.SyncQueueItem
	var hold *holdError
	switch {
	case err == nil:
		q.items = slices.Delete(q.items, i, i+1)
	case errors.Is(err, ErrPermanent):
		q.items = slices.Delete(q.items, i, i+1)
		q.logger.Warn("dropped rejected sync item", "item_id", item.ID, "entity_id", item.EntityID, "error", err)
	case errors.As(err, &hold):
		it := &q.items[i]
		it.Status = models.SyncStatusFailed
		it.ConflictID = hold.conflictID
		it.LastError = err.Error()
		q.logger.Info("sync item held", "item_id", it.ID, "conflict_id", hold.conflictID)
	default:
		it := &q.items[i]
		it.RetryCount++
		it.LastError = err.Error()
		it.Status = models.SyncStatusFailed
		if it.RetryCount >= q.maxRetries {
			cp := *it
			terminal = &cp
			q.logger.Error("sync item failed permanently", "item_id", it.ID, "entity_id", it.EntityID, "retries", it.RetryCount, "error", err)
		} else {
			q.logger.Warn("sync item failed", "item_id", it.ID, "entity_id", it.EntityID, "retry", it.RetryCount, "error", err)
		}
	}
	q.mu.Unlock()

	q.changed()
	if terminal != nil && q.onTerminal != nil {
		q.onTerminal(*terminal)
	}
	return err == nil
}

func (q *Queue) indexOf(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

// NextAttempt returns the earliest time a backing-off item becomes eligible
// and false when nothing is waiting on a timer.
func (q *Queue) NextAttempt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var next time.Time
	found := false
	for _, it := range q.items {
		if it.Status != models.SyncStatusFailed || it.ConflictID != "" || it.RetryCount >= q.maxRetries || it.LastAttempt == nil {
			continue
		}
		at := it.LastAttempt.Add(q.backoff.Delay(it.RetryCount))
		if !found || at.Before(next) {
			next, found = at, true
		}
	}
	return next, found
}
