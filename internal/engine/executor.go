package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fitz/tasksync/internal/api"
	"github.com/fitz/tasksync/internal/conflict"
	"github.com/fitz/tasksync/internal/models"
	"github.com/fitz/tasksync/internal/queue"
)

// kickDrain starts a background drain when the server looks reachable.
func (e *Engine) kickDrain() {
	if e.manual || !e.Online() {
		return
	}
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.drain(ctx)
	}()
}

// drainAfterEnqueue drains right after a mutation when the server is
// reachable and the realtime channel, if any, is connected. Otherwise the
// item waits for the next connect, reconnect or retry.
func (e *Engine) drainAfterEnqueue() {
	if e.channel != nil && !e.channel.Connected() {
		return
	}
	e.kickDrain()
}

// SyncNow drains the queue in the caller's goroutine. It returns the number
// of items confirmed, or ErrOffline.
func (e *Engine) SyncNow(ctx context.Context) (int, error) {
	if !e.Online() {
		return 0, ErrOffline
	}
	return e.drain(ctx), nil
}

func (e *Engine) drain(ctx context.Context) int {
	n := e.queue.Drain(ctx, queue.ExecutorFunc(e.execute))
	e.scheduleRetry()
	return n
}

// scheduleRetry arms a timer for the earliest backing-off item.
func (e *Engine) scheduleRetry() {
	if e.manual {
		return
	}
	at, ok := e.queue.NextAttempt()
	if !ok {
		return
	}
	delay := at.Sub(e.now())
	if delay < 0 {
		delay = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = time.AfterFunc(delay, e.kickDrain)
}

// execute is the queue executor.
func (e *Engine) execute(ctx context.Context, item models.SyncQueueItem) error {
	if e.api == nil {
		return ErrOffline
	}
	var err error
	switch item.Entity {
	case models.EntityTask:
		switch item.Action {
		case models.SyncActionCreate:
			err = e.pushCreate(ctx, item)
		case models.SyncActionUpdate:
			err = e.pushUpdate(ctx, item)
		case models.SyncActionDelete:
			err = e.pushDelete(ctx, item)
		default:
			err = queue.Permanent(fmt.Errorf("unknown action %q", item.Action))
		}
	case models.EntityProject:
		err = e.pushProject(ctx, item)
	default:
		err = queue.Permanent(fmt.Errorf("unknown entity %q", item.Entity))
	}

	if err != nil && item.RetryCount == 0 && !errors.Is(err, queue.ErrHold) && !errors.Is(err, queue.ErrPermanent) {
		e.notes.addItem(models.NotifyWarning, "saved locally, sync will be retried: "+err.Error(), item.ID)
	}
	return err
}

func (e *Engine) pushCreate(ctx context.Context, item models.SyncQueueItem) error {
	var payload models.Task
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return queue.Permanent(fmt.Errorf("failed to decode create payload: %w", err))
	}
	e.mu.Lock()
	if cur, ok := e.store.Get(item.EntityID); ok {
		payload.ParentID = cur.ParentID
		payload.Dependencies = cur.Dependencies
		payload.ProjectID = cur.ProjectID
	}
	e.mu.Unlock()

	server, err := e.api.CreateTask(ctx, payload)
	if err != nil {
		if api.IsPermanent(err) {
			e.rollbackCreate(item.EntityID, err)
			return queue.Permanent(err)
		}
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	local, ok := e.store.Get(item.EntityID)
	if !ok {
		// deleted locally while the create was in flight
		var qerr error
		if e.queue.Others(models.EntityTask, item.EntityID, item.ID) == 0 {
			_, qerr = e.queue.Enqueue(queue.Request{Action: models.SyncActionDelete, Entity: models.EntityTask, EntityID: server.ID})
		}
		e.queue.RewriteEntityID(item.EntityID, server.ID)
		return qerr
	}
	confirmed := server
	if e.queue.Others(models.EntityTask, item.EntityID, item.ID) > 0 {
		// later local edits are still queued; keep them visible
		confirmed = local
		confirmed.ID = server.ID
		confirmed.CreatedAt = server.CreatedAt
	}
	if err := e.store.ReplaceID(item.EntityID, confirmed); err != nil {
		return err
	}
	e.queue.RewriteEntityID(item.EntityID, server.ID)
	if prev, ok := e.before[item.EntityID]; ok {
		delete(e.before, item.EntityID)
		prev.ID = server.ID
		e.before[server.ID] = prev
	}
	if base, ok := e.reorderBase[item.EntityID]; ok {
		delete(e.reorderBase, item.EntityID)
		e.reorderBase[server.ID] = base
	}
	e.logger.Info("task created on server", "temp_id", item.EntityID, "id", server.ID)
	return nil
}

func (e *Engine) rollbackCreate(id string, cause error) {
	e.mu.Lock()
	e.store.Remove(id)
	e.queue.DropEntity(models.EntityTask, id)
	delete(e.before, id)
	e.mu.Unlock()
	e.notes.add(models.NotifyNegative, "server rejected new task: "+cause.Error(), "", "")
}

func (e *Engine) pushUpdate(ctx context.Context, item models.SyncQueueItem) error {
	server, err := e.api.GetTask(ctx, item.EntityID)
	if errors.Is(err, api.ErrNotFound) {
		e.mu.Lock()
		e.store.Remove(item.EntityID)
		delete(e.before, item.EntityID)
		e.mu.Unlock()
		e.notes.addItem(models.NotifyWarning, "task was deleted on the server", item.ID)
		return nil
	}
	if err != nil {
		return err
	}

	fields, version, err := e.prepareUpdate(item, server)
	if err != nil {
		return err
	}

	updated, err := e.api.UpdateTask(ctx, item.EntityID, fields, version)
	if errors.Is(err, api.ErrConflict) {
		if server, err = e.api.GetTask(ctx, item.EntityID); err != nil {
			return err
		}
		if fields, version, err = e.prepareUpdate(item, server); err != nil {
			return err
		}
		updated, err = e.api.UpdateTask(ctx, item.EntityID, fields, version)
	}
	if err != nil {
		if api.IsPermanent(err) {
			e.rollbackUpdate(item.EntityID, err)
			return queue.Permanent(err)
		}
		return err
	}

	e.mu.Lock()
	if e.queue.Others(models.EntityTask, item.EntityID, item.ID) == 0 {
		if _, ok := e.store.Get(item.EntityID); ok {
			e.store.Put(updated)
		}
		delete(e.before, item.EntityID)
	}
	e.mu.Unlock()
	return nil
}

// prepareUpdate reconciles a queued edit with the server snapshot and
// returns the fields and version to send.
func (e *Engine) prepareUpdate(item models.SyncQueueItem, server models.Task) (json.RawMessage, int, error) {
	if server.Version == item.BaseVersion {
		return item.Payload, server.Version, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	local, ok := e.store.Get(item.EntityID)
	if !ok {
		return item.Payload, server.Version, nil
	}
	out := e.resolver.ReconcileFrom(item.BaseVersion, local, server)
	switch out.Kind {
	case conflict.OutcomeAutoResolved:
		e.store.Put(out.Task)
		fields, err := json.Marshal(models.PatchFromTask(out.Task))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode merged task: %w", err)
		}
		return fields, server.Version, nil
	case conflict.OutcomePending:
		e.notes.add(models.NotifyWarning, "conflicting edits on \""+local.Title+"\" need a decision", item.ID, out.Conflict.ID)
		return nil, 0, queue.Hold(out.Conflict.ID)
	}
	return item.Payload, server.Version, nil
}

func (e *Engine) rollbackUpdate(id string, cause error) {
	e.mu.Lock()
	if prev, ok := e.before[id]; ok {
		e.store.Put(prev)
		delete(e.before, id)
	}
	e.queue.DropEntity(models.EntityTask, id)
	e.mu.Unlock()
	e.notes.add(models.NotifyNegative, "server rejected change, local edit reverted: "+cause.Error(), "", "")
}

func (e *Engine) pushDelete(ctx context.Context, item models.SyncQueueItem) error {
	err := e.api.DeleteTask(ctx, item.EntityID)
	if errors.Is(err, api.ErrNotFound) {
		return nil
	}
	if api.IsPermanent(err) {
		e.notes.addItem(models.NotifyNegative, "server rejected delete: "+err.Error(), item.ID)
		return queue.Permanent(err)
	}
	return err
}
