package conflict

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fitz/tasksync/internal/models"
	"github.com/oklog/ulid/v2"
)

// Strategy is a manual resolution choice.
type Strategy string

const (
	StrategyKeepLocal  Strategy = "keep_local"
	StrategyKeepServer Strategy = "keep_server"
	StrategyMerge      Strategy = "merge"
)

// IsValidStrategy reports whether s names a Strategy.
func IsValidStrategy(s string) bool {
	switch Strategy(s) {
	case StrategyKeepLocal, StrategyKeepServer, StrategyMerge:
		return true
	}
	return false
}

// OutcomeKind classifies a reconciliation.
type OutcomeKind int

const (
	// OutcomeClean means the server snapshot can be taken as is.
	OutcomeClean OutcomeKind = iota
	// OutcomeAutoResolved means Task holds a merged record.
	OutcomeAutoResolved
	// OutcomePending means user input is needed; Conflict is pending.
	OutcomePending
)

// Outcome is the result of Reconcile.
type Outcome struct {
	Kind     OutcomeKind
	Task     models.Task
	Conflict models.Conflict
}

// Options configures a Resolver.
type Options struct {
	Logger   *slog.Logger
	Actor    string
	Now      func() time.Time
	OnChange func()
}

// Resolver keeps the conflict list and applies resolutions.
type Resolver struct {
	mu        sync.Mutex
	conflicts []models.Conflict
	entropy   io.Reader
	logger    *slog.Logger
	actor     string
	now       func() time.Time
	onChange  func()
}

// NewResolver creates a Resolver.
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		logger:   opts.Logger,
		actor:    opts.Actor,
		now:      opts.Now,
		onChange: opts.OnChange,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r
}

// SetActor changes the actor stamped on resolutions.
func (r *Resolver) SetActor(actor string) {
	r.mu.Lock()
	r.actor = actor
	r.mu.Unlock()
}

func (r *Resolver) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

// stamp finalizes a resolved record. Callers hold the lock.
func (r *Resolver) stamp(t models.Task, localVersion, serverVersion int) models.Task {
	t.Version = max(localVersion, serverVersion) + 1
	t.UpdatedAt = r.now()
	t.LastModifiedBy = r.actor
	return t
}

// Reconcile compares a local record with the authoritative server snapshot.
// Auto-mergeable divergence is merged and recorded as resolved history;
// anything else becomes a pending conflict, replacing an earlier pending
// conflict for the same entity.
func (r *Resolver) Reconcile(local, server models.Task) Outcome {
	return r.reconcile(local, server, Detect(local, server))
}

// ReconcileFrom compares a local edit made on top of base with the server
// snapshot. The server diverged once its version moved past base, even when
// both sides now carry the same version number.
func (r *Resolver) ReconcileFrom(base int, local, server models.Task) Outcome {
	if server.Version <= base {
		return Outcome{Kind: OutcomeClean, Task: server.Clone()}
	}
	return r.reconcile(local, server, Diff(local, server))
}

func (r *Resolver) reconcile(local, server models.Task, fields []models.FieldConflict) Outcome {
	if len(fields) == 0 {
		return Outcome{Kind: OutcomeClean, Task: server.Clone()}
	}

	r.mu.Lock()
	now := r.now()
	c := models.Conflict{
		ID:            ulid.MustNew(ulid.Timestamp(now), r.entropy).String(),
		EntityType:    models.EntityTask,
		EntityID:      server.ID,
		LocalData:     local.Clone(),
		ServerData:    server.Clone(),
		Fields:        fields,
		LocalVersion:  local.Version,
		ServerVersion: server.Version,
		DetectedAt:    now,
		Status:        models.ConflictStatusPending,
	}

	if c.AutoResolvable() {
		merged := r.stamp(AutoMerge(local, server), local.Version, server.Version)
		c.Status = models.ConflictStatusResolved
		c.ResolvedAt = &now
		r.conflicts = append(r.conflicts, c)
		r.mu.Unlock()

		r.logger.Info("conflict auto-resolved", "conflict_id", c.ID, "entity_id", c.EntityID, "fields", len(fields), "version", merged.Version)
		r.changed()
		return Outcome{Kind: OutcomeAutoResolved, Task: merged, Conflict: c}
	}

	r.conflicts = slices.DeleteFunc(r.conflicts, func(old models.Conflict) bool {
		return old.EntityID == c.EntityID && old.Status == models.ConflictStatusPending
	})
	r.conflicts = append(r.conflicts, c)
	r.mu.Unlock()

	r.logger.Warn("conflict needs resolution", "conflict_id", c.ID, "entity_id", c.EntityID, "fields", len(fields))
	r.changed()
	return Outcome{Kind: OutcomePending, Conflict: c}
}

// Resolve applies a manual decision to a pending conflict. choices
// override the strategy per field. It returns false without error when the
// conflict is unknown or already settled.
func (r *Resolver) Resolve(id string, strategy Strategy, choices map[string]Side) (models.Task, bool, error) {
	if strategy != "" && !IsValidStrategy(string(strategy)) {
		return models.Task{}, false, fmt.Errorf("invalid resolution strategy %q", strategy)
	}
	for f, side := range choices {
		if !slices.Contains(Fields, f) {
			return models.Task{}, false, fmt.Errorf("invalid conflict field %q", f)
		}
		if side != SideLocal && side != SideServer {
			return models.Task{}, false, fmt.Errorf("invalid side %q for field %s", side, f)
		}
	}

	r.mu.Lock()
	i := r.pendingIndex(id)
	if i < 0 {
		r.mu.Unlock()
		return models.Task{}, false, nil
	}
	c := &r.conflicts[i]
	local, server := c.LocalData, c.ServerData

	var pick func(string) Side
	unionTags := false
	switch strategy {
	case StrategyKeepLocal:
		pick = func(string) Side { return SideLocal }
	case StrategyKeepServer, "":
		pick = func(string) Side { return SideServer }
	case StrategyMerge:
		lww := newerSide(local, server)
		unionTags = true
		pick = func(f string) Side {
			if f == FieldDependencies {
				return SideServer
			}
			return lww
		}
	}
	if len(choices) > 0 {
		base := pick
		pick = func(f string) Side {
			if side, ok := choices[f]; ok {
				return side
			}
			return base(f)
		}
		if _, ok := choices[FieldTags]; ok {
			unionTags = false
		}
	}

	resolved := r.stamp(merge(local, server, pick, unionTags), c.LocalVersion, c.ServerVersion)
	now := r.now()
	c.Status = models.ConflictStatusResolved
	c.ResolvedAt = &now
	r.mu.Unlock()

	r.logger.Info("conflict resolved", "conflict_id", id, "strategy", strategy, "version", resolved.Version)
	r.changed()
	return resolved, true, nil
}

// Ignore marks a pending conflict ignored and returns the server snapshot,
// which becomes the local record.
func (r *Resolver) Ignore(id string) (models.Task, bool) {
	r.mu.Lock()
	i := r.pendingIndex(id)
	if i < 0 {
		r.mu.Unlock()
		return models.Task{}, false
	}
	now := r.now()
	r.conflicts[i].Status = models.ConflictStatusIgnored
	r.conflicts[i].ResolvedAt = &now
	server := r.conflicts[i].ServerData.Clone()
	r.mu.Unlock()

	r.logger.Info("conflict ignored", "conflict_id", id)
	r.changed()
	return server, true
}

func (r *Resolver) pendingIndex(id string) int {
	for i, c := range r.conflicts {
		if c.ID == id && c.Status == models.ConflictStatusPending {
			return i
		}
	}
	return -1
}

// Get returns the conflict with id, whatever its status.
func (r *Resolver) Get(id string) (models.Conflict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conflicts {
		if c.ID == id {
			return c, true
		}
	}
	return models.Conflict{}, false
}

// Pending returns the conflicts awaiting a decision, oldest first.
func (r *Resolver) Pending() []models.Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Conflict
	for _, c := range r.conflicts {
		if c.Status == models.ConflictStatusPending {
			out = append(out, c)
		}
	}
	return out
}

// PendingFor returns the pending conflict for an entity, if any.
func (r *Resolver) PendingFor(entityID string) (models.Conflict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conflicts {
		if c.EntityID == entityID && c.Status == models.ConflictStatusPending {
			return c, true
		}
	}
	return models.Conflict{}, false
}

// All returns every conflict including settled history.
func (r *Resolver) All() []models.Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.conflicts)
}

// Prune drops settled conflicts resolved before cutoff.
func (r *Resolver) Prune(cutoff time.Time) int {
	r.mu.Lock()
	before := len(r.conflicts)
	r.conflicts = slices.DeleteFunc(r.conflicts, func(c models.Conflict) bool {
		return c.Status != models.ConflictStatusPending && c.ResolvedAt != nil && c.ResolvedAt.Before(cutoff)
	})
	n := before - len(r.conflicts)
	r.mu.Unlock()

	if n > 0 {
		r.logger.Info("pruned conflict history", "count", n)
		r.changed()
	}
	return n
}

// Restore replaces the conflict list with one loaded from storage.
func (r *Resolver) Restore(conflicts []models.Conflict) {
	r.mu.Lock()
	r.conflicts = slices.Clone(conflicts)
	r.mu.Unlock()
}
