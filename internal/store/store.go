// Package store holds the in-memory task collection and enforces the
// hierarchy and dependency invariants on every mutation.
package store

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fitz/tasksync/internal/models"
	"github.com/google/uuid"
)

// DefaultTags is the tag vocabulary of a fresh store.
var DefaultTags = []string{"UI", "Backend", "Testing", "Documentation"}

const defaultTitle = "New Task"

// Options configures a Store.
type Options struct {
	Logger *slog.Logger
	// Actor is stamped into LastModifiedBy on local mutations.
	Actor string
	// Now defaults to time.Now().UTC().
	Now func() time.Time
	// NewID defaults to a random UUID.
	NewID func() string
	// OnChange runs after every mutation, outside the store lock.
	OnChange func()
}

// Store owns the task records. All methods are safe for concurrent use and
// return copies; callers never hold references into the store.
type Store struct {
	mu     sync.RWMutex
	tasks  []models.Task
	links  []models.DependencyLink
	tags   []string
	logger *slog.Logger
	actor  string
	now    func() time.Time
	newID  func() string
	change func()
}

// State is a full deep copy of the store contents.
type State struct {
	Tasks []models.Task
	Links []models.DependencyLink
	Tags  []string
}

// New creates an empty store with the default tag vocabulary.
func New(opts Options) *Store {
	s := &Store{
		logger: opts.Logger,
		actor:  opts.Actor,
		now:    opts.Now,
		newID:  opts.NewID,
		change: opts.OnChange,
		tags:   slices.Clone(DefaultTags),
		links:  []models.DependencyLink{},
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	return s
}

// SetActor changes the actor stamped on later mutations.
func (s *Store) SetActor(actor string) {
	s.mu.Lock()
	s.actor = actor
	s.mu.Unlock()
}

func (s *Store) changed() {
	if s.change != nil {
		s.change()
	}
}

func (s *Store) indexOf(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns a copy of the task with id.
func (s *Store) Get(id string) (models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return models.Task{}, false
	}
	return s.tasks[i].Clone(), true
}

// All returns copies of every task in insertion order.
func (s *Store) All() []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTasks(s.tasks)
}

// Len returns the number of tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Links returns the derived finish-to-start dependency links.
func (s *Store) Links() []models.DependencyLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.links)
}

// FilteredTasks returns the tasks matching f.
func (s *Store) FilteredTasks(f models.Filters) []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Task
	for _, t := range s.tasks {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// BlockedTasks returns the tasks that cannot proceed: not done, with at
// least one dependency that is missing or not done. The status field is not
// consulted, so a todo task waiting on an open dependency is listed and a
// task marked blocked with nothing outstanding is not.
func (s *Store) BlockedTasks() []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Task
	for _, t := range s.tasks {
		if t.Status == models.TaskStatusDone {
			continue
		}
		if len(s.incompleteDependencies(t.Dependencies)) > 0 {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Dependents returns the tasks that list id as a dependency.
func (s *Store) Dependents(id string) []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Task
	for _, t := range s.tasks {
		if t.DependsOn(id) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Create appends a new temporary task built from in and returns it.
func (s *Store) Create(in models.TaskInput) models.Task {
	s.mu.Lock()
	now := s.now()
	t := models.Task{
		ID:             s.newID(),
		ProjectID:      in.ProjectID,
		ParentID:       in.ParentID,
		Title:          in.Title,
		Description:    in.Description,
		Assignee:       in.Assignee,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		Status:         in.Status,
		Priority:       in.Priority,
		Tags:           models.UniqueStrings(in.Tags),
		Dependencies:   models.UniqueStrings(in.Dependencies),
		SortOrder:      in.SortOrder,
		Version:        1,
		LastModifiedBy: s.actor,
		CreatedAt:      now,
		UpdatedAt:      now,
		IsTemp:         true,
	}
	if t.Title == "" {
		t.Title = defaultTitle
	}
	if t.Status == "" {
		t.Status = models.TaskStatusTodo
	}
	if t.Priority == "" {
		t.Priority = models.TaskPriorityMedium
	}
	if t.SortOrder <= 0 {
		t.SortOrder = s.nextSortOrder(t.ParentID)
	}
	t = t.Clone()
	s.tasks = append(s.tasks, t)
	s.recomputeLinks()
	s.mu.Unlock()

	s.logger.Debug("task created", "id", t.ID, "parent_id", t.ParentID)
	s.changed()
	return t.Clone()
}

func (s *Store) nextSortOrder(parentID string) int {
	highest := 0
	for _, t := range s.tasks {
		if t.ParentID == parentID && t.SortOrder > highest {
			highest = t.SortOrder
		}
	}
	return highest + 1
}

// Update applies patch to the task with id. It rejects dependency sets that
// would form a cycle and done transitions with incomplete dependencies; on
// rejection nothing changes. Becoming blocked cascades to direct dependents.
func (s *Store) Update(id string, patch models.TaskPatch) (models.Task, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return models.Task{}, fmt.Errorf("failed to update task %s: %w", id, ErrTaskNotFound)
	}

	if patch.Dependencies != nil && s.hasCircularDependency(id, *patch.Dependencies) {
		s.mu.Unlock()
		return models.Task{}, &CircularDependencyError{TaskID: id, Dependencies: *patch.Dependencies}
	}

	if patch.Status != nil && *patch.Status == models.TaskStatusDone {
		deps := s.tasks[i].Dependencies
		if patch.Dependencies != nil {
			deps = *patch.Dependencies
		}
		if incomplete := s.incompleteDependencies(deps); len(incomplete) > 0 {
			s.mu.Unlock()
			return models.Task{}, &IncompleteDependencyError{TaskID: id, Incomplete: incomplete}
		}
	}

	now := s.now()
	t := &s.tasks[i]
	patch.Apply(t)
	t.Version++
	t.UpdatedAt = now
	t.LastModifiedBy = s.actor
	if t.Status == models.TaskStatusBlocked {
		s.autoBlockDependents(id, now)
	}
	out := t.Clone()
	s.recomputeLinks()
	s.mu.Unlock()

	s.logger.Debug("task updated", "id", id, "version", out.Version)
	s.changed()
	return out, nil
}

func (s *Store) autoBlockDependents(id string, now time.Time) {
	for i := range s.tasks {
		t := &s.tasks[i]
		if !t.DependsOn(id) || t.Status == models.TaskStatusDone || t.Status == models.TaskStatusBlocked {
			continue
		}
		t.Status = models.TaskStatusBlocked
		t.Version++
		t.UpdatedAt = now
		t.LastModifiedBy = s.actor
		s.logger.Info("task auto-blocked", "id", t.ID, "blocked_by", id)
	}
}

// CanMarkAsDone reports whether every dependency of id is done. A missing
// dependency counts as not done.
func (s *Store) CanMarkAsDone(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	return len(s.incompleteDependencies(s.tasks[i].Dependencies)) == 0
}

func (s *Store) incompleteDependencies(deps []string) []string {
	var out []string
	for _, dep := range deps {
		j := s.indexOf(dep)
		if j < 0 || s.tasks[j].Status != models.TaskStatusDone {
			out = append(out, dep)
		}
	}
	return out
}

// HasCircularDependency reports whether giving id the dependency set deps
// would create a cycle.
func (s *Store) HasCircularDependency(id string, deps []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasCircularDependency(id, deps)
}

func (s *Store) hasCircularDependency(id string, deps []string) bool {
	visited := make(map[string]bool)
	for _, dep := range deps {
		if s.reaches(dep, id, visited) {
			return true
		}
	}
	return false
}

// reaches reports whether target is reachable from from along dependency
// edges, including from == target.
func (s *Store) reaches(from, target string, visited map[string]bool) bool {
	if from == target {
		return true
	}
	if visited[from] {
		return false
	}
	visited[from] = true
	i := s.indexOf(from)
	if i < 0 {
		return false
	}
	for _, next := range s.tasks[i].Dependencies {
		if s.reaches(next, target, visited) {
			return true
		}
	}
	return false
}

// Delete removes id and all its descendants and strips the removed ids from
// every remaining dependency set. It returns the removed ids.
func (s *Store) Delete(id string) ([]string, error) {
	s.mu.Lock()
	if s.indexOf(id) < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to delete task %s: %w", id, ErrTaskNotFound)
	}
	removed := s.subtree(id)
	s.removeIDs(removed)
	s.recomputeLinks()
	s.mu.Unlock()

	s.logger.Debug("task deleted", "id", id, "removed", len(removed))
	s.changed()
	return removed, nil
}

// subtree returns id followed by all its descendants.
func (s *Store) subtree(id string) []string {
	out := []string{id}
	seen := map[string]bool{id: true}
	for n := 0; n < len(out); n++ {
		for _, t := range s.tasks {
			if t.ParentID == out[n] && !seen[t.ID] {
				seen[t.ID] = true
				out = append(out, t.ID)
			}
		}
	}
	return out
}

func (s *Store) removeIDs(ids []string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	s.tasks = slices.DeleteFunc(s.tasks, func(t models.Task) bool { return drop[t.ID] })
	for i := range s.tasks {
		s.tasks[i].Dependencies = slices.DeleteFunc(s.tasks[i].Dependencies, func(d string) bool { return drop[d] })
	}
}

// Reorder moves id under newParentID at position newIndex (clamped) and
// renumbers the affected sibling groups 1..N. An invalid target is logged
// and rejected without mutation.
func (s *Store) Reorder(id, newParentID string, newIndex int) (models.Task, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 || newParentID == id || (newParentID != "" && s.isDescendantOf(newParentID, id)) {
		s.mu.Unlock()
		s.logger.Warn("rejected reorder", "id", id, "new_parent_id", newParentID)
		return models.Task{}, fmt.Errorf("failed to reorder task %s under %q: %w", id, newParentID, ErrInvalidReorderTarget)
	}

	oldParentID := s.tasks[i].ParentID
	siblings := s.siblingIndexes(newParentID, id)
	newIndex = max(0, min(newIndex, len(siblings)))
	order := slices.Insert(siblings, newIndex, i)

	now := s.now()
	moved := &s.tasks[i]
	moved.ParentID = newParentID
	moved.Version++
	moved.UpdatedAt = now
	moved.LastModifiedBy = s.actor
	for n, idx := range order {
		s.tasks[idx].SortOrder = n + 1
	}
	if oldParentID != newParentID {
		for n, idx := range s.siblingIndexes(oldParentID, id) {
			s.tasks[idx].SortOrder = n + 1
		}
	}
	out := moved.Clone()
	s.mu.Unlock()

	s.logger.Debug("task reordered", "id", id, "parent_id", newParentID, "sort_order", out.SortOrder)
	s.changed()
	return out, nil
}

// siblingIndexes returns the indexes of the children of parentID, excluding
// skip, sorted by sortOrder.
func (s *Store) siblingIndexes(parentID, skip string) []int {
	var idx []int
	for i, t := range s.tasks {
		if t.ParentID == parentID && t.ID != skip {
			idx = append(idx, i)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int { return s.tasks[a].SortOrder - s.tasks[b].SortOrder })
	return idx
}

// isDescendantOf walks the parent chain of candidate looking for ancestor.
// The visited set bounds the walk on corrupt data.
func (s *Store) isDescendantOf(candidate, ancestor string) bool {
	visited := make(map[string]bool)
	cur := candidate
	for cur != "" && !visited[cur] {
		if cur == ancestor {
			return true
		}
		visited[cur] = true
		i := s.indexOf(cur)
		if i < 0 {
			return false
		}
		cur = s.tasks[i].ParentID
	}
	return false
}

// IsDescendantOf reports whether candidate sits below ancestor in the tree.
func (s *Store) IsDescendantOf(candidate, ancestor string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return candidate != ancestor && s.isDescendantOf(candidate, ancestor)
}

// Duplicate copies id as a new temporary sibling with cleared dependencies.
func (s *Store) Duplicate(id string) (models.Task, error) {
	src, ok := s.Get(id)
	if !ok {
		return models.Task{}, fmt.Errorf("failed to duplicate task %s: %w", id, ErrTaskNotFound)
	}
	return s.Create(models.TaskInput{
		ProjectID:   src.ProjectID,
		ParentID:    src.ParentID,
		Title:       src.Title + " (copy)",
		Description: src.Description,
		Assignee:    src.Assignee,
		StartTime:   src.StartTime,
		EndTime:     src.EndTime,
		Status:      src.Status,
		Priority:    src.Priority,
		Tags:        src.Tags,
	}), nil
}

// ValidateDependencies strips dangling dependency references and blocks
// non-done tasks with incomplete dependencies. Each repaired task gets a
// new version. It returns the repair count and the records as they were
// before repair.
func (s *Store) ValidateDependencies() (int, []models.Task) {
	s.mu.Lock()
	fixes := 0
	var before []models.Task
	now := s.now()
	for i := range s.tasks {
		t := &s.tasks[i]
		prev := t.Clone()
		n := 0
		valid := slices.DeleteFunc(slices.Clone(t.Dependencies), func(d string) bool { return s.indexOf(d) < 0 })
		if len(valid) != len(t.Dependencies) {
			t.Dependencies = valid
			n++
		}
		if t.Status != models.TaskStatusDone && t.Status != models.TaskStatusBlocked &&
			len(s.incompleteDependencies(t.Dependencies)) > 0 {
			t.Status = models.TaskStatusBlocked
			n++
		}
		if n == 0 {
			continue
		}
		t.Version++
		t.UpdatedAt = now
		t.LastModifiedBy = s.actor
		fixes += n
		before = append(before, prev)
	}
	if fixes > 0 {
		s.recomputeLinks()
	}
	s.mu.Unlock()

	if fixes > 0 {
		s.logger.Info("repaired task dependencies", "fixes", fixes, "tasks", len(before))
		s.changed()
	}
	return fixes, before
}

// recomputeLinks rebuilds the derived link cache. Callers hold the lock.
func (s *Store) recomputeLinks() {
	links := make([]models.DependencyLink, 0, len(s.tasks))
	for _, t := range s.tasks {
		for _, dep := range t.Dependencies {
			links = append(links, models.DependencyLink{Source: dep, Target: t.ID, Type: models.LinkFinishToStart})
		}
	}
	s.links = links
}

func cloneTasks(in []models.Task) []models.Task {
	out := make([]models.Task, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
