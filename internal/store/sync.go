package store

import (
	"fmt"
	"slices"

	"github.com/fitz/tasksync/internal/models"
)

// ReplaceID swaps a temporary task for its server-confirmed record,
// rewriting parent and dependency references to the new id. Local sortOrder
// is kept so the confirmation does not move the task.
func (s *Store) ReplaceID(tempID string, server models.Task) error {
	s.mu.Lock()
	i := s.indexOf(tempID)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("failed to replace task %s: %w", tempID, ErrTaskNotFound)
	}
	if server.ID != tempID {
		if dup := s.indexOf(server.ID); dup >= 0 {
			s.tasks = slices.Delete(s.tasks, dup, dup+1)
			i = s.indexOf(tempID)
		}
	}
	sortOrder := s.tasks[i].SortOrder
	rec := server.Clone()
	rec.IsTemp = false
	rec.SortOrder = sortOrder
	rec.Tags = models.UniqueStrings(rec.Tags)
	rec.Dependencies = models.UniqueStrings(rec.Dependencies)
	s.tasks[i] = rec
	for j := range s.tasks {
		t := &s.tasks[j]
		if t.ParentID == tempID {
			t.ParentID = server.ID
		}
		for k, dep := range t.Dependencies {
			if dep == tempID {
				t.Dependencies[k] = server.ID
			}
		}
	}
	s.recomputeLinks()
	s.mu.Unlock()

	s.logger.Debug("task identity confirmed", "temp_id", tempID, "id", server.ID)
	s.changed()
	return nil
}

// Put inserts t or replaces the record with the same id. It reports whether
// the task was inserted.
func (s *Store) Put(t models.Task) bool {
	s.mu.Lock()
	rec := t.Clone()
	rec.Tags = models.UniqueStrings(rec.Tags)
	rec.Dependencies = models.UniqueStrings(rec.Dependencies)
	i := s.indexOf(t.ID)
	if i >= 0 {
		s.tasks[i] = rec
	} else {
		s.tasks = append(s.tasks, rec)
	}
	s.recomputeLinks()
	s.mu.Unlock()

	s.changed()
	return i < 0
}

// Remove drops the single record id without cascading to children and
// strips it from dependency sets. It reports whether anything was removed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if s.indexOf(id) < 0 {
		s.mu.Unlock()
		return false
	}
	s.removeIDs([]string{id})
	s.recomputeLinks()
	s.mu.Unlock()

	s.changed()
	return true
}

// ReplaceAll swaps the whole collection, as on a forced reload.
func (s *Store) ReplaceAll(tasks []models.Task) {
	s.mu.Lock()
	s.tasks = cloneTasks(tasks)
	s.recomputeLinks()
	s.mu.Unlock()

	s.changed()
}

// Snapshot returns a deep copy of the store for rollback or persistence.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Tasks: cloneTasks(s.tasks),
		Links: slices.Clone(s.links),
		Tags:  slices.Clone(s.tags),
	}
}

// Restore replaces the store contents with st verbatim.
func (s *Store) Restore(st State) {
	s.mu.Lock()
	s.tasks = cloneTasks(st.Tasks)
	if st.Tags != nil {
		s.tags = slices.Clone(st.Tags)
	}
	s.recomputeLinks()
	s.mu.Unlock()

	s.changed()
}

// Tags returns the tag vocabulary.
func (s *Store) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tags)
}

// AddTag adds tag to the vocabulary. It reports whether the tag was new.
func (s *Store) AddTag(tag string) bool {
	s.mu.Lock()
	if tag == "" || slices.Contains(s.tags, tag) {
		s.mu.Unlock()
		return false
	}
	s.tags = append(s.tags, tag)
	s.mu.Unlock()

	s.changed()
	return true
}

// RemoveTag drops tag from the vocabulary and from every task.
func (s *Store) RemoveTag(tag string) bool {
	s.mu.Lock()
	if !slices.Contains(s.tags, tag) {
		s.mu.Unlock()
		return false
	}
	s.tags = slices.DeleteFunc(s.tags, func(t string) bool { return t == tag })
	for i := range s.tasks {
		s.tasks[i].Tags = slices.DeleteFunc(s.tasks[i].Tags, func(t string) bool { return t == tag })
	}
	s.mu.Unlock()

	s.changed()
	return true
}

// ReassignProject moves every task of project oldID to newID, as when a
// locally created project receives its server identity.
func (s *Store) ReassignProject(oldID, newID string) int {
	s.mu.Lock()
	n := 0
	for i := range s.tasks {
		if s.tasks[i].ProjectID == oldID {
			s.tasks[i].ProjectID = newID
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.changed()
	}
	return n
}
