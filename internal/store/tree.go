package store

import (
	"slices"

	"github.com/fitz/tasksync/internal/models"
)

// Tree nests tasks by parent, each level sorted by sortOrder. Tasks whose
// parent is missing are treated as roots. Every call builds a fresh tree.
func (s *Store) Tree() []*models.TaskNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]bool, len(s.tasks))
	children := make(map[string][]models.Task)
	for _, t := range s.tasks {
		ids[t.ID] = true
	}
	for _, t := range s.tasks {
		parent := t.ParentID
		if !ids[parent] {
			parent = ""
		}
		children[parent] = append(children[parent], t)
	}
	return buildLevel("", children, make(map[string]bool))
}

func buildLevel(parent string, children map[string][]models.Task, visited map[string]bool) []*models.TaskNode {
	level := children[parent]
	slices.SortStableFunc(level, func(a, b models.Task) int { return a.SortOrder - b.SortOrder })
	nodes := make([]*models.TaskNode, 0, len(level))
	for _, t := range level {
		if visited[t.ID] {
			continue
		}
		visited[t.ID] = true
		nodes = append(nodes, &models.TaskNode{
			Task:     t.Clone(),
			Children: buildLevel(t.ID, children, visited),
		})
	}
	return nodes
}

// DependencyChain returns the transitive dependencies of id, nearest first.
func (s *Store) DependencyChain(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := map[string]bool{id: true}
	var chain []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		i := s.indexOf(cur)
		if i < 0 {
			continue
		}
		for _, dep := range s.tasks[i].Dependencies {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			chain = append(chain, dep)
			queue = append(queue, dep)
		}
	}
	return chain
}
