// Package persistence serializes the client's local state into a single
// schema-checked document and writes it to a storage backend.
package persistence

import (
	"time"

	"github.com/fitz/tasksync/internal/models"
)

// DefaultKey is the storage key the snapshot document lives under.
const DefaultKey = "tasksync-state"

// Cleanup records the last housekeeping pass.
type Cleanup struct {
	LastRun              *time.Time `json:"lastRun,omitempty"`
	PrunedConflicts      int        `json:"prunedConflicts"`
	RepairedDependencies int        `json:"repairedDependencies"`
}

// Snapshot is everything that survives a restart.
type Snapshot struct {
	Tasks          []models.Task           `json:"tasks"`
	Links          []models.DependencyLink `json:"links"`
	Tags           []string                `json:"tags"`
	LastSync       *time.Time              `json:"lastSync,omitempty"`
	CurrentProject string                  `json:"currentProject"`
	Projects       []models.Project        `json:"projects"`
	SyncQueue      []models.SyncQueueItem  `json:"syncQueue"`
	Conflicts      []models.Conflict       `json:"conflicts"`
	Cleanup        Cleanup                 `json:"cleanup"`
	Filters        models.Filters          `json:"filters"`
}

// Default returns the empty state a fresh install starts with.
func Default() Snapshot {
	return Snapshot{}.normalize()
}

func (s Snapshot) normalize() Snapshot {
	if s.Tasks == nil {
		s.Tasks = []models.Task{}
	}
	if s.Links == nil {
		s.Links = []models.DependencyLink{}
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	if s.Projects == nil {
		s.Projects = []models.Project{}
	}
	if s.SyncQueue == nil {
		s.SyncQueue = []models.SyncQueueItem{}
	}
	if s.Conflicts == nil {
		s.Conflicts = []models.Conflict{}
	}
	return s
}
