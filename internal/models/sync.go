package models

import (
	"encoding/json"
	"time"
)

// SyncAction is the kind of mutation a queue item carries.
type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
	SyncActionDelete SyncAction = "delete"
)

// EntityType names the entity a queue item or conflict refers to.
type EntityType string

const (
	EntityTask    EntityType = "task"
	EntityProject EntityType = "project"
)

// SyncStatus is the lifecycle state of a queue item.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncPriority orders queue draining. Creates use high so that updates
// referencing a temporary id are not starved.
type SyncPriority string

const (
	SyncPriorityHigh   SyncPriority = "high"
	SyncPriorityNormal SyncPriority = "normal"
	SyncPriorityLow    SyncPriority = "low"
)

// Rank returns a sort key; lower drains first.
func (p SyncPriority) Rank() int {
	switch p {
	case SyncPriorityHigh:
		return 0
	case SyncPriorityLow:
		return 2
	default:
		return 1
	}
}

// SyncQueueItem is a durable record of one pending mutation awaiting server
// confirmation.
type SyncQueueItem struct {
	ID          string          `json:"id"`
	Action      SyncAction      `json:"action"`
	Entity      EntityType      `json:"entity"`
	EntityID    string          `json:"entityId"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	BaseVersion int             `json:"baseVersion,omitempty"`
	Status      SyncStatus      `json:"status"`
	RetryCount  int             `json:"retryCount"`
	LastAttempt *time.Time      `json:"lastAttempt,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	Priority    SyncPriority    `json:"priority"`
	ConflictID  string          `json:"conflictId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ConflictStatus is the lifecycle state of a conflict.
type ConflictStatus string

const (
	ConflictStatusPending  ConflictStatus = "pending"
	ConflictStatusResolved ConflictStatus = "resolved"
	ConflictStatusIgnored  ConflictStatus = "ignored"
)

// FieldConflict is one differing field between the local and server snapshot.
type FieldConflict struct {
	Field         string `json:"field"`
	LocalValue    any    `json:"localValue"`
	ServerValue   any    `json:"serverValue"`
	AutoMergeable bool   `json:"autoMergeable"`
}

// Conflict is a detected divergence between local and server versions of
// the same entity.
type Conflict struct {
	ID            string          `json:"id"`
	EntityType    EntityType      `json:"entityType"`
	EntityID      string          `json:"entityId"`
	LocalData     Task            `json:"localData"`
	ServerData    Task            `json:"serverData"`
	Fields        []FieldConflict `json:"fields"`
	LocalVersion  int             `json:"localVersion"`
	ServerVersion int             `json:"serverVersion"`
	DetectedAt    time.Time       `json:"detectedAt"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty"`
	Status        ConflictStatus  `json:"status"`
}

// AutoResolvable reports whether every differing field may be merged
// without user input.
func (c Conflict) AutoResolvable() bool {
	for _, f := range c.Fields {
		if !f.AutoMergeable {
			return false
		}
	}
	return true
}

// NotificationLevel grades a user-facing notification.
type NotificationLevel string

const (
	NotifyInfo     NotificationLevel = "info"
	NotifyPositive NotificationLevel = "positive"
	NotifyWarning  NotificationLevel = "warning"
	NotifyNegative NotificationLevel = "negative"
)

// Notification is a non-fatal message for the UI layer to surface.
type Notification struct {
	Level      NotificationLevel `json:"level"`
	Message    string            `json:"message"`
	At         time.Time         `json:"at"`
	ItemID     string            `json:"itemId,omitempty"`
	ConflictID string            `json:"conflictId,omitempty"`
}
