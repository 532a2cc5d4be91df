package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/fitz/tasksync/internal/storage"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// StateStore keeps persisted sync state as (:SyncState {key, value})
// nodes.
type StateStore struct {
	client *Client
}

var _ storage.KV = (*StateStore)(nil)

// NewStateStore creates a StateStore over client.
func NewStateStore(client *Client) *StateStore {
	return &StateStore{client: client}
}

// Get returns the value stored under key.
func (s *StateStore) Get(ctx context.Context, key string) ([]byte, error) {
	session := s.client.Session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (s:SyncState {key: $key}) RETURN s.value AS value`,
		map[string]any{"key": key},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read state %s: %w", key, err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("result iteration error: %w", err)
		}
		return nil, storage.ErrNotFound
	}

	raw, ok := result.Record().Get("value")
	if !ok {
		return nil, storage.ErrNotFound
	}
	value, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("state %s has unexpected type %T", key, raw)
	}
	return []byte(value), nil
}

// Put upserts the node for key.
func (s *StateStore) Put(ctx context.Context, key string, value []byte) error {
	session := s.client.Session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx,
			`MERGE (s:SyncState {key: $key})
SET s.value = $value, s.updated_at = datetime($updated_at)`,
			map[string]any{
				"key":        key,
				"value":      string(value),
				"updated_at": time.Now().UTC().Format(time.RFC3339),
			},
		)
	})
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

// Delete removes the node for key.
func (s *StateStore) Delete(ctx context.Context, key string) error {
	session := s.client.Session(ctx)
	defer session.Close(ctx)

	_, err := session.Run(ctx, `MATCH (s:SyncState {key: $key}) DELETE s`, map[string]any{"key": key})
	if err != nil {
		return fmt.Errorf("failed to delete state %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying driver.
func (s *StateStore) Close() error {
	return s.client.Close(context.Background())
}
