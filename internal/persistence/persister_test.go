package persistence

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fitz/tasksync/internal/models"
	"github.com/fitz/tasksync/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingKV counts Puts on top of a real backend.
type countingKV struct {
	storage.KV
	puts atomic.Int32
	fail error
}

func (c *countingKV) Put(ctx context.Context, key string, value []byte) error {
	if c.fail != nil {
		return c.fail
	}
	c.puts.Add(1)
	return c.KV.Put(ctx, key, value)
}

func newKV(t *testing.T) *countingKV {
	t.Helper()
	kv, err := storage.NewFileKV(afero.NewMemMapFs(), "/state")
	require.NoError(t, err)
	return &countingKV{KV: kv}
}

func sampleSnapshot() Snapshot {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Snapshot{
		Tasks: []models.Task{
			{ID: "t1", Title: "Design", Status: models.TaskStatusDone, Priority: models.TaskPriorityHigh,
				Tags: []string{"UI"}, Dependencies: []string{}, SortOrder: 1, Version: 2, CreatedAt: now, UpdatedAt: now},
			{ID: "t2", Title: "Build", Status: models.TaskStatusTodo, Priority: models.TaskPriorityMedium,
				Tags: []string{}, Dependencies: []string{"t1"}, SortOrder: 2, Version: 1, CreatedAt: now, UpdatedAt: now},
		},
		Links:          []models.DependencyLink{{Source: "t1", Target: "t2", Type: models.LinkFinishToStart}},
		Tags:           []string{"UI", "Backend"},
		LastSync:       &now,
		CurrentProject: "p1",
		Projects:       []models.Project{{ID: "p1", Name: "Launch", Status: models.ProjectStatusActive}},
		SyncQueue: []models.SyncQueueItem{{
			ID: "01J00000000000000000000000", Action: models.SyncActionUpdate, Entity: models.EntityTask,
			EntityID: "t2", Payload: []byte(`{"title":"Build"}`), Status: models.SyncStatusPending,
			Priority: models.SyncPriorityNormal, CreatedAt: now,
		}},
		Filters: models.Filters{Status: models.TaskStatusTodo},
	}
}

func newPersister(t *testing.T, kv storage.KV, source func() Snapshot) *Persister {
	t.Helper()
	p, err := New(Options{KV: kv, Debounce: 20 * time.Millisecond, Source: source})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestNewRequiresKVAndSource(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{KV: newKV(t), Source: Default, Key: "../escape"})
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	kv := newKV(t)
	p := newPersister(t, kv, Default)
	ctx := context.Background()

	want := sampleSnapshot()
	require.NoError(t, p.Save(ctx, want))

	got, err := p.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, "p1", got.CurrentProject)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, "Design", got.Tasks[0].Title)
	assert.Equal(t, []string{"t1"}, got.Tasks[1].Dependencies)
	assert.Equal(t, want.Links, got.Links)
	require.Len(t, got.SyncQueue, 1)
	assert.JSONEq(t, `{"title":"Build"}`, string(got.SyncQueue[0].Payload))
	assert.True(t, want.LastSync.Equal(*got.LastSync))
	assert.Equal(t, models.TaskStatusTodo, got.Filters.Status)
}

func TestLoadMissingReturnsDefault(t *testing.T) {
	p := newPersister(t, newKV(t), Default)

	got, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Tasks)
	assert.NotNil(t, got.SyncQueue)
}

func TestLoadCorruptReturnsDefault(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"tasks": [`},
		{"wrong type", `{"tasks": {}, "syncQueue": []}`},
		{"bad status", `{"tasks": [{"id": "t1", "status": "finished", "priority": "low", "version": 1}], "syncQueue": []}`},
		{"bad action", `{"tasks": [], "syncQueue": [{"id": "q", "action": "upsert", "entity": "task", "entityId": "t", "status": "pending"}]}`},
		{"missing queue", `{"tasks": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := newKV(t)
			require.NoError(t, kv.KV.Put(context.Background(), DefaultKey, []byte(tt.data)))
			p := newPersister(t, kv, Default)

			got, err := p.Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, got.Tasks)
			assert.Empty(t, got.SyncQueue)
		})
	}
}

func TestValidateReportsLocation(t *testing.T) {
	schema, err := compileSchema()
	require.NoError(t, err)

	err = validate(schema, []byte(`{"tasks": [{"id": "t1", "status": "finished", "priority": "low", "version": 1}], "syncQueue": []}`))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Path, "/tasks/0")
}

func TestScheduleDebouncesWrites(t *testing.T) {
	kv := newKV(t)
	var calls atomic.Int32
	p := newPersister(t, kv, func() Snapshot {
		calls.Add(1)
		return sampleSnapshot()
	})

	for i := 0; i < 5; i++ {
		p.Schedule()
	}
	assert.True(t, p.Pending())

	require.Eventually(t, func() bool { return kv.puts.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, kv.puts.Load())
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, p.Saves())
}

func TestFlushWritesImmediately(t *testing.T) {
	kv := newKV(t)
	p, err := New(Options{KV: kv, Debounce: time.Hour, Source: sampleSnapshot})
	require.NoError(t, err)
	defer p.Close()

	assert.NoError(t, p.Flush(), "nothing pending")
	assert.EqualValues(t, 0, kv.puts.Load())

	p.Schedule()
	require.NoError(t, p.Flush())
	assert.EqualValues(t, 1, kv.puts.Load())
	assert.False(t, p.Pending())
}

func TestFlushReturnsWriteError(t *testing.T) {
	kv := newKV(t)
	kv.fail = errors.New("disk full")
	p, err := New(Options{KV: kv, Debounce: time.Hour, Source: sampleSnapshot})
	require.NoError(t, err)

	p.Schedule()
	err = p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
