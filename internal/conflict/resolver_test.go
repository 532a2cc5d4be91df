package conflict

import (
	"testing"
	"time"

	"github.com/fitz/tasksync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	older = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	newer = older.Add(time.Minute)
	fixed = older.Add(time.Hour)
)

func newTestResolver() *Resolver {
	return NewResolver(Options{Actor: "resolver", Now: func() time.Time { return fixed }})
}

func baseTask() models.Task {
	return models.Task{
		ID:           "t1",
		Title:        "Design",
		Status:       models.TaskStatusTodo,
		Priority:     models.TaskPriorityMedium,
		Tags:         []string{},
		Dependencies: []string{},
	}
}

func TestDetectSameVersionIsClean(t *testing.T) {
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 2, 2
	local.Title = "changed"

	assert.Nil(t, Detect(local, server))
}

func TestDetectReportsDifferingFields(t *testing.T) {
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 2, 3
	local.Status = models.TaskStatusDone
	server.Tags = []string{"UI"}
	server.Dependencies = []string{"x"}
	start := older
	server.StartTime = &start

	fields := Detect(local, server)

	var names []string
	mergeable := map[string]bool{}
	for _, f := range fields {
		names = append(names, f.Field)
		mergeable[f.Field] = f.AutoMergeable
	}
	assert.Equal(t, []string{FieldStatus, FieldStartTime, FieldTags, FieldDependencies}, names)
	assert.True(t, mergeable[FieldTags])
	assert.True(t, mergeable[FieldStatus])
	assert.False(t, mergeable[FieldDependencies])
}

func TestDetectTreatsSetsAsUnordered(t *testing.T) {
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 1, 2
	local.Tags = []string{"A", "B"}
	server.Tags = []string{"B", "A"}
	local.Tags = append(local.Tags, "A")

	assert.Empty(t, Detect(local, server))
}

func TestAutoResolveStatusNewerServerWins(t *testing.T) {
	r := newTestResolver()
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 3, 4
	local.Status, local.UpdatedAt = models.TaskStatusTodo, older
	server.Status, server.UpdatedAt = models.TaskStatusInProgress, newer

	out := r.Reconcile(local, server)

	require.Equal(t, OutcomeAutoResolved, out.Kind)
	assert.Equal(t, models.TaskStatusInProgress, out.Task.Status)
	assert.Equal(t, 5, out.Task.Version)
	assert.Equal(t, fixed, out.Task.UpdatedAt)
	assert.Equal(t, "resolver", out.Task.LastModifiedBy)
	assert.Empty(t, r.Pending())
}

func TestAutoResolveLocalNewerWinsPerField(t *testing.T) {
	r := newTestResolver()
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 7, 2
	local.Title, local.UpdatedAt = "local title", newer
	server.Priority, server.UpdatedAt = models.TaskPriorityHigh, older

	out := r.Reconcile(local, server)

	require.Equal(t, OutcomeAutoResolved, out.Kind)
	assert.Equal(t, "local title", out.Task.Title)
	assert.Equal(t, models.TaskPriorityMedium, out.Task.Priority)
	assert.Equal(t, 8, out.Task.Version)
}

func TestAutoResolveTieKeepsServer(t *testing.T) {
	r := newTestResolver()
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 1, 2
	local.Title, local.UpdatedAt = "local", older
	server.Title, server.UpdatedAt = "server", older

	out := r.Reconcile(local, server)
	assert.Equal(t, "server", out.Task.Title)
}

func TestAutoResolveUnionsTags(t *testing.T) {
	r := newTestResolver()
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 1, 2
	local.Tags = []string{"A", "B"}
	server.Tags = []string{"B", "C"}

	out := r.Reconcile(local, server)

	require.Equal(t, OutcomeAutoResolved, out.Kind)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, out.Task.Tags)
}

func TestReconcileFromSameBaseDetectsDivergence(t *testing.T) {
	tests := []struct {
		name       string
		serverDeps []string
		want       OutcomeKind
	}{
		{"scalar edits merge", []string{}, OutcomeAutoResolved},
		{"dependency edits wait", []string{"srv-x"}, OutcomePending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver()
			local, server := baseTask(), baseTask()
			// both sides made one edit on top of version 1
			local.Version, server.Version = 2, 2
			local.Title, local.UpdatedAt = "local title", older
			local.Dependencies = []string{}
			server.Title, server.UpdatedAt = "server title", newer
			server.Dependencies = tt.serverDeps

			out := r.ReconcileFrom(1, local, server)

			require.Equal(t, tt.want, out.Kind)
			require.Len(t, r.All(), 1)
			if tt.want == OutcomeAutoResolved {
				assert.Equal(t, "server title", out.Task.Title)
				assert.Equal(t, 3, out.Task.Version)
			}
		})
	}
}

func TestReconcileFromUnmovedServerIsClean(t *testing.T) {
	r := newTestResolver()
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 2, 1
	local.Title = "local title"

	out := r.ReconcileFrom(1, local, server)

	assert.Equal(t, OutcomeClean, out.Kind)
	assert.Empty(t, r.All())
}

func TestDependencyConflictIsPending(t *testing.T) {
	r := newTestResolver()
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 1, 2
	local.Dependencies = []string{"a"}
	server.Dependencies = []string{"b"}

	out := r.Reconcile(local, server)

	require.Equal(t, OutcomePending, out.Kind)
	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, out.Conflict.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].LocalVersion)
	assert.Equal(t, 2, pending[0].ServerVersion)

	again := r.Reconcile(local, server)
	require.Len(t, r.Pending(), 1, "a newer pending conflict replaces the old one")
	assert.Equal(t, again.Conflict.ID, r.Pending()[0].ID)
}

func TestResolveStrategies(t *testing.T) {
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 4, 6
	local.Title, local.UpdatedAt = "mine", newer
	server.Title, server.UpdatedAt = "theirs", older
	local.Tags = []string{"A"}
	server.Tags = []string{"B"}
	local.Dependencies = []string{"x"}
	server.Dependencies = []string{"y"}

	tests := []struct {
		name     string
		strategy Strategy
		choices  map[string]Side
		title    string
		tags     []string
		deps     []string
	}{
		{"keep local", StrategyKeepLocal, nil, "mine", []string{"A"}, []string{"x"}},
		{"keep server", StrategyKeepServer, nil, "theirs", []string{"B"}, []string{"y"}},
		{"merge", StrategyMerge, nil, "mine", []string{"B", "A"}, []string{"y"}},
		{"merge with choices", StrategyMerge, map[string]Side{FieldDependencies: SideLocal, FieldTitle: SideServer}, "theirs", []string{"B", "A"}, []string{"x"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestResolver()
			out := r.Reconcile(local, server)
			require.Equal(t, OutcomePending, out.Kind)

			task, ok, err := r.Resolve(out.Conflict.ID, tc.strategy, tc.choices)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tc.title, task.Title)
			assert.Equal(t, tc.tags, task.Tags)
			assert.Equal(t, tc.deps, task.Dependencies)
			assert.Equal(t, 7, task.Version)

			c, _ := r.Get(out.Conflict.ID)
			assert.Equal(t, models.ConflictStatusResolved, c.Status)
			assert.NotNil(t, c.ResolvedAt)
		})
	}
}

func TestResolveTwiceIsNoop(t *testing.T) {
	r := newTestResolver()
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 1, 2
	local.Dependencies = []string{"a"}
	out := r.Reconcile(local, server)

	_, ok, err := r.Resolve(out.Conflict.ID, StrategyKeepLocal, nil)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.Resolve(out.Conflict.ID, StrategyKeepServer, nil)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = r.Resolve("missing", StrategyKeepServer, nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveValidatesInput(t *testing.T) {
	r := newTestResolver()

	_, _, err := r.Resolve("x", "coin_flip", nil)
	assert.Error(t, err)
	_, _, err = r.Resolve("x", StrategyMerge, map[string]Side{"color": SideLocal})
	assert.Error(t, err)
	_, _, err = r.Resolve("x", StrategyMerge, map[string]Side{FieldTitle: "both"})
	assert.Error(t, err)
}

func TestIgnoreReturnsServerSnapshot(t *testing.T) {
	r := newTestResolver()
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 1, 2
	server.Dependencies = []string{"b"}
	out := r.Reconcile(local, server)

	task, ok := r.Ignore(out.Conflict.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, task.Dependencies)
	assert.Empty(t, r.Pending())

	_, ok = r.Ignore(out.Conflict.ID)
	assert.False(t, ok)
}

func TestPruneDropsOldHistoryOnly(t *testing.T) {
	r := newTestResolver()
	local, server := baseTask(), baseTask()
	local.Version, server.Version = 1, 2
	local.Title = "auto"
	r.Reconcile(local, server)
	local.Dependencies = []string{"a"}
	r.Reconcile(local, server)
	require.Len(t, r.All(), 2)

	assert.Equal(t, 0, r.Prune(fixed))
	assert.Equal(t, 1, r.Prune(fixed.Add(time.Second)))
	require.Len(t, r.All(), 1)
	assert.Equal(t, models.ConflictStatusPending, r.All()[0].Status)
}

func TestIsValidStrategy(t *testing.T) {
	assert.True(t, IsValidStrategy("keep_local"))
	assert.True(t, IsValidStrategy("merge"))
	assert.False(t, IsValidStrategy("newest"))
}
