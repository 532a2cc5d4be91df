package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fitz/tasksync/internal/engine"
	"github.com/fitz/tasksync/internal/store"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	e, err := engine.New(engine.Options{Actor: "tester", ManualSync: true})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return NewHandler(e, nil)
}

func create(t *testing.T, h *Handler, in CreateTaskInput) TaskView {
	t.Helper()
	_, out, err := h.HandleCreateTask(context.Background(), nil, in)
	if err != nil {
		t.Fatalf("create_task: %v", err)
	}
	return out.Task
}

func TestParseTime(t *testing.T) {
	s := func(v string) *string { return &v }
	tests := []struct {
		name    string
		input   *string
		want    *time.Time
		wantErr bool
	}{
		{"nil", nil, nil, false},
		{"empty", s(""), nil, false},
		{"date", s("2026-03-01"), ptr(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)), false},
		{"rfc3339", s("2026-03-01T10:00:00+02:00"), ptr(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)), false},
		{"garbage", s("next week"), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTime("start_time", tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if got != nil && !got.Equal(*tt.want) {
				t.Errorf("expected %v, got %v", *tt.want, *got)
			}
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestHandleUpdateTaskRejectsIncompleteDependencies(t *testing.T) {
	h := newHandler(t)
	dep := create(t, h, CreateTaskInput{Title: "Backend"})
	task := create(t, h, CreateTaskInput{Title: "Frontend", Dependencies: []string{dep.ID}})

	done := "done"
	_, _, err := h.HandleUpdateTask(context.Background(), nil, UpdateTaskInput{ID: task.ID, Status: &done})
	var incomplete *store.IncompleteDependencyError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteDependencyError, got %v", err)
	}
}

func TestHandleGetTask(t *testing.T) {
	h := newHandler(t)
	root := create(t, h, CreateTaskInput{Title: "Epic"})
	create(t, h, CreateTaskInput{Title: "Story B", ParentID: root.ID})
	create(t, h, CreateTaskInput{Title: "Story A", ParentID: root.ID})
	dependent := create(t, h, CreateTaskInput{Title: "Release", Dependencies: []string{root.ID}})

	_, out, err := h.HandleGetTask(context.Background(), nil, GetTaskInput{ID: root.ID})
	if err != nil {
		t.Fatalf("get_task: %v", err)
	}
	if len(out.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(out.Children))
	}
	if out.Children[0].SortOrder > out.Children[1].SortOrder {
		t.Errorf("expected children sorted by position, got %+v", out.Children)
	}
	if out.PendingSync != 1 {
		t.Errorf("expected the queued create, got %d", out.PendingSync)
	}

	_, out, err = h.HandleGetTask(context.Background(), nil, GetTaskInput{ID: dependent.ID})
	if err != nil {
		t.Fatalf("get_task: %v", err)
	}
	if out.CanMarkAsDone {
		t.Error("expected a task with an open dependency to not be completable")
	}
	if len(out.DependencyChain) != 1 || out.DependencyChain[0] != root.ID {
		t.Errorf("expected chain [%s], got %v", root.ID, out.DependencyChain)
	}

	if _, _, err := h.HandleGetTask(context.Background(), nil, GetTaskInput{ID: "missing"}); err == nil {
		t.Error("expected an error for an unknown task")
	}
}

func TestHandleTaskTreeSubtree(t *testing.T) {
	h := newHandler(t)
	a := create(t, h, CreateTaskInput{Title: "A"})
	b := create(t, h, CreateTaskInput{Title: "B", ParentID: a.ID})
	create(t, h, CreateTaskInput{Title: "C", ParentID: b.ID})
	create(t, h, CreateTaskInput{Title: "D"})

	_, full, err := h.HandleTaskTree(context.Background(), nil, TaskTreeInput{})
	if err != nil {
		t.Fatalf("task_tree: %v", err)
	}
	if len(full.Entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(full.Entries))
	}

	_, sub, err := h.HandleTaskTree(context.Background(), nil, TaskTreeInput{RootID: b.ID})
	if err != nil {
		t.Fatalf("task_tree: %v", err)
	}
	if len(sub.Entries) != 2 {
		t.Fatalf("expected B and C, got %+v", sub.Entries)
	}
	if sub.Entries[0].Task.ID != b.ID || sub.Entries[0].Depth != 0 || sub.Entries[1].Depth != 1 {
		t.Errorf("unexpected subtree %+v", sub.Entries)
	}
}

func TestHandleReorderAndDelete(t *testing.T) {
	h := newHandler(t)
	first := create(t, h, CreateTaskInput{Title: "First"})
	second := create(t, h, CreateTaskInput{Title: "Second"})

	_, out, err := h.HandleReorderTask(context.Background(), nil, ReorderTaskInput{ID: second.ID, Index: 0})
	if err != nil {
		t.Fatalf("reorder_task: %v", err)
	}
	if len(out.Siblings) != 2 || out.Siblings[0].ID != second.ID {
		t.Errorf("expected %s first, got %+v", second.ID, out.Siblings)
	}

	if _, _, err := h.HandleReorderTask(context.Background(), nil, ReorderTaskInput{ID: first.ID, ParentID: first.ID}); err == nil {
		t.Error("expected moving a task under itself to fail")
	}

	_, del, err := h.HandleDeleteTask(context.Background(), nil, DeleteTaskInput{ID: first.ID})
	if err != nil {
		t.Fatalf("delete_task: %v", err)
	}
	if len(del.Deleted) != 1 || del.Deleted[0] != first.ID {
		t.Errorf("expected [%s], got %v", first.ID, del.Deleted)
	}
}

func TestHandleSetFilterValidates(t *testing.T) {
	h := newHandler(t)
	bad := "urgent"
	if _, _, err := h.HandleSetFilter(context.Background(), nil, SetFilterInput{Priority: &bad}); err == nil {
		t.Error("expected an invalid priority to be rejected")
	}

	high := "high"
	create(t, h, CreateTaskInput{Title: "Hot", Priority: "high"})
	create(t, h, CreateTaskInput{Title: "Cold", Priority: "low"})
	_, out, err := h.HandleSetFilter(context.Background(), nil, SetFilterInput{Priority: &high})
	if err != nil {
		t.Fatalf("set_filter: %v", err)
	}
	if out.Matches != 1 || out.Filters.Priority != "high" {
		t.Errorf("expected 1 high-priority match, got %+v", out)
	}

	none := ""
	_, out, err = h.HandleSetFilter(context.Background(), nil, SetFilterInput{Priority: &none})
	if err != nil {
		t.Fatalf("set_filter: %v", err)
	}
	if out.Matches != 2 {
		t.Errorf("expected the priority filter cleared, got %+v", out)
	}
}

func TestHandleSetCurrentProject(t *testing.T) {
	h := newHandler(t)
	if _, _, err := h.HandleSetCurrentProject(context.Background(), nil, SetCurrentProjectInput{}); err == nil {
		t.Error("expected an empty project id to be rejected")
	}

	_, out, err := h.HandleSetCurrentProject(context.Background(), nil, SetCurrentProjectInput{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("set_current_project: %v", err)
	}
	if out.CurrentProject != "p1" {
		t.Errorf("expected p1, got %s", out.CurrentProject)
	}
	task := create(t, h, CreateTaskInput{Title: "Scoped"})
	if task.ProjectID != "p1" {
		t.Errorf("expected new task in p1, got %q", task.ProjectID)
	}

	if _, _, err := h.HandleSetCurrentProject(context.Background(), nil, SetCurrentProjectInput{ProjectID: "p1", Reload: true}); !errors.Is(err, engine.ErrOffline) {
		t.Errorf("expected ErrOffline for a reload without a server, got %v", err)
	}
}
