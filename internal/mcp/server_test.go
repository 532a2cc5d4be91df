package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fitz/tasksync/internal/engine"
	"github.com/fitz/tasksync/internal/mcp/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(engine.Options{Actor: "tester", ManualSync: true})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverT, clientT := mcp.NewInMemoryTransports()
	if _, err := s.mcpServer.Connect(ctx, serverT, nil); err != nil {
		t.Fatalf("failed to connect server: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("failed to connect client: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if out != nil && !res.IsError {
		data, err := json.Marshal(res.StructuredContent)
		if err != nil {
			t.Fatalf("%s: failed to encode structured content: %v", name, err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s: failed to decode structured content: %v", name, err)
		}
	}
	return res
}

func TestServerRegistersActionTools(t *testing.T) {
	s := NewServer(newTestEngine(t), nil)
	session := connect(t, s)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	got := make(map[string]bool)
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}

	expected := []string{
		"create_task", "update_task", "delete_task", "reorder_task", "get_task",
		"task_tree", "list_tasks", "set_filter", "clear_filters", "set_current_project",
		"retry_failed_sync", "clear_failed_sync", "resolve_conflict", "list_conflicts",
		"force_reload_tasks", "sync_status",
	}
	for _, name := range expected {
		if !got[name] {
			t.Errorf("expected tool %s to be registered", name)
		}
	}
	if len(res.Tools) != len(expected) {
		t.Errorf("expected %d tools, got %d", len(expected), len(res.Tools))
	}
}

func TestCreateUpdateAndListOverMCP(t *testing.T) {
	s := NewServer(newTestEngine(t), nil)
	session := connect(t, s)

	var created tools.CreateTaskOutput
	callTool(t, session, "create_task", map[string]any{"title": "Design", "tags": []string{"UI"}}, &created)
	if created.Task.ID == "" || !created.Task.Pending {
		t.Fatalf("expected a pending task with an id, got %+v", created.Task)
	}

	var updated tools.UpdateTaskOutput
	callTool(t, session, "update_task", map[string]any{"id": created.Task.ID, "status": "in_progress"}, &updated)
	if updated.Task.Status != "in_progress" {
		t.Errorf("expected status in_progress, got %s", updated.Task.Status)
	}
	if updated.Task.Version != created.Task.Version+1 {
		t.Errorf("expected version %d, got %d", created.Task.Version+1, updated.Task.Version)
	}

	var status tools.SyncStatusOutput
	callTool(t, session, "sync_status", nil, &status)
	if status.Tasks != 1 {
		t.Errorf("expected 1 task, got %d", status.Tasks)
	}
	if len(status.Queue) != 2 {
		t.Errorf("expected create and update queued, got %d items", len(status.Queue))
	}
	if status.Online {
		t.Error("expected offline without a server")
	}

	var filtered tools.FiltersOutput
	callTool(t, session, "set_filter", map[string]any{"status": "done"}, &filtered)
	if filtered.Matches != 0 {
		t.Errorf("expected no done tasks, got %d", filtered.Matches)
	}

	var list tools.ListTasksOutput
	callTool(t, session, "list_tasks", map[string]any{"all": true}, &list)
	if list.Count != 1 || list.Filters.Status != "done" {
		t.Errorf("expected 1 task with the done filter reported, got %d %+v", list.Count, list.Filters)
	}

	callTool(t, session, "clear_filters", nil, &filtered)
	if filtered.Matches != 1 {
		t.Errorf("expected 1 match after clearing, got %d", filtered.Matches)
	}
}

func TestToolErrorsAreReported(t *testing.T) {
	s := NewServer(newTestEngine(t), nil)
	session := connect(t, s)

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"unknown task", "update_task", map[string]any{"id": "missing", "title": "x"}},
		{"bad status", "create_task", map[string]any{"title": "x", "status": "pending"}},
		{"bad date", "create_task", map[string]any{"title": "x", "start_time": "tomorrow"}},
		{"unknown conflict", "resolve_conflict", map[string]any{"id": "nope", "strategy": "keep_local"}},
		{"bad strategy", "resolve_conflict", map[string]any{"id": "nope", "strategy": "coin_flip"}},
		{"offline reload", "force_reload_tasks", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, session, tt.tool, tt.args, nil)
			if !res.IsError {
				t.Errorf("expected %s to fail", tt.tool)
			}
		})
	}
}

func TestHealthzRoute(t *testing.T) {
	s := NewServer(newTestEngine(t), nil)

	rec := httptest.NewRecorder()
	s.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
