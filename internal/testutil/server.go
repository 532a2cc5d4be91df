// Package testutil provides an in-memory task server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"time"

	"github.com/fitz/tasksync/internal/models"
	"github.com/gorilla/mux"
)

// Server is a fake task REST server backed by a map.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	tasks    map[string]models.Task
	projects map[string]models.Project
	members  map[string][]models.ProjectMember
	nextID   int
	failures map[string][]int
	requests []string
	healthy  bool
	bareList bool
	token    string
	now      func() time.Time
}

// NewServer starts a fake server. Close it when done.
func NewServer() *Server {
	s := &Server{
		tasks:    make(map[string]models.Task),
		projects: make(map[string]models.Project),
		members:  make(map[string][]models.ProjectMember),
		failures: make(map[string][]int),
		healthy:  true,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.Server = httptest.NewServer(s.Router())
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.record)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/tasks", s.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks", s.createTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}", s.getTask).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", s.updateTask).Methods(http.MethodPut)
	r.HandleFunc("/tasks/{id}", s.deleteTask).Methods(http.MethodDelete)
	r.HandleFunc("/projects", s.listProjects).Methods(http.MethodGet)
	r.HandleFunc("/projects", s.createProject).Methods(http.MethodPost)
	r.HandleFunc("/projects/{id}", s.updateProject).Methods(http.MethodPut)
	r.HandleFunc("/projects/{id}", s.deleteProject).Methods(http.MethodDelete)
	r.HandleFunc("/projects/{id}/members", s.listMembers).Methods(http.MethodGet)
	r.HandleFunc("/projects/{id}/members", s.addMember).Methods(http.MethodPost)
	r.HandleFunc("/projects/{id}/members/{userId}", s.removeMember).Methods(http.MethodDelete)
	return r
}

// record logs the request and serves any injected failure for its route.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.requests = append(s.requests, key)
		var status int
		if codes := s.failures[key]; len(codes) > 0 {
			status = codes[0]
			s.failures[key] = codes[1:]
		}
		token := s.token
		s.mu.Unlock()

		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FailNext makes the next len(codes) requests matching "METHOD /path"
// answer with the given status codes.
func (s *Server) FailNext(route string, codes ...int) {
	s.mu.Lock()
	s.failures[route] = append(s.failures[route], codes...)
	s.mu.Unlock()
}

// SetHealthy toggles the /health answer.
func (s *Server) SetHealthy(ok bool) {
	s.mu.Lock()
	s.healthy = ok
	s.mu.Unlock()
}

// RequireToken rejects requests without this bearer token.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// UseBareList answers GET /tasks with a bare array.
func (s *Server) UseBareList(bare bool) {
	s.mu.Lock()
	s.bareList = bare
	s.mu.Unlock()
}

// Requests returns the "METHOD /path" log.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// Count returns how often route was requested.
func (s *Server) Count(route string) int {
	n := 0
	for _, r := range s.Requests() {
		if r == route {
			n++
		}
	}
	return n
}

// Task returns the stored server task.
func (s *Server) Task(id string) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t.Clone(), ok
}

// PutTask seeds or overwrites a server task.
func (s *Server) PutTask(t models.Task) {
	s.mu.Lock()
	s.tasks[t.ID] = t.Clone()
	s.mu.Unlock()
}

// Project returns the stored server project.
func (s *Server) Project(id string) (models.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	return p, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ok := s.healthy
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			http.Error(w, "bad since", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	s.mu.Lock()
	out := []models.Task{}
	for _, t := range s.tasks {
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		if !since.IsZero() && !t.UpdatedAt.After(since) {
			continue
		}
		out = append(out, t.Clone())
	}
	bare := s.bareList
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b models.Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if bare {
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	t, ok := s.tasks[mux.Vars(r)["id"]]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": t})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var t models.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if t.Title == "" {
		http.Error(w, "title required", http.StatusUnprocessableEntity)
		return
	}

	s.mu.Lock()
	s.nextID++
	t.ID = fmt.Sprintf("srv-%d", s.nextID)
	t.IsTemp = false
	t.Version = 1
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.tasks[t.ID] = t.Clone()
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"task": t})
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	var version int
	if raw, ok := body["version"]; ok {
		_ = json.Unmarshal(raw, &version)
		delete(body, "version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if version != 0 && version != cur.Version {
		http.Error(w, "version mismatch", http.StatusConflict)
		return
	}

	// overlay the partial fields onto the stored record
	merged, _ := json.Marshal(cur)
	var full map[string]json.RawMessage
	_ = json.Unmarshal(merged, &full)
	for k, v := range body {
		full[k] = v
	}
	data, _ := json.Marshal(full)
	var next models.Task
	if err := json.Unmarshal(data, &next); err != nil {
		http.Error(w, "bad fields", http.StatusBadRequest)
		return
	}
	next.ID = id
	next.Version = cur.Version + 1
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.now()
	s.tasks[id] = next.Clone()
	writeJSON(w, http.StatusOK, map[string]any{"task": next})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	_, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listProjects(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := []models.Project{}
	for _, p := range s.projects {
		out = append(out, p)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Name == "" {
		http.Error(w, "bad body", http.StatusUnprocessableEntity)
		return
	}
	s.mu.Lock()
	s.nextID++
	p.ID = fmt.Sprintf("prj-%d", s.nextID)
	p.IsTemp = false
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.projects[p.ID] = p
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"project": p})
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var patch models.ProjectPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	patch.Apply(&p)
	p.UpdatedAt = s.now()
	s.projects[id] = p
	writeJSON(w, http.StatusOK, map[string]any{"project": p})
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	_, ok := s.projects[id]
	delete(s.projects, id)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := slices.Clone(s.members[mux.Vars(r)["id"]])
	s.mu.Unlock()
	if out == nil {
		out = []models.ProjectMember{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	var m models.ProjectMember
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	s.members[id] = append(s.members[id], m)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.mu.Lock()
	s.members[vars["id"]] = slices.DeleteFunc(s.members[vars["id"]], func(m models.ProjectMember) bool {
		return m.UserID == vars["userId"]
	})
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
