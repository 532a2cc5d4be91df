package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/fitz/tasksync/internal/api"
	"github.com/fitz/tasksync/internal/models"
	"github.com/fitz/tasksync/internal/queue"
)

// ErrProjectNotFound is returned for an unknown project id.
var ErrProjectNotFound = errors.New("project not found")

// Projects returns the known projects.
func (e *Engine) Projects() []models.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.projects)
}

func (e *Engine) projectIndex(id string) int {
	return slices.IndexFunc(e.projects, func(p models.Project) bool { return p.ID == id })
}

// CreateProject adds a project locally and queues its creation. The first
// project becomes the current one.
func (e *Engine) CreateProject(name, description string) (models.Project, error) {
	if name == "" {
		return models.Project{}, errors.New("project name is required")
	}
	id := uuid.New().String()
	if e.newID != nil {
		id = e.newID()
	}
	now := e.now()
	p := models.Project{
		ID:          id,
		Name:        name,
		Description: description,
		Status:      models.ProjectStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		IsTemp:      true,
	}

	e.mu.Lock()
	e.projects = append(e.projects, p)
	if e.currentProject == "" {
		e.currentProject = p.ID
	}
	_, err := e.queue.Enqueue(queue.Request{
		Action:   models.SyncActionCreate,
		Entity:   models.EntityProject,
		EntityID: p.ID,
		Payload:  p,
	})
	e.mu.Unlock()
	if err != nil {
		return p, err
	}
	e.drainAfterEnqueue()
	return p, nil
}

// UpdateProject applies patch locally and queues it.
func (e *Engine) UpdateProject(id string, patch models.ProjectPatch) (models.Project, error) {
	if patch.Status != nil && !models.IsValidProjectStatus(string(*patch.Status)) {
		return models.Project{}, fmt.Errorf("invalid project status %q", *patch.Status)
	}
	e.mu.Lock()
	i := e.projectIndex(id)
	if i < 0 {
		e.mu.Unlock()
		return models.Project{}, fmt.Errorf("failed to update project %s: %w", id, ErrProjectNotFound)
	}
	patch.Apply(&e.projects[i])
	e.projects[i].UpdatedAt = e.now()
	p := e.projects[i]
	_, err := e.queue.Enqueue(queue.Request{
		Action:   models.SyncActionUpdate,
		Entity:   models.EntityProject,
		EntityID: id,
		Payload:  patch,
	})
	e.mu.Unlock()
	if err != nil {
		return p, err
	}
	e.drainAfterEnqueue()
	return p, nil
}

// DeleteProject deletes a project on the server, then locally together
// with its tasks. It needs connectivity.
func (e *Engine) DeleteProject(ctx context.Context, id string) error {
	if e.api == nil || !e.Online() {
		return ErrOffline
	}
	e.mu.Lock()
	known := e.projectIndex(id) >= 0
	e.mu.Unlock()
	if !known {
		return fmt.Errorf("failed to delete project %s: %w", id, ErrProjectNotFound)
	}

	if err := e.api.DeleteProject(ctx, id); err != nil && !errors.Is(err, api.ErrNotFound) {
		return fmt.Errorf("failed to delete project %s: %w", id, err)
	}

	e.mu.Lock()
	e.projects = slices.DeleteFunc(e.projects, func(p models.Project) bool { return p.ID == id })
	e.queue.DropEntity(models.EntityProject, id)
	for _, t := range e.store.All() {
		if t.ProjectID == id {
			e.store.Remove(t.ID)
			e.queue.DropEntity(models.EntityTask, t.ID)
		}
	}
	if e.currentProject == id {
		e.currentProject = ""
		if len(e.projects) > 0 {
			e.currentProject = e.projects[0].ID
		}
	}
	current := e.currentProject
	e.mu.Unlock()

	e.persistLater()
	if e.channel != nil {
		_ = e.channel.SetProject(current)
	}
	return nil
}

// LoadProjects refreshes the project list from the server. Projects that
// have not reached the server yet are kept.
func (e *Engine) LoadProjects(ctx context.Context) ([]models.Project, error) {
	if e.api == nil || !e.Online() {
		return e.Projects(), ErrOffline
	}
	remote, err := e.api.ListProjects(ctx)
	if err != nil {
		return e.Projects(), fmt.Errorf("failed to load projects: %w", err)
	}

	e.mu.Lock()
	for _, p := range e.projects {
		if p.IsTemp && !slices.ContainsFunc(remote, func(r models.Project) bool { return r.ID == p.ID }) {
			remote = append(remote, p)
		}
	}
	e.projects = remote
	if e.currentProject == "" && len(remote) > 0 {
		e.currentProject = remote[0].ID
	}
	out := slices.Clone(e.projects)
	e.mu.Unlock()

	e.persistLater()
	return out, nil
}

// Members lists the members of a project.
func (e *Engine) Members(ctx context.Context, projectID string) ([]models.ProjectMember, error) {
	if e.api == nil || !e.Online() {
		return nil, ErrOffline
	}
	return e.api.ListMembers(ctx, projectID)
}

// AddMember adds a user to a project.
func (e *Engine) AddMember(ctx context.Context, projectID string, m models.ProjectMember) error {
	if e.api == nil || !e.Online() {
		return ErrOffline
	}
	return e.api.AddMember(ctx, projectID, m)
}

// RemoveMember removes a user from a project.
func (e *Engine) RemoveMember(ctx context.Context, projectID, userID string) error {
	if e.api == nil || !e.Online() {
		return ErrOffline
	}
	return e.api.RemoveMember(ctx, projectID, userID)
}

func (e *Engine) pushProject(ctx context.Context, item models.SyncQueueItem) error {
	switch item.Action {
	case models.SyncActionCreate:
		var p models.Project
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return queue.Permanent(fmt.Errorf("failed to decode project payload: %w", err))
		}
		e.mu.Lock()
		if i := e.projectIndex(item.EntityID); i >= 0 {
			p = e.projects[i]
		}
		e.mu.Unlock()

		server, err := e.api.CreateProject(ctx, p)
		if err != nil {
			if api.IsPermanent(err) {
				e.mu.Lock()
				e.projects = slices.DeleteFunc(e.projects, func(x models.Project) bool { return x.ID == item.EntityID })
				e.queue.DropEntity(models.EntityProject, item.EntityID)
				e.mu.Unlock()
				e.notes.addItem(models.NotifyNegative, "server rejected new project: "+err.Error(), item.ID)
				return queue.Permanent(err)
			}
			return err
		}
		if server.ID == "" {
			server = p
		}
		server.IsTemp = false
		e.confirmProject(item.EntityID, server)
		return nil

	case models.SyncActionUpdate:
		server, err := e.api.UpdateProject(ctx, item.EntityID, item.Payload)
		if err != nil {
			if api.IsPermanent(err) {
				e.notes.addItem(models.NotifyNegative, "server rejected project change: "+err.Error(), item.ID)
				return queue.Permanent(err)
			}
			return err
		}
		e.mu.Lock()
		if i := e.projectIndex(item.EntityID); i >= 0 && e.queue.Others(models.EntityProject, item.EntityID, item.ID) == 0 {
			e.projects[i] = server
		}
		e.mu.Unlock()
		e.persistLater()
		return nil
	}
	return queue.Permanent(fmt.Errorf("unsupported project action %q", item.Action))
}

// confirmProject swaps a temporary project for its server record.
func (e *Engine) confirmProject(tempID string, server models.Project) {
	e.mu.Lock()
	if i := e.projectIndex(tempID); i >= 0 {
		e.projects[i] = server
	} else {
		e.projects = append(e.projects, server)
	}
	if server.ID != tempID {
		if e.currentProject == tempID {
			e.currentProject = server.ID
		}
		e.store.ReassignProject(tempID, server.ID)
		e.queue.RewriteEntityID(tempID, server.ID)
	}
	current := e.currentProject
	e.mu.Unlock()

	e.persistLater()
	if e.channel != nil && current == server.ID {
		_ = e.channel.SetProject(current)
	}
	e.logger.Info("project created on server", "temp_id", tempID, "id", server.ID)
}
