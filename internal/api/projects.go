package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fitz/tasksync/internal/models"
)

func decodeProject(raw json.RawMessage) (models.Project, error) {
	var env struct {
		Project *models.Project `json:"project"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Project != nil {
		return *env.Project, nil
	}
	var p models.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.Project{}, err
	}
	if p.ID == "" {
		return models.Project{}, fmt.Errorf("response carries no project")
	}
	return p, nil
}

func (c *Client) projectCall(ctx context.Context, method, path string, body any) (models.Project, error) {
	var raw json.RawMessage
	if err := c.do(ctx, method, path, body, &raw); err != nil {
		return models.Project{}, err
	}
	p, err := decodeProject(raw)
	if err != nil {
		return models.Project{}, fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return p, nil
}

// ListProjects fetches the projects visible to the caller.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &raw); err != nil {
		return nil, err
	}
	var list []models.Project
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var env struct {
		Projects []models.Project `json:"projects"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}
	return env.Projects, nil
}

// CreateProject posts a new project.
func (c *Client) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	return c.projectCall(ctx, http.MethodPost, "/projects", p)
}

// UpdateProject sends a partial project update.
func (c *Client) UpdateProject(ctx context.Context, id string, fields json.RawMessage) (models.Project, error) {
	return c.projectCall(ctx, http.MethodPut, "/projects/"+url.PathEscape(id), fields)
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(id), nil, nil)
}

// ListMembers returns the members of a project.
func (c *Client) ListMembers(ctx context.Context, projectID string) ([]models.ProjectMember, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/members", nil, &raw); err != nil {
		return nil, err
	}
	var list []models.ProjectMember
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var env struct {
		Members []models.ProjectMember `json:"members"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode members: %w", err)
	}
	return env.Members, nil
}

// AddMember adds a user to a project.
func (c *Client) AddMember(ctx context.Context, projectID string, m models.ProjectMember) error {
	return c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/members", m, nil)
}

// RemoveMember removes a user from a project.
func (c *Client) RemoveMember(ctx context.Context, projectID, userID string) error {
	return c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(projectID)+"/members/"+url.PathEscape(userID), nil, nil)
}
