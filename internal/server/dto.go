package server

import (
	"trackifyr/internal/domain"
	"trackifyr/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string  `json:"name" minLength:"1"`
	Description *string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateMilestoneRequest struct {
	Name        string  `json:"name" minLength:"1"`
	Description *string `json:"description,omitempty"`
}

type UpdateMilestoneRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateTaskRequest struct {
	Name        string  `json:"name" minLength:"1"`
	Description *string `json:"description,omitempty"`
	// DependencyID references a task anywhere in the system.
	DependencyID *string `json:"dependency_id,omitempty"`
}

type UpdateTaskRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"pending,complete"`
	// An empty dependency_id clears the dependency.
	DependencyID *string `json:"dependency_id,omitempty"`
}

type SelectionRequest struct {
	ProjectID   *string `json:"project_id,omitempty"`
	MilestoneID *string `json:"milestone_id,omitempty"`
}

type ThemeRequest struct {
	Theme string `json:"theme" enum:"dark,light"`
}

// Response payloads

type ProjectResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Milestones  []MilestoneResponse `json:"milestones"`
	Progress    domain.Progress `json:"progress"`
}

type MilestoneResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Tasks       []TaskResponse `json:"tasks"`
}

type TaskResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status" enum:"pending,complete"`
	DependencyID *string `json:"dependency_id,omitempty"`
	Locked       bool    `json:"locked"`
	Dependent    bool    `json:"dependent"`
}

type TaskDetailResponse struct {
	TaskResponse
	MilestoneID string               `json:"milestone_id"`
	ProjectID   string               `json:"project_id"`
	Chain       []domain.ChainEntry  `json:"chain,omitempty"`
}

type ToggleResponse struct {
	Outcome  string          `json:"outcome" enum:"complete,locked,already_complete"`
	Progress domain.Progress `json:"progress"`
}

type SelectionResponse struct {
	ProjectID   string `json:"project_id,omitempty"`
	MilestoneID string `json:"milestone_id,omitempty"`
}

type ThemeResponse struct {
	Theme string `json:"theme"`
}

// Mapping helpers

func taskResponse(e *engine.Engine, t domain.Task) TaskResponse {
	locked, _ := e.IsLocked(t.ID)
	return TaskResponse{
		ID:           t.ID,
		Name:         t.Name,
		Description:  t.Description,
		Status:       string(t.Status),
		DependencyID: t.DependencyID,
		Locked:       locked,
		Dependent:    e.IsDependent(t.ID),
	}
}

func milestoneResponse(e *engine.Engine, m domain.Milestone) MilestoneResponse {
	tasks := make([]TaskResponse, len(m.Tasks))
	for i, t := range m.Tasks {
		tasks[i] = taskResponse(e, t)
	}
	return MilestoneResponse{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Tasks:       tasks,
	}
}

func projectResponse(e *engine.Engine, p domain.Project) ProjectResponse {
	milestones := make([]MilestoneResponse, len(p.Milestones))
	for i, m := range p.Milestones {
		milestones[i] = milestoneResponse(e, m)
	}
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Milestones:  milestones,
		Progress:    engine.ComputeProgress(p),
	}
}

func mapProjects(e *engine.Engine, items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, len(items))
	for i, p := range items {
		res[i] = projectResponse(e, p)
	}
	return res
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
