package engine

import "trackifyr/internal/domain"

// Lookups are full linear scans. The model stays small (a handful of
// projects, each with a handful of milestones and tasks) so no index is
// maintained.

func (e *Engine) findProject(id string) *domain.Project {
	if id == "" {
		return nil
	}
	for i := range e.projects {
		if e.projects[i].ID == id {
			return &e.projects[i]
		}
	}
	return nil
}

func (e *Engine) findMilestone(id string) (*domain.Milestone, *domain.Project) {
	if id == "" {
		return nil, nil
	}
	for i := range e.projects {
		p := &e.projects[i]
		for j := range p.Milestones {
			if p.Milestones[j].ID == id {
				return &p.Milestones[j], p
			}
		}
	}
	return nil, nil
}

func (e *Engine) findTask(id string) (*domain.Task, *domain.Milestone, *domain.Project) {
	if id == "" {
		return nil, nil, nil
	}
	for i := range e.projects {
		p := &e.projects[i]
		for j := range p.Milestones {
			m := &p.Milestones[j]
			for k := range m.Tasks {
				if m.Tasks[k].ID == id {
					return &m.Tasks[k], m, p
				}
			}
		}
	}
	return nil, nil, nil
}

// Projects returns a copy of the whole hierarchy.
func (e *Engine) Projects() []domain.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Project, len(e.projects))
	for i, p := range e.projects {
		out[i] = cloneProject(p)
	}
	return out
}

// FindProject resolves a project id.
func (e *Engine) FindProject(id string) (domain.Project, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.findProject(id)
	if p == nil {
		return domain.Project{}, false
	}
	return cloneProject(*p), true
}

// FindMilestone resolves a milestone id together with its owning project.
func (e *Engine) FindMilestone(id string) (domain.Milestone, domain.Project, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, p := e.findMilestone(id)
	if m == nil {
		return domain.Milestone{}, domain.Project{}, false
	}
	return cloneMilestone(*m), cloneProject(*p), true
}

// FindTask resolves a task id together with its enclosing ancestors.
func (e *Engine) FindTask(id string) (domain.Task, domain.Milestone, domain.Project, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, m, p := e.findTask(id)
	if t == nil {
		return domain.Task{}, domain.Milestone{}, domain.Project{}, false
	}
	return *t, cloneMilestone(*m), cloneProject(*p), true
}

// Name uniqueness is exact-string equality against siblings, excluding the
// entity being updated so a rename to the current name passes.

func (e *Engine) projectNameUnique(name, excludeID string) bool {
	for i := range e.projects {
		if e.projects[i].ID != excludeID && e.projects[i].Name == name {
			return false
		}
	}
	return true
}

func (e *Engine) milestoneNameUnique(p *domain.Project, name, excludeID string) bool {
	for i := range p.Milestones {
		if p.Milestones[i].ID != excludeID && p.Milestones[i].Name == name {
			return false
		}
	}
	return true
}

func (e *Engine) taskNameUnique(m *domain.Milestone, name, excludeID string) bool {
	for i := range m.Tasks {
		if m.Tasks[i].ID != excludeID && m.Tasks[i].Name == name {
			return false
		}
	}
	return true
}
