package engine

import (
	"fmt"

	"trackifyr/internal/domain"
)

// Each task has at most one dependency, so the dependency relation is a
// forest of simple chains. Cycle detection and chain construction are plain
// linked-list walks; keeping the single-dependency constraint is what makes
// them correct.

func (e *Engine) isLocked(t *domain.Task) bool {
	if t.DependencyID == nil {
		return false
	}
	dep, _, _ := e.findTask(*t.DependencyID)
	if dep == nil {
		// Dangling references only exist transiently; deletion nulls them.
		return false
	}
	return dep.Status != domain.StatusComplete
}

// IsLocked reports whether the task has an incomplete dependency. A task
// with no dependency is never locked.
func (e *Engine) IsLocked(taskID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, _, _ := e.findTask(taskID)
	if t == nil {
		return false, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return e.isLocked(t), nil
}

// IsDependent reports whether any other task depends on the given one.
// Callers use it to warn before deletion.
func (e *Engine) IsDependent(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isDependent(taskID)
}

func (e *Engine) isDependent(taskID string) bool {
	for i := range e.projects {
		for j := range e.projects[i].Milestones {
			for k := range e.projects[i].Milestones[j].Tasks {
				t := &e.projects[i].Milestones[j].Tasks[k]
				if t.ID != taskID && t.DependencyID != nil && *t.DependencyID == taskID {
					return true
				}
			}
		}
	}
	return false
}

// DependencyChain walks dependency pointers backward from the task to the
// root of its chain, returning entries ordered root first. Only the last
// entry has IsCurrent set.
func (e *Engine) DependencyChain(taskID string) ([]domain.ChainEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, _, _ := e.findTask(taskID)
	if t == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	chain := []domain.ChainEntry{{ID: t.ID, Name: t.Name, Status: t.Status, IsCurrent: true}}
	seen := map[string]bool{t.ID: true}
	cur := t
	for cur.DependencyID != nil {
		next, _, _ := e.findTask(*cur.DependencyID)
		if next == nil {
			break
		}
		// Writes are validated to stay acyclic; this guard only caps a walk
		// over corrupt data instead of looping forever.
		if seen[next.ID] {
			break
		}
		seen[next.ID] = true
		chain = append([]domain.ChainEntry{{ID: next.ID, Name: next.Name, Status: next.Status}}, chain...)
		cur = next
	}
	return chain, nil
}

// clearDependenciesOn nulls out the dependency of every task referencing a
// removed id, keeping the no-ghost-reference invariant after deletes.
func (e *Engine) clearDependenciesOn(removed map[string]bool) {
	for i := range e.projects {
		for j := range e.projects[i].Milestones {
			m := &e.projects[i].Milestones[j]
			for k := range m.Tasks {
				if dep := m.Tasks[k].DependencyID; dep != nil && removed[*dep] {
					m.Tasks[k].DependencyID = nil
				}
			}
		}
	}
}

// wouldCreateCycle is the authoritative cycle check, run before accepting a
// dependency assignment. It walks forward from the candidate following each
// task's existing dependency pointer; reaching taskID means the assignment
// would close a cycle, reaching a nil pointer means it would not.
func (e *Engine) wouldCreateCycle(taskID, candidateDependencyID string) bool {
	cur := candidateDependencyID
	for cur != "" {
		if cur == taskID {
			return true
		}
		t, _, _ := e.findTask(cur)
		if t == nil || t.DependencyID == nil {
			return false
		}
		cur = *t.DependencyID
	}
	return false
}
