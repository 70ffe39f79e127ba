// Package engine owns the in-memory project/milestone/task hierarchy and
// every rule over it: scoped name uniqueness, the one-dependency-per-task
// forest, completion locks, cascade deletes, and progress. Mutations follow
// one contract: validate, mutate in memory, persist best-effort, return.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"trackifyr/internal/config"
	"trackifyr/internal/domain"
	"trackifyr/internal/events"
	"trackifyr/internal/store"
)

type Engine struct {
	Store  store.Store
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Log    *log.Logger

	mu        sync.Mutex
	projects  []domain.Project
	selection domain.Selection
	lastIDMS  int64
}

func New(st store.Store, ev events.Writer, cfg *config.Config) *Engine {
	return &Engine{
		Store:  st,
		Events: ev,
		Config: cfg,
		Now:    time.Now,
		Log:    log.Default(),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *log.Logger {
	if e.Log != nil {
		return e.Log
	}
	return log.Default()
}

// Init performs the single storage read of the engine's lifetime: it loads
// the persisted snapshot (seeding the sample hierarchy when absent) and
// restores the active selection. Load failures degrade to defaults.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := e.Store.Load(ctx, store.KeyProjects)
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.projects = e.seedProjects()
		if err := e.Store.Save(ctx, store.KeyProjects, e.projects); err != nil {
			e.logger().Warn("seed save failed", "err", err)
		}
	case err != nil:
		e.logger().Warn("snapshot load failed, starting from defaults", "err", err)
		e.projects = e.seedProjects()
	default:
		if err := json.Unmarshal(raw, &e.projects); err != nil {
			e.logger().Warn("snapshot unreadable, starting from defaults", "err", err)
			e.projects = e.seedProjects()
		}
	}

	var activeID string
	if raw, err := e.Store.Load(ctx, store.KeyActiveProjectID); err == nil {
		_ = json.Unmarshal(raw, &activeID)
	}
	if e.findProject(activeID) == nil {
		activeID = ""
		if len(e.projects) > 0 {
			activeID = e.projects[0].ID
		}
	}
	e.selection.ProjectID = activeID
	e.deriveActiveMilestone()
	return nil
}

func (e *Engine) seedProjects() []domain.Project {
	if e.Config != nil && !e.Config.Seed.SampleData {
		return []domain.Project{}
	}
	return defaultProjects()
}

// deriveActiveMilestone resets the milestone cursor to the first milestone
// of the active project, or none.
func (e *Engine) deriveActiveMilestone() {
	e.selection.MilestoneID = ""
	if p := e.findProject(e.selection.ProjectID); p != nil && len(p.Milestones) > 0 {
		e.selection.MilestoneID = p.Milestones[0].ID
	}
}

// newID generates a wall-clock id with a monotonic bump so that two
// creations in the same millisecond still get distinct ids.
func (e *Engine) newID(prefix string) string {
	ms := e.now().UnixMilli()
	if ms <= e.lastIDMS {
		ms = e.lastIDMS + 1
	}
	e.lastIDMS = ms
	return fmt.Sprintf("%s-%d", prefix, ms)
}

// persist writes the whole snapshot. Saves are best-effort: on failure the
// in-memory state keeps the change and diverges from storage until the next
// successful save.
func (e *Engine) persist(ctx context.Context) {
	if err := e.Store.Save(ctx, store.KeyProjects, e.projects); err != nil {
		e.logger().Warn("snapshot save failed; in-memory state diverges from storage until the next save", "err", err)
	}
}

func (e *Engine) persistSelection(ctx context.Context) {
	var v any
	if e.selection.ProjectID != "" {
		v = e.selection.ProjectID
	}
	if err := e.Store.Save(ctx, store.KeyActiveProjectID, v); err != nil {
		e.logger().Warn("selection save failed", "err", err)
	}
}

func (e *Engine) event(ctx context.Context, evtType, entityKind, entityID string, payload events.EventPayload) {
	if !e.Events.Enabled() {
		return
	}
	if err := e.Events.Append(ctx, evtType, entityKind, entityID, payload); err != nil {
		e.logger().Warn("event append failed", "type", evtType, "err", err)
	}
}

// --- projects ---

func (e *Engine) AddProject(ctx context.Context, name, description string) (domain.Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if name == "" {
		return domain.Project{}, fmt.Errorf("name is required: %w", ErrInvalidInput)
	}
	if !e.projectNameUnique(name, "") {
		return domain.Project{}, fmt.Errorf("project %q: %w", name, ErrDuplicateName)
	}
	p := domain.Project{
		ID:          e.newID("p"),
		Name:        name,
		Description: description,
		Milestones:  []domain.Milestone{},
	}
	e.projects = append(e.projects, p)
	if e.selection.ProjectID == "" {
		e.selection.ProjectID = p.ID
		e.persistSelection(ctx)
	}
	e.persist(ctx)
	e.event(ctx, "project.created", "project", p.ID, events.EventPayload{"name": p.Name})
	return cloneProject(p), nil
}

// ProjectUpdate carries partial project fields; nil means keep.
type ProjectUpdate struct {
	Name        *string
	Description *string
}

func (e *Engine) UpdateProject(ctx context.Context, id string, upd ProjectUpdate) (domain.Project, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.findProject(id)
	if p == nil {
		return domain.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if upd.Name != nil && *upd.Name != p.Name {
		if *upd.Name == "" {
			return domain.Project{}, fmt.Errorf("name is required: %w", ErrInvalidInput)
		}
		if !e.projectNameUnique(*upd.Name, id) {
			return domain.Project{}, fmt.Errorf("project %q: %w", *upd.Name, ErrDuplicateName)
		}
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	e.persist(ctx)
	e.event(ctx, "project.updated", "project", p.ID, events.EventPayload{"name": p.Name})
	return cloneProject(*p), nil
}

// DeleteProject removes a project and everything it owns. Tasks in other
// projects that depended on the removed tasks have their dependency cleared.
// Deleting an absent id is a no-op. If the project was active, the first
// remaining project (or none) becomes active.
func (e *Engine) DeleteProject(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := -1
	for i := range e.projects {
		if e.projects[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	removed := map[string]bool{}
	for _, m := range e.projects[idx].Milestones {
		for _, t := range m.Tasks {
			removed[t.ID] = true
		}
	}
	e.projects = append(e.projects[:idx], e.projects[idx+1:]...)
	e.clearDependenciesOn(removed)
	if e.selection.ProjectID == id {
		e.selection.ProjectID = ""
		if len(e.projects) > 0 {
			e.selection.ProjectID = e.projects[0].ID
		}
		e.deriveActiveMilestone()
		e.persistSelection(ctx)
	}
	e.persist(ctx)
	e.event(ctx, "project.deleted", "project", id, nil)
	return nil
}

// --- milestones ---

func (e *Engine) AddMilestone(ctx context.Context, projectID, name, description string) (domain.Milestone, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.findProject(projectID)
	if p == nil {
		return domain.Milestone{}, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if name == "" {
		return domain.Milestone{}, fmt.Errorf("name is required: %w", ErrInvalidInput)
	}
	if !e.milestoneNameUnique(p, name, "") {
		return domain.Milestone{}, fmt.Errorf("milestone %q: %w", name, ErrDuplicateName)
	}
	m := domain.Milestone{
		ID:          e.newID("m"),
		Name:        name,
		Description: description,
		Tasks:       []domain.Task{},
	}
	p.Milestones = append(p.Milestones, m)
	if e.selection.ProjectID == projectID && e.selection.MilestoneID == "" {
		e.selection.MilestoneID = m.ID
	}
	e.persist(ctx)
	e.event(ctx, "milestone.created", "milestone", m.ID, events.EventPayload{"name": m.Name, "project_id": projectID})
	return cloneMilestone(m), nil
}

// MilestoneUpdate carries partial milestone fields; nil means keep.
type MilestoneUpdate struct {
	Name        *string
	Description *string
}

func (e *Engine) UpdateMilestone(ctx context.Context, id string, upd MilestoneUpdate) (domain.Milestone, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, p := e.findMilestone(id)
	if m == nil {
		return domain.Milestone{}, fmt.Errorf("milestone %s: %w", id, ErrNotFound)
	}
	if upd.Name != nil && *upd.Name != m.Name {
		if *upd.Name == "" {
			return domain.Milestone{}, fmt.Errorf("name is required: %w", ErrInvalidInput)
		}
		if !e.milestoneNameUnique(p, *upd.Name, id) {
			return domain.Milestone{}, fmt.Errorf("milestone %q: %w", *upd.Name, ErrDuplicateName)
		}
	}
	if upd.Name != nil {
		m.Name = *upd.Name
	}
	if upd.Description != nil {
		m.Description = *upd.Description
	}
	e.persist(ctx)
	e.event(ctx, "milestone.updated", "milestone", m.ID, events.EventPayload{"name": m.Name})
	return cloneMilestone(*m), nil
}

// DeleteMilestone removes a milestone and its tasks. Tasks elsewhere that
// depended on the removed tasks have their dependency cleared.
func (e *Engine) DeleteMilestone(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, p := e.findMilestone(id)
	if m == nil {
		return nil
	}
	removed := make(map[string]bool, len(m.Tasks))
	for _, t := range m.Tasks {
		removed[t.ID] = true
	}
	for i := range p.Milestones {
		if p.Milestones[i].ID == id {
			p.Milestones = append(p.Milestones[:i], p.Milestones[i+1:]...)
			break
		}
	}
	e.clearDependenciesOn(removed)
	if e.selection.MilestoneID == id {
		e.deriveActiveMilestone()
	}
	e.persist(ctx)
	e.event(ctx, "milestone.deleted", "milestone", id, nil)
	return nil
}

// --- tasks ---

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Name         string
	Description  string
	DependencyID *string
}

func (e *Engine) AddTask(ctx context.Context, milestoneID string, opts TaskCreateOptions) (domain.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, _ := e.findMilestone(milestoneID)
	if m == nil {
		return domain.Task{}, fmt.Errorf("milestone %s: %w", milestoneID, ErrNotFound)
	}
	if opts.Name == "" {
		return domain.Task{}, fmt.Errorf("name is required: %w", ErrInvalidInput)
	}
	if !e.taskNameUnique(m, opts.Name, "") {
		return domain.Task{}, fmt.Errorf("task %q: %w", opts.Name, ErrDuplicateName)
	}
	dep := normalizeDep(opts.DependencyID)
	if dep != nil {
		if t, _, _ := e.findTask(*dep); t == nil {
			return domain.Task{}, fmt.Errorf("dependency task %s: %w", *dep, ErrNotFound)
		}
	}
	t := domain.Task{
		ID:           e.newID("t"),
		Name:         opts.Name,
		Description:  opts.Description,
		Status:       domain.StatusPending,
		DependencyID: dep,
	}
	m.Tasks = append(m.Tasks, t)
	e.persist(ctx)
	e.event(ctx, "task.created", "task", t.ID, events.EventPayload{"name": t.Name, "milestone_id": milestoneID})
	return t, nil
}

// TaskUpdateOptions carries partial task fields; nil means keep. An empty
// DependencyID string clears the dependency.
type TaskUpdateOptions struct {
	Name         *string
	Description  *string
	Status       *domain.TaskStatus
	DependencyID *string
}

func (e *Engine) UpdateTask(ctx context.Context, id string, opts TaskUpdateOptions) (domain.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, m, _ := e.findTask(id)
	if t == nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if opts.Name != nil && *opts.Name != t.Name {
		if *opts.Name == "" {
			return domain.Task{}, fmt.Errorf("name is required: %w", ErrInvalidInput)
		}
		if !e.taskNameUnique(m, *opts.Name, id) {
			return domain.Task{}, fmt.Errorf("task %q: %w", *opts.Name, ErrDuplicateName)
		}
	}
	newDep := t.DependencyID
	if opts.DependencyID != nil {
		newDep = normalizeDep(opts.DependencyID)
		if newDep != nil && !sameDep(newDep, t.DependencyID) {
			if *newDep == id {
				return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrSelfDependency)
			}
			if target, _, _ := e.findTask(*newDep); target == nil {
				return domain.Task{}, fmt.Errorf("dependency task %s: %w", *newDep, ErrNotFound)
			}
			if e.wouldCreateCycle(id, *newDep) {
				return domain.Task{}, fmt.Errorf("task %s depends on %s: %w", *newDep, id, ErrCircularDependency)
			}
		}
	}
	if opts.Status != nil && *opts.Status != t.Status {
		switch *opts.Status {
		case domain.StatusComplete:
			// The gate checks the dependency as it will be after this
			// update, so assigning a pending dependency and completing in
			// one call is still rejected.
			if newDep != nil {
				if target, _, _ := e.findTask(*newDep); target != nil && target.Status != domain.StatusComplete {
					return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrDependencyLocked)
				}
			}
		case domain.StatusPending:
			return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrTaskComplete)
		default:
			return domain.Task{}, fmt.Errorf("invalid status %q: %w", *opts.Status, ErrInvalidInput)
		}
	}
	if opts.Name != nil {
		t.Name = *opts.Name
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.DependencyID != nil {
		t.DependencyID = newDep
	}
	if opts.Status != nil {
		t.Status = *opts.Status
	}
	e.persist(ctx)
	e.event(ctx, "task.updated", "task", t.ID, events.EventPayload{"name": t.Name, "status": string(t.Status)})
	return *t, nil
}

// DeleteTask removes a task and nulls out the dependency of every task that
// referenced it. Dependents are never cascade-deleted.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, m, _ := e.findTask(id)
	if t == nil {
		return nil
	}
	for i := range m.Tasks {
		if m.Tasks[i].ID == id {
			m.Tasks = append(m.Tasks[:i], m.Tasks[i+1:]...)
			break
		}
	}
	e.clearDependenciesOn(map[string]bool{id: true})
	e.persist(ctx)
	e.event(ctx, "task.deleted", "task", id, nil)
	return nil
}

// ToggleOutcome reports what a guarded completion attempt did.
type ToggleOutcome string

const (
	OutcomeComplete        ToggleOutcome = "complete"
	OutcomeLocked          ToggleOutcome = "locked"
	OutcomeAlreadyComplete ToggleOutcome = "already_complete"
)

// ToggleResult carries the outcome plus the owning project's progress after
// the attempt, so callers can detect the 100% moment.
type ToggleResult struct {
	Outcome  ToggleOutcome
	Progress domain.Progress
}

// ToggleTaskComplete is the guarded forward-only transition. A locked task
// yields a locked outcome, not an error, and no state change.
func (e *Engine) ToggleTaskComplete(ctx context.Context, id string) (ToggleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, _, p := e.findTask(id)
	if t == nil {
		return ToggleResult{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if t.Status == domain.StatusComplete {
		return ToggleResult{Outcome: OutcomeAlreadyComplete, Progress: ComputeProgress(*p)}, nil
	}
	if e.isLocked(t) {
		return ToggleResult{Outcome: OutcomeLocked, Progress: ComputeProgress(*p)}, nil
	}
	t.Status = domain.StatusComplete
	e.persist(ctx)
	e.event(ctx, "task.completed", "task", t.ID, events.EventPayload{"name": t.Name})
	return ToggleResult{Outcome: OutcomeComplete, Progress: ComputeProgress(*p)}, nil
}

// --- progress ---

// ComputeProgress counts tasks across all milestones of a project. The
// percentage is floored and defined as 0 for an empty project.
func ComputeProgress(p domain.Project) domain.Progress {
	var pr domain.Progress
	for _, m := range p.Milestones {
		for _, t := range m.Tasks {
			pr.TotalTasks++
			if t.Status == domain.StatusComplete {
				pr.CompletedTasks++
			}
		}
	}
	if pr.TotalTasks > 0 {
		pr.ProgressPercentage = pr.CompletedTasks * 100 / pr.TotalTasks
	}
	return pr
}

func (e *Engine) Progress(projectID string) (domain.Progress, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.findProject(projectID)
	if p == nil {
		return domain.Progress{}, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return ComputeProgress(*p), nil
}

// --- selection ---

func (e *Engine) SetActiveProject(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.findProject(id) == nil {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	e.selection.ProjectID = id
	e.deriveActiveMilestone()
	e.persistSelection(ctx)
	return nil
}

// SetActiveMilestone moves the milestone cursor. The milestone must belong
// to the active project.
func (e *Engine) SetActiveMilestone(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.findProject(e.selection.ProjectID)
	if p == nil {
		return fmt.Errorf("no active project: %w", ErrNotFound)
	}
	for _, m := range p.Milestones {
		if m.ID == id {
			e.selection.MilestoneID = id
			return nil
		}
	}
	return fmt.Errorf("milestone %s: %w", id, ErrNotFound)
}

func (e *Engine) Selection() domain.Selection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selection
}

func (e *Engine) ActiveProject() (domain.Project, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.findProject(e.selection.ProjectID)
	if p == nil {
		return domain.Project{}, false
	}
	return cloneProject(*p), true
}

func (e *Engine) ActiveMilestone() (domain.Milestone, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.findProject(e.selection.ProjectID)
	if p == nil {
		return domain.Milestone{}, false
	}
	for _, m := range p.Milestones {
		if m.ID == e.selection.MilestoneID {
			return cloneMilestone(m), true
		}
	}
	return domain.Milestone{}, false
}

// --- helpers ---

func normalizeDep(dep *string) *string {
	if dep == nil || *dep == "" {
		return nil
	}
	d := *dep
	return &d
}

func sameDep(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneProject(p domain.Project) domain.Project {
	out := p
	out.Milestones = make([]domain.Milestone, len(p.Milestones))
	for i, m := range p.Milestones {
		out.Milestones[i] = cloneMilestone(m)
	}
	return out
}

func cloneMilestone(m domain.Milestone) domain.Milestone {
	out := m
	out.Tasks = make([]domain.Task, len(m.Tasks))
	copy(out.Tasks, m.Tasks)
	return out
}
