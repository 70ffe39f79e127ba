package domain

// TaskStatus is the lifecycle state of a task. Transitions are forward-only:
// once complete, a task never returns to pending.
type TaskStatus string

const (
	StatusPending  TaskStatus = "pending"
	StatusComplete TaskStatus = "complete"
)

type Project struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Milestones  []Milestone `json:"milestones"`
}

type Milestone struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tasks       []Task `json:"tasks"`
}

type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status" enum:"pending,complete"`
	// DependencyID is a weak reference to another task anywhere in the
	// system. Deleting the target nulls it out rather than cascading.
	DependencyID *string `json:"dependencyId,omitempty"`
}

// ChainEntry is one link of a task's dependency chain, ordered root first.
type ChainEntry struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    TaskStatus `json:"status" enum:"pending,complete"`
	IsCurrent bool       `json:"is_current"`
}

// Progress summarizes task completion across a whole project.
type Progress struct {
	TotalTasks         int `json:"total_tasks"`
	CompletedTasks     int `json:"completed_tasks"`
	ProgressPercentage int `json:"progress_percentage"`
}

// Selection is the session cursor over the data model. The project id is
// persisted and re-derived at startup; it is not a domain entity.
type Selection struct {
	ProjectID   string `json:"project_id,omitempty"`
	MilestoneID string `json:"milestone_id,omitempty"`
}

type Event struct {
	ID         string `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
