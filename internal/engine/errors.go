package engine

import "errors"

// Domain errors. All are raised before any mutation: an operation that
// returns one of these has left the snapshot untouched.
var (
	// ErrNotFound is returned when an id does not resolve to an entity.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed fields: an empty required
	// name or an unknown status value.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateName is returned when a create or rename collides with a
	// sibling name. Project names are unique globally, milestone names
	// within their project, task names within their milestone.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrSelfDependency is returned when a task's dependency is set to the
	// task itself.
	ErrSelfDependency = errors.New("task cannot depend on itself")

	// ErrCircularDependency is returned when assigning a dependency would
	// close a cycle in the dependency chain.
	ErrCircularDependency = errors.New("circular dependency")

	// ErrDependencyLocked is returned when a task is marked complete while
	// its dependency is still pending.
	ErrDependencyLocked = errors.New("dependency not complete")

	// ErrTaskComplete is returned when an operation would move a completed
	// task back to pending. Completion is terminal on every path.
	ErrTaskComplete = errors.New("task already complete")
)
