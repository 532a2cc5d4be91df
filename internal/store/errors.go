package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTaskNotFound is returned when an operation names an unknown task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidReorderTarget is returned when a reorder would make a task
	// its own ancestor or names a missing task.
	ErrInvalidReorderTarget = errors.New("invalid reorder target")
)

// CircularDependencyError reports a dependency set that would reach back to
// the task being updated.
type CircularDependencyError struct {
	TaskID       string
	Dependencies []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: task %s cannot depend on [%s]", e.TaskID, strings.Join(e.Dependencies, ", "))
}

// IncompleteDependencyError reports an attempt to mark a task done while
// some of its dependencies are not done.
type IncompleteDependencyError struct {
	TaskID     string
	Incomplete []string
}

func (e *IncompleteDependencyError) Error() string {
	return fmt.Sprintf("task %s has incomplete dependencies: [%s]", e.TaskID, strings.Join(e.Incomplete, ", "))
}
