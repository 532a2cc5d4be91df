package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrHold parks an item as failed without spending a retry. Held items
	// wait for Release.
	ErrHold = errors.New("sync item held")

	// ErrPermanent drops an item without retry; the server rejected it.
	ErrPermanent = errors.New("sync item permanently rejected")
)

type holdError struct {
	conflictID string
}

func (e *holdError) Error() string {
	return fmt.Sprintf("sync item held for conflict %s", e.conflictID)
}

func (e *holdError) Is(target error) bool {
	return target == ErrHold
}

// Hold returns an executor error that parks the item until the conflict
// with conflictID is released.
func Hold(conflictID string) error {
	return &holdError{conflictID: conflictID}
}

// Permanent marks err as a permanent rejection.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
