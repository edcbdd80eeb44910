package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kilupskalvis/revstore/internal/models"
)

// ErrCancelled is returned when a merge or commit is cancelled between steps.
var ErrCancelled = errors.New("cancelled")

// ConflictError carries every conflict that stopped a merge commit.
type ConflictError struct {
	Conflicts []models.Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		return "merge conflict: " + e.Conflicts[0].Message()
	}
	return fmt.Sprintf("%d merge conflicts", len(e.Conflicts))
}

// Violation is one object missing from a commit set.
type Violation struct {
	Missing models.ObjectID
	Message string
}

// IntegrityError reports a commit set that is not closed.
type IntegrityError struct {
	Violations []Violation
}

func (e *IntegrityError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return "integrity violation: " + strings.Join(msgs, "; ")
}

// MissingObjects returns the ids of the missing objects.
func (e *IntegrityError) MissingObjects() []models.ObjectID {
	ids := make([]models.ObjectID, 0, len(e.Violations))
	for _, v := range e.Violations {
		ids = append(ids, v.Missing)
	}
	return ids
}

// RetryExhaustedError is returned when every commit attempt hit contention.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("commit failed after %d attempts", e.Attempts)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
