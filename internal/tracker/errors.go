package tracker

import (
	"errors"
	"fmt"

	"github.com/zulandar/great12/internal/mapper"
)

// Precondition failures. Returned before any local or remote change.
var (
	ErrNoSession      = errors.New("tracker: not signed in")
	ErrNoActiveCycle  = errors.New("tracker: no active cycle")
	ErrWeekOutOfRange = errors.New("tracker: week must be between 1 and 12")
	ErrActionNotFound = errors.New("tracker: action not found")
	ErrGoalNotFound   = errors.New("tracker: goal not found")
	ErrNoReviews      = errors.New("tracker: week has no review entries")
	ErrEmptyTitle     = errors.New("tracker: title is required")
	ErrGoalCount      = errors.New("tracker: a cycle needs exactly 3 goals")
	ErrNoGenerator    = errors.New("tracker: feedback generator not configured")
	ErrClosed         = errors.New("tracker: store closed")
)

// MappingError reports a malformed row read from the record store.
type MappingError = mapper.MappingError

// AuthError wraps a failed authenticator call.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("tracker: %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// WriteError wraps a failed remote write.
type WriteError struct {
	Op    string
	Table string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("tracker: %s (%s): %v", e.Op, e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// FeedbackError wraps a failed feedback generation.
type FeedbackError struct {
	Week int
	Err  error
}

func (e *FeedbackError) Error() string {
	return fmt.Sprintf("tracker: feedback for week %d: %v", e.Week, e.Err)
}

func (e *FeedbackError) Unwrap() error { return e.Err }
