package repository

import "errors"

var (
	ErrThemeNotFound            = errors.New("theme not found")
	ErrThemeNameExists          = errors.New("theme name already exists")
	ErrThemeInactive            = errors.New("theme is inactive")
	ErrCapacityExceeded         = errors.New("theme capacity exceeded")
	ErrSelectionLocked          = errors.New("theme selection is locked")
	ErrNoProblemStatement       = errors.New("theme has no active problem statement")
	ErrProblemStatementNotFound = errors.New("problem statement not found")
	ErrAssignmentNotFound       = errors.New("team has no assignment")

	// ErrConflict marks a transient storage conflict (deadlock, lock timeout,
	// serialization failure or a racing insert). The operation may be retried.
	ErrConflict = errors.New("assignment conflict")
)
