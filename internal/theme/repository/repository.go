package repository

import (
	"context"

	"hackreg/internal/common/db"
)

// ThemeRepository reads and maintains the theme catalog.
type ThemeRepository interface {
	Create(ctx context.Context, tx db.Transaction, theme *Theme) (int64, error)
	GetByID(ctx context.Context, tx db.Transaction, id int64) (*Theme, error)
	GetByName(ctx context.Context, tx db.Transaction, name string) (*Theme, error)
	GetWithOccupancy(ctx context.Context, tx db.Transaction, id int64) (ThemeWithOccupancy, error)
	ListWithOccupancy(ctx context.Context, tx db.Transaction) ([]ThemeWithOccupancy, error)
	UpdateStatus(ctx context.Context, tx db.Transaction, id int64, status ThemeStatus) error
}

// ProblemStatementRepository reads and maintains problem statements.
type ProblemStatementRepository interface {
	Create(ctx context.Context, tx db.Transaction, statement *ProblemStatement) (int64, error)
	GetByID(ctx context.Context, tx db.Transaction, id int64) (ProblemStatement, error)
	ListByTheme(ctx context.Context, tx db.Transaction, themeID int64) ([]ProblemStatement, error)
	// FirstActive returns the lowest-id active statement of a theme or ErrNoProblemStatement.
	FirstActive(ctx context.Context, tx db.Transaction, themeID int64) (ProblemStatement, error)
	SetActive(ctx context.Context, tx db.Transaction, id int64, active bool) error
}

// SettingsRepository holds process-wide flags.
type SettingsRepository interface {
	SelectionLocked(ctx context.Context, tx db.Transaction) (bool, error)
	SetSelectionLocked(ctx context.Context, tx db.Transaction, locked bool) error
}

// CascadeResolver picks the problem statement a theme selection cascades to.
// It runs inside the reserve unit; an error aborts the whole reservation.
// tx is nil for stores without SQL transactions.
type CascadeResolver func(ctx context.Context, tx db.Transaction, themeID int64) (ProblemStatement, error)

// ReserveRequest asks the ledger to move a team onto a theme.
type ReserveRequest struct {
	TeamID               int64
	ThemeID              int64
	RespectSelectionLock bool
	Resolve              CascadeResolver
}

// ReserveOutcome describes a committed reservation.
type ReserveOutcome struct {
	Assignment       Assignment
	Theme            Theme
	ProblemStatement ProblemStatement
	// PreviousThemeID is zero when the team was unassigned.
	PreviousThemeID int64
	// Changed is false when the team already held the theme.
	Changed bool
	// Occupancy is the theme's count including this team.
	Occupancy int
}

// Ledger is the only writer of team assignments.
// Reserve is atomic: it either commits the full team→theme→statement link
// or leaves the team's prior state untouched.
//
// A team that already holds the requested theme gets a successful no-op
// (Changed false) even when that theme is now inactive, full or locked:
// the same-theme check runs before status, lock and capacity.
type Ledger interface {
	Reserve(ctx context.Context, req ReserveRequest) (ReserveOutcome, error)
	Release(ctx context.Context, tx db.Transaction, teamID int64) error
	Get(ctx context.Context, tx db.Transaction, teamID int64) (Assignment, error)
	OccupancyOf(ctx context.Context, tx db.Transaction, themeID int64) (int, error)
	Occupancies(ctx context.Context, tx db.Transaction) (map[int64]int, error)
}
