package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hackreg/internal/common/db"

	sq "github.com/Masterminds/squirrel"
)

// SQLLedger arbitrates theme capacity with a row lock on the theme.
//
// Every reservation for a theme locks that theme's row before counting, so
// check-and-insert is serialized per theme while disjoint themes proceed in
// parallel. The count is a live COUNT over committed assignments; there is no
// stored counter to drift.
type SQLLedger struct {
	provider   db.Provider
	settings   SettingsRepository
	statements ProblemStatementRepository
	txOptions  *db.TxOptions
}

func NewLedger(provider db.Provider, settings SettingsRepository, statements ProblemStatementRepository) *SQLLedger {
	return &SQLLedger{
		provider:   provider,
		settings:   settings,
		statements: statements,
		txOptions:  &db.TxOptions{Isolation: db.IsolationReadCommitted},
	}
}

func (l *SQLLedger) Reserve(ctx context.Context, req ReserveRequest) (ReserveOutcome, error) {
	if req.Resolve == nil {
		return ReserveOutcome{}, errors.New("cascade resolver is required")
	}
	database, err := db.CurrentDatabase(l.provider)
	if err != nil {
		return ReserveOutcome{}, err
	}

	var outcome ReserveOutcome
	err = db.WithTx(ctx, database, l.txOptions, func(tx db.Transaction) error {
		var err error
		outcome, err = l.reserveInTx(ctx, tx, database.Dialect(), req)
		return err
	})
	if err != nil {
		return ReserveOutcome{}, classifyConflict(err)
	}
	return outcome, nil
}

func (l *SQLLedger) reserveInTx(ctx context.Context, tx db.Transaction, dialect db.Dialect, req ReserveRequest) (ReserveOutcome, error) {
	builder := dialect.Builder()

	theme, err := scanTheme(db.QueryRowBuilder(ctx, tx, builder.
		Select(themeColumns...).
		From(themeTable + " t").
		Where(sq.Eq{"t.id": req.ThemeID}).
		Suffix("FOR UPDATE")))
	if err != nil {
		if db.IsNoRows(err) {
			return ReserveOutcome{}, ErrThemeNotFound
		}
		return ReserveOutcome{}, err
	}

	current, err := scanAssignment(db.QueryRowBuilder(ctx, tx, builder.
		Select(assignmentColumns...).
		From(assignmentTable).
		Where(sq.Eq{"team_id": req.TeamID}).
		Suffix("FOR UPDATE")))
	hasCurrent := true
	if err != nil {
		if !db.IsNoRows(err) {
			return ReserveOutcome{}, err
		}
		hasCurrent = false
	}

	if hasCurrent && current.ThemeID == theme.ID {
		statement, err := l.statements.GetByID(ctx, tx, current.ProblemStatementID)
		if err != nil {
			return ReserveOutcome{}, err
		}
		occupancy, err := l.OccupancyOf(ctx, tx, theme.ID)
		if err != nil {
			return ReserveOutcome{}, err
		}
		return ReserveOutcome{
			Assignment:       current,
			Theme:            *theme,
			ProblemStatement: statement,
			PreviousThemeID:  current.ThemeID,
			Changed:          false,
			Occupancy:        occupancy,
		}, nil
	}

	if theme.Status != ThemeStatusActive {
		return ReserveOutcome{}, ErrThemeInactive
	}

	if req.RespectSelectionLock {
		locked, err := l.settings.SelectionLocked(ctx, tx)
		if err != nil {
			return ReserveOutcome{}, err
		}
		if locked {
			return ReserveOutcome{}, ErrSelectionLocked
		}
	}

	occupancy, err := l.OccupancyOf(ctx, tx, theme.ID)
	if err != nil {
		return ReserveOutcome{}, err
	}
	if occupancy >= theme.Capacity {
		return ReserveOutcome{}, ErrCapacityExceeded
	}

	var previousThemeID int64
	if hasCurrent {
		previousThemeID = current.ThemeID
		if err := l.Release(ctx, tx, req.TeamID); err != nil {
			return ReserveOutcome{}, err
		}
	}

	statement, err := req.Resolve(ctx, tx, theme.ID)
	if err != nil {
		return ReserveOutcome{}, err
	}
	if statement.ThemeID != theme.ID {
		return ReserveOutcome{}, fmt.Errorf("resolved problem statement %d belongs to theme %d", statement.ID, statement.ThemeID)
	}

	now := time.Now().UTC()
	if _, err := db.ExecBuilder(ctx, tx, builder.
		Insert(assignmentTable).
		Columns("team_id", "theme_id", "problem_statement_id", "updated_at").
		Values(req.TeamID, theme.ID, statement.ID, now)); err != nil {
		return ReserveOutcome{}, err
	}

	return ReserveOutcome{
		Assignment: Assignment{
			TeamID:             req.TeamID,
			ThemeID:            theme.ID,
			ProblemStatementID: statement.ID,
			UpdatedAt:          now,
		},
		Theme:            *theme,
		ProblemStatement: statement,
		PreviousThemeID:  previousThemeID,
		Changed:          true,
		Occupancy:        occupancy + 1,
	}, nil
}

func (l *SQLLedger) Release(ctx context.Context, tx db.Transaction, teamID int64) error {
	querier, dialect, err := resolveQuerier(l.provider, tx)
	if err != nil {
		return err
	}
	_, err = db.ExecBuilder(ctx, querier, dialect.Builder().
		Delete(assignmentTable).
		Where(sq.Eq{"team_id": teamID}))
	return err
}

func (l *SQLLedger) Get(ctx context.Context, tx db.Transaction, teamID int64) (Assignment, error) {
	querier, dialect, err := resolveQuerier(l.provider, tx)
	if err != nil {
		return Assignment{}, err
	}
	assignment, err := scanAssignment(db.QueryRowBuilder(ctx, querier, dialect.Builder().
		Select(assignmentColumns...).
		From(assignmentTable).
		Where(sq.Eq{"team_id": teamID})))
	if err != nil {
		if db.IsNoRows(err) {
			return Assignment{}, ErrAssignmentNotFound
		}
		return Assignment{}, err
	}
	return assignment, nil
}

func (l *SQLLedger) OccupancyOf(ctx context.Context, tx db.Transaction, themeID int64) (int, error) {
	querier, dialect, err := resolveQuerier(l.provider, tx)
	if err != nil {
		return 0, err
	}
	var count int
	err = db.QueryRowBuilder(ctx, querier, dialect.Builder().
		Select("COUNT(*)").
		From(assignmentTable).
		Where(sq.Eq{"theme_id": themeID})).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (l *SQLLedger) Occupancies(ctx context.Context, tx db.Transaction) (map[int64]int, error) {
	querier, dialect, err := resolveQuerier(l.provider, tx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryBuilder(ctx, querier, dialect.Builder().
		Select("theme_id", "COUNT(*)").
		From(assignmentTable).
		GroupBy("theme_id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var (
			themeID int64
			count   int
		)
		if err := rows.Scan(&themeID, &count); err != nil {
			return nil, err
		}
		counts[themeID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

var assignmentColumns = []string{"team_id", "theme_id", "problem_statement_id", "updated_at"}

func scanAssignment(scanner db.Scanner) (Assignment, error) {
	var assignment Assignment
	err := scanner.Scan(
		&assignment.TeamID,
		&assignment.ThemeID,
		&assignment.ProblemStatementID,
		&assignment.UpdatedAt,
	)
	if err != nil {
		return Assignment{}, err
	}
	return assignment, nil
}

// classifyConflict maps retryable driver failures onto ErrConflict.
// A duplicate team_id means two first-time reservations for the same team
// raced past the team row lock; the loser may retry and see the winner's row.
func classifyConflict(err error) error {
	if db.IsRetryable(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if _, ok := db.UniqueViolation(err); ok {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
