package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hackreg/internal/common/db"
	"hackreg/internal/theme/repository"
	pkgerrors "hackreg/pkg/errors"
	"hackreg/pkg/utils/logger"

	"go.uber.org/zap"
)

// ProblemStatementIndex resolves problem statements for themes and owns the
// global selection lock.
type ProblemStatementIndex struct {
	themes      repository.ThemeRepository
	statements  repository.ProblemStatementRepository
	settings    repository.SettingsRepository
	invalidator snapshotInvalidator
}

func NewProblemStatementIndex(
	themes repository.ThemeRepository,
	statements repository.ProblemStatementRepository,
	settings repository.SettingsRepository,
	invalidator snapshotInvalidator,
) *ProblemStatementIndex {
	return &ProblemStatementIndex{
		themes:      themes,
		statements:  statements,
		settings:    settings,
		invalidator: invalidator,
	}
}

// CreateProblemStatementInput represents input for problem statement creation.
type CreateProblemStatementInput struct {
	ThemeID     int64
	Title       string
	Description string
	Inactive    bool
}

// ProblemStatementsFor lists every statement linked to a theme, ordered by id.
func (x *ProblemStatementIndex) ProblemStatementsFor(ctx context.Context, themeID int64) ([]repository.ProblemStatement, error) {
	statements, err := x.statements.ListByTheme(ctx, nil, themeID)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("list problem statements failed: %w", err), pkgerrors.DatabaseError)
	}
	return statements, nil
}

// Resolve is the cascade rule: the lowest-id active statement of the theme.
// It returns repository.ErrNoProblemStatement when the theme has none, which
// aborts the reservation it runs in.
func (x *ProblemStatementIndex) Resolve(ctx context.Context, tx db.Transaction, themeID int64) (repository.ProblemStatement, error) {
	return x.statements.FirstActive(ctx, tx, themeID)
}

// IsSelectionLocked reports the global selection lock.
func (x *ProblemStatementIndex) IsSelectionLocked(ctx context.Context) (bool, error) {
	locked, err := x.settings.SelectionLocked(ctx, nil)
	if err != nil {
		return false, pkgerrors.Wrap(fmt.Errorf("read selection lock failed: %w", err), pkgerrors.DatabaseError)
	}
	return locked, nil
}

// SetSelectionLocked freezes or unfreezes theme selection. Existing
// assignments are never touched.
func (x *ProblemStatementIndex) SetSelectionLocked(ctx context.Context, locked bool) error {
	if err := x.settings.SetSelectionLocked(ctx, nil, locked); err != nil {
		return pkgerrors.Wrap(fmt.Errorf("write selection lock failed: %w", err), pkgerrors.AdminOperationFailed)
	}
	if x.invalidator != nil {
		x.invalidator.Invalidate(ctx)
	}
	logger.Info(ctx, "selection lock updated", zap.Bool("locked", locked))
	return nil
}

// CreateProblemStatement links a new statement to an existing theme.
func (x *ProblemStatementIndex) CreateProblemStatement(ctx context.Context, input CreateProblemStatementInput) (repository.ProblemStatement, error) {
	title := strings.TrimSpace(input.Title)
	if input.ThemeID <= 0 {
		return repository.ProblemStatement{}, pkgerrors.New(pkgerrors.InvalidParams)
	}
	if title == "" {
		return repository.ProblemStatement{}, pkgerrors.ValidationError("title", "required")
	}
	if _, err := x.themes.GetByID(ctx, nil, input.ThemeID); err != nil {
		return repository.ProblemStatement{}, mapThemeError(err, "load theme failed")
	}

	statement := repository.ProblemStatement{
		ThemeID:     input.ThemeID,
		Title:       title,
		Description: input.Description,
		IsActive:    !input.Inactive,
	}
	if _, err := x.statements.Create(ctx, nil, &statement); err != nil {
		if errors.Is(err, repository.ErrThemeNotFound) {
			return repository.ProblemStatement{}, pkgerrors.New(pkgerrors.ThemeNotFound)
		}
		return repository.ProblemStatement{}, pkgerrors.Wrap(fmt.Errorf("create problem statement failed: %w", err), pkgerrors.ProblemStatementCreateFailed)
	}
	return statement, nil
}

// SetProblemStatementActive toggles whether a statement takes part in the cascade.
// Teams already linked to it keep the link.
func (x *ProblemStatementIndex) SetProblemStatementActive(ctx context.Context, id int64, active bool) error {
	if id <= 0 {
		return pkgerrors.New(pkgerrors.InvalidParams)
	}
	if err := x.statements.SetActive(ctx, nil, id, active); err != nil {
		if errors.Is(err, repository.ErrProblemStatementNotFound) {
			return pkgerrors.New(pkgerrors.ProblemStatementNotFound)
		}
		return pkgerrors.Wrap(fmt.Errorf("update problem statement failed: %w", err), pkgerrors.AdminOperationFailed)
	}
	return nil
}
