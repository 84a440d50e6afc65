package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hackreg/internal/theme/model"
	"hackreg/internal/theme/repository"
	pkgerrors "hackreg/pkg/errors"
	"hackreg/pkg/utils/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries           = 5
	defaultRetryInitialInterval = 20 * time.Millisecond
	defaultRetryMaxInterval     = 500 * time.Millisecond
)

// AssignmentOptions tunes theme selection.
type AssignmentOptions struct {
	// MaxRetries bounds retries of a reservation that hit a transient conflict.
	MaxRetries           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// SelectTimeout caps one SelectTheme call. Zero leaves the caller's deadline alone.
	SelectTimeout time.Duration
}

// AssignmentService moves teams between themes.
type AssignmentService struct {
	catalog     *CatalogService
	index       *ProblemStatementIndex
	ledger      repository.Ledger
	publisher   AssignmentEventPublisher
	invalidator snapshotInvalidator
	opts        AssignmentOptions
}

// NewAssignmentService creates a new AssignmentService. publisher and invalidator may be nil.
func NewAssignmentService(
	catalog *CatalogService,
	index *ProblemStatementIndex,
	ledger repository.Ledger,
	publisher AssignmentEventPublisher,
	invalidator snapshotInvalidator,
	opts AssignmentOptions,
) *AssignmentService {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = defaultRetryInitialInterval
	}
	if opts.RetryMaxInterval <= 0 {
		opts.RetryMaxInterval = defaultRetryMaxInterval
	}
	return &AssignmentService{
		catalog:     catalog,
		index:       index,
		ledger:      ledger,
		publisher:   publisher,
		invalidator: invalidator,
		opts:        opts,
	}
}

// SelectInput represents a team's theme selection. ThemeID wins over ThemeName.
type SelectInput struct {
	TeamID    int64
	ThemeID   int64
	ThemeName string
}

// AssignmentResult is the committed outcome of a selection.
type AssignmentResult struct {
	TeamID           int64
	Theme            repository.ThemeWithOccupancy
	ProblemStatement repository.ProblemStatement
	Changed          bool
	PreviousThemeID  int64
}

// AssignmentView is a team's current assignment.
type AssignmentView struct {
	TeamID           int64
	Assigned         bool
	Theme            *repository.Theme
	ProblemStatement *repository.ProblemStatement
	UpdatedAt        time.Time
}

// SelectTheme assigns the team to a theme and cascades the theme's problem
// statement in one atomic step.
func (s *AssignmentService) SelectTheme(ctx context.Context, input SelectInput) (AssignmentResult, error) {
	if input.TeamID <= 0 {
		return AssignmentResult{}, pkgerrors.ValidationError("team_id", "must be positive")
	}
	if s.opts.SelectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SelectTimeout)
		defer cancel()
	}

	theme, err := s.catalog.ResolveTheme(ctx, input.ThemeID, input.ThemeName)
	if err != nil {
		return AssignmentResult{}, err
	}

	if err := s.checkSelectionLock(ctx, input.TeamID, theme.ID); err != nil {
		return AssignmentResult{}, err
	}

	outcome, err := s.reserveWithRetry(ctx, repository.ReserveRequest{
		TeamID:               input.TeamID,
		ThemeID:              theme.ID,
		RespectSelectionLock: true,
		Resolve:              s.index.Resolve,
	})
	if err != nil {
		return AssignmentResult{}, s.mapReserveError(ctx, err, input.TeamID, theme)
	}

	result := AssignmentResult{
		TeamID: input.TeamID,
		Theme: repository.ThemeWithOccupancy{
			Theme:     outcome.Theme,
			Occupancy: outcome.Occupancy,
		},
		ProblemStatement: outcome.ProblemStatement,
		Changed:          outcome.Changed,
		PreviousThemeID:  outcome.PreviousThemeID,
	}
	if outcome.Changed {
		s.afterCommit(ctx, outcome)
	}
	return result, nil
}

// CurrentAssignment returns the team's assignment, readable regardless of the selection lock.
func (s *AssignmentService) CurrentAssignment(ctx context.Context, teamID int64) (AssignmentView, error) {
	if teamID <= 0 {
		return AssignmentView{}, pkgerrors.ValidationError("team_id", "must be positive")
	}
	assignment, err := s.ledger.Get(ctx, nil, teamID)
	if err != nil {
		if errors.Is(err, repository.ErrAssignmentNotFound) {
			return AssignmentView{TeamID: teamID}, nil
		}
		return AssignmentView{}, pkgerrors.Wrap(fmt.Errorf("get assignment failed: %w", err), pkgerrors.DatabaseError)
	}

	theme, err := s.catalog.ResolveTheme(ctx, assignment.ThemeID, "")
	if err != nil {
		return AssignmentView{}, err
	}
	view := AssignmentView{
		TeamID:    teamID,
		Assigned:  true,
		Theme:     theme,
		UpdatedAt: assignment.UpdatedAt,
	}
	if assignment.ProblemStatementID > 0 {
		statement, err := s.index.statements.GetByID(ctx, nil, assignment.ProblemStatementID)
		if err != nil && !errors.Is(err, repository.ErrProblemStatementNotFound) {
			return AssignmentView{}, pkgerrors.Wrap(fmt.Errorf("get problem statement failed: %w", err), pkgerrors.DatabaseError)
		}
		if err == nil {
			view.ProblemStatement = &statement
		}
	}
	return view, nil
}

// checkSelectionLock rejects changes while selection is frozen without
// opening a transaction. Reselecting the current theme passes through.
func (s *AssignmentService) checkSelectionLock(ctx context.Context, teamID, themeID int64) error {
	locked, err := s.index.IsSelectionLocked(ctx)
	if err != nil {
		return err
	}
	if !locked {
		return nil
	}
	current, err := s.ledger.Get(ctx, nil, teamID)
	if err == nil && current.ThemeID == themeID {
		return nil
	}
	if err != nil && !errors.Is(err, repository.ErrAssignmentNotFound) {
		return pkgerrors.Wrap(fmt.Errorf("get assignment failed: %w", err), pkgerrors.DatabaseError)
	}
	return pkgerrors.New(pkgerrors.SelectionLocked)
}

func (s *AssignmentService) reserveWithRetry(ctx context.Context, req repository.ReserveRequest) (repository.ReserveOutcome, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.RetryInitialInterval
	policy.MaxInterval = s.opts.RetryMaxInterval
	policy.MaxElapsedTime = 0

	var (
		outcome  repository.ReserveOutcome
		attempts int
	)
	operation := func() error {
		attempts++
		var err error
		outcome, err = s.ledger.Reserve(ctx, req)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug(ctx, "reserve conflict, retrying",
			zap.Int64("team_id", req.TeamID),
			zap.Int64("theme_id", req.ThemeID),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.opts.MaxRetries)), ctx),
		notify,
	)
	if err != nil {
		return repository.ReserveOutcome{}, err
	}
	return outcome, nil
}

func (s *AssignmentService) mapReserveError(ctx context.Context, err error, teamID int64, theme *repository.Theme) error {
	switch {
	case errors.Is(err, repository.ErrThemeNotFound):
		return pkgerrors.New(pkgerrors.ThemeNotFound)
	case errors.Is(err, repository.ErrThemeInactive):
		return pkgerrors.New(pkgerrors.ThemeInactive).WithDetail("theme", theme.Name)
	case errors.Is(err, repository.ErrSelectionLocked):
		return pkgerrors.New(pkgerrors.SelectionLocked)
	case errors.Is(err, repository.ErrCapacityExceeded):
		return pkgerrors.New(pkgerrors.ThemeCapacityExceeded).
			WithDetail("theme", theme.Name).
			WithDetail("capacity", theme.Capacity)
	case errors.Is(err, repository.ErrNoProblemStatement):
		return pkgerrors.New(pkgerrors.CascadeFailed).WithDetail("theme", theme.Name)
	case errors.Is(err, repository.ErrConflict):
		logger.Warn(ctx, "reserve conflict retries exhausted",
			zap.Int64("team_id", teamID), zap.Int64("theme_id", theme.ID), zap.Error(err))
		return pkgerrors.Wrap(err, pkgerrors.TransientConflict)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return pkgerrors.Wrap(fmt.Errorf("select theme aborted: %w", err), pkgerrors.Timeout)
	default:
		return pkgerrors.Wrap(fmt.Errorf("reserve theme failed: %w", err), pkgerrors.AssignmentFailed)
	}
}

func (s *AssignmentService) afterCommit(ctx context.Context, outcome repository.ReserveOutcome) {
	logger.Info(ctx, "theme assigned",
		zap.Int64("team_id", outcome.Assignment.TeamID),
		zap.Int64("theme_id", outcome.Theme.ID),
		zap.Int64("previous_theme_id", outcome.PreviousThemeID),
		zap.Int64("problem_statement_id", outcome.ProblemStatement.ID),
		zap.Int("occupancy", outcome.Occupancy),
	)
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx)
	}
	if s.publisher == nil {
		return
	}
	event := model.AssignmentEvent{
		EventType:          model.AssignmentEventAssigned,
		TeamID:             outcome.Assignment.TeamID,
		ToThemeID:          outcome.Theme.ID,
		ToThemeName:        outcome.Theme.Name,
		ProblemStatementID: outcome.ProblemStatement.ID,
		OccurredAt:         outcome.Assignment.UpdatedAt,
	}
	if outcome.PreviousThemeID > 0 {
		from := outcome.PreviousThemeID
		event.EventType = model.AssignmentEventSwitched
		event.FromThemeID = &from
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := s.publisher.PublishAssignmentChanged(ctx, event); err != nil {
		logger.Warn(ctx, "publish assignment event failed", zap.Int64("team_id", event.TeamID), zap.Error(err))
	}
}
