package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hackreg/internal/theme/repository"
	pkgerrors "hackreg/pkg/errors"
	"hackreg/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultThemeCapacity = 10

// CatalogService serves the theme catalog with live occupancy.
type CatalogService struct {
	themes          repository.ThemeRepository
	invalidator     snapshotInvalidator
	defaultCapacity int
}

// NewCatalogService creates a CatalogService. defaultCapacity applies to themes created without one.
func NewCatalogService(themes repository.ThemeRepository, invalidator snapshotInvalidator, defaultCapacity int) *CatalogService {
	if defaultCapacity <= 0 {
		defaultCapacity = defaultThemeCapacity
	}
	return &CatalogService{themes: themes, invalidator: invalidator, defaultCapacity: defaultCapacity}
}

// CreateThemeInput represents input for theme creation.
type CreateThemeInput struct {
	Name             string
	ShortDescription string
	LongDescription  string
	Capacity         int
	Status           repository.ThemeStatus
}

// ListThemes returns every theme with its current occupancy.
func (s *CatalogService) ListThemes(ctx context.Context) ([]repository.ThemeWithOccupancy, error) {
	themes, err := s.themes.ListWithOccupancy(ctx, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("list themes failed: %w", err), pkgerrors.DatabaseError)
	}
	return themes, nil
}

// GetTheme returns one theme with its current occupancy.
func (s *CatalogService) GetTheme(ctx context.Context, id int64) (repository.ThemeWithOccupancy, error) {
	if id <= 0 {
		return repository.ThemeWithOccupancy{}, pkgerrors.New(pkgerrors.InvalidParams)
	}
	theme, err := s.themes.GetWithOccupancy(ctx, nil, id)
	if err != nil {
		return repository.ThemeWithOccupancy{}, mapThemeError(err, "get theme failed")
	}
	return theme, nil
}

// GetThemeByName returns one theme, looked up by its unique name, with its current occupancy.
func (s *CatalogService) GetThemeByName(ctx context.Context, name string) (repository.ThemeWithOccupancy, error) {
	theme, err := s.ResolveTheme(ctx, 0, name)
	if err != nil {
		return repository.ThemeWithOccupancy{}, err
	}
	return s.GetTheme(ctx, theme.ID)
}

// ResolveTheme finds a theme by id, or by name when id is zero.
func (s *CatalogService) ResolveTheme(ctx context.Context, id int64, name string) (*repository.Theme, error) {
	var (
		theme *repository.Theme
		err   error
	)
	switch {
	case id > 0:
		theme, err = s.themes.GetByID(ctx, nil, id)
	case strings.TrimSpace(name) != "":
		theme, err = s.themes.GetByName(ctx, nil, strings.TrimSpace(name))
	default:
		return nil, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("theme_id or theme_name is required")
	}
	if err != nil {
		return nil, mapThemeError(err, "resolve theme failed")
	}
	return theme, nil
}

// CreateTheme adds a theme to the catalog.
func (s *CatalogService) CreateTheme(ctx context.Context, input CreateThemeInput) (*repository.Theme, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.ValidationError("name", "required")
	}
	if input.Capacity < 0 {
		return nil, pkgerrors.ValidationError("capacity", "must not be negative")
	}
	capacity := input.Capacity
	if capacity == 0 {
		capacity = s.defaultCapacity
	}
	status := input.Status
	if status == "" {
		status = repository.ThemeStatusActive
	}
	if !status.Valid() {
		return nil, pkgerrors.ValidationError("status", "must be active or inactive")
	}

	theme := &repository.Theme{
		Name:             name,
		ShortDescription: input.ShortDescription,
		LongDescription:  input.LongDescription,
		Status:           status,
		Capacity:         capacity,
	}
	if _, err := s.themes.Create(ctx, nil, theme); err != nil {
		if errors.Is(err, repository.ErrThemeNameExists) {
			return nil, pkgerrors.New(pkgerrors.ThemeNameExists).WithDetail("name", name)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("create theme failed: %w", err), pkgerrors.ThemeCreateFailed)
	}
	s.invalidate(ctx)
	logger.Info(ctx, "theme created", zap.Int64("theme_id", theme.ID), zap.String("name", theme.Name), zap.Int("capacity", theme.Capacity))
	return theme, nil
}

// SetThemeStatus flips a theme between active and inactive.
// Existing assignments are kept either way.
func (s *CatalogService) SetThemeStatus(ctx context.Context, id int64, status repository.ThemeStatus) error {
	if id <= 0 {
		return pkgerrors.New(pkgerrors.InvalidParams)
	}
	if !status.Valid() {
		return pkgerrors.ValidationError("status", "must be active or inactive")
	}
	if err := s.themes.UpdateStatus(ctx, nil, id, status); err != nil {
		if errors.Is(err, repository.ErrThemeNotFound) {
			return pkgerrors.New(pkgerrors.ThemeNotFound)
		}
		return pkgerrors.Wrap(fmt.Errorf("update theme status failed: %w", err), pkgerrors.ThemeUpdateFailed)
	}
	s.invalidate(ctx)
	logger.Info(ctx, "theme status updated", zap.Int64("theme_id", id), zap.String("status", string(status)))
	return nil
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx)
	}
}

func mapThemeError(err error, op string) error {
	if errors.Is(err, repository.ErrThemeNotFound) {
		return pkgerrors.New(pkgerrors.ThemeNotFound)
	}
	return pkgerrors.Wrap(fmt.Errorf("%s: %w", op, err), pkgerrors.DatabaseError)
}
