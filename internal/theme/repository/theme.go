package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hackreg/internal/common/cache"
	"hackreg/internal/common/db"

	sq "github.com/Masterminds/squirrel"
)

const (
	defaultThemeMetaTTL      = 10 * time.Minute
	defaultThemeMetaEmptyTTL = time.Minute
	themeMetaKeyPrefix       = "theme:meta:"
)

var themeColumns = []string{
	"t.id", "t.name", "t.short_description", "t.long_description",
	"t.status", "t.capacity", "t.created_at", "t.updated_at",
}

// SQLThemeRepository stores themes in a SQL database.
// Theme metadata reads outside a transaction go through the cache;
// occupancy is always counted live.
type SQLThemeRepository struct {
	provider db.Provider
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewThemeRepository(provider db.Provider, cacheClient cache.Cache) *SQLThemeRepository {
	return NewThemeRepositoryWithTTL(provider, cacheClient, defaultThemeMetaTTL, defaultThemeMetaEmptyTTL)
}

func NewThemeRepositoryWithTTL(provider db.Provider, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *SQLThemeRepository {
	if ttl <= 0 {
		ttl = defaultThemeMetaTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultThemeMetaEmptyTTL
	}
	return &SQLThemeRepository{
		provider: provider,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

func (r *SQLThemeRepository) Create(ctx context.Context, tx db.Transaction, theme *Theme) (int64, error) {
	if theme == nil {
		return 0, errors.New("theme is nil")
	}
	if theme.Status == "" {
		theme.Status = ThemeStatusActive
	}
	querier, dialect, err := resolveQuerier(r.provider, tx)
	if err != nil {
		return 0, err
	}

	insert := dialect.Builder().
		Insert(themeTable).
		Columns("name", "short_description", "long_description", "status", "capacity").
		Values(theme.Name, theme.ShortDescription, theme.LongDescription, string(theme.Status), theme.Capacity)
	id, err := db.InsertReturningID(ctx, querier, dialect, insert)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return 0, ErrThemeNameExists
		}
		return 0, err
	}
	theme.ID = id
	if r.cache != nil {
		// Drop a cached miss for the new id.
		_ = r.cache.Del(ctx, themeMetaKey(id))
	}
	return id, nil
}

func (r *SQLThemeRepository) GetByID(ctx context.Context, tx db.Transaction, id int64) (*Theme, error) {
	if r.cache != nil && tx == nil {
		theme, err := cache.GetWithCached[*Theme](
			ctx,
			r.cache,
			themeMetaKey(id),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(t *Theme) bool { return t == nil },
			marshalTheme,
			unmarshalTheme,
			func(ctx context.Context) (*Theme, error) {
				theme, err := r.getFromDB(ctx, nil, sq.Eq{"t.id": id})
				if errors.Is(err, ErrThemeNotFound) {
					return nil, nil
				}
				return theme, err
			},
		)
		if err != nil {
			return nil, err
		}
		if theme == nil {
			return nil, ErrThemeNotFound
		}
		return theme, nil
	}
	return r.getFromDB(ctx, tx, sq.Eq{"t.id": id})
}

func (r *SQLThemeRepository) GetByName(ctx context.Context, tx db.Transaction, name string) (*Theme, error) {
	return r.getFromDB(ctx, tx, sq.Eq{"t.name": name})
}

func (r *SQLThemeRepository) GetWithOccupancy(ctx context.Context, tx db.Transaction, id int64) (ThemeWithOccupancy, error) {
	querier, dialect, err := resolveQuerier(r.provider, tx)
	if err != nil {
		return ThemeWithOccupancy{}, err
	}
	row := db.QueryRowBuilder(ctx, querier, occupancyQuery(dialect).Where(sq.Eq{"t.id": id}))
	theme, err := scanThemeWithOccupancy(row)
	if err != nil {
		if db.IsNoRows(err) {
			return ThemeWithOccupancy{}, ErrThemeNotFound
		}
		return ThemeWithOccupancy{}, err
	}
	return theme, nil
}

func (r *SQLThemeRepository) ListWithOccupancy(ctx context.Context, tx db.Transaction) ([]ThemeWithOccupancy, error) {
	querier, dialect, err := resolveQuerier(r.provider, tx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryBuilder(ctx, querier, occupancyQuery(dialect).OrderBy("t.id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var themes []ThemeWithOccupancy
	for rows.Next() {
		theme, err := scanThemeWithOccupancy(rows)
		if err != nil {
			return nil, err
		}
		themes = append(themes, theme)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return themes, nil
}

func (r *SQLThemeRepository) UpdateStatus(ctx context.Context, tx db.Transaction, id int64, status ThemeStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid theme status %q", status)
	}
	update := func(ctx context.Context) error {
		querier, dialect, err := resolveQuerier(r.provider, tx)
		if err != nil {
			return err
		}
		result, err := db.ExecBuilder(ctx, querier, dialect.Builder().
			Update(themeTable).
			Set("status", string(status)).
			Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
			Where(sq.Eq{"id": id}))
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// MySQL reports zero affected rows when nothing changed.
			if _, err := r.getFromDB(ctx, tx, sq.Eq{"t.id": id}); err != nil {
				return err
			}
		}
		return nil
	}
	if r.cache == nil {
		return update(ctx)
	}
	return cache.UpdateCached(ctx, r.cache, themeMetaKey(id), update)
}

func (r *SQLThemeRepository) getFromDB(ctx context.Context, tx db.Transaction, where sq.Eq) (*Theme, error) {
	querier, dialect, err := resolveQuerier(r.provider, tx)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowBuilder(ctx, querier, dialect.Builder().
		Select(themeColumns...).
		From(themeTable + " t").
		Where(where))
	theme, err := scanTheme(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrThemeNotFound
		}
		return nil, err
	}
	return theme, nil
}

func occupancyQuery(dialect db.Dialect) sq.SelectBuilder {
	columns := append(append([]string{}, themeColumns...), "COUNT(a.team_id) AS occupancy")
	return dialect.Builder().
		Select(columns...).
		From(themeTable + " t").
		LeftJoin(assignmentTable + " a ON a.theme_id = t.id").
		GroupBy(themeColumns...)
}

func scanTheme(scanner db.Scanner) (*Theme, error) {
	var (
		theme  Theme
		status string
	)
	err := scanner.Scan(
		&theme.ID,
		&theme.Name,
		&theme.ShortDescription,
		&theme.LongDescription,
		&status,
		&theme.Capacity,
		&theme.CreatedAt,
		&theme.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	theme.Status = ThemeStatus(status)
	return &theme, nil
}

func scanThemeWithOccupancy(scanner db.Scanner) (ThemeWithOccupancy, error) {
	var (
		theme  ThemeWithOccupancy
		status string
	)
	err := scanner.Scan(
		&theme.ID,
		&theme.Name,
		&theme.ShortDescription,
		&theme.LongDescription,
		&status,
		&theme.Capacity,
		&theme.CreatedAt,
		&theme.UpdatedAt,
		&theme.Occupancy,
	)
	if err != nil {
		return ThemeWithOccupancy{}, err
	}
	theme.Status = ThemeStatus(status)
	return theme, nil
}

func themeMetaKey(id int64) string {
	return themeMetaKeyPrefix + fmtInt64(id)
}

func marshalTheme(theme *Theme) string {
	payload, err := json.Marshal(theme)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalTheme(data string) (*Theme, error) {
	if data == "" {
		return nil, nil
	}
	var theme Theme
	if err := json.Unmarshal([]byte(data), &theme); err != nil {
		return nil, err
	}
	return &theme, nil
}
