package repository

import (
	"context"
	"errors"

	"hackreg/internal/common/db"

	sq "github.com/Masterminds/squirrel"
)

var problemStatementColumns = []string{"id", "theme_id", "title", "description", "is_active", "created_at"}

// SQLProblemStatementRepository stores problem statements in a SQL database.
type SQLProblemStatementRepository struct {
	provider db.Provider
}

func NewProblemStatementRepository(provider db.Provider) *SQLProblemStatementRepository {
	return &SQLProblemStatementRepository{provider: provider}
}

func (r *SQLProblemStatementRepository) Create(ctx context.Context, tx db.Transaction, statement *ProblemStatement) (int64, error) {
	if statement == nil {
		return 0, errors.New("problem statement is nil")
	}
	querier, dialect, err := resolveQuerier(r.provider, tx)
	if err != nil {
		return 0, err
	}
	id, err := db.InsertReturningID(ctx, querier, dialect, dialect.Builder().
		Insert(problemStatementTable).
		Columns("theme_id", "title", "description", "is_active").
		Values(statement.ThemeID, statement.Title, statement.Description, statement.IsActive))
	if err != nil {
		return 0, err
	}
	statement.ID = id
	return id, nil
}

func (r *SQLProblemStatementRepository) GetByID(ctx context.Context, tx db.Transaction, id int64) (ProblemStatement, error) {
	querier, dialect, err := resolveQuerier(r.provider, tx)
	if err != nil {
		return ProblemStatement{}, err
	}
	row := db.QueryRowBuilder(ctx, querier, dialect.Builder().
		Select(problemStatementColumns...).
		From(problemStatementTable).
		Where(sq.Eq{"id": id}))
	statement, err := scanProblemStatement(row)
	if err != nil {
		if db.IsNoRows(err) {
			return ProblemStatement{}, ErrProblemStatementNotFound
		}
		return ProblemStatement{}, err
	}
	return statement, nil
}

func (r *SQLProblemStatementRepository) ListByTheme(ctx context.Context, tx db.Transaction, themeID int64) ([]ProblemStatement, error) {
	querier, dialect, err := resolveQuerier(r.provider, tx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryBuilder(ctx, querier, dialect.Builder().
		Select(problemStatementColumns...).
		From(problemStatementTable).
		Where(sq.Eq{"theme_id": themeID}).
		OrderBy("id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statements := make([]ProblemStatement, 0)
	for rows.Next() {
		statement, err := scanProblemStatement(rows)
		if err != nil {
			return nil, err
		}
		statements = append(statements, statement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return statements, nil
}

func (r *SQLProblemStatementRepository) FirstActive(ctx context.Context, tx db.Transaction, themeID int64) (ProblemStatement, error) {
	querier, dialect, err := resolveQuerier(r.provider, tx)
	if err != nil {
		return ProblemStatement{}, err
	}
	row := db.QueryRowBuilder(ctx, querier, dialect.Builder().
		Select(problemStatementColumns...).
		From(problemStatementTable).
		Where(sq.Eq{"theme_id": themeID, "is_active": true}).
		OrderBy("id").
		Limit(1))
	statement, err := scanProblemStatement(row)
	if err != nil {
		if db.IsNoRows(err) {
			return ProblemStatement{}, ErrNoProblemStatement
		}
		return ProblemStatement{}, err
	}
	return statement, nil
}

func (r *SQLProblemStatementRepository) SetActive(ctx context.Context, tx db.Transaction, id int64, active bool) error {
	querier, dialect, err := resolveQuerier(r.provider, tx)
	if err != nil {
		return err
	}
	result, err := db.ExecBuilder(ctx, querier, dialect.Builder().
		Update(problemStatementTable).
		Set("is_active", active).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Unchanged rows report zero on MySQL; confirm the row exists.
		if _, err := r.GetByID(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

func scanProblemStatement(scanner db.Scanner) (ProblemStatement, error) {
	var statement ProblemStatement
	err := scanner.Scan(
		&statement.ID,
		&statement.ThemeID,
		&statement.Title,
		&statement.Description,
		&statement.IsActive,
		&statement.CreatedAt,
	)
	if err != nil {
		return ProblemStatement{}, err
	}
	return statement, nil
}
