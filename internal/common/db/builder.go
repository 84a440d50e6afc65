package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// QueryBuilder renders a squirrel statement and runs it as a query.
func QueryBuilder(ctx context.Context, q Querier, b sq.Sqlizer) (Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query failed: %w", err)
	}
	return q.Query(ctx, query, args...)
}

// QueryRowBuilder renders a squirrel statement and runs it as a single-row query.
func QueryRowBuilder(ctx context.Context, q Querier, b sq.Sqlizer) Row {
	query, args, err := b.ToSql()
	if err != nil {
		return errRow{err: fmt.Errorf("build query failed: %w", err)}
	}
	return q.QueryRow(ctx, query, args...)
}

// ExecBuilder renders a squirrel statement and executes it.
func ExecBuilder(ctx context.Context, q Querier, b sq.Sqlizer) (Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build statement failed: %w", err)
	}
	return q.Exec(ctx, query, args...)
}

// InsertReturningID runs an insert and returns the generated id column.
// PostgreSQL has no LastInsertId, so it reads the id through RETURNING instead.
func InsertReturningID(ctx context.Context, q Querier, dialect Dialect, b sq.InsertBuilder) (int64, error) {
	var id int64
	if dialect == DialectPostgres {
		if err := QueryRowBuilder(ctx, q, b.Suffix("RETURNING id")).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	result, err := ExecBuilder(ctx, q, b)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

type errRow struct {
	err error
}

func (r errRow) Scan(dest ...interface{}) error {
	return r.err
}
