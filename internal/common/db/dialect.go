package db

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect identifies the SQL flavour spoken by a Database.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect normalizes a configured driver name.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql":
		return DialectMySQL, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", name)
	}
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "mysql"
}

// Builder returns a squirrel statement builder with the dialect's placeholders.
func (d Dialect) Builder() sq.StatementBuilderType {
	if d == DialectPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}
