package db

import (
	"context"
	"database/sql"
)

// Database is a pooled connection to one relational store.
type Database interface {
	Querier

	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)
	Close() error
	Dialect() Dialect
}

// Transaction is an open database transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows is the result set of a query.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the result of a single-row query.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// IsolationLevel mirrors the isolation levels of database/sql.
type IsolationLevel int

const (
	IsolationDefault IsolationLevel = iota
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

// TxOptions holds transaction options.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// ConvertTxOptions maps TxOptions to database/sql options.
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	sqlOpts := &sql.TxOptions{ReadOnly: opts.ReadOnly}
	switch opts.Isolation {
	case IsolationReadCommitted:
		sqlOpts.Isolation = sql.LevelReadCommitted
	case IsolationRepeatableRead:
		sqlOpts.Isolation = sql.LevelRepeatableRead
	case IsolationSerializable:
		sqlOpts.Isolation = sql.LevelSerializable
	default:
		sqlOpts.Isolation = sql.LevelDefault
	}
	return sqlOpts
}

// Scanner is satisfied by Row and Rows.
type Scanner interface {
	Scan(dest ...interface{}) error
}
