package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Config holds the configuration for a pooled SQL connection
type Config struct {
	// Dialect selects the driver: mysql or postgres
	Dialect Dialect `yaml:"driver"`

	// DSN is the data source name in the driver's format
	// mysql:    "user:password@tcp(host:port)/dbname?parseTime=true&loc=Local"
	// postgres: "user=postgres password=password host=localhost port=5432 dbname=dbname sslmode=disable"
	DSN string `yaml:"dsn"`

	// MaxOpenConnections is the maximum number of open connections
	// Default: 25
	MaxOpenConnections int `yaml:"maxOpenConnections"`

	// MaxIdleConnections is the maximum number of idle connections
	// Default: 5
	MaxIdleConnections int `yaml:"maxIdleConnections"`

	// ConnMaxLifetime is the maximum amount of time a connection may be reused
	// Default: 5 minutes
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle
	// Default: 10 minutes
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime"`

	// PingTimeout bounds the connectivity check on open
	// Default: 5 seconds
	PingTimeout time.Duration `yaml:"pingTimeout"`
}

// DefaultConfig returns the default pool configuration for a dialect
func DefaultConfig(dialect Dialect) *Config {
	return &Config{
		Dialect:            dialect,
		MaxOpenConnections: 25,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    5 * time.Minute,
		ConnMaxIdleTime:    10 * time.Minute,
		PingTimeout:        5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig(c.Dialect)
	if c.MaxOpenConnections == 0 {
		c.MaxOpenConnections = def.MaxOpenConnections
	}
	if c.MaxIdleConnections == 0 {
		c.MaxIdleConnections = def.MaxIdleConnections
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
}

// SQLDatabase implements Database on top of database/sql
type SQLDatabase struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

// Open creates a connection pool and verifies it with a ping
func Open(config *Config) (*SQLDatabase, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}
	if config.Dialect == "" {
		config.Dialect = DialectMySQL
	}
	config.applyDefaults()

	db, err := sql.Open(config.Dialect.DriverName(), config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConnections)
	db.SetMaxIdleConns(config.MaxIdleConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLDatabase{db: db, dialect: config.Dialect}, nil
}

// Dialect returns the SQL dialect of the connection
func (d *SQLDatabase) Dialect() Dialect {
	return d.dialect
}

// Query executes a query that returns rows
func (d *SQLDatabase) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return &sqlRows{rows: rows}, nil
}

// QueryRow executes a query that returns at most one row
func (d *SQLDatabase) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return &sqlRow{row: d.db.QueryRowContext(ctx, query, args...)}
}

// Exec executes a query that doesn't return rows
func (d *SQLDatabase) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	return &sqlResult{result: result}, nil
}

// BeginTx starts a new transaction with the given options
func (d *SQLDatabase) BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error) {
	tx, err := d.db.BeginTx(ctx, ConvertTxOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("begin transaction failed: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

// Close closes the connection pool
func (d *SQLDatabase) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool {
	return r.rows.Next()
}

func (r *sqlRows) Scan(dest ...interface{}) error {
	if err := r.rows.Scan(dest...); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func (r *sqlRows) Close() error {
	if err := r.rows.Close(); err != nil {
		return fmt.Errorf("close rows failed: %w", err)
	}
	return nil
}

func (r *sqlRows) Err() error {
	return r.rows.Err()
}

type sqlRow struct {
	row *sql.Row
}

func (r *sqlRow) Scan(dest ...interface{}) error {
	if err := r.row.Scan(dest...); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

type sqlResult struct {
	result sql.Result
}

func (r *sqlResult) LastInsertId() (int64, error) {
	id, err := r.result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id failed: %w", err)
	}
	return id, nil
}

func (r *sqlResult) RowsAffected() (int64, error) {
	affected, err := r.result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected failed: %w", err)
	}
	return affected, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	return &sqlRows{rows: rows}, nil
}

func (t *sqlTx) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return &sqlRow{row: t.tx.QueryRowContext(ctx, query, args...)}
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction exec failed: %w", err)
	}
	return &sqlResult{result: result}, nil
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}
