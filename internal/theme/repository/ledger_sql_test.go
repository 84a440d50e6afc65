package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"hackreg/internal/common/db"

	"github.com/go-sql-driver/mysql"
)

type scriptedRow struct {
	values []interface{}
	err    error
}

func (r scriptedRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r.values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		value := reflect.ValueOf(r.values[i])
		if !value.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("scan: column %d is %s, destination is %s", i, value.Type(), target.Type())
		}
		target.Set(value)
	}
	return nil
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

// fakeLedgerDB answers the ledger's single-row queries from scripted state
// and records every write.
type fakeLedgerDB struct {
	theme      *Theme
	assignment *Assignment
	lockValue  string
	occupancy  int
	statements []ProblemStatement
	insertErr  error

	queries   []string
	execs     []string
	isolation db.IsolationLevel
	commits   int
	rollbacks int
}

func (f *fakeLedgerDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, fmt.Errorf("unexpected multi-row query: %s", query)
}

func (f *fakeLedgerDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	f.queries = append(f.queries, query)
	switch {
	case strings.Contains(query, "COUNT(*)"):
		return scriptedRow{values: []interface{}{f.occupancy}}
	case strings.Contains(query, "FROM theme"):
		if f.theme == nil {
			return scriptedRow{err: sql.ErrNoRows}
		}
		t := f.theme
		return scriptedRow{values: []interface{}{
			t.ID, t.Name, t.ShortDescription, t.LongDescription, string(t.Status), t.Capacity, t.CreatedAt, t.UpdatedAt,
		}}
	case strings.Contains(query, "FROM team_assignment"):
		if f.assignment == nil {
			return scriptedRow{err: sql.ErrNoRows}
		}
		a := f.assignment
		return scriptedRow{values: []interface{}{a.TeamID, a.ThemeID, a.ProblemStatementID, a.UpdatedAt}}
	case strings.Contains(query, "FROM app_setting"):
		if f.lockValue == "" {
			return scriptedRow{err: sql.ErrNoRows}
		}
		return scriptedRow{values: []interface{}{f.lockValue}}
	case strings.Contains(query, "FROM problem_statement"):
		firstActive := strings.Contains(query, "LIMIT")
		for _, ps := range f.statements {
			if firstActive && (!ps.IsActive || !hasArg(args, ps.ThemeID)) {
				continue
			}
			if !firstActive && !hasArg(args, ps.ID) {
				continue
			}
			return scriptedRow{values: []interface{}{ps.ID, ps.ThemeID, ps.Title, ps.Description, ps.IsActive, ps.CreatedAt}}
		}
		return scriptedRow{err: sql.ErrNoRows}
	}
	return scriptedRow{err: fmt.Errorf("unexpected query: %s", query)}
}

func hasArg(args []interface{}, want int64) bool {
	for _, arg := range args {
		if arg == want {
			return true
		}
	}
	return false
}

func (f *fakeLedgerDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.execs = append(f.execs, query)
	if strings.HasPrefix(query, "INSERT INTO team_assignment") && f.insertErr != nil {
		return nil, f.insertErr
	}
	return fakeResult{}, nil
}

func (f *fakeLedgerDB) BeginTx(ctx context.Context, opts *db.TxOptions) (db.Transaction, error) {
	if opts != nil {
		f.isolation = opts.Isolation
	}
	return &fakeLedgerTx{fakeLedgerDB: f}, nil
}

func (f *fakeLedgerDB) Close() error        { return nil }
func (f *fakeLedgerDB) Dialect() db.Dialect { return db.DialectMySQL }

func (f *fakeLedgerDB) writes(prefix string) int {
	n := 0
	for _, q := range f.execs {
		if strings.HasPrefix(q, prefix) {
			n++
		}
	}
	return n
}

type fakeLedgerTx struct {
	*fakeLedgerDB
}

func (t *fakeLedgerTx) Commit() error {
	t.commits++
	return nil
}

func (t *fakeLedgerTx) Rollback() error {
	t.rollbacks++
	return nil
}

func newFakeLedger(f *fakeLedgerDB) *SQLLedger {
	provider := db.NewStaticProvider(f)
	return NewLedger(provider, NewSettingsRepository(provider), NewProblemStatementRepository(provider))
}

func sqlFirstActive(f *fakeLedgerDB) CascadeResolver {
	statements := NewProblemStatementRepository(db.NewStaticProvider(f))
	return statements.FirstActive
}

func activeTheme(id int64, capacity int) *Theme {
	now := time.Now().UTC()
	return &Theme{ID: id, Name: "AI", Status: ThemeStatusActive, Capacity: capacity, CreatedAt: now, UpdatedAt: now}
}

func TestSQLLedgerReserveCommitsAssignment(t *testing.T) {
	f := &fakeLedgerDB{
		theme:      activeTheme(1, 10),
		lockValue:  "false",
		occupancy:  3,
		statements: []ProblemStatement{{ID: 11, ThemeID: 1, Title: "Triage", IsActive: true}},
	}
	ledger := newFakeLedger(f)

	outcome, err := ledger.Reserve(context.Background(), ReserveRequest{
		TeamID:               7,
		ThemeID:              1,
		RespectSelectionLock: true,
		Resolve:              sqlFirstActive(f),
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !outcome.Changed || outcome.Occupancy != 4 || outcome.ProblemStatement.ID != 11 || outcome.PreviousThemeID != 0 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if f.writes("INSERT INTO team_assignment") != 1 || f.writes("DELETE") != 0 {
		t.Fatalf("expected a single insert, got %v", f.execs)
	}
	if f.commits != 1 || f.rollbacks != 0 {
		t.Fatalf("expected commit, got commits=%d rollbacks=%d", f.commits, f.rollbacks)
	}
	if f.isolation != db.IsolationReadCommitted {
		t.Fatalf("expected read committed, got %v", f.isolation)
	}
	if !strings.HasSuffix(f.queries[0], "FOR UPDATE") || !strings.Contains(f.queries[0], "FROM theme") {
		t.Fatalf("theme row must be locked first, got %q", f.queries[0])
	}
}

func TestSQLLedgerReserveRejectsWithoutWrites(t *testing.T) {
	inactive := activeTheme(1, 10)
	inactive.Status = ThemeStatusInactive
	cases := []struct {
		name string
		db   *fakeLedgerDB
		want error
	}{
		{"unknown theme", &fakeLedgerDB{}, ErrThemeNotFound},
		{"inactive theme", &fakeLedgerDB{theme: inactive}, ErrThemeInactive},
		{"selection locked", &fakeLedgerDB{theme: activeTheme(1, 10), lockValue: "true"}, ErrSelectionLocked},
		{"theme full", &fakeLedgerDB{theme: activeTheme(1, 10), lockValue: "false", occupancy: 10}, ErrCapacityExceeded},
		{"switch into a full theme", &fakeLedgerDB{
			theme:      activeTheme(1, 10),
			assignment: &Assignment{TeamID: 7, ThemeID: 2, ProblemStatementID: 21},
			occupancy:  10,
		}, ErrCapacityExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.db.statements = []ProblemStatement{{ID: 11, ThemeID: 1, IsActive: true}}
			_, err := newFakeLedger(tc.db).Reserve(context.Background(), ReserveRequest{
				TeamID:               7,
				ThemeID:              1,
				RespectSelectionLock: true,
				Resolve:              sqlFirstActive(tc.db),
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(tc.db.execs) != 0 {
				t.Fatalf("rejected reservation must not write, got %v", tc.db.execs)
			}
			if tc.db.commits != 0 || tc.db.rollbacks != 1 {
				t.Fatalf("expected rollback, got commits=%d rollbacks=%d", tc.db.commits, tc.db.rollbacks)
			}
		})
	}
}

func TestSQLLedgerReserveIgnoresLockWhenNotRespected(t *testing.T) {
	f := &fakeLedgerDB{
		theme:      activeTheme(1, 10),
		lockValue:  "true",
		statements: []ProblemStatement{{ID: 11, ThemeID: 1, IsActive: true}},
	}
	if _, err := newFakeLedger(f).Reserve(context.Background(), ReserveRequest{
		TeamID:  7,
		ThemeID: 1,
		Resolve: sqlFirstActive(f),
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if f.writes("INSERT INTO team_assignment") != 1 {
		t.Fatalf("expected insert, got %v", f.execs)
	}
}

func TestSQLLedgerReserveSameThemeIsNoop(t *testing.T) {
	full := activeTheme(1, 10)
	full.Status = ThemeStatusInactive
	f := &fakeLedgerDB{
		theme:      full,
		assignment: &Assignment{TeamID: 7, ThemeID: 1, ProblemStatementID: 11},
		lockValue:  "true",
		occupancy:  10,
		statements: []ProblemStatement{{ID: 11, ThemeID: 1, IsActive: true}},
	}

	outcome, err := newFakeLedger(f).Reserve(context.Background(), ReserveRequest{
		TeamID:               7,
		ThemeID:              1,
		RespectSelectionLock: true,
		Resolve:              sqlFirstActive(f),
	})
	if err != nil {
		t.Fatalf("reselect on a full, inactive, locked theme: %v", err)
	}
	if outcome.Changed || outcome.PreviousThemeID != 1 || outcome.ProblemStatement.ID != 11 || outcome.Occupancy != 10 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(f.execs) != 0 {
		t.Fatalf("no-op reselect must not write, got %v", f.execs)
	}
}

func TestSQLLedgerReserveSwitchReleasesThenInserts(t *testing.T) {
	f := &fakeLedgerDB{
		theme:      activeTheme(1, 10),
		assignment: &Assignment{TeamID: 7, ThemeID: 2, ProblemStatementID: 21},
		lockValue:  "false",
		occupancy:  9,
		statements: []ProblemStatement{{ID: 11, ThemeID: 1, IsActive: true}},
	}

	outcome, err := newFakeLedger(f).Reserve(context.Background(), ReserveRequest{
		TeamID:               7,
		ThemeID:              1,
		RespectSelectionLock: true,
		Resolve:              sqlFirstActive(f),
	})
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if outcome.PreviousThemeID != 2 || !outcome.Changed || outcome.Occupancy != 10 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(f.execs) != 2 ||
		!strings.HasPrefix(f.execs[0], "DELETE FROM team_assignment") ||
		!strings.HasPrefix(f.execs[1], "INSERT INTO team_assignment") {
		t.Fatalf("expected release then insert, got %v", f.execs)
	}
	if f.commits != 1 {
		t.Fatalf("expected one commit, got %d", f.commits)
	}
}

func TestSQLLedgerReserveCascadeFailureRollsBack(t *testing.T) {
	f := &fakeLedgerDB{
		theme:      activeTheme(3, 10),
		assignment: &Assignment{TeamID: 7, ThemeID: 2, ProblemStatementID: 21},
		lockValue:  "false",
		statements: []ProblemStatement{{ID: 31, ThemeID: 3, IsActive: false}},
	}

	_, err := newFakeLedger(f).Reserve(context.Background(), ReserveRequest{
		TeamID:               7,
		ThemeID:              3,
		RespectSelectionLock: true,
		Resolve:              sqlFirstActive(f),
	})
	if !errors.Is(err, ErrNoProblemStatement) {
		t.Fatalf("expected ErrNoProblemStatement, got %v", err)
	}
	if f.writes("INSERT") != 0 {
		t.Fatalf("cascade failure must not insert, got %v", f.execs)
	}
	if f.commits != 0 || f.rollbacks != 1 {
		t.Fatalf("release must be rolled back, got commits=%d rollbacks=%d", f.commits, f.rollbacks)
	}
}

func TestSQLLedgerReserveDeadlockIsConflict(t *testing.T) {
	f := &fakeLedgerDB{
		theme:      activeTheme(1, 10),
		lockValue:  "false",
		statements: []ProblemStatement{{ID: 11, ThemeID: 1, IsActive: true}},
		insertErr:  &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"},
	}

	_, err := newFakeLedger(f).Reserve(context.Background(), ReserveRequest{
		TeamID:  7,
		ThemeID: 1,
		Resolve: sqlFirstActive(f),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if f.rollbacks != 1 || f.commits != 0 {
		t.Fatalf("expected rollback, got commits=%d rollbacks=%d", f.commits, f.rollbacks)
	}
}

func TestSQLSettingsSelectionLocked(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		locked  bool
		wantErr bool
	}{
		{"missing row", "", false, false},
		{"locked", "true", true, false},
		{"unlocked", "false", false, false},
		{"corrupt value", "maybe", false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			settings := NewSettingsRepository(db.NewStaticProvider(&fakeLedgerDB{lockValue: tc.value}))
			locked, err := settings.SelectionLocked(context.Background(), nil)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if locked != tc.locked {
				t.Fatalf("locked = %v, want %v", locked, tc.locked)
			}
		})
	}
}

func TestSQLLedgerReserveCorruptLockAborts(t *testing.T) {
	f := &fakeLedgerDB{
		theme:      activeTheme(1, 10),
		lockValue:  "maybe",
		statements: []ProblemStatement{{ID: 11, ThemeID: 1, IsActive: true}},
	}
	_, err := newFakeLedger(f).Reserve(context.Background(), ReserveRequest{
		TeamID:               7,
		ThemeID:              1,
		RespectSelectionLock: true,
		Resolve:              sqlFirstActive(f),
	})
	if err == nil || len(f.execs) != 0 {
		t.Fatalf("corrupt lock must abort without writes, err=%v execs=%v", err, f.execs)
	}
}
