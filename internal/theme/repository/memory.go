package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"hackreg/internal/common/db"
)

// MemoryStore keeps themes, problem statements, settings and assignments in
// process memory. Reservations serialize on a per-theme mutex and then on a
// per-team mutex, mirroring the row locks taken by SQLLedger.
type MemoryStore struct {
	mu              sync.RWMutex
	themes          map[int64]Theme
	statements      map[int64]ProblemStatement
	assignments     map[int64]Assignment
	selectionLocked bool
	nextThemeID     int64
	nextStatementID int64

	themeLocks sync.Map
	teamLocks  sync.Map

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		themes:      make(map[int64]Theme),
		statements:  make(map[int64]ProblemStatement),
		assignments: make(map[int64]Assignment),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Themes returns the store as a ThemeRepository.
func (s *MemoryStore) Themes() ThemeRepository { return memoryThemes{s} }

// ProblemStatements returns the store as a ProblemStatementRepository.
func (s *MemoryStore) ProblemStatements() ProblemStatementRepository { return memoryStatements{s} }

// Settings returns the store as a SettingsRepository.
func (s *MemoryStore) Settings() SettingsRepository { return memorySettings{s} }

// Ledger returns the store as a Ledger.
func (s *MemoryStore) Ledger() Ledger { return memoryLedger{s} }

func (s *MemoryStore) lockFor(locks *sync.Map, id int64) *sync.Mutex {
	mu, _ := locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *MemoryStore) occupancyLocked(themeID int64) int {
	count := 0
	for _, a := range s.assignments {
		if a.ThemeID == themeID {
			count++
		}
	}
	return count
}

type memoryThemes struct{ s *MemoryStore }

func (m memoryThemes) Create(ctx context.Context, tx db.Transaction, theme *Theme) (int64, error) {
	if theme == nil {
		return 0, errors.New("theme is nil")
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.themes {
		if strings.EqualFold(existing.Name, theme.Name) {
			return 0, ErrThemeNameExists
		}
	}
	if theme.Status == "" {
		theme.Status = ThemeStatusActive
	}
	m.s.nextThemeID++
	now := m.s.now()
	theme.ID = m.s.nextThemeID
	theme.CreatedAt = now
	theme.UpdatedAt = now
	m.s.themes[theme.ID] = *theme
	return theme.ID, nil
}

func (m memoryThemes) GetByID(ctx context.Context, tx db.Transaction, id int64) (*Theme, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	theme, ok := m.s.themes[id]
	if !ok {
		return nil, ErrThemeNotFound
	}
	return &theme, nil
}

func (m memoryThemes) GetByName(ctx context.Context, tx db.Transaction, name string) (*Theme, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, theme := range m.s.themes {
		if strings.EqualFold(theme.Name, name) {
			t := theme
			return &t, nil
		}
	}
	return nil, ErrThemeNotFound
}

func (m memoryThemes) GetWithOccupancy(ctx context.Context, tx db.Transaction, id int64) (ThemeWithOccupancy, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	theme, ok := m.s.themes[id]
	if !ok {
		return ThemeWithOccupancy{}, ErrThemeNotFound
	}
	return ThemeWithOccupancy{Theme: theme, Occupancy: m.s.occupancyLocked(id)}, nil
}

func (m memoryThemes) ListWithOccupancy(ctx context.Context, tx db.Transaction) ([]ThemeWithOccupancy, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	counts := make(map[int64]int, len(m.s.themes))
	for _, a := range m.s.assignments {
		counts[a.ThemeID]++
	}
	themes := make([]ThemeWithOccupancy, 0, len(m.s.themes))
	for _, theme := range m.s.themes {
		themes = append(themes, ThemeWithOccupancy{Theme: theme, Occupancy: counts[theme.ID]})
	}
	sort.Slice(themes, func(i, j int) bool { return themes[i].ID < themes[j].ID })
	return themes, nil
}

func (m memoryThemes) UpdateStatus(ctx context.Context, tx db.Transaction, id int64, status ThemeStatus) error {
	if !status.Valid() {
		return errors.New("invalid theme status")
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	theme, ok := m.s.themes[id]
	if !ok {
		return ErrThemeNotFound
	}
	theme.Status = status
	theme.UpdatedAt = m.s.now()
	m.s.themes[id] = theme
	return nil
}

type memoryStatements struct{ s *MemoryStore }

func (m memoryStatements) Create(ctx context.Context, tx db.Transaction, statement *ProblemStatement) (int64, error) {
	if statement == nil {
		return 0, errors.New("problem statement is nil")
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.themes[statement.ThemeID]; !ok {
		return 0, ErrThemeNotFound
	}
	m.s.nextStatementID++
	statement.ID = m.s.nextStatementID
	statement.CreatedAt = m.s.now()
	m.s.statements[statement.ID] = *statement
	return statement.ID, nil
}

func (m memoryStatements) GetByID(ctx context.Context, tx db.Transaction, id int64) (ProblemStatement, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	statement, ok := m.s.statements[id]
	if !ok {
		return ProblemStatement{}, ErrProblemStatementNotFound
	}
	return statement, nil
}

func (m memoryStatements) ListByTheme(ctx context.Context, tx db.Transaction, themeID int64) ([]ProblemStatement, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return m.listLocked(themeID, false), nil
}

func (m memoryStatements) FirstActive(ctx context.Context, tx db.Transaction, themeID int64) (ProblemStatement, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	active := m.listLocked(themeID, true)
	if len(active) == 0 {
		return ProblemStatement{}, ErrNoProblemStatement
	}
	return active[0], nil
}

func (m memoryStatements) SetActive(ctx context.Context, tx db.Transaction, id int64, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	statement, ok := m.s.statements[id]
	if !ok {
		return ErrProblemStatementNotFound
	}
	statement.IsActive = active
	m.s.statements[id] = statement
	return nil
}

func (m memoryStatements) listLocked(themeID int64, activeOnly bool) []ProblemStatement {
	statements := make([]ProblemStatement, 0)
	for _, statement := range m.s.statements {
		if statement.ThemeID != themeID {
			continue
		}
		if activeOnly && !statement.IsActive {
			continue
		}
		statements = append(statements, statement)
	}
	sort.Slice(statements, func(i, j int) bool { return statements[i].ID < statements[j].ID })
	return statements
}

type memorySettings struct{ s *MemoryStore }

func (m memorySettings) SelectionLocked(ctx context.Context, tx db.Transaction) (bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return m.s.selectionLocked, nil
}

func (m memorySettings) SetSelectionLocked(ctx context.Context, tx db.Transaction, locked bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.selectionLocked = locked
	return nil
}

type memoryLedger struct{ s *MemoryStore }

func (m memoryLedger) Reserve(ctx context.Context, req ReserveRequest) (ReserveOutcome, error) {
	if req.Resolve == nil {
		return ReserveOutcome{}, errors.New("cascade resolver is required")
	}
	themeMu := m.s.lockFor(&m.s.themeLocks, req.ThemeID)
	themeMu.Lock()
	defer themeMu.Unlock()
	teamMu := m.s.lockFor(&m.s.teamLocks, req.TeamID)
	teamMu.Lock()
	defer teamMu.Unlock()

	if err := ctx.Err(); err != nil {
		return ReserveOutcome{}, err
	}

	m.s.mu.RLock()
	theme, ok := m.s.themes[req.ThemeID]
	current, hasCurrent := m.s.assignments[req.TeamID]
	locked := m.s.selectionLocked
	occupancy := m.s.occupancyLocked(req.ThemeID)
	var currentStatement ProblemStatement
	if hasCurrent {
		currentStatement = m.s.statements[current.ProblemStatementID]
	}
	m.s.mu.RUnlock()

	if !ok {
		return ReserveOutcome{}, ErrThemeNotFound
	}
	if hasCurrent && current.ThemeID == theme.ID {
		return ReserveOutcome{
			Assignment:       current,
			Theme:            theme,
			ProblemStatement: currentStatement,
			PreviousThemeID:  current.ThemeID,
			Changed:          false,
			Occupancy:        occupancy,
		}, nil
	}
	if theme.Status != ThemeStatusActive {
		return ReserveOutcome{}, ErrThemeInactive
	}
	if req.RespectSelectionLock && locked {
		return ReserveOutcome{}, ErrSelectionLocked
	}
	if occupancy >= theme.Capacity {
		return ReserveOutcome{}, ErrCapacityExceeded
	}

	// Nothing is written until the cascade resolves, so a failure leaves the
	// prior assignment in place.
	statement, err := req.Resolve(ctx, nil, theme.ID)
	if err != nil {
		return ReserveOutcome{}, err
	}
	if statement.ThemeID != theme.ID {
		return ReserveOutcome{}, errors.New("resolved problem statement belongs to another theme")
	}
	if err := ctx.Err(); err != nil {
		return ReserveOutcome{}, err
	}

	var previousThemeID int64
	if hasCurrent {
		previousThemeID = current.ThemeID
	}
	assignment := Assignment{
		TeamID:             req.TeamID,
		ThemeID:            theme.ID,
		ProblemStatementID: statement.ID,
		UpdatedAt:          m.s.now(),
	}
	m.s.mu.Lock()
	m.s.assignments[req.TeamID] = assignment
	m.s.mu.Unlock()

	return ReserveOutcome{
		Assignment:       assignment,
		Theme:            theme,
		ProblemStatement: statement,
		PreviousThemeID:  previousThemeID,
		Changed:          true,
		Occupancy:        occupancy + 1,
	}, nil
}

func (m memoryLedger) Release(ctx context.Context, tx db.Transaction, teamID int64) error {
	teamMu := m.s.lockFor(&m.s.teamLocks, teamID)
	teamMu.Lock()
	defer teamMu.Unlock()
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.assignments, teamID)
	return nil
}

func (m memoryLedger) Get(ctx context.Context, tx db.Transaction, teamID int64) (Assignment, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	assignment, ok := m.s.assignments[teamID]
	if !ok {
		return Assignment{}, ErrAssignmentNotFound
	}
	return assignment, nil
}

func (m memoryLedger) OccupancyOf(ctx context.Context, tx db.Transaction, themeID int64) (int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return m.s.occupancyLocked(themeID), nil
}

func (m memoryLedger) Occupancies(ctx context.Context, tx db.Transaction) (map[int64]int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	counts := make(map[int64]int)
	for _, a := range m.s.assignments {
		counts[a.ThemeID]++
	}
	return counts, nil
}
