package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hackreg/internal/theme/model"
	"hackreg/internal/theme/repository"
	pkgerrors "hackreg/pkg/errors"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []model.AssignmentEvent
	err    error
}

func (p *fakePublisher) PublishAssignmentChanged(ctx context.Context, event model.AssignmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *fakePublisher) snapshot() []model.AssignmentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.AssignmentEvent(nil), p.events...)
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type testEnv struct {
	store       *repository.MemoryStore
	catalog     *CatalogService
	index       *ProblemStatementIndex
	assignments *AssignmentService
	publisher   *fakePublisher
	invalidator *countingInvalidator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	publisher := &fakePublisher{}
	invalidator := &countingInvalidator{}
	catalog := NewCatalogService(store.Themes(), invalidator, 10)
	index := NewProblemStatementIndex(store.Themes(), store.ProblemStatements(), store.Settings(), invalidator)
	assignments := NewAssignmentService(catalog, index, store.Ledger(), publisher, invalidator, AssignmentOptions{
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
	})
	return &testEnv{
		store:       store,
		catalog:     catalog,
		index:       index,
		assignments: assignments,
		publisher:   publisher,
		invalidator: invalidator,
	}
}

func (e *testEnv) seedTheme(t *testing.T, name string, statements int) *repository.Theme {
	t.Helper()
	ctx := context.Background()
	theme, err := e.catalog.CreateTheme(ctx, CreateThemeInput{Name: name, ShortDescription: name + " track"})
	if err != nil {
		t.Fatalf("create theme %s: %v", name, err)
	}
	for i := 0; i < statements; i++ {
		if _, err := e.index.CreateProblemStatement(ctx, CreateProblemStatementInput{
			ThemeID: theme.ID,
			Title:   name + " challenge",
		}); err != nil {
			t.Fatalf("create statement: %v", err)
		}
	}
	return theme
}

func (e *testEnv) occupancy(t *testing.T, themeID int64) int {
	t.Helper()
	theme, err := e.catalog.GetTheme(context.Background(), themeID)
	if err != nil {
		t.Fatalf("get theme: %v", err)
	}
	return theme.Occupancy
}

func TestSelectThemeConcurrentTeamsRespectCapacity(t *testing.T) {
	env := newTestEnv(t)
	theme := env.seedTheme(t, "AI", 1)

	const teams = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for i := 1; i <= teams; i++ {
		wg.Add(1)
		go func(teamID int64) {
			defer wg.Done()
			_, err := env.assignments.SelectTheme(context.Background(), SelectInput{TeamID: teamID, ThemeName: "AI"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case pkgerrors.Is(err, pkgerrors.ThemeCapacityExceeded):
				rejected++
			default:
				t.Errorf("team %d: unexpected error %v", teamID, err)
			}
		}(int64(i))
	}
	wg.Wait()

	if success != 10 || rejected != teams-10 {
		t.Fatalf("expected 10 successes and %d rejections, got %d and %d", teams-10, success, rejected)
	}
	if got := env.occupancy(t, theme.ID); got != 10 {
		t.Fatalf("expected occupancy 10, got %d", got)
	}
	if got := len(env.publisher.snapshot()); got != 10 {
		t.Fatalf("expected 10 events, got %d", got)
	}
}

func TestSelectThemeLastSeat(t *testing.T) {
	env := newTestEnv(t)
	theme := env.seedTheme(t, "AI", 1)
	ctx := context.Background()

	for team := int64(1); team <= 9; team++ {
		if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: team, ThemeID: theme.ID}); err != nil {
			t.Fatalf("seed team %d: %v", team, err)
		}
	}

	result, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 100, ThemeName: "AI"})
	if err != nil {
		t.Fatalf("team X: %v", err)
	}
	if result.Theme.Occupancy != 10 || !result.Changed {
		t.Fatalf("unexpected result %+v", result)
	}

	_, err = env.assignments.SelectTheme(ctx, SelectInput{TeamID: 101, ThemeName: "AI"})
	if !pkgerrors.Is(err, pkgerrors.ThemeCapacityExceeded) {
		t.Fatalf("team Y: expected capacity exceeded, got %v", err)
	}
	view, err := env.assignments.CurrentAssignment(ctx, 101)
	if err != nil {
		t.Fatalf("current assignment: %v", err)
	}
	if view.Assigned {
		t.Fatalf("team Y should stay unassigned, got %+v", view)
	}
}

func TestSelectThemeWithoutProblemStatementFails(t *testing.T) {
	env := newTestEnv(t)
	ai := env.seedTheme(t, "AI", 1)
	iot := env.seedTheme(t, "IoT", 0)
	ctx := context.Background()

	if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 7, ThemeID: ai.ID}); err != nil {
		t.Fatalf("initial select: %v", err)
	}
	before := len(env.publisher.snapshot())

	_, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 7, ThemeName: "IoT"})
	if !pkgerrors.Is(err, pkgerrors.CascadeFailed) {
		t.Fatalf("expected cascade failed, got %v", err)
	}
	if got := env.occupancy(t, iot.ID); got != 0 {
		t.Fatalf("IoT occupancy changed to %d", got)
	}
	view, err := env.assignments.CurrentAssignment(ctx, 7)
	if err != nil {
		t.Fatalf("current assignment: %v", err)
	}
	if !view.Assigned || view.Theme.ID != ai.ID {
		t.Fatalf("prior assignment lost: %+v", view)
	}
	if got := len(env.publisher.snapshot()); got != before {
		t.Fatalf("failed selection published an event")
	}
}

func TestSelectThemeReselectIsNoop(t *testing.T) {
	env := newTestEnv(t)
	theme := env.seedTheme(t, "AI", 1)
	ctx := context.Background()

	first, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 1, ThemeID: theme.ID})
	if err != nil {
		t.Fatalf("first select: %v", err)
	}
	invalidations := env.invalidator.count()

	second, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 1, ThemeName: "AI"})
	if err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if second.Changed {
		t.Fatalf("reselect reported a change")
	}
	if second.ProblemStatement.ID != first.ProblemStatement.ID || second.Theme.Occupancy != 1 {
		t.Fatalf("reselect altered state: %+v", second)
	}
	if got := len(env.publisher.snapshot()); got != 1 {
		t.Fatalf("expected one event, got %d", got)
	}
	if env.invalidator.count() != invalidations {
		t.Fatalf("reselect invalidated the snapshot")
	}
}

func TestSelectThemeSwitchMovesTeam(t *testing.T) {
	env := newTestEnv(t)
	ai := env.seedTheme(t, "AI", 1)
	web := env.seedTheme(t, "Web", 2)
	ctx := context.Background()

	if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 3, ThemeID: ai.ID}); err != nil {
		t.Fatalf("select AI: %v", err)
	}
	result, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 3, ThemeID: web.ID})
	if err != nil {
		t.Fatalf("switch to Web: %v", err)
	}
	if result.PreviousThemeID != ai.ID || result.ProblemStatement.ThemeID != web.ID {
		t.Fatalf("unexpected switch result %+v", result)
	}
	if env.occupancy(t, ai.ID) != 0 || env.occupancy(t, web.ID) != 1 {
		t.Fatalf("switch left wrong occupancy")
	}

	events := env.publisher.snapshot()
	last := events[len(events)-1]
	if last.EventType != model.AssignmentEventSwitched || last.FromThemeID == nil || *last.FromThemeID != ai.ID {
		t.Fatalf("unexpected switch event %+v", last)
	}
	if events[0].EventType != model.AssignmentEventAssigned || events[0].FromThemeID != nil {
		t.Fatalf("unexpected first event %+v", events[0])
	}
}

func TestSelectThemeLockFreezesChanges(t *testing.T) {
	env := newTestEnv(t)
	ai := env.seedTheme(t, "AI", 1)
	web := env.seedTheme(t, "Web", 1)
	ctx := context.Background()

	if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 1, ThemeID: ai.ID}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := env.index.SetSelectionLocked(ctx, true); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 1, ThemeID: web.ID}); !pkgerrors.Is(err, pkgerrors.SelectionLocked) {
		t.Fatalf("switch while locked: expected SelectionLocked, got %v", err)
	}
	if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 2, ThemeID: web.ID}); !pkgerrors.Is(err, pkgerrors.SelectionLocked) {
		t.Fatalf("first select while locked: expected SelectionLocked, got %v", err)
	}
	result, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 1, ThemeID: ai.ID})
	if err != nil || result.Changed {
		t.Fatalf("reselect while locked: result %+v err %v", result, err)
	}

	view, err := env.assignments.CurrentAssignment(ctx, 1)
	if err != nil || !view.Assigned || view.Theme.ID != ai.ID || view.ProblemStatement == nil {
		t.Fatalf("assignment not readable while locked: %+v err %v", view, err)
	}

	if err := env.index.SetSelectionLocked(ctx, false); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 1, ThemeID: web.ID}); err != nil {
		t.Fatalf("switch after unlock: %v", err)
	}
}

func TestSelectThemeInactiveAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	theme := env.seedTheme(t, "Blockchain", 1)
	ctx := context.Background()

	if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 1, ThemeID: theme.ID}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := env.catalog.SetThemeStatus(ctx, theme.ID, repository.ThemeStatusInactive); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 2, ThemeID: theme.ID}); !pkgerrors.Is(err, pkgerrors.ThemeInactive) {
		t.Fatalf("expected ThemeInactive, got %v", err)
	}
	if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 1, ThemeID: theme.ID}); err != nil {
		t.Fatalf("reselect of deactivated theme should succeed: %v", err)
	}
	if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 2, ThemeName: "Quantum"}); !pkgerrors.Is(err, pkgerrors.ThemeNotFound) {
		t.Fatalf("expected ThemeNotFound, got %v", err)
	}
	if _, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 2}); !pkgerrors.Is(err, pkgerrors.InvalidParams) {
		t.Fatalf("expected InvalidParams, got %v", err)
	}
}

func TestSelectThemePublishFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	theme := env.seedTheme(t, "AI", 1)
	env.publisher.err = errors.New("broker down")

	result, err := env.assignments.SelectTheme(context.Background(), SelectInput{TeamID: 1, ThemeID: theme.ID})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !result.Changed {
		t.Fatalf("expected committed change")
	}
}

type conflictLedger struct {
	repository.Ledger
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (l *conflictLedger) Reserve(ctx context.Context, req repository.ReserveRequest) (repository.ReserveOutcome, error) {
	l.mu.Lock()
	l.calls++
	fail := l.calls <= l.conflicts
	l.mu.Unlock()
	if fail {
		return repository.ReserveOutcome{}, errors.Join(repository.ErrConflict, errors.New("deadlock found"))
	}
	return l.Ledger.Reserve(ctx, req)
}

func newConflictService(t *testing.T, conflicts int) (*AssignmentService, *conflictLedger, *repository.Theme) {
	t.Helper()
	env := newTestEnv(t)
	theme := env.seedTheme(t, "AI", 1)
	ledger := &conflictLedger{Ledger: env.store.Ledger(), conflicts: conflicts}
	svc := NewAssignmentService(env.catalog, env.index, ledger, nil, nil, AssignmentOptions{
		MaxRetries:           3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     time.Millisecond,
	})
	return svc, ledger, theme
}

func TestSelectThemeRetriesConflicts(t *testing.T) {
	svc, ledger, theme := newConflictService(t, 2)
	result, err := svc.SelectTheme(context.Background(), SelectInput{TeamID: 1, ThemeID: theme.ID})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !result.Changed || ledger.calls != 3 {
		t.Fatalf("expected success on third attempt, calls=%d", ledger.calls)
	}
}

func TestSelectThemeConflictRetriesAreBounded(t *testing.T) {
	svc, ledger, theme := newConflictService(t, 100)
	_, err := svc.SelectTheme(context.Background(), SelectInput{TeamID: 1, ThemeID: theme.ID})
	if !pkgerrors.Is(err, pkgerrors.TransientConflict) {
		t.Fatalf("expected TransientConflict, got %v", err)
	}
	if ledger.calls != 4 {
		t.Fatalf("expected 1 attempt plus 3 retries, got %d", ledger.calls)
	}
}

func TestSelectThemeHonorsCanceledContext(t *testing.T) {
	env := newTestEnv(t)
	theme := env.seedTheme(t, "AI", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.assignments.SelectTheme(ctx, SelectInput{TeamID: 1, ThemeID: theme.ID})
	if !pkgerrors.Is(err, pkgerrors.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if got := env.occupancy(t, theme.ID); got != 0 {
		t.Fatalf("canceled selection left occupancy %d", got)
	}
}

func TestCurrentAssignmentUnassigned(t *testing.T) {
	env := newTestEnv(t)
	view, err := env.assignments.CurrentAssignment(context.Background(), 42)
	if err != nil {
		t.Fatalf("current assignment: %v", err)
	}
	if view.Assigned || view.TeamID != 42 || view.Theme != nil {
		t.Fatalf("unexpected view %+v", view)
	}
	if _, err := env.assignments.CurrentAssignment(context.Background(), 0); !pkgerrors.Is(err, pkgerrors.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
