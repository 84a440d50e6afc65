package syncclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hackreg/internal/theme/repository"
	"hackreg/internal/theme/service"
	pkgerrors "hackreg/pkg/errors"
)

type scriptedSource struct {
	mu      sync.Mutex
	results []service.PollResult
	since   []string
	err     error
}

func (s *scriptedSource) Poll(ctx context.Context, since string) (service.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = append(s.since, since)
	if s.err != nil {
		return service.PollResult{}, s.err
	}
	if len(s.results) == 0 {
		return service.PollResult{}, errors.New("no more results")
	}
	next := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return next, nil
}

func snapshot(version string, occupancy int) service.Snapshot {
	return service.Snapshot{
		Version: version,
		Themes: []service.ThemeView{{
			ID: 1, Name: "AI", Status: repository.ThemeStatusActive, Capacity: 10, Occupancy: occupancy, Available: occupancy < 10,
		}},
	}
}

func TestPollerReplacesStateWholesale(t *testing.T) {
	source := &scriptedSource{results: []service.PollResult{
		{Snapshot: snapshot("v1", 3), Changed: true, Full: true},
		{Snapshot: snapshot("v1", 3), Changed: false},
		{Snapshot: snapshot("v2", 4), Changed: true, Delta: &service.Delta{BaseVersion: "v1"}},
	}}
	var updates []string
	poller := NewPoller(source, PollerConfig{OnUpdate: func(r service.PollResult) {
		updates = append(updates, r.Snapshot.Version)
	}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := poller.PollOnce(ctx); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}

	if got := poller.Snapshot(); got.Version != "v2" || got.Themes[0].Occupancy != 4 {
		t.Fatalf("unexpected local state %+v", got)
	}
	if len(updates) != 2 || updates[0] != "v1" || updates[1] != "v2" {
		t.Fatalf("unexpected updates %v", updates)
	}
	if source.since[0] != "" || source.since[1] != "v1" || source.since[2] != "v1" {
		t.Fatalf("unexpected since values %v", source.since)
	}
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	source := &scriptedSource{err: errors.New("unreachable")}
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	poller := NewPoller(source, PollerConfig{OnError: func(err error) {
		select {
		case errs <- err:
		default:
		}
		cancel()
	}})

	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("poller did not stop")
	}
	if len(errs) != 1 {
		t.Fatalf("expected the poll error to be reported")
	}
}

func TestClampInterval(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                DefaultPollInterval,
		time.Second:      MinPollInterval,
		7 * time.Second:  7 * time.Second,
		30 * time.Second: MaxPollInterval,
	}
	for in, want := range cases {
		if got := NewPoller(nil, PollerConfig{Interval: in}).Interval(); got != want {
			t.Fatalf("interval %s: expected %s, got %s", in, want, got)
		}
	}
}

func TestClientPoll(t *testing.T) {
	var gotSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sync/themes" {
			http.NotFound(w, r)
			return
		}
		gotSince = r.URL.Query().Get("since")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"snapshot":{"version":"v2","selection_locked":true,"themes":[{"id":1,"name":"AI","status":"active","capacity":10,"occupancy":10,"available":false}]},"changed":true,"full":false,"delta":{"base_version":"v1","changed":[{"id":1,"name":"AI","status":"active","capacity":10,"occupancy":10,"available":false}],"selection_lock_changed":true}}}`))
	}))
	defer server.Close()

	result, err := New(server.URL+"/", time.Second).Poll(context.Background(), "v1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if gotSince != "v1" {
		t.Fatalf("expected since=v1, got %q", gotSince)
	}
	if result.Snapshot.Version != "v2" || !result.Snapshot.SelectionLocked || result.Delta == nil || len(result.Delta.Changed) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestClientPollError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":12300,"message":"Theme snapshot is unavailable"}`))
	}))
	defer server.Close()

	_, err := New(server.URL, time.Second).Poll(context.Background(), "")
	if !pkgerrors.Is(err, pkgerrors.SnapshotUnavailable) {
		t.Fatalf("expected SnapshotUnavailable, got %v", err)
	}
}
