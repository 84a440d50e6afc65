package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"hackreg/internal/common/cache"
	"hackreg/internal/common/db"
	"hackreg/internal/theme/repository"
	pkgerrors "hackreg/pkg/errors"
	"hackreg/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/syncx"
	"go.uber.org/zap"
)

const (
	defaultSnapshotCacheTTL = 2 * time.Second
	defaultSnapshotBaseTTL  = 10 * time.Minute

	snapshotLatestKey     = "theme:sync:latest"
	snapshotVersionPrefix = "theme:sync:snapshot:"
)

// themeLister and lockReader are the reads a snapshot is built from.
type themeLister interface {
	ListWithOccupancy(ctx context.Context, tx db.Transaction) ([]repository.ThemeWithOccupancy, error)
}

type lockReader interface {
	SelectionLocked(ctx context.Context, tx db.Transaction) (bool, error)
}

// snapshotInvalidator is notified after any committed change visible in a snapshot.
type snapshotInvalidator interface {
	Invalidate(ctx context.Context)
}

// ThemeView is the per-theme state a polling client sees.
type ThemeView struct {
	ID               int64                  `json:"id"`
	Name             string                 `json:"name"`
	ShortDescription string                 `json:"short_description"`
	Status           repository.ThemeStatus `json:"status"`
	Capacity         int                    `json:"capacity"`
	Occupancy        int                    `json:"occupancy"`
	Available        bool                   `json:"available"`
}

// Snapshot is a labeled, possibly cached view of occupancy and lock state.
type Snapshot struct {
	Version         string      `json:"version"`
	SelectionLocked bool        `json:"selection_locked"`
	Themes          []ThemeView `json:"themes"`
	GeneratedAt     time.Time   `json:"generated_at"`
	// Cached is true when the snapshot was served from cache rather than built for this call.
	Cached bool `json:"cached"`
}

// Delta lists what changed between two snapshots.
type Delta struct {
	BaseVersion          string      `json:"base_version"`
	Added                []ThemeView `json:"added,omitempty"`
	Removed              []int64     `json:"removed,omitempty"`
	Changed              []ThemeView `json:"changed,omitempty"`
	SelectionLockChanged bool        `json:"selection_lock_changed"`
}

// Empty reports whether the delta carries no change.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 && !d.SelectionLockChanged
}

// PollResult answers a poll. Snapshot is always the full current state.
type PollResult struct {
	Snapshot Snapshot `json:"snapshot"`
	// Changed is false when the caller already holds the current version.
	Changed bool `json:"changed"`
	// Full is true when no delta could be computed against the caller's version.
	Full  bool   `json:"full"`
	Delta *Delta `json:"delta,omitempty"`
}

// SyncOptions tunes snapshot caching.
type SyncOptions struct {
	// CacheTTL bounds how stale a served snapshot may be.
	CacheTTL time.Duration
	// BaseTTL is how long a version stays available as a delta base.
	BaseTTL time.Duration
}

// SyncView serves occupancy snapshots to polling clients.
type SyncView struct {
	themes   themeLister
	settings lockReader
	cache    cache.Cache
	flight   syncx.SingleFlight
	opts     SyncOptions
	now      func() time.Time
}

// NewSyncView creates a SyncView. A nil cache falls back to an in-process one.
func NewSyncView(themes themeLister, settings lockReader, cacheClient cache.Cache, opts SyncOptions) *SyncView {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultSnapshotCacheTTL
	}
	if opts.BaseTTL <= 0 {
		opts.BaseTTL = defaultSnapshotBaseTTL
	}
	if cacheClient == nil {
		cacheClient = cache.NewLocalCache(256)
	}
	return &SyncView{
		themes:   themes,
		settings: settings,
		cache:    cacheClient,
		flight:   syncx.NewSingleFlight(),
		opts:     opts,
		now:      time.Now,
	}
}

// Current returns the latest snapshot, from cache when fresh enough.
func (v *SyncView) Current(ctx context.Context) (Snapshot, error) {
	if raw, err := v.cache.Get(ctx, snapshotLatestKey); err == nil && raw != "" {
		var snapshot Snapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err == nil {
			snapshot.Cached = true
			return snapshot, nil
		}
	} else if err != nil {
		logger.Warn(ctx, "read snapshot cache failed", zap.Error(err))
	}

	value, err := v.flight.Do(snapshotLatestKey, func() (any, error) {
		return v.rebuild(ctx)
	})
	if err != nil {
		return Snapshot{}, pkgerrors.Wrap(fmt.Errorf("build theme snapshot failed: %w", err), pkgerrors.SnapshotUnavailable)
	}
	return value.(Snapshot), nil
}

// Poll compares the caller's version with the current snapshot.
func (v *SyncView) Poll(ctx context.Context, sinceVersion string) (PollResult, error) {
	current, err := v.Current(ctx)
	if err != nil {
		return PollResult{}, err
	}
	if sinceVersion == "" {
		return PollResult{Snapshot: current, Changed: true, Full: true}, nil
	}
	if sinceVersion == current.Version {
		return PollResult{Snapshot: current, Changed: false}, nil
	}

	base, ok := v.loadVersion(ctx, sinceVersion)
	if !ok {
		return PollResult{Snapshot: current, Changed: true, Full: true}, nil
	}
	delta := DiffSnapshots(base, current)
	return PollResult{Snapshot: current, Changed: true, Delta: &delta}, nil
}

// Invalidate drops the cached latest snapshot so the next read rebuilds it.
func (v *SyncView) Invalidate(ctx context.Context) {
	if err := v.cache.Del(ctx, snapshotLatestKey); err != nil {
		logger.Warn(ctx, "invalidate snapshot cache failed", zap.Error(err))
	}
}

// Build reads the ledger and returns a fresh snapshot without touching the cache.
func (v *SyncView) Build(ctx context.Context) (Snapshot, error) {
	themes, err := v.themes.ListWithOccupancy(ctx, nil)
	if err != nil {
		return Snapshot{}, err
	}
	locked, err := v.settings.SelectionLocked(ctx, nil)
	if err != nil {
		return Snapshot{}, err
	}

	views := make([]ThemeView, 0, len(themes))
	for _, theme := range themes {
		views = append(views, ThemeView{
			ID:               theme.ID,
			Name:             theme.Name,
			ShortDescription: theme.ShortDescription,
			Status:           theme.Status,
			Capacity:         theme.Capacity,
			Occupancy:        theme.Occupancy,
			Available:        theme.Available(),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	snapshot := Snapshot{
		SelectionLocked: locked,
		Themes:          views,
		GeneratedAt:     v.now().UTC(),
	}
	snapshot.Version = snapshotVersion(snapshot)
	return snapshot, nil
}

func (v *SyncView) rebuild(ctx context.Context) (Snapshot, error) {
	snapshot, err := v.Build(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return Snapshot{}, err
	}
	if err := v.cache.Set(ctx, snapshotLatestKey, payload, v.opts.CacheTTL); err != nil {
		logger.Warn(ctx, "store latest snapshot failed", zap.Error(err))
	}
	if err := v.cache.Set(ctx, snapshotVersionPrefix+snapshot.Version, payload, cache.JitterTTL(v.opts.BaseTTL)); err != nil {
		logger.Warn(ctx, "store snapshot version failed", zap.String("version", snapshot.Version), zap.Error(err))
	}
	return snapshot, nil
}

func (v *SyncView) loadVersion(ctx context.Context, version string) (Snapshot, bool) {
	raw, err := v.cache.Get(ctx, snapshotVersionPrefix+version)
	if err != nil || raw == "" {
		return Snapshot{}, false
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return Snapshot{}, false
	}
	return snapshot, true
}

// snapshotVersion hashes the observable state. Equal states on different
// instances share a version; GeneratedAt and Cached do not participate.
func snapshotVersion(snapshot Snapshot) string {
	payload, _ := json.Marshal(struct {
		SelectionLocked bool        `json:"l"`
		Themes          []ThemeView `json:"t"`
	}{snapshot.SelectionLocked, snapshot.Themes})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:12])
}

// DiffSnapshots computes the delta that turns prev into next.
func DiffSnapshots(prev, next Snapshot) Delta {
	delta := Delta{
		BaseVersion:          prev.Version,
		SelectionLockChanged: prev.SelectionLocked != next.SelectionLocked,
	}
	before := make(map[int64]ThemeView, len(prev.Themes))
	for _, theme := range prev.Themes {
		before[theme.ID] = theme
	}
	for _, theme := range next.Themes {
		old, ok := before[theme.ID]
		if !ok {
			delta.Added = append(delta.Added, theme)
			continue
		}
		delete(before, theme.ID)
		if old != theme {
			delta.Changed = append(delta.Changed, theme)
		}
	}
	for id := range before {
		delta.Removed = append(delta.Removed, id)
	}
	sort.Slice(delta.Removed, func(i, j int) bool { return delta.Removed[i] < delta.Removed[j] })
	return delta
}
