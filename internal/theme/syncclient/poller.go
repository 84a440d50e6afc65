package syncclient

import (
	"context"
	"sync"
	"time"

	"hackreg/internal/theme/service"
	"hackreg/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	MinPollInterval     = 5 * time.Second
	MaxPollInterval     = 10 * time.Second
	DefaultPollInterval = MinPollInterval
)

// Source is what a Poller reads from. *Client implements it.
type Source interface {
	Poll(ctx context.Context, since string) (service.PollResult, error)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Interval is clamped to [MinPollInterval, MaxPollInterval].
	Interval time.Duration
	// OnUpdate is called after each poll that reports a change.
	OnUpdate func(service.PollResult)
	// OnError is called when a poll fails; the poller keeps going.
	OnError func(error)
}

// Poller keeps a local copy of the server snapshot. The local copy is
// replaced wholesale on every change and never patched from deltas, so it
// cannot drift from the server.
type Poller struct {
	source   Source
	interval time.Duration
	onUpdate func(service.PollResult)
	onError  func(error)

	mu       sync.RWMutex
	snapshot service.Snapshot
}

func NewPoller(source Source, cfg PollerConfig) *Poller {
	return &Poller{
		source:   source,
		interval: clampInterval(cfg.Interval),
		onUpdate: cfg.OnUpdate,
		onError:  cfg.OnError,
	}
}

// Interval returns the effective poll interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Snapshot returns the last snapshot received.
func (p *Poller) Snapshot() service.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// PollOnce performs a single poll and applies its result.
func (p *Poller) PollOnce(ctx context.Context) (service.PollResult, error) {
	since := p.Snapshot().Version
	result, err := p.source.Poll(ctx, since)
	if err != nil {
		return service.PollResult{}, err
	}
	if !result.Changed {
		return result, nil
	}

	p.mu.Lock()
	p.snapshot = result.Snapshot
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(result)
	}
	return result, nil
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "theme poll failed", zap.Error(err))
			if p.onError != nil {
				p.onError(err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func clampInterval(interval time.Duration) time.Duration {
	switch {
	case interval <= 0:
		return DefaultPollInterval
	case interval < MinPollInterval:
		return MinPollInterval
	case interval > MaxPollInterval:
		return MaxPollInterval
	default:
		return interval
	}
}
