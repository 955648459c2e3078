package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/argus-sensing/sentinel.vision/internal/monitoring"
	"github.com/argus-sensing/sentinel.vision/internal/timeutil"
)

// Pruner deletes events past the retention TTL on a fixed interval so the
// database stays bounded on long-running hosts. It owns no lifecycle beyond
// its context: cancel the context to stop it.
type Pruner struct {
	store    *EventStore
	ttl      time.Duration
	interval time.Duration
	ticker   timeutil.Ticker
}

// NewPruner creates a pruner for the store. A nil clock uses the real clock.
func NewPruner(store *EventStore, ttl, interval time.Duration, clock timeutil.Clock) (*Pruner, error) {
	if store == nil {
		return nil, fmt.Errorf("sqlite: pruner requires a store")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("sqlite: retention TTL must be positive, got %v", ttl)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sqlite: prune interval must be positive, got %v", interval)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pruner{
		store:    store,
		ttl:      ttl,
		interval: interval,
		ticker:   clock.NewTicker(interval),
	}, nil
}

// Run prunes on every tick until the context is cancelled. Prune failures are
// logged and retried on the next tick.
func (p *Pruner) Run(ctx context.Context) {
	defer p.ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.ticker.C():
			if _, err := p.store.PruneEvents(ctx, p.ttl); err != nil && ctx.Err() == nil {
				monitoring.Logf("Pruner: prune failed: %v", err)
			}
		}
	}
}
