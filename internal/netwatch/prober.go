// Package netwatch watches reachability of the report server and notifies
// subscribers when it comes back after an outage.
package netwatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/njoerd114/fieldsync/internal/events"
)

// DefaultInterval is the probe period used when none is configured.
const DefaultInterval = 15 * time.Second

// Pinger checks whether the server is reachable. Implemented by
// [api.Client].
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober polls a Pinger and publishes on every offline→online transition.
// The first probe only establishes the initial state.
type Prober struct {
	pinger   Pinger
	interval time.Duration
	log      *slog.Logger

	reconnected *events.Broadcaster
	online      atomic.Bool
	known       atomic.Bool
}

// NewProber creates a Prober. A non-positive interval uses DefaultInterval.
func NewProber(pinger Pinger, interval time.Duration, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Prober{
		pinger:      pinger,
		interval:    interval,
		log:         logger,
		reconnected: events.NewBroadcaster(),
	}
}

// Subscribe registers fn for reconnect notifications.
func (p *Prober) Subscribe(fn func()) (unsubscribe func()) {
	return p.reconnected.Subscribe(fn)
}

// Online reports the result of the most recent probe.
func (p *Prober) Online() bool {
	return p.online.Load()
}

// Run probes immediately and then every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Probe runs a single reachability check and returns the new state.
func (p *Prober) Probe(ctx context.Context) bool {
	err := p.pinger.Ping(ctx)
	if err != nil && ctx.Err() != nil {
		return p.online.Load()
	}
	up := err == nil

	wasKnown := p.known.Swap(true)
	was := p.online.Swap(up)
	switch {
	case !wasKnown:
		p.log.Debug("initial reachability", "online", up, "error", err)
	case up && !was:
		p.log.Info("server reachable again")
		p.reconnected.Publish()
	case !up && was:
		p.log.Warn("server unreachable", "error", err)
	}
	return up
}
