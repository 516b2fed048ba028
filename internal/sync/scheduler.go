package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/njoerd114/fieldsync/internal/model"
)

// Scheduler defaults.
const (
	DefaultInterval        = 5 * time.Minute
	DefaultForegroundDelay = 2 * time.Second
	DefaultReconnectDelay  = 1 * time.Second
)

// Trigger names what caused a sync attempt.
type Trigger string

const (
	TriggerStart      Trigger = "start"
	TriggerInterval   Trigger = "interval"
	TriggerForeground Trigger = "foreground"
	TriggerReconnect  Trigger = "reconnect"
	TriggerManual     Trigger = "manual"
)

// SchedulerOptions configures a Scheduler. Zero durations use the defaults;
// nil event sources are not subscribed.
type SchedulerOptions struct {
	Interval        time.Duration
	ForegroundDelay time.Duration
	ReconnectDelay  time.Duration

	Foreground EventSource
	Reconnect  EventSource
}

// Scheduler runs a Syncer in the background. It is stopped until
// [Scheduler.Start] is called; Start and Stop are idempotent.
type Scheduler struct {
	syncer Syncer
	opts   SchedulerOptions
	log    *slog.Logger

	mu      gosync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	unsubs  []func()

	// inFlight is set while an attempt is executing; triggers that find it
	// set are dropped.
	inFlight atomic.Bool

	cntAttempts metric.Int64Counter
	cntSkipped  metric.Int64Counter
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(syncer Syncer, opts SchedulerOptions, logger *slog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ForegroundDelay <= 0 {
		opts.ForegroundDelay = DefaultForegroundDelay
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	return &Scheduler{
		syncer:      syncer,
		opts:        opts,
		log:         logger,
		cntAttempts: mustCounter(logger, metricAttempts, "Number of sync triggers received"),
		cntSkipped:  mustCounter(logger, metricSkipped, "Number of sync triggers that did not run"),
	}
}

// Start begins interval, foreground and reconnect triggers and makes an
// immediate attempt. Calling Start while running only logs a warning.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Warn("auto-sync already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	if s.opts.Foreground != nil {
		s.unsubs = append(s.unsubs, s.opts.Foreground.Subscribe(s.after(runCtx, TriggerForeground, s.opts.ForegroundDelay)))
	}
	if s.opts.Reconnect != nil {
		s.unsubs = append(s.unsubs, s.opts.Reconnect.Subscribe(s.after(runCtx, TriggerReconnect, s.opts.ReconnectDelay)))
	}

	go s.loop(runCtx, s.done)
	s.log.Info("auto-sync started", "interval", s.opts.Interval)
}

// Stop tears down all triggers. An attempt already executing runs to
// completion; one that has not yet reached the network is dropped. Calling
// Stop while stopped is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.log.Debug("auto-sync already stopped")
		return
	}
	s.running = false
	cancel, done, unsubs := s.cancel, s.done, s.unsubs
	s.cancel, s.unsubs = nil, nil
	s.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	cancel()
	<-done
	s.log.Info("auto-sync stopped")
}

// IsActive reports whether the scheduler is running.
func (s *Scheduler) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SyncNow runs the Syncer immediately, bypassing the in-flight and
// pending-count checks. Callers must not invoke it concurrently with itself.
func (s *Scheduler) SyncNow(ctx context.Context) (model.SyncStats, error) {
	s.cntAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", string(TriggerManual))))
	return s.syncer.SynchronizePending(ctx)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	go s.attempt(ctx, TriggerStart)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go s.attempt(ctx, TriggerInterval)
		}
	}
}

// after returns an event callback that attempts a sync once delay has
// passed, unless the scheduler was stopped in the meantime.
func (s *Scheduler) after(ctx context.Context, trigger Trigger, delay time.Duration) func() {
	return func() {
		s.log.Debug("sync trigger received", "trigger", trigger, "delay", delay)
		time.AfterFunc(delay, func() {
			if ctx.Err() != nil {
				return
			}
			s.attempt(ctx, trigger)
		})
	}
}

// attempt is the single funnel for background triggers. It drops the
// trigger if a run is in flight, skips the run when nothing is pending, and
// never lets an error or panic escape.
func (s *Scheduler) attempt(ctx context.Context, trigger Trigger) {
	if ctx.Err() != nil {
		s.log.Debug("scheduler stopped, trigger dropped", "trigger", trigger)
		return
	}
	s.cntAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", string(trigger))))

	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Debug("sync already in flight, trigger ignored", "trigger", trigger)
		s.skipped(ctx, "in_flight")
		return
	}
	defer s.inFlight.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sync attempt panicked", "trigger", trigger, "panic", r)
		}
	}()

	pending, err := s.syncer.PendingCount(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("checking pending reports", "trigger", trigger, "error", err)
		return
	}
	if pending == 0 {
		s.log.Debug("nothing to sync", "trigger", trigger)
		s.skipped(ctx, "empty")
		return
	}
	if ctx.Err() != nil {
		s.log.Debug("scheduler stopped before sync", "trigger", trigger)
		return
	}

	// A started batch runs over the full pending set even if the scheduler
	// is stopped meanwhile.
	stats, err := s.syncer.SynchronizePending(context.WithoutCancel(ctx))
	if err != nil {
		s.log.Error("auto-sync failed", "trigger", trigger, "error", err)
		return
	}
	s.log.Info("auto-sync finished",
		"trigger", trigger,
		"synced", stats.Synchronized,
		"pending", stats.Pending-stats.Synchronized,
	)
}

func (s *Scheduler) skipped(ctx context.Context, reason string) {
	s.cntSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
