package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/fieldsync/internal/api"
	"github.com/njoerd114/fieldsync/internal/model"
)

const (
	otelScope        = "fieldsync/sync"
	spanSynchronize  = "sync.synchronize_pending"
	metricSynced     = "fieldsync.sync.reports.synchronized"
	metricDuplicates = "fieldsync.sync.reports.duplicates"
	metricErrors     = "fieldsync.sync.reports.errors"
	metricAttempts   = "fieldsync.sync.attempts"
	metricSkipped    = "fieldsync.sync.skipped"

	// MaxConcurrency bounds parallel submissions within one run.
	MaxConcurrency = 8
)

// ErrNoToken is returned when no session token is available. The run is
// aborted before any report is submitted.
var ErrNoToken = errors.New("no authentication token available")

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeSynced
	outcomeDuplicate
)

// Engine submits pending reports and reconciles the local rows. Create one
// with [NewEngine].
type Engine struct {
	store       ReportStore
	api         ReportAPI
	tokens      TokenSource
	concurrency int
	log         *slog.Logger

	// OTel instruments, no-op when telemetry is disabled.
	tracer        trace.Tracer
	cntSynced     metric.Int64Counter
	cntDuplicates metric.Int64Counter
	cntErrors     metric.Int64Counter
}

// NewEngine creates an Engine. A concurrency of 1 or less submits reports
// strictly one at a time in creation order.
func NewEngine(store ReportStore, remote ReportAPI, tokens TokenSource, concurrency int, logger *slog.Logger) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}
	return &Engine{
		store:       store,
		api:         remote,
		tokens:      tokens,
		concurrency: concurrency,
		log:         logger,

		tracer:        otel.Tracer(otelScope),
		cntSynced:     mustCounter(logger, metricSynced, "Number of reports acknowledged by the server"),
		cntDuplicates: mustCounter(logger, metricDuplicates, "Number of reports the server had already processed"),
		cntErrors:     mustCounter(logger, metricErrors, "Number of report submissions that failed"),
	}
}

func mustCounter(logger *slog.Logger, name, desc string) metric.Int64Counter {
	c, err := otel.Meter(otelScope).Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		logger.Error("creating OTel counter", "name", name, "error", err)
		return noop.Int64Counter{}
	}
	return c
}

// PendingCount returns the number of reports awaiting synchronization.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	n, err := e.store.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting pending reports: %w", err)
	}
	return n, nil
}

// SynchronizePending submits every pending report once. A failed submission
// leaves its row pending and does not stop the run. Only a missing token or
// an unreadable store fails the whole run.
func (e *Engine) SynchronizePending(ctx context.Context) (model.SyncStats, error) {
	ctx, span := e.tracer.Start(ctx, spanSynchronize)
	defer span.End()

	stats, err := e.synchronize(ctx)

	if stats.Synchronized > 0 {
		e.cntSynced.Add(ctx, int64(stats.Synchronized))
	}
	if stats.Duplicates > 0 {
		e.cntDuplicates.Add(ctx, int64(stats.Duplicates))
	}
	if stats.Failed > 0 {
		e.cntErrors.Add(ctx, int64(stats.Failed))
	}
	span.SetAttributes(
		attribute.Int("sync.pending", stats.Pending),
		attribute.Int("sync.synchronized", stats.Synchronized),
		attribute.Int("sync.duplicates", stats.Duplicates),
		attribute.Int("sync.failed", stats.Failed),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

func (e *Engine) synchronize(ctx context.Context) (model.SyncStats, error) {
	var stats model.SyncStats

	token, err := e.tokens.Token(ctx)
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrNoToken, err)
	}
	if token == "" {
		return stats, ErrNoToken
	}

	pending, err := e.store.PendingReports(ctx)
	if err != nil {
		return stats, fmt.Errorf("loading pending reports: %w", err)
	}
	stats.Pending = len(pending)
	if len(pending) == 0 {
		e.log.Debug("no pending reports")
		return stats, nil
	}
	e.log.Info("synchronizing pending reports", "pending", len(pending), "concurrency", e.concurrency)

	record := func(o outcome) {
		switch o {
		case outcomeSynced:
			stats.Synchronized++
		case outcomeDuplicate:
			stats.Synchronized++
			stats.Duplicates++
		default:
			stats.Failed++
		}
	}

	if e.concurrency == 1 {
		for _, r := range pending {
			record(e.push(ctx, token, r))
		}
	} else {
		var (
			mu gosync.Mutex
			g  errgroup.Group
		)
		g.SetLimit(e.concurrency)
		for _, r := range pending {
			g.Go(func() error {
				o := e.push(ctx, token, r)
				mu.Lock()
				record(o)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	e.log.Info("synchronization finished",
		"synced", stats.Synchronized,
		"duplicates", stats.Duplicates,
		"failed", stats.Failed,
	)
	return stats, nil
}

// push submits one report and reconciles its row. Errors are logged, never
// returned.
func (e *Engine) push(ctx context.Context, token string, r *model.Report) outcome {
	log := e.log.With("local_id", r.LocalID, "client_uuid", r.ClientUUID)

	serverID, err := e.api.CreateReport(ctx, token, r)
	switch {
	case err == nil:
		if err := e.store.MarkSynchronized(ctx, r.LocalID, serverID); err != nil {
			log.Error("marking report synchronized", "server_id", serverID, "error", err)
			return outcomeFailed
		}
		log.Info("report synchronized", "server_id", serverID)
		return outcomeSynced

	case errors.Is(err, api.ErrDuplicate):
		if err := e.store.MarkDuplicate(ctx, r.LocalID); err != nil {
			log.Error("marking duplicate report synchronized", "error", err)
			return outcomeFailed
		}
		log.Warn("report already on server, marked synchronized")
		return outcomeDuplicate

	default:
		log.Error("submitting report", "error", err)
		return outcomeFailed
	}
}
