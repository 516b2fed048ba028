// Package sync pushes locally created reports to the remote API and keeps
// doing so in the background.
//
// The package contains two main components:
//
//   - [Engine] submits every pending report once and reconciles the local
//     row with the server's answer.
//   - [Scheduler] runs the engine on an interval and on foreground and
//     reconnect events, never more than one run at a time.
package sync

import (
	"context"

	"github.com/njoerd114/fieldsync/internal/model"
)

// ReportStore provides access to locally stored reports.
// Implemented by [store.Store].
type ReportStore interface {
	PendingReports(ctx context.Context) ([]*model.Report, error)
	CountPending(ctx context.Context) (int, error)
	MarkSynchronized(ctx context.Context, localID, serverID int64) error
	MarkDuplicate(ctx context.Context, localID int64) error
}

// ReportAPI submits reports to the server.
// Implemented by [api.Client].
type ReportAPI interface {
	CreateReport(ctx context.Context, token string, r *model.Report) (int64, error)
}

// TokenSource supplies the bearer token of the current session.
// Implemented by [session.Manager].
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// EventSource delivers notifications such as foreground transitions or
// reconnects. Implemented by [events.Broadcaster] and [netwatch.Prober].
type EventSource interface {
	Subscribe(fn func()) (unsubscribe func())
}

// Syncer is what the Scheduler drives. Implemented by [Engine].
type Syncer interface {
	SynchronizePending(ctx context.Context) (model.SyncStats, error)
	PendingCount(ctx context.Context) (int, error)
}
