// Package model defines the report and catalog types shared by the local
// store, the report writer, the REST client, and the sync engine.
package model

import (
	"time"
)

// DateLayout is the calendar-date format used for ReportDate, both locally
// and on the wire.
const DateLayout = "2006-01-02"

// Report is a locally stored field report. The local row is the durable
// record; ServerID and Synchronized are filled in by the sync engine once the
// remote API acknowledges the report.
type Report struct {
	// LocalID is the auto-incremented primary key of the local row. It is never
	// sent to the server.
	LocalID int64

	// ServerID is the identity assigned by the remote API. Nil until the server
	// accepts the report; never changes afterwards.
	ServerID *int64

	// ClientUUID is generated once at creation time and doubles as the
	// idempotency key across retries.
	ClientUUID string

	// Synchronized is false at creation and flips to true after a confirmed
	// server acceptance (including a confirmed duplicate).
	Synchronized bool

	// Duplicate is true when the row was marked synchronized because the
	// server reported the idempotency token as already processed.
	Duplicate bool

	Title       string
	Description string
	ReportDate  time.Time

	AreaID     int64
	SeverityID int64
	StatusID   int64

	// CreatedByUserID is the RUT of the signed-in user at creation time.
	CreatedByUserID int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pending reports whether the report still awaits server acknowledgement.
func (r *Report) Pending() bool {
	return !r.Synchronized
}

// IdempotencyKeyPrefix marks submissions that originate from this client.
const IdempotencyKeyPrefix = "mobile-"

// IdempotencyKey returns the token submitted alongside the report so the
// server can recognise a retried submission.
func (r *Report) IdempotencyKey() string {
	return IdempotencyKeyPrefix + r.ClientUUID
}

// SyncStats summarises a single synchronization run.
type SyncStats struct {
	// Pending is the number of rows that were pending when the run started.
	Pending int
	// Synchronized counts rows transitioned to synchronized in this run,
	// duplicates included.
	Synchronized int
	// Duplicates counts rows the server had already processed.
	Duplicates int
	// Failed counts rows left pending because their submission failed.
	Failed int
}
