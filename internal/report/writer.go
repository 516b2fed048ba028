// Package report implements the offline write path for new field reports:
// every report is written to the local store immediately, tagged with a
// fresh client UUID, and left for the sync engine to push later.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/fieldsync/internal/model"
)

// ErrNoUser is returned when no signed-in user identity is available. It is
// a fatal precondition: nothing is written and the call should not be retried.
var ErrNoUser = errors.New("no signed-in user")

// Inserter is the subset of [store.Store] used by the Writer.
type Inserter interface {
	InsertReport(ctx context.Context, r *model.Report) error
}

// NewClientUUID returns a random (version 4) UUID used as a report's
// idempotency key.
func NewClientUUID() string {
	return uuid.NewString()
}

// Writer creates new reports in the local store.
type Writer struct {
	store Inserter
	log   *slog.Logger
	newID func() string
	now   func() time.Time
}

// NewWriter creates a Writer backed by the given store.
func NewWriter(store Inserter, logger *slog.Logger) *Writer {
	return &Writer{
		store: store,
		log:   logger,
		newID: NewClientUUID,
		now:   time.Now,
	}
}

// Create validates fields and inserts a new pending report owned by userID.
// The report date is today's local calendar date. A userID of zero or less
// yields ErrNoUser without touching the store.
func (w *Writer) Create(ctx context.Context, fields model.ReportFields, userID int64) (*model.Report, error) {
	if userID <= 0 {
		return nil, ErrNoUser
	}

	fields.Normalize()
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	now := w.now()
	r := &model.Report{
		ClientUUID:      w.newID(),
		Title:           fields.Title,
		Description:     fields.Description,
		ReportDate:      time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		AreaID:          fields.AreaID,
		SeverityID:      fields.SeverityID,
		StatusID:        fields.StatusID,
		CreatedByUserID: userID,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}

	if err := w.store.InsertReport(ctx, r); err != nil {
		return nil, fmt.Errorf("saving report locally: %w", err)
	}

	w.log.Info("report saved locally",
		"local_id", r.LocalID,
		"client_uuid", r.ClientUUID,
		"title", r.Title,
	)
	return r, nil
}
