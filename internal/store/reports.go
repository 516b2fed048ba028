package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/njoerd114/fieldsync/internal/model"
)

const reportColumns = `
	local_id, server_id, synchronized, duplicate, title, description,
	report_date, client_uuid, created_at, updated_at, created_by_user_id,
	severity_id, area_id, status_id`

// ListOptions narrows a report listing.
type ListOptions struct {
	// PendingOnly restricts the listing to rows with synchronized = 0.
	PendingOnly bool
	// Limit caps the number of rows returned. Zero means no limit.
	Limit int
}

// InsertReport writes a new report row. CreatedAt and UpdatedAt default to
// the current time when zero. The report's LocalID is set from the row ID.
func (s *Store) InsertReport(ctx context.Context, r *model.Report) error {
	const q = `
		INSERT INTO reports
		    (server_id, synchronized, duplicate, title, description, report_date,
		     client_uuid, created_at, updated_at, created_by_user_id,
		     severity_id, area_id, status_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}

	var serverID any
	if r.ServerID != nil {
		serverID = *r.ServerID
	}

	res, err := s.db.ExecContext(ctx, q,
		serverID,
		boolToInt(r.Synchronized),
		boolToInt(r.Duplicate),
		r.Title,
		r.Description,
		r.ReportDate.Format(model.DateLayout),
		r.ClientUUID,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
		r.CreatedByUserID,
		r.SeverityID,
		r.AreaID,
		r.StatusID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("inserting report %q: %w", r.ClientUUID, ErrDuplicateUUID)
		}
		return fmt.Errorf("inserting report %q: %w", r.Title, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading local id for %q: %w", r.ClientUUID, err)
	}
	r.LocalID = id
	return nil
}

// GetReport returns the report with the given local ID, or ErrNotFound.
func (s *Store) GetReport(ctx context.Context, localID int64) (*model.Report, error) {
	q := `SELECT ` + reportColumns + ` FROM reports WHERE local_id = ?`
	return scanReport(s.db.QueryRowContext(ctx, q, localID))
}

// GetReportByClientUUID returns the report carrying the given idempotency
// key, or ErrNotFound.
func (s *Store) GetReportByClientUUID(ctx context.Context, clientUUID string) (*model.Report, error) {
	q := `SELECT ` + reportColumns + ` FROM reports WHERE client_uuid = ?`
	return scanReport(s.db.QueryRowContext(ctx, q, clientUUID))
}

// ListReports returns reports newest first, regardless of sync state unless
// opts.PendingOnly is set.
func (s *Store) ListReports(ctx context.Context, opts ListOptions) ([]*model.Report, error) {
	q := `SELECT ` + reportColumns + ` FROM reports`
	if opts.PendingOnly {
		q += ` WHERE synchronized = 0`
	}
	q += ` ORDER BY local_id DESC`

	var args []any
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	return s.queryReports(ctx, q, args...)
}

// PendingReports returns every unsynchronized report in ascending creation
// order.
func (s *Store) PendingReports(ctx context.Context) ([]*model.Report, error) {
	q := `SELECT ` + reportColumns + ` FROM reports WHERE synchronized = 0 ORDER BY local_id ASC`
	return s.queryReports(ctx, q)
}

// CountPending returns the number of unsynchronized reports.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE synchronized = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending reports: %w", err)
	}
	return n, nil
}

// MarkSynchronized records the server-assigned identity of a pending report,
// flips its synchronized flag, and advances updated_at. A server ID already
// present on the row is never overwritten. Returns ErrNotPending if the row
// is missing or already synchronized.
func (s *Store) MarkSynchronized(ctx context.Context, localID, serverID int64) error {
	const q = `
		UPDATE reports
		SET synchronized = 1,
		    server_id    = COALESCE(server_id, ?),
		    updated_at   = ?
		WHERE local_id = ? AND synchronized = 0`
	return s.reconcile(ctx, localID, q, serverID, formatTime(s.now()), localID)
}

// MarkDuplicate flips the synchronized flag of a pending report the server
// already knows about. The server ID is left as-is.
func (s *Store) MarkDuplicate(ctx context.Context, localID int64) error {
	const q = `
		UPDATE reports
		SET synchronized = 1,
		    duplicate    = 1,
		    updated_at   = ?
		WHERE local_id = ? AND synchronized = 0`
	return s.reconcile(ctx, localID, q, formatTime(s.now()), localID)
}

func (s *Store) reconcile(ctx context.Context, localID int64, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("reconciling report local_id=%d: %w", localID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reconciling report local_id=%d: %w", localID, err)
	}
	if n == 0 {
		return fmt.Errorf("reconciling report local_id=%d: %w", localID, ErrNotPending)
	}
	return nil
}

// LastSyncedAt returns the most recent updated_at among synchronized reports,
// or the zero time if nothing has been synchronized yet.
func (s *Store) LastSyncedAt(ctx context.Context) (time.Time, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM reports WHERE synchronized = 1`).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying last sync time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	t, err := parseTime(last.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing last sync time %q: %w", last.String, err)
	}
	return t, nil
}

func (s *Store) queryReports(ctx context.Context, q string, args ...any) ([]*model.Report, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []*model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func scanReport(s scanner) (*model.Report, error) {
	var (
		r                            model.Report
		serverID                     sql.NullInt64
		synced, dup                  int
		reportDate, created, updated string
	)

	err := s.Scan(
		&r.LocalID,
		&serverID,
		&synced,
		&dup,
		&r.Title,
		&r.Description,
		&reportDate,
		&r.ClientUUID,
		&created,
		&updated,
		&r.CreatedByUserID,
		&r.SeverityID,
		&r.AreaID,
		&r.StatusID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning report row: %w", err)
	}

	if serverID.Valid {
		id := serverID.Int64
		r.ServerID = &id
	}
	r.Synchronized = synced != 0
	r.Duplicate = dup != 0
	if r.ReportDate, err = time.Parse(model.DateLayout, reportDate); err != nil {
		return nil, fmt.Errorf("parsing report_date of report %d: %w", r.LocalID, err)
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at of report %d: %w", r.LocalID, err)
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at of report %d: %w", r.LocalID, err)
	}

	return &r, nil
}
