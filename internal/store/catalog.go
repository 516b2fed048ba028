package store

import (
	"context"
	"fmt"

	"github.com/njoerd114/fieldsync/internal/model"
)

// ListAreas returns the area catalog ordered by ID.
func (s *Store) ListAreas(ctx context.Context) ([]model.CatalogEntry, error) {
	return s.listCatalog(ctx, "areas")
}

// ListSeverities returns the severity catalog ordered by ID.
func (s *Store) ListSeverities(ctx context.Context) ([]model.CatalogEntry, error) {
	return s.listCatalog(ctx, "severities")
}

// ListStatuses returns the status catalog ordered by ID.
func (s *Store) ListStatuses(ctx context.Context) ([]model.CatalogEntry, error) {
	return s.listCatalog(ctx, "statuses")
}

func (s *Store) listCatalog(ctx context.Context, table string) ([]model.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.CatalogEntry
	for rows.Next() {
		var e model.CatalogEntry
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
