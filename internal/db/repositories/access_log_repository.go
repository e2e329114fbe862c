// access_log_repository.go implements AccessLogRepository, the append-only
// meta-audit of reads against the event store.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jcom-dev/zmanim-audit/internal/db/models"
	"github.com/jcom-dev/zmanim-audit/internal/ulid"
)

// AccessLogRepository handles meta-audit access log database operations
type AccessLogRepository struct {
	db *sql.DB
}

// NewAccessLogRepository creates a new AccessLogRepository
func NewAccessLogRepository(db *sql.DB) *AccessLogRepository {
	return &AccessLogRepository{db: db}
}

// Insert records one read against the event store, assigning the entry's ID
// and timestamp when the caller left them empty.
func (r *AccessLogRepository) Insert(ctx context.Context, entry *models.AccessLogEntry) error {
	if entry.ID == "" {
		entry.ID = ulid.New()
	}
	if entry.AccessedAt.IsZero() {
		entry.AccessedAt = time.Now().UTC()
	}

	var filtersJSON []byte
	var err error
	if entry.QueryFilters != nil {
		filtersJSON, err = json.Marshal(entry.QueryFilters)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO audit.access_log
			(id, accessed_at, accessor_id, access_type, query_filters, row_count, request_id, ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.AccessedAt, entry.AccessorID, entry.AccessType,
		filtersJSON, entry.RowCount, entry.RequestID, entry.IP,
	)
	return err
}

// ListByAccessor returns an accessor's entries since the given time, newest
// first.
func (r *AccessLogRepository) ListByAccessor(ctx context.Context, accessorID string, since time.Time, limit int) ([]*models.AccessLogEntry, error) {
	query := `
		SELECT id, accessed_at, accessor_id, access_type, query_filters, row_count, request_id, ip
		FROM audit.access_log
		WHERE accessor_id = $1 AND accessed_at >= $2
		ORDER BY accessed_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, accessorID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.AccessLogEntry, 0)
	for rows.Next() {
		entry := &models.AccessLogEntry{}
		var filtersJSON []byte
		err := rows.Scan(
			&entry.ID, &entry.AccessedAt, &entry.AccessorID, &entry.AccessType,
			&filtersJSON, &entry.RowCount, &entry.RequestID, &entry.IP,
		)
		if err != nil {
			return nil, err
		}
		if filtersJSON != nil {
			if err := json.Unmarshal(filtersJSON, &entry.QueryFilters); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
