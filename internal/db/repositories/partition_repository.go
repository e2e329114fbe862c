// partition_repository.go implements PartitionRepository, managing the
// monthly range partitions of audit.events. Partition DDL cannot be
// parameterized, so names and bounds are rendered from validated integers
// only.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PartitionRepository handles partition DDL and introspection for the event
// store.
type PartitionRepository struct {
	db *sql.DB
}

// NewPartitionRepository creates a new PartitionRepository
func NewPartitionRepository(db *sql.DB) *PartitionRepository {
	return &PartitionRepository{db: db}
}

// Partition describes one existing partition of audit.events.
type Partition struct {
	Name   string `json:"name"`
	Bounds string `json:"bounds"`
}

// EnsureMonthlyPartition makes sure the partition covering the given month
// exists, returning whether this call created it. Idempotent: an existing
// partition, a duplicate-table error, or an overlapping-bounds error from a
// racing scheduler are all reported as (false, nil).
func (r *PartitionRepository) EnsureMonthlyPartition(ctx context.Context, year int, month time.Month) (bool, error) {
	if year < 2000 || year > 9999 {
		return false, fmt.Errorf("partition year out of range: %d", year)
	}
	if month < time.January || month > time.December {
		return false, fmt.Errorf("partition month out of range: %d", month)
	}

	name := partitionName(year, month)

	var reg sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT to_regclass($1)`, "audit."+name).Scan(&reg)
	if err != nil {
		return false, fmt.Errorf("check partition %s: %w", name, err)
	}
	if reg.Valid {
		return false, nil
	}

	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS audit.%s PARTITION OF audit.events FOR VALUES FROM ('%s') TO ('%s')`,
		name, from.Format("2006-01-02"), to.Format("2006-01-02"),
	)
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		if isPartitionConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("create partition %s: %w", name, err)
	}
	return true, nil
}

// ListPartitions returns every partition of audit.events with its bound
// expression, default partition included.
func (r *PartitionRepository) ListPartitions(ctx context.Context) ([]Partition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.relname, pg_get_expr(c.relpartbound, c.oid)
		  FROM pg_inherits i
		  JOIN pg_class c ON c.oid = i.inhrelid
		  JOIN pg_class p ON p.oid = i.inhparent
		  JOIN pg_namespace n ON n.oid = p.relnamespace
		 WHERE n.nspname = 'audit' AND p.relname = 'events'
		 ORDER BY c.relname`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	partitions := make([]Partition, 0)
	for rows.Next() {
		var p Partition
		if err := rows.Scan(&p.Name, &p.Bounds); err != nil {
			return nil, err
		}
		partitions = append(partitions, p)
	}
	return partitions, rows.Err()
}

// partitionName renders the fixed partition naming scheme, e.g. events_y2026m06.
func partitionName(year int, month time.Month) string {
	return fmt.Sprintf("events_y%04dm%02d", year, int(month))
}

// isPartitionConflict recognizes the errors a lost creation race produces:
// 42P07 duplicate_table when the same month was created concurrently, and
// 42P17 invalid_object_definition when the proposed bounds overlap an
// existing partition.
func isPartitionConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "42P07" || pqErr.Code == "42P17"
}
