// export_repository.go implements ExportRepository, the state machine storage
// for asynchronous export jobs. Jobs are claimed with FOR UPDATE SKIP LOCKED
// so multiple workers never process the same job twice.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jcom-dev/zmanim-audit/internal/db/models"
)

// ExportRepository handles export job database operations
type ExportRepository struct {
	db *sql.DB
}

// NewExportRepository creates a new ExportRepository
func NewExportRepository(db *sql.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

const exportColumns = `
	id, requested_by, format, filters, status, error_message,
	output_path, output_bytes, row_count,
	created_at, started_at, completed_at, expires_at`

// Create inserts a new pending job, assigning its ID and creation time.
func (r *ExportRepository) Create(ctx context.Context, job *models.ExportJob) error {
	job.ID = uuid.New().String()
	job.Status = models.ExportPending
	job.CreatedAt = time.Now().UTC()

	var filtersJSON []byte
	var err error
	if job.Filters != nil {
		filtersJSON, err = json.Marshal(job.Filters)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO audit.export_jobs (id, requested_by, format, filters, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.RequestedBy, job.Format, filtersJSON, job.Status, job.CreatedAt,
	)
	return err
}

// Get retrieves a job by ID. Returns nil when no such job exists.
func (r *ExportRepository) Get(ctx context.Context, jobID string) (*models.ExportJob, error) {
	query := `SELECT ` + exportColumns + ` FROM audit.export_jobs WHERE id = $1`
	job, err := scanExportJob(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNextPending atomically takes the oldest pending job and moves it to
// processing, returning nil when no pending job exists. SKIP LOCKED makes
// concurrent workers claim disjoint jobs instead of queuing on the same row.
func (r *ExportRepository) ClaimNextPending(ctx context.Context) (*models.ExportJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT ` + exportColumns + `
		FROM audit.export_jobs
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	job, err := scanExportJob(tx.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE audit.export_jobs SET status = 'processing', started_at = $2 WHERE id = $1`,
		job.ID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("mark job %s processing: %w", job.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job.Status = models.ExportProcessing
	job.StartedAt = &now
	return job, nil
}

// MarkCompleted finishes a job with its artifact metadata and download
// deadline.
func (r *ExportRepository) MarkCompleted(ctx context.Context, jobID, outputPath string, outputBytes int64, rowCount int, expiresAt time.Time) error {
	query := `
		UPDATE audit.export_jobs SET
			status = 'completed', output_path = $2, output_bytes = $3,
			row_count = $4, completed_at = $5, expires_at = $6
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query,
		jobID, outputPath, outputBytes, rowCount, time.Now().UTC(), expiresAt,
	)
	return err
}

// MarkFailed finishes a job with an error message.
func (r *ExportRepository) MarkFailed(ctx context.Context, jobID, errorMessage string) error {
	query := `
		UPDATE audit.export_jobs SET
			status = 'failed', error_message = $2, completed_at = $3
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, jobID, errorMessage, time.Now().UTC())
	return err
}

func scanExportJob(row rowScanner) (*models.ExportJob, error) {
	job := &models.ExportJob{}
	var filtersJSON []byte
	err := row.Scan(
		&job.ID, &job.RequestedBy, &job.Format, &filtersJSON, &job.Status, &job.ErrorMessage,
		&job.OutputPath, &job.OutputBytes, &job.RowCount,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if filtersJSON != nil {
		if err := json.Unmarshal(filtersJSON, &job.Filters); err != nil {
			return nil, err
		}
	}
	return job, nil
}
