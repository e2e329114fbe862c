// export_job.go defines the ExportJob model tracking asynchronous audit
// export requests. Unlike the event store, export jobs are mutable by design:
// a worker moves each job through pending → processing → completed|failed,
// and completed artifacts expire (but are never deleted from the table).
package models

import "time"

// Export job states.
const (
	ExportPending    = "pending"
	ExportProcessing = "processing"
	ExportCompleted  = "completed"
	ExportFailed     = "failed"
)

// Export output formats, matching what the platform's admin UI consumes.
const (
	ExportFormatCSV  = "csv"
	ExportFormatJSON = "json"
)

// ExportJob is one export request and its lifecycle metadata.
type ExportJob struct {
	ID          string         `db:"id"` // UUID
	RequestedBy string         `db:"requested_by"`
	Format      string         `db:"format"`
	Filters     map[string]any `db:"-"` // marshalled to JSONB by the repository
	Status      string         `db:"status"`

	ErrorMessage *string `db:"error_message"`
	OutputPath   *string `db:"output_path"`
	OutputBytes  *int64  `db:"output_bytes"`
	RowCount     *int    `db:"row_count"`

	CreatedAt   time.Time  `db:"created_at"`
	StartedAt   *time.Time `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	ExpiresAt   *time.Time `db:"expires_at"` // artifact download deadline
}

// Expired reports whether the job's artifact is past its download deadline.
func (j *ExportJob) Expired(now time.Time) bool {
	return j.ExpiresAt != nil && now.After(*j.ExpiresAt)
}
