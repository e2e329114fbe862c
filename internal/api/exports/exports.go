// Package exports implements the HTTP handlers for asynchronous audit
// exports. Requesting an export only queues a job; the background worker
// produces the artifact, and clients poll the job until it completes, then
// download the file while it is still within its TTL.
package exports

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jcom-dev/zmanim-audit/internal/db/models"
	"github.com/jcom-dev/zmanim-audit/internal/middleware"
	"github.com/jcom-dev/zmanim-audit/internal/telemetry"
)

// exportStore is the slice of the export repository the handlers use.
type exportStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	Get(ctx context.Context, jobID string) (*models.ExportJob, error)
}

// Handler serves the /api/v1/exports endpoints.
type Handler struct {
	jobs exportStore

	// now is swapped in tests to pin artifact expiry checks.
	now func() time.Time
}

// NewHandler creates the exports handler.
func NewHandler(jobs exportStore) *Handler {
	return &Handler{jobs: jobs, now: time.Now}
}

// RequestExportRequest queues one export. Filters use the same keys as the
// event list endpoint (event_category, actor_id, start, end, ...).
type RequestExportRequest struct {
	Format  string         `json:"format" binding:"required"`
	Filters map[string]any `json:"filters"`
}

// Request handles POST /api/v1/exports.
func (h *Handler) Request(c *gin.Context) {
	var req RequestExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format is required"})
		return
	}
	if req.Format != models.ExportFormatCSV && req.Format != models.ExportFormatJSON {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or json"})
		return
	}

	job := &models.ExportJob{
		RequestedBy: middleware.Accessor(c),
		Format:      req.Format,
		Filters:     req.Filters,
	}
	if err := h.jobs.Create(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue export"})
		return
	}

	telemetry.ExportJobsTotal.WithLabelValues(models.ExportPending).Inc()
	c.JSON(http.StatusAccepted, toJobJSON(job, h.now()))
}

// Get handles GET /api/v1/exports/:id.
func (h *Handler) Get(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load export job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "export job not found"})
		return
	}
	c.JSON(http.StatusOK, toJobJSON(job, h.now()))
}

// Download handles GET /api/v1/exports/:id/download, streaming the artifact
// of a completed, unexpired job.
func (h *Handler) Download(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load export job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "export job not found"})
		return
	}

	switch {
	case job.Status == models.ExportFailed:
		c.JSON(http.StatusConflict, gin.H{"error": "export failed", "detail": job.ErrorMessage})
	case job.Status != models.ExportCompleted || job.OutputPath == nil:
		c.JSON(http.StatusConflict, gin.H{"error": "export not finished", "status": job.Status})
	case job.Expired(h.now()):
		c.JSON(http.StatusGone, gin.H{"error": "export artifact has expired"})
	default:
		c.FileAttachment(*job.OutputPath, filepath.Base(*job.OutputPath))
	}
}

// jobJSON is the API representation of one export job.
type jobJSON struct {
	ID          string         `json:"id"`
	RequestedBy string         `json:"requested_by"`
	Format      string         `json:"format"`
	Filters     map[string]any `json:"filters,omitempty"`
	Status      string         `json:"status"`

	ErrorMessage *string `json:"error_message,omitempty"`
	OutputBytes  *int64  `json:"output_bytes,omitempty"`
	RowCount     *int    `json:"row_count,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Expired     bool       `json:"expired"`
}

func toJobJSON(job *models.ExportJob, now time.Time) jobJSON {
	return jobJSON{
		ID:           job.ID,
		RequestedBy:  job.RequestedBy,
		Format:       job.Format,
		Filters:      job.Filters,
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
		OutputBytes:  job.OutputBytes,
		RowCount:     job.RowCount,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		ExpiresAt:    job.ExpiresAt,
		Expired:      job.Expired(now),
	}
}
