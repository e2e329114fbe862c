// export_worker.go implements the ExportWorker background job, which drains
// the export job queue: it claims pending jobs, streams the matching events
// to a CSV or JSON artifact on disk, and advances the job through the
// processing → completed|failed state machine. Claiming uses FOR UPDATE SKIP
// LOCKED in the repository, so several workers can run side by side without
// double-processing.
package jobs

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jcom-dev/zmanim-audit/internal/config"
	"github.com/jcom-dev/zmanim-audit/internal/db/models"
	"github.com/jcom-dev/zmanim-audit/internal/db/repositories"
	"github.com/jcom-dev/zmanim-audit/internal/telemetry"
)

// exportQueue is the slice of the export repository the worker uses.
type exportQueue interface {
	ClaimNextPending(ctx context.Context) (*models.ExportJob, error)
	MarkCompleted(ctx context.Context, jobID, outputPath string, outputBytes int64, rowCount int, expiresAt time.Time) error
	MarkFailed(ctx context.Context, jobID, errorMessage string) error
}

// eventLister is the slice of the event repository the worker reads through.
type eventLister interface {
	List(ctx context.Context, filters repositories.EventFilters, limit int, cursor *repositories.Cursor) ([]*models.Event, *repositories.Cursor, error)
}

// accessLogger records the export as a meta-audit access.
type accessLogger interface {
	Insert(ctx context.Context, entry *models.AccessLogEntry) error
}

// ExportWorker polls for pending export jobs and produces their artifacts.
type ExportWorker struct {
	queue    exportQueue
	events   eventLister
	access   accessLogger
	cfg      *config.ExportConfig
	stopChan chan struct{}
}

// NewExportWorker creates a new ExportWorker.
func NewExportWorker(queue exportQueue, events eventLister, access accessLogger, cfg *config.ExportConfig) *ExportWorker {
	return &ExportWorker{
		queue:    queue,
		events:   events,
		access:   access,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop. Each tick drains every pending job, not
// just one, so a burst of requests does not wait one poll interval per job.
// The loop exits when ctx is cancelled or Stop() is called.
func (w *ExportWorker) Start(ctx context.Context) {
	if err := os.MkdirAll(w.cfg.OutputDir, 0o755); err != nil {
		slog.Error("export worker: cannot create output directory",
			"dir", w.cfg.OutputDir, "error", err)
		return
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("export worker started",
		"poll_interval", w.cfg.PollInterval, "output_dir", w.cfg.OutputDir)

	for {
		select {
		case <-ticker.C:
			w.drain(ctx)
			w.cleanupExpired()
		case <-w.stopChan:
			slog.Info("export worker stopped")
			return
		case <-ctx.Done():
			slog.Info("export worker context cancelled")
			return
		}
	}
}

// Stop signals the polling loop to exit.
func (w *ExportWorker) Stop() {
	close(w.stopChan)
}

// drain claims and processes jobs until the queue is empty.
func (w *ExportWorker) drain(ctx context.Context) {
	for {
		job, err := w.queue.ClaimNextPending(ctx)
		if err != nil {
			slog.Error("export worker: claim failed", "error", err)
			return
		}
		if job == nil {
			return
		}
		w.process(ctx, job)
	}
}

// cleanupExpired removes artifact files whose TTL has lapsed. MarkCompleted
// stamps expiry as write time plus the TTL, so on disk the file's mtime plus
// the same TTL is the same deadline and no job lookup is needed.
func (w *ExportWorker) cleanupExpired() {
	entries, err := os.ReadDir(w.cfg.OutputDir)
	if err != nil {
		slog.Error("export worker: cleanup scan failed", "dir", w.cfg.OutputDir, "error", err)
		return
	}
	cutoff := time.Now().Add(-w.cfg.ArtifactTTL)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(w.cfg.OutputDir, entry.Name())
		if err := os.Remove(path); err != nil {
			slog.Error("export worker: cleanup remove failed", "path", path, "error", err)
			continue
		}
		slog.Info("expired export artifact removed", "path", path)
	}
}

// process produces one job's artifact and finishes its state transition.
func (w *ExportWorker) process(ctx context.Context, job *models.ExportJob) {
	rows, path, size, err := w.writeArtifact(ctx, job)
	if err != nil {
		slog.Error("export job failed", "job_id", job.ID, "error", err)
		telemetry.ExportJobsTotal.WithLabelValues(models.ExportFailed).Inc()
		if markErr := w.queue.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			slog.Error("export worker: mark failed errored", "job_id", job.ID, "error", markErr)
		}
		return
	}

	expiresAt := time.Now().UTC().Add(w.cfg.ArtifactTTL)
	if err := w.queue.MarkCompleted(ctx, job.ID, path, size, rows, expiresAt); err != nil {
		slog.Error("export worker: mark completed errored", "job_id", job.ID, "error", err)
		return
	}
	telemetry.ExportJobsTotal.WithLabelValues(models.ExportCompleted).Inc()
	slog.Info("export job completed",
		"job_id", job.ID, "format", job.Format, "rows", rows, "bytes", size)

	// An export is a read of audit history and gets its own meta-audit entry.
	entry := &models.AccessLogEntry{
		AccessorID:   job.RequestedBy,
		AccessType:   models.AccessExport,
		QueryFilters: job.Filters,
		RowCount:     rows,
	}
	if err := w.access.Insert(ctx, entry); err != nil {
		slog.Error("export worker: access log write failed", "job_id", job.ID, "error", err)
	}
}

// writeArtifact streams the job's matching events to disk, page by page, and
// returns the row count, artifact path, and size in bytes.
func (w *ExportWorker) writeArtifact(ctx context.Context, job *models.ExportJob) (int, string, int64, error) {
	filters, err := filtersFromMap(job.Filters)
	if err != nil {
		return 0, "", 0, fmt.Errorf("invalid export filters: %w", err)
	}

	path := filepath.Join(w.cfg.OutputDir, job.ID+"."+job.Format)
	f, err := os.Create(path)
	if err != nil {
		return 0, "", 0, fmt.Errorf("create artifact: %w", err)
	}
	defer f.Close()

	var enc artifactEncoder
	switch job.Format {
	case models.ExportFormatCSV:
		enc = newCSVEncoder(f)
	case models.ExportFormatJSON:
		enc = newJSONEncoder(f)
	default:
		return 0, "", 0, fmt.Errorf("unknown export format %q", job.Format)
	}

	rows := 0
	var cursor *repositories.Cursor
	for rows < w.cfg.MaxRows {
		pageSize := w.cfg.MaxRows - rows
		if pageSize > 500 {
			pageSize = 500
		}
		events, next, err := w.events.List(ctx, filters, pageSize, cursor)
		if err != nil {
			return 0, "", 0, fmt.Errorf("fetch events: %w", err)
		}
		for _, e := range events {
			if err := enc.write(e); err != nil {
				return 0, "", 0, fmt.Errorf("write row: %w", err)
			}
			rows++
		}
		if next == nil {
			break
		}
		cursor = next
	}

	if err := enc.close(); err != nil {
		return 0, "", 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, "", 0, err
	}
	return rows, path, info.Size(), nil
}

// filtersFromMap decodes the JSONB filter bag stored on the job into typed
// event filters. Unknown keys are ignored; malformed timestamps are errors.
func filtersFromMap(m map[string]any) (repositories.EventFilters, error) {
	var filters repositories.EventFilters
	if m == nil {
		return filters, nil
	}

	str := func(key string) *string {
		if v, ok := m[key].(string); ok && v != "" {
			return &v
		}
		return nil
	}

	filters.Category = str("event_category")
	filters.Action = str("event_action")
	filters.ActorID = str("actor_id")
	filters.ResourceType = str("resource_type")
	filters.ResourceID = str("resource_id")
	filters.Status = str("status")
	filters.Severity = str("event_severity")

	// JSON numbers decode as float64.
	if v, ok := m["publisher_id"].(float64); ok {
		id := int64(v)
		filters.PublisherID = &id
	}

	for key, dst := range map[string]**time.Time{"start": &filters.Start, "end": &filters.End} {
		if s := str(key); s != nil {
			t, err := time.Parse(time.RFC3339, *s)
			if err != nil {
				return filters, fmt.Errorf("filter %q: %w", key, err)
			}
			*dst = &t
		}
	}
	return filters, nil
}

// artifactEncoder abstracts the two artifact formats.
type artifactEncoder interface {
	write(e *models.Event) error
	close() error
}

// exportRow is the flattened event shape written to artifacts.
type exportRow struct {
	ID           string         `json:"id"`
	SequenceNum  int64          `json:"sequence_num"`
	OccurredAt   time.Time      `json:"occurred_at"`
	EventType    string         `json:"event_type"`
	Severity     string         `json:"event_severity"`
	ActorID      string         `json:"actor_id"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Operation    string         `json:"operation_type"`
	Status       string         `json:"status"`
	ChangesDiff  map[string]any `json:"changes_diff,omitempty"`
	EventHash    string         `json:"event_hash"`
}

func toExportRow(e *models.Event) exportRow {
	row := exportRow{
		ID:           e.ID,
		SequenceNum:  e.SequenceNum,
		OccurredAt:   e.OccurredAt,
		EventType:    e.EventType,
		Severity:     string(e.EventSeverity),
		ActorID:      e.ActorID(),
		ResourceType: e.Resource.Type,
		ResourceID:   e.Resource.ID,
		Operation:    string(e.OperationType),
		Status:       string(e.Status),
		EventHash:    e.EventHash,
	}
	if e.ChangesDiff != nil {
		row.ChangesDiff = make(map[string]any, len(e.ChangesDiff))
		for k, v := range e.ChangesDiff {
			row.ChangesDiff[k] = v
		}
	}
	return row
}

type csvEncoder struct {
	w *csv.Writer
}

func newCSVEncoder(f *os.File) *csvEncoder {
	c := &csvEncoder{w: csv.NewWriter(f)}
	// The header goes out immediately so a zero-row export is still a
	// parseable CSV. A write error here surfaces via w.Error() on close.
	_ = c.w.Write([]string{
		"id", "sequence_num", "occurred_at", "event_type", "event_severity",
		"actor_id", "resource_type", "resource_id", "operation_type", "status", "event_hash",
	})
	return c
}

func (c *csvEncoder) write(e *models.Event) error {
	row := toExportRow(e)
	return c.w.Write([]string{
		row.ID,
		strconv.FormatInt(row.SequenceNum, 10),
		row.OccurredAt.UTC().Format(time.RFC3339Nano),
		row.EventType,
		row.Severity,
		row.ActorID,
		row.ResourceType,
		row.ResourceID,
		row.Operation,
		row.Status,
		row.EventHash,
	})
}

func (c *csvEncoder) close() error {
	c.w.Flush()
	return c.w.Error()
}

type jsonEncoder struct {
	f     *os.File
	first bool
}

func newJSONEncoder(f *os.File) *jsonEncoder {
	return &jsonEncoder{f: f, first: true}
}

func (j *jsonEncoder) write(e *models.Event) error {
	prefix := ",\n"
	if j.first {
		prefix = "[\n"
		j.first = false
	}
	b, err := json.Marshal(toExportRow(e))
	if err != nil {
		return err
	}
	_, err = j.f.WriteString(prefix + string(b))
	return err
}

func (j *jsonEncoder) close() error {
	if j.first {
		_, err := j.f.WriteString("[]")
		return err
	}
	_, err := j.f.WriteString("\n]")
	return err
}
