package jobs

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jcom-dev/zmanim-audit/internal/config"
	"github.com/jcom-dev/zmanim-audit/internal/db/models"
	"github.com/jcom-dev/zmanim-audit/internal/db/repositories"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeQueue struct {
	pending   []*models.ExportJob
	completed map[string]int // job id -> row count
	failed    map[string]string
}

func newFakeQueue(jobs ...*models.ExportJob) *fakeQueue {
	return &fakeQueue{
		pending:   jobs,
		completed: make(map[string]int),
		failed:    make(map[string]string),
	}
}

func (q *fakeQueue) ClaimNextPending(context.Context) (*models.ExportJob, error) {
	if len(q.pending) == 0 {
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	job.Status = models.ExportProcessing
	return job, nil
}

func (q *fakeQueue) MarkCompleted(_ context.Context, jobID, _ string, _ int64, rowCount int, _ time.Time) error {
	q.completed[jobID] = rowCount
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, jobID, msg string) error {
	q.failed[jobID] = msg
	return nil
}

type fakeLister struct {
	events []*models.Event
}

func (l *fakeLister) List(_ context.Context, _ repositories.EventFilters, limit int, cursor *repositories.Cursor) ([]*models.Event, *repositories.Cursor, error) {
	start := 0
	if cursor != nil {
		for i, e := range l.events {
			if e.ID == cursor.ID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(l.events) {
		end = len(l.events)
	}
	page := l.events[start:end]
	var next *repositories.Cursor
	if end < len(l.events) && len(page) > 0 {
		last := page[len(page)-1]
		next = &repositories.Cursor{OccurredAt: last.OccurredAt, ID: last.ID}
	}
	return page, next, nil
}

type fakeAccess struct {
	entries []*models.AccessLogEntry
}

func (a *fakeAccess) Insert(_ context.Context, entry *models.AccessLogEntry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func strPtr(s string) *string { return &s }

func exportEvent(id string, seq int64) *models.Event {
	return &models.Event{
		ID:            id,
		SequenceNum:   seq,
		EventType:     "publisher.update",
		EventSeverity: models.SeverityInfo,
		OccurredAt:    time.Date(2026, 6, 15, 10, 0, int(seq), 0, time.UTC),
		Actor:         models.Actor{ID: strPtr("user-1")},
		Resource:      models.Resource{Type: "publisher", ID: "pub-1"},
		OperationType: models.OpUpdate,
		Status:        models.StatusSuccess,
		EventHash:     "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	}
}

func testWorker(t *testing.T, queue *fakeQueue, lister *fakeLister, access *fakeAccess) (*ExportWorker, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.ExportConfig{
		OutputDir:    dir,
		ArtifactTTL:  72 * time.Hour,
		PollInterval: time.Second,
		MaxRows:      10000,
	}
	return NewExportWorker(queue, lister, access, cfg), dir
}

// ---------------------------------------------------------------------------
// CSV artifacts
// ---------------------------------------------------------------------------

func TestExportWorker_CSVArtifact(t *testing.T) {
	job := &models.ExportJob{ID: "job-1", RequestedBy: "admin-1", Format: models.ExportFormatCSV}
	queue := newFakeQueue(job)
	lister := &fakeLister{events: []*models.Event{exportEvent("01A", 1), exportEvent("01B", 2)}}
	access := &fakeAccess{}
	worker, dir := testWorker(t, queue, lister, access)

	worker.drain(context.Background())

	if queue.completed["job-1"] != 2 {
		t.Fatalf("completed rows = %d, want 2 (failed: %v)", queue.completed["job-1"], queue.failed)
	}

	f, err := os.Open(filepath.Join(dir, "job-1.csv"))
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse artifact: %v", err)
	}
	if len(records) != 3 { // header + 2 rows
		t.Fatalf("artifact has %d lines, want 3", len(records))
	}
	if records[0][0] != "id" {
		t.Errorf("header[0] = %q, want id", records[0][0])
	}
	if records[1][0] != "01A" || records[2][0] != "01B" {
		t.Errorf("rows out of order: %q, %q", records[1][0], records[2][0])
	}
}

func TestExportWorker_EmptyCSVArtifactHasHeader(t *testing.T) {
	job := &models.ExportJob{ID: "job-8", RequestedBy: "admin-1", Format: models.ExportFormatCSV}
	queue := newFakeQueue(job)
	worker, dir := testWorker(t, queue, &fakeLister{}, &fakeAccess{})

	worker.drain(context.Background())

	f, err := os.Open(filepath.Join(dir, "job-8.csv"))
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse artifact: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("artifact has %d lines, want header only", len(records))
	}
	if records[0][0] != "id" {
		t.Errorf("header[0] = %q, want id", records[0][0])
	}
}

// ---------------------------------------------------------------------------
// JSON artifacts
// ---------------------------------------------------------------------------

func TestExportWorker_JSONArtifact(t *testing.T) {
	job := &models.ExportJob{ID: "job-2", RequestedBy: "admin-1", Format: models.ExportFormatJSON}
	queue := newFakeQueue(job)
	lister := &fakeLister{events: []*models.Event{exportEvent("01A", 1)}}
	worker, dir := testWorker(t, queue, lister, &fakeAccess{})

	worker.drain(context.Background())

	data, err := os.ReadFile(filepath.Join(dir, "job-2.json"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("artifact is not valid JSON: %v\n%s", err, data)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0]["id"] != "01A" {
		t.Errorf("rows[0][id] = %v", rows[0]["id"])
	}
}

func TestExportWorker_EmptyJSONArtifactIsValidArray(t *testing.T) {
	job := &models.ExportJob{ID: "job-3", RequestedBy: "admin-1", Format: models.ExportFormatJSON}
	queue := newFakeQueue(job)
	worker, dir := testWorker(t, queue, &fakeLister{}, &fakeAccess{})

	worker.drain(context.Background())

	data, err := os.ReadFile(filepath.Join(dir, "job-3.json"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("empty artifact is not valid JSON: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("len(rows) = %d, want 0", len(rows))
	}
}

// ---------------------------------------------------------------------------
// Pagination, limits, failure, meta-audit
// ---------------------------------------------------------------------------

func TestExportWorker_PaginatesAcrossPages(t *testing.T) {
	events := make([]*models.Event, 0, 1200)
	for i := 0; i < 1200; i++ {
		events = append(events, exportEvent(time.Date(2026, 6, 1, 0, 0, i, 0, time.UTC).Format("20060102T150405"), int64(i+1)))
	}
	job := &models.ExportJob{ID: "job-4", RequestedBy: "admin-1", Format: models.ExportFormatCSV}
	queue := newFakeQueue(job)
	worker, _ := testWorker(t, queue, &fakeLister{events: events}, &fakeAccess{})

	worker.drain(context.Background())

	if queue.completed["job-4"] != 1200 {
		t.Errorf("completed rows = %d, want 1200 across multiple pages", queue.completed["job-4"])
	}
}

func TestExportWorker_ClampsToMaxRows(t *testing.T) {
	events := make([]*models.Event, 0, 50)
	for i := 0; i < 50; i++ {
		events = append(events, exportEvent(time.Date(2026, 6, 1, 0, 0, i, 0, time.UTC).Format("20060102T150405"), int64(i+1)))
	}
	job := &models.ExportJob{ID: "job-5", RequestedBy: "admin-1", Format: models.ExportFormatCSV}
	queue := newFakeQueue(job)
	worker, _ := testWorker(t, queue, &fakeLister{events: events}, &fakeAccess{})
	worker.cfg.MaxRows = 10

	worker.drain(context.Background())

	if queue.completed["job-5"] != 10 {
		t.Errorf("completed rows = %d, want clamp at 10", queue.completed["job-5"])
	}
}

func TestExportWorker_UnknownFormatFailsJob(t *testing.T) {
	job := &models.ExportJob{ID: "job-6", RequestedBy: "admin-1", Format: "xml"}
	queue := newFakeQueue(job)
	worker, _ := testWorker(t, queue, &fakeLister{}, &fakeAccess{})

	worker.drain(context.Background())

	msg, ok := queue.failed["job-6"]
	if !ok {
		t.Fatal("job not marked failed")
	}
	if !strings.Contains(msg, "xml") {
		t.Errorf("failure message %q does not name the bad format", msg)
	}
}

func TestExportWorker_RecordsMetaAuditEntry(t *testing.T) {
	job := &models.ExportJob{
		ID:          "job-7",
		RequestedBy: "admin-1",
		Format:      models.ExportFormatCSV,
		Filters:     map[string]any{"event_category": "publisher"},
	}
	queue := newFakeQueue(job)
	access := &fakeAccess{}
	worker, _ := testWorker(t, queue, &fakeLister{events: []*models.Event{exportEvent("01A", 1)}}, access)

	worker.drain(context.Background())

	if len(access.entries) != 1 {
		t.Fatalf("access entries = %d, want 1", len(access.entries))
	}
	entry := access.entries[0]
	if entry.AccessorID != "admin-1" || entry.AccessType != models.AccessExport {
		t.Errorf("entry = %+v", entry)
	}
	if entry.RowCount != 1 {
		t.Errorf("RowCount = %d, want 1", entry.RowCount)
	}
}

// ---------------------------------------------------------------------------
// Artifact expiry
// ---------------------------------------------------------------------------

func TestExportWorker_RemovesExpiredArtifacts(t *testing.T) {
	worker, dir := testWorker(t, newFakeQueue(), &fakeLister{}, &fakeAccess{})
	worker.cfg.ArtifactTTL = time.Hour

	stale := filepath.Join(dir, "job-old.csv")
	if err := os.WriteFile(stale, []byte("id\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	fresh := filepath.Join(dir, "job-new.csv")
	if err := os.WriteFile(fresh, []byte("id\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	worker.cleanupExpired()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("expired artifact still on disk (stat err = %v)", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("unexpired artifact removed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Filter decoding
// ---------------------------------------------------------------------------

func TestFiltersFromMap(t *testing.T) {
	filters, err := filtersFromMap(map[string]any{
		"event_category": "publisher",
		"actor_id":       "user-1",
		"publisher_id":   float64(42),
		"start":          "2026-06-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filters.Category == nil || *filters.Category != "publisher" {
		t.Errorf("Category = %v", filters.Category)
	}
	if filters.PublisherID == nil || *filters.PublisherID != 42 {
		t.Errorf("PublisherID = %v", filters.PublisherID)
	}
	if filters.Start == nil || !filters.Start.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", filters.Start)
	}
}

func TestFiltersFromMap_BadTimestamp(t *testing.T) {
	if _, err := filtersFromMap(map[string]any{"start": "June 1st"}); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}

func TestFiltersFromMap_Nil(t *testing.T) {
	filters, err := filtersFromMap(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filters.Category != nil || filters.Start != nil {
		t.Errorf("filters = %+v, want zero value", filters)
	}
}
