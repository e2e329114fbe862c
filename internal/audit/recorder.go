// Package audit implements the write path, chain linkage, and validation of
// the tamper-evident event log.
//
// recorder.go is the producer-facing entry point: it validates the supplied
// event, derives everything derivable (diff, id, severity), and hands the
// event to the store. The chain fields themselves (sequence, previous hash,
// hash) are assigned inside the store's insert transaction, under the chain
// tail lock.
package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/jcom-dev/zmanim-audit/internal/db/models"
	"github.com/jcom-dev/zmanim-audit/internal/diff"
	"github.com/jcom-dev/zmanim-audit/internal/telemetry"
	"github.com/jcom-dev/zmanim-audit/internal/ulid"
)

// Event categories used across the platform. The retention policy seed data
// keys off these names.
const (
	CategoryPublisher = "publisher"
	CategoryZman      = "zman"
	CategoryAlgorithm = "algorithm"
	CategoryCoverage  = "coverage"
	CategoryAuth      = "auth"
	CategoryAdmin     = "admin"
	CategoryExport    = "export"
)

// Common event actions. Producers may use others; these are the ones the
// platform emits today.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionLogin   = "login"
	ActionLogout  = "logout"
	ActionGrant   = "grant"
	ActionRevoke  = "revoke"
	ActionExecute = "execute"
	ActionRequest = "request"
)

// EventInserter is the slice of the event store the recorder writes through.
// *repositories.EventRepository satisfies it.
type EventInserter interface {
	Insert(ctx context.Context, e *models.Event) error
	InsertTx(ctx context.Context, tx *sql.Tx, e *models.Event) error
}

// Recorder prepares and persists audit events.
type Recorder struct {
	store EventInserter
}

// NewRecorder creates a Recorder writing through the given store.
func NewRecorder(store EventInserter) *Recorder {
	return &Recorder{store: store}
}

// RecordEvent validates, completes, and persists one audit event, returning
// the assigned event id. The write runs in its own transaction; use
// RecordEventTx when the event must commit or roll back together with the
// business operation that triggered it.
func (r *Recorder) RecordEvent(ctx context.Context, e *models.Event) (string, error) {
	if err := r.prepare(e); err != nil {
		telemetry.EventWriteFailuresTotal.WithLabelValues("validation").Inc()
		return "", err
	}
	if err := r.store.Insert(ctx, e); err != nil {
		telemetry.EventWriteFailuresTotal.WithLabelValues("database").Inc()
		slog.Error("audit event write failed",
			"event_type", e.EventType, "resource_type", e.Resource.Type, "error", err)
		return "", err
	}
	r.observe(e)
	return e.ID, nil
}

// RecordEventTx is RecordEvent inside a caller-owned transaction. The caller
// commits; if it rolls back, the event (and the chain tail advance) roll back
// with it.
func (r *Recorder) RecordEventTx(ctx context.Context, tx *sql.Tx, e *models.Event) (string, error) {
	if err := r.prepare(e); err != nil {
		telemetry.EventWriteFailuresTotal.WithLabelValues("validation").Inc()
		return "", err
	}
	if err := r.store.InsertTx(ctx, tx, e); err != nil {
		telemetry.EventWriteFailuresTotal.WithLabelValues("database").Inc()
		return "", err
	}
	r.observe(e)
	return e.ID, nil
}

// prepare normalizes and validates the producer-supplied event and fills in
// every derivable field except the chain fields. Ordering matters: the diff
// must exist before the store computes the hash, because the diff is part of
// the record the hash attests to.
func (r *Recorder) prepare(e *models.Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	// Producers that supply no actor at all are recording machine activity.
	if e.Actor.ID == nil && e.Actor.Name == nil && e.Actor.AuthProviderID == nil {
		e.Actor.IsSystem = true
	}

	if e.EventSeverity == "" {
		e.EventSeverity = deriveSeverity(e)
	}

	if err := e.Validate(); err != nil {
		return err
	}

	if e.ChangesDiff == nil && e.OperationType == models.OpUpdate &&
		e.ChangesBefore != nil && e.ChangesAfter != nil {
		e.ChangesDiff = diff.Compute(e.ChangesBefore, e.ChangesAfter)
	}

	if e.ID == "" {
		e.ID = ulid.New()
	}
	return nil
}

func (r *Recorder) observe(e *models.Event) {
	telemetry.EventsRecordedTotal.WithLabelValues(e.EventCategory, string(e.OperationType)).Inc()
	slog.Debug("audit event recorded",
		"event_id", e.ID, "event_type", e.EventType,
		"resource", e.Resource.Type+"/"+e.Resource.ID, "sequence", e.SequenceNum)
}

// deriveSeverity grades an event when the producer did not. Destructive and
// privilege-changing operations are warnings; failed operations are errors.
func deriveSeverity(e *models.Event) models.Severity {
	if e.Status == models.StatusFailure || e.Status == models.StatusError {
		return models.SeverityError
	}
	switch e.OperationType {
	case models.OpDelete, models.OpGrant, models.OpRevoke:
		return models.SeverityWarning
	}
	return models.SeverityInfo
}
