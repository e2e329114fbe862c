// Package models - event.go defines the Event model: one immutable audit
// record in the hash-chained, time-partitioned event store, together with the
// fixed enumerations its columns are drawn from and the pre-insert validation
// rules.
package models

import (
	"fmt"
	"time"

	"github.com/jcom-dev/zmanim-audit/internal/diff"
)

// OperationType classifies the mutation an event describes.
type OperationType string

const (
	OpCreate  OperationType = "CREATE"
	OpRead    OperationType = "READ"
	OpUpdate  OperationType = "UPDATE"
	OpDelete  OperationType = "DELETE"
	OpExecute OperationType = "EXECUTE"
	OpGrant   OperationType = "GRANT"
	OpRevoke  OperationType = "REVOKE"
)

// Valid reports whether o is one of the fixed operation types.
func (o OperationType) Valid() bool {
	switch o {
	case OpCreate, OpRead, OpUpdate, OpDelete, OpExecute, OpGrant, OpRevoke:
		return true
	}
	return false
}

// EventStatus is the outcome of the audited operation.
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusFailure EventStatus = "failure"
	StatusPartial EventStatus = "partial"
	StatusError   EventStatus = "error"
)

// Valid reports whether s is one of the fixed outcome states.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusPartial, StatusError:
		return true
	}
	return false
}

// Severity grades how security-relevant an event is.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether v is one of the fixed severity levels.
func (v Severity) Valid() bool {
	switch v {
	case SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// RetentionTier names the storage bucket an aged event belongs to.
type RetentionTier string

const (
	TierHot  RetentionTier = "hot"
	TierWarm RetentionTier = "warm"
	TierCold RetentionTier = "cold"
)

// Valid reports whether r is one of the fixed retention tiers.
func (r RetentionTier) Valid() bool {
	switch r {
	case TierHot, TierWarm, TierCold:
		return true
	}
	return false
}

// Actor identifies who performed the audited operation.
type Actor struct {
	ID             *string // Nullable only when IsSystem
	AuthProviderID *string // Identity at the upstream auth provider
	Name           *string // Display name or email at event time
	IP             *string
	UserAgent      *string
	IsSystem       bool
}

// Resource identifies what the audited operation touched.
type Resource struct {
	Type       string
	ID         string
	Name       *string
	ParentType *string
	ParentID   *string
}

// Event is one audit record. The chain fields (SequenceNum, EventHash,
// PreviousEventHash) and ChangesDiff are derived by the event store's write
// path; producers never supply them.
type Event struct {
	ID            string // 26-char ULID
	SequenceNum   int64  // monotonic tie-break for same-millisecond events
	EventCategory string
	EventAction   string
	EventType     string // always EventCategory + "." + EventAction
	EventSeverity Severity
	OccurredAt    time.Time // partition key

	Actor          Actor
	ImpersonatorID *string // Admin acting on a user's behalf
	APIKeyID       *string

	PublisherID   *int64 // Tenant scope
	PublisherSlug *string

	Resource      Resource
	OperationType OperationType

	ChangesBefore map[string]any
	ChangesAfter  map[string]any
	ChangesDiff   diff.Diff // Derived; UPDATE events only

	RequestID *string
	TraceID   *string
	SessionID *string

	TransactionID *string // Groups events emitted by one business transaction
	ParentEventID *string

	Status       EventStatus
	ErrorCode    *string
	ErrorMessage *string
	DurationMs   *int32

	GeoCountry *string
	GeoCity    *string

	Metadata map[string]any
	Tags     []string

	EventHash         string // SHA-256 hex, derived
	PreviousEventHash *string

	RetentionTier RetentionTier
}

// ValidationError describes a malformed event rejected before insert. The
// caller must fix the named field and resubmit; nothing is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid audit event: %s: %s", e.Field, e.Reason)
}

// Validate checks the producer-supplied portion of an event and normalizes
// derivable fields. EventType is filled in from category and action when
// empty; a non-empty EventType that disagrees with category.action is
// rejected rather than silently rewritten.
func (e *Event) Validate() error {
	if e.EventCategory == "" {
		return &ValidationError{Field: "event_category", Reason: "required"}
	}
	if e.EventAction == "" {
		return &ValidationError{Field: "event_action", Reason: "required"}
	}
	derived := e.EventCategory + "." + e.EventAction
	if e.EventType == "" {
		e.EventType = derived
	} else if e.EventType != derived {
		return &ValidationError{
			Field:  "event_type",
			Reason: fmt.Sprintf("%q does not match category.action %q", e.EventType, derived),
		}
	}

	if !e.OperationType.Valid() {
		return &ValidationError{Field: "operation_type", Reason: fmt.Sprintf("unknown value %q", e.OperationType)}
	}

	if e.Status == "" {
		e.Status = StatusSuccess
	}
	if !e.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", e.Status)}
	}

	if e.EventSeverity == "" {
		e.EventSeverity = SeverityInfo
	}
	if !e.EventSeverity.Valid() {
		return &ValidationError{Field: "event_severity", Reason: fmt.Sprintf("unknown value %q", e.EventSeverity)}
	}

	if e.RetentionTier == "" {
		e.RetentionTier = TierHot
	}
	if !e.RetentionTier.Valid() {
		return &ValidationError{Field: "retention_tier", Reason: fmt.Sprintf("unknown value %q", e.RetentionTier)}
	}

	if !e.Actor.IsSystem && (e.Actor.ID == nil || *e.Actor.ID == "") {
		return &ValidationError{Field: "actor_id", Reason: "required unless actor is the system"}
	}

	if e.Resource.Type == "" {
		return &ValidationError{Field: "resource_type", Reason: "required"}
	}
	if e.Resource.ID == "" {
		return &ValidationError{Field: "resource_id", Reason: "required"}
	}

	if e.OccurredAt.IsZero() {
		return &ValidationError{Field: "occurred_at", Reason: "required"}
	}

	return nil
}

// ActorID returns the actor identifier used in the hash input: the actor's ID
// when present, otherwise the empty string (system events).
func (e *Event) ActorID() string {
	if e.Actor.ID != nil {
		return *e.Actor.ID
	}
	return ""
}
