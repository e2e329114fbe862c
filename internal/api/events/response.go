// response.go maps the internal event model onto the wire shape the query API
// returns. The response includes the chain fields so clients can verify
// linkage themselves without a separate endpoint.
package events

import (
	"time"

	"github.com/jcom-dev/zmanim-audit/internal/db/models"
	"github.com/jcom-dev/zmanim-audit/internal/diff"
)

// EventJSON is the API representation of one audit event.
type EventJSON struct {
	ID            string    `json:"id"`
	SequenceNum   int64     `json:"sequence_num"`
	EventCategory string    `json:"event_category"`
	EventAction   string    `json:"event_action"`
	EventType     string    `json:"event_type"`
	EventSeverity string    `json:"event_severity"`
	OccurredAt    time.Time `json:"occurred_at"`

	ActorID             *string `json:"actor_id,omitempty"`
	ActorAuthProviderID *string `json:"actor_auth_provider_id,omitempty"`
	ActorName           *string `json:"actor_name,omitempty"`
	ActorIP             *string `json:"actor_ip,omitempty"`
	ActorUserAgent      *string `json:"actor_user_agent,omitempty"`
	ActorIsSystem       bool    `json:"actor_is_system"`
	ImpersonatorID      *string `json:"impersonator_id,omitempty"`
	APIKeyID            *string `json:"api_key_id,omitempty"`

	PublisherID   *int64  `json:"publisher_id,omitempty"`
	PublisherSlug *string `json:"publisher_slug,omitempty"`

	ResourceType       string  `json:"resource_type"`
	ResourceID         string  `json:"resource_id"`
	ResourceName       *string `json:"resource_name,omitempty"`
	ParentResourceType *string `json:"parent_resource_type,omitempty"`
	ParentResourceID   *string `json:"parent_resource_id,omitempty"`

	OperationType string `json:"operation_type"`

	ChangesBefore map[string]any `json:"changes_before,omitempty"`
	ChangesAfter  map[string]any `json:"changes_after,omitempty"`
	ChangesDiff   diff.Diff      `json:"changes_diff,omitempty"`

	RequestID     *string `json:"request_id,omitempty"`
	TraceID       *string `json:"trace_id,omitempty"`
	SessionID     *string `json:"session_id,omitempty"`
	TransactionID *string `json:"transaction_id,omitempty"`
	ParentEventID *string `json:"parent_event_id,omitempty"`

	Status       string  `json:"status"`
	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	DurationMs   *int32  `json:"duration_ms,omitempty"`

	GeoCountry *string `json:"geo_country,omitempty"`
	GeoCity    *string `json:"geo_city,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Tags     []string       `json:"tags,omitempty"`

	EventHash         string  `json:"event_hash"`
	PreviousEventHash *string `json:"previous_event_hash"`

	RetentionTier string `json:"retention_tier"`
}

func toEventJSON(e *models.Event) EventJSON {
	return EventJSON{
		ID:                  e.ID,
		SequenceNum:         e.SequenceNum,
		EventCategory:       e.EventCategory,
		EventAction:         e.EventAction,
		EventType:           e.EventType,
		EventSeverity:       string(e.EventSeverity),
		OccurredAt:          e.OccurredAt,
		ActorID:             e.Actor.ID,
		ActorAuthProviderID: e.Actor.AuthProviderID,
		ActorName:           e.Actor.Name,
		ActorIP:             e.Actor.IP,
		ActorUserAgent:      e.Actor.UserAgent,
		ActorIsSystem:       e.Actor.IsSystem,
		ImpersonatorID:      e.ImpersonatorID,
		APIKeyID:            e.APIKeyID,
		PublisherID:         e.PublisherID,
		PublisherSlug:       e.PublisherSlug,
		ResourceType:        e.Resource.Type,
		ResourceID:          e.Resource.ID,
		ResourceName:        e.Resource.Name,
		ParentResourceType:  e.Resource.ParentType,
		ParentResourceID:    e.Resource.ParentID,
		OperationType:       string(e.OperationType),
		ChangesBefore:       e.ChangesBefore,
		ChangesAfter:        e.ChangesAfter,
		ChangesDiff:         e.ChangesDiff,
		RequestID:           e.RequestID,
		TraceID:             e.TraceID,
		SessionID:           e.SessionID,
		TransactionID:       e.TransactionID,
		ParentEventID:       e.ParentEventID,
		Status:              string(e.Status),
		ErrorCode:           e.ErrorCode,
		ErrorMessage:        e.ErrorMessage,
		DurationMs:          e.DurationMs,
		GeoCountry:          e.GeoCountry,
		GeoCity:             e.GeoCity,
		Metadata:            e.Metadata,
		Tags:                e.Tags,
		EventHash:           e.EventHash,
		PreviousEventHash:   e.PreviousEventHash,
		RetentionTier:       string(e.RetentionTier),
	}
}

func toEventJSONs(evts []*models.Event) []EventJSON {
	out := make([]EventJSON, 0, len(evts))
	for _, e := range evts {
		out = append(out, toEventJSON(e))
	}
	return out
}
