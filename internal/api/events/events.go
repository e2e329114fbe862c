// Package events implements the HTTP handlers for recording and querying
// audit events. Reads against the event store are themselves written to the
// meta-audit access log (when enabled), so every look at audit history leaves
// its own trace.
package events

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jcom-dev/zmanim-audit/internal/db/models"
	"github.com/jcom-dev/zmanim-audit/internal/db/repositories"
	"github.com/jcom-dev/zmanim-audit/internal/middleware"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// recorder is the slice of the audit recorder the write handler uses.
type recorder interface {
	RecordEvent(ctx context.Context, e *models.Event) (string, error)
}

// eventStore is the slice of the event repository the read handlers use.
type eventStore interface {
	List(ctx context.Context, filters repositories.EventFilters, limit int, cursor *repositories.Cursor) ([]*models.Event, *repositories.Cursor, error)
	Get(ctx context.Context, eventID string) (*models.Event, error)
	CountByCategory(ctx context.Context, start, end time.Time) ([]repositories.CategoryCount, error)
}

// accessLogger records reads in the meta-audit access log.
type accessLogger interface {
	Insert(ctx context.Context, entry *models.AccessLogEntry) error
}

// Handler serves the /api/v1/events endpoints.
type Handler struct {
	recorder  recorder
	events    eventStore
	access    accessLogger
	logAccess bool
}

// NewHandler creates the events handler. logAccess gates meta-audit logging
// on the read path (Config.Audit.LogAccess).
func NewHandler(rec recorder, events eventStore, access accessLogger, logAccess bool) *Handler {
	return &Handler{
		recorder:  rec,
		events:    events,
		access:    access,
		logAccess: logAccess,
	}
}

// RecordEventRequest is the producer-facing write payload. Chain fields and
// the diff are derived server-side and cannot be supplied.
type RecordEventRequest struct {
	EventCategory string `json:"event_category" binding:"required"`
	EventAction   string `json:"event_action" binding:"required"`
	EventType     string `json:"event_type"`
	EventSeverity string `json:"event_severity"`
	OccurredAt    string `json:"occurred_at"`

	ActorID             *string `json:"actor_id"`
	ActorAuthProviderID *string `json:"actor_auth_provider_id"`
	ActorName           *string `json:"actor_name"`
	ActorIsSystem       bool    `json:"actor_is_system"`
	ImpersonatorID      *string `json:"impersonator_id"`
	APIKeyID            *string `json:"api_key_id"`

	PublisherID   *int64  `json:"publisher_id"`
	PublisherSlug *string `json:"publisher_slug"`

	ResourceType       string  `json:"resource_type" binding:"required"`
	ResourceID         string  `json:"resource_id" binding:"required"`
	ResourceName       *string `json:"resource_name"`
	ParentResourceType *string `json:"parent_resource_type"`
	ParentResourceID   *string `json:"parent_resource_id"`

	OperationType string `json:"operation_type" binding:"required"`

	ChangesBefore map[string]any `json:"changes_before"`
	ChangesAfter  map[string]any `json:"changes_after"`

	TraceID       *string `json:"trace_id"`
	SessionID     *string `json:"session_id"`
	TransactionID *string `json:"transaction_id"`
	ParentEventID *string `json:"parent_event_id"`

	Status       string  `json:"status"`
	ErrorCode    *string `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
	DurationMs   *int32  `json:"duration_ms"`

	GeoCountry *string `json:"geo_country"`
	GeoCity    *string `json:"geo_city"`

	Metadata map[string]any `json:"metadata"`
	Tags     []string       `json:"tags"`
}

// Record handles POST /api/v1/events. The event's request id and client IP
// are taken from the request itself, not the payload.
func (h *Handler) Record(c *gin.Context) {
	var req RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	e := &models.Event{
		EventCategory: req.EventCategory,
		EventAction:   req.EventAction,
		EventType:     req.EventType,
		EventSeverity: models.Severity(req.EventSeverity),
		Actor: models.Actor{
			ID:             req.ActorID,
			AuthProviderID: req.ActorAuthProviderID,
			Name:           req.ActorName,
			IsSystem:       req.ActorIsSystem,
		},
		ImpersonatorID: req.ImpersonatorID,
		APIKeyID:       req.APIKeyID,
		PublisherID:    req.PublisherID,
		PublisherSlug:  req.PublisherSlug,
		Resource: models.Resource{
			Type:       req.ResourceType,
			ID:         req.ResourceID,
			Name:       req.ResourceName,
			ParentType: req.ParentResourceType,
			ParentID:   req.ParentResourceID,
		},
		OperationType: models.OperationType(req.OperationType),
		ChangesBefore: req.ChangesBefore,
		ChangesAfter:  req.ChangesAfter,
		TraceID:       req.TraceID,
		SessionID:     req.SessionID,
		TransactionID: req.TransactionID,
		ParentEventID: req.ParentEventID,
		Status:        models.EventStatus(req.Status),
		ErrorCode:     req.ErrorCode,
		ErrorMessage:  req.ErrorMessage,
		DurationMs:    req.DurationMs,
		GeoCountry:    req.GeoCountry,
		GeoCity:       req.GeoCity,
		Metadata:      req.Metadata,
		Tags:          req.Tags,
	}

	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339Nano, req.OccurredAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid occurred_at: %v", err)})
			return
		}
		e.OccurredAt = t
	}

	e.RequestID = middleware.RequestID(c)
	if ip := c.ClientIP(); ip != "" {
		e.Actor.IP = &ip
	}
	if ua := c.Request.UserAgent(); ua != "" {
		e.Actor.UserAgent = &ua
	}

	id, err := h.recorder.RecordEvent(c.Request.Context(), e)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event_id": id, "sequence_num": e.SequenceNum})
}

// List handles GET /api/v1/events with keyset pagination.
func (h *Handler) List(c *gin.Context) {
	filters, err := filtersFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}

	var cursor *repositories.Cursor
	if raw := c.Query("cursor"); raw != "" {
		cursor, err = decodeCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed cursor"})
			return
		}
	}

	evts, next, err := h.events.List(c.Request.Context(), filters, limit, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query events"})
		return
	}

	resp := gin.H{"events": toEventJSONs(evts)}
	if next != nil {
		resp["next_cursor"] = encodeCursor(next)
	}

	h.logRead(c, models.AccessList, queryFilterBag(c), len(evts))
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/v1/events/:id.
func (h *Handler) Get(c *gin.Context) {
	id := c.Param("id")

	e, err := h.events.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
		return
	}
	if e == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	h.logRead(c, models.AccessGet, map[string]any{"event_id": id}, 1)
	c.JSON(http.StatusOK, toEventJSON(e))
}

// Stats handles GET /api/v1/events/stats: event counts grouped by category
// and outcome over a time range (default: the last 30 days).
func (h *Handler) Stats(c *gin.Context) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	var err error
	if raw := c.Query("start"); raw != "" {
		start, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid start: %v", err)})
			return
		}
	}
	if raw := c.Query("end"); raw != "" {
		end, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid end: %v", err)})
			return
		}
	}

	counts, err := h.events.CountByCategory(c.Request.Context(), start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate events"})
		return
	}
	if counts == nil {
		counts = []repositories.CategoryCount{}
	}

	h.logRead(c, models.AccessStats, map[string]any{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	}, len(counts))
	c.JSON(http.StatusOK, gin.H{
		"start":  start.UTC().Format(time.RFC3339),
		"end":    end.UTC().Format(time.RFC3339),
		"counts": counts,
	})
}

// logRead writes one meta-audit entry for a successful read. Failures are
// logged, never surfaced: a broken access log must not block reads.
func (h *Handler) logRead(c *gin.Context, accessType string, filters map[string]any, rows int) {
	if !h.logAccess {
		return
	}
	entry := &models.AccessLogEntry{
		AccessorID:   middleware.Accessor(c),
		AccessType:   accessType,
		QueryFilters: filters,
		RowCount:     rows,
		RequestID:    middleware.RequestID(c),
	}
	if ip := c.ClientIP(); ip != "" {
		entry.IP = &ip
	}
	if err := h.access.Insert(c.Request.Context(), entry); err != nil {
		slog.Error("access log write failed", "access_type", accessType, "error", err)
	}
}

// filtersFromQuery builds typed event filters from the request query string.
func filtersFromQuery(c *gin.Context) (repositories.EventFilters, error) {
	var filters repositories.EventFilters

	str := func(key string) *string {
		if v := c.Query(key); v != "" {
			return &v
		}
		return nil
	}

	filters.Category = str("category")
	filters.Action = str("action")
	filters.ActorID = str("actor_id")
	filters.ResourceType = str("resource_type")
	filters.ResourceID = str("resource_id")
	filters.Status = str("status")
	filters.Severity = str("severity")

	if raw := c.Query("publisher_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filters, fmt.Errorf("publisher_id must be an integer")
		}
		filters.PublisherID = &id
	}

	for key, dst := range map[string]**time.Time{"start": &filters.Start, "end": &filters.End} {
		if raw := c.Query(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return filters, fmt.Errorf("invalid %s: %v", key, err)
			}
			*dst = &t
		}
	}
	return filters, nil
}

// queryFilterBag captures the supplied query parameters for the access log.
func queryFilterBag(c *gin.Context) map[string]any {
	bag := map[string]any{}
	for _, key := range []string{
		"category", "action", "actor_id", "resource_type", "resource_id",
		"publisher_id", "status", "severity", "start", "end",
	} {
		if v := c.Query(key); v != "" {
			bag[key] = v
		}
	}
	return bag
}

// encodeCursor renders an opaque pagination token. The format is internal;
// clients must treat the token as a black box.
func encodeCursor(cur *repositories.Cursor) string {
	raw := cur.OccurredAt.UTC().Format(time.RFC3339Nano) + "|" + cur.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(token string) (*repositories.Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, errors.New("malformed cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, err
	}
	return &repositories.Cursor{OccurredAt: t, ID: id}, nil
}
