// access_log.go exposes the meta-audit access log to administrators: who has
// been reading or exporting audit history, and with what filters.
package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jcom-dev/zmanim-audit/internal/db/models"
)

// accessStore is the slice of the access log repository the handler uses.
type accessStore interface {
	ListByAccessor(ctx context.Context, accessorID string, since time.Time, limit int) ([]*models.AccessLogEntry, error)
}

// AccessLogHandler serves /api/v1/admin/access-log.
type AccessLogHandler struct {
	access accessStore
}

// NewAccessLogHandler creates the access log handler.
func NewAccessLogHandler(access accessStore) *AccessLogHandler {
	return &AccessLogHandler{access: access}
}

// List handles GET /api/v1/admin/access-log?accessor_id=&since=&limit=.
// The default window is the last 7 days.
func (h *AccessLogHandler) List(c *gin.Context) {
	accessorID := c.Query("accessor_id")
	if accessorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accessor_id is required"})
		return
	}

	since := time.Now().UTC().AddDate(0, 0, -7)
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
			return
		}
		since = t
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	entries, err := h.access.ListByAccessor(c.Request.Context(), accessorID, since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list access log"})
		return
	}
	if entries == nil {
		entries = []*models.AccessLogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": toAccessJSONs(entries)})
}

// accessJSON is the API representation of one access log entry.
type accessJSON struct {
	ID           string         `json:"id"`
	AccessedAt   time.Time      `json:"accessed_at"`
	AccessorID   string         `json:"accessor_id"`
	AccessType   string         `json:"access_type"`
	QueryFilters map[string]any `json:"query_filters,omitempty"`
	RowCount     int            `json:"row_count"`
	RequestID    *string        `json:"request_id,omitempty"`
	IP           *string        `json:"ip,omitempty"`
}

func toAccessJSONs(entries []*models.AccessLogEntry) []accessJSON {
	out := make([]accessJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, accessJSON{
			ID:           e.ID,
			AccessedAt:   e.AccessedAt,
			AccessorID:   e.AccessorID,
			AccessType:   e.AccessType,
			QueryFilters: e.QueryFilters,
			RowCount:     e.RowCount,
			RequestID:    e.RequestID,
			IP:           e.IP,
		})
	}
	return out
}
