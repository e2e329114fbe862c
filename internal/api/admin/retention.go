// retention.go serves the retention policy CRUD and resolution endpoints.
// Policies never touch the event write path; they are configuration consumed
// by the archival tooling that moves aged partitions between tiers.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jcom-dev/zmanim-audit/internal/db/models"
)

// retentionStore is the slice of the retention repository the handlers use.
type retentionStore interface {
	List(ctx context.Context) ([]*models.RetentionPolicy, error)
	Get(ctx context.Context, id int64) (*models.RetentionPolicy, error)
	Create(ctx context.Context, p *models.RetentionPolicy) error
	Update(ctx context.Context, p *models.RetentionPolicy) error
	Delete(ctx context.Context, id int64) error
	Resolve(ctx context.Context, category, action string) (*models.RetentionPolicy, error)
}

// RetentionHandler serves /api/v1/admin/retention-policies.
type RetentionHandler struct {
	policies retentionStore
}

// NewRetentionHandler creates the retention policy handler.
func NewRetentionHandler(policies retentionStore) *RetentionHandler {
	return &RetentionHandler{policies: policies}
}

// RetentionPolicyRequest is the create/update payload. A null event_action
// makes the policy the category-wide wildcard.
type RetentionPolicyRequest struct {
	EventCategory           string  `json:"event_category" binding:"required"`
	EventAction             *string `json:"event_action"`
	HotDays                 int     `json:"hot_days"`
	WarmDays                int     `json:"warm_days"`
	ColdDays                int     `json:"cold_days"`
	PermanentRetention      bool    `json:"permanent_retention"`
	ComplianceJustification string  `json:"compliance_justification"`
}

func (req *RetentionPolicyRequest) toModel() (*models.RetentionPolicy, error) {
	if !req.PermanentRetention && (req.HotDays < 0 || req.WarmDays < 0 || req.ColdDays < 0) {
		return nil, errors.New("retention day counts must not be negative")
	}
	if req.EventAction != nil && *req.EventAction == "" {
		// An empty action means the wildcard; store it as NULL.
		req.EventAction = nil
	}
	return &models.RetentionPolicy{
		EventCategory:           req.EventCategory,
		EventAction:             req.EventAction,
		HotDays:                 req.HotDays,
		WarmDays:                req.WarmDays,
		ColdDays:                req.ColdDays,
		PermanentRetention:      req.PermanentRetention,
		ComplianceJustification: req.ComplianceJustification,
	}, nil
}

// List handles GET /api/v1/admin/retention-policies.
func (h *RetentionHandler) List(c *gin.Context) {
	policies, err := h.policies.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list retention policies"})
		return
	}
	if policies == nil {
		policies = []*models.RetentionPolicy{}
	}
	c.JSON(http.StatusOK, gin.H{"policies": toPolicyJSONs(policies)})
}

// Get handles GET /api/v1/admin/retention-policies/:id.
func (h *RetentionHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy id must be an integer"})
		return
	}

	p, err := h.policies.Get(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "retention policy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load retention policy"})
		return
	}
	c.JSON(http.StatusOK, toPolicyJSON(p))
}

// Create handles POST /api/v1/admin/retention-policies.
func (h *RetentionHandler) Create(c *gin.Context) {
	var req RetentionPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_category is required"})
		return
	}
	p, err := req.toModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.policies.Create(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create retention policy"})
		return
	}
	c.JSON(http.StatusCreated, toPolicyJSON(p))
}

// Update handles PUT /api/v1/admin/retention-policies/:id.
func (h *RetentionHandler) Update(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy id must be an integer"})
		return
	}

	var req RetentionPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_category is required"})
		return
	}
	p, err := req.toModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p.ID = id

	err = h.policies.Update(c.Request.Context(), p)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "retention policy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update retention policy"})
		return
	}
	c.JSON(http.StatusOK, toPolicyJSON(p))
}

// Delete handles DELETE /api/v1/admin/retention-policies/:id.
func (h *RetentionHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy id must be an integer"})
		return
	}

	err = h.policies.Delete(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "retention policy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete retention policy"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Resolve handles GET /api/v1/admin/retention-policies/resolve: which policy
// (exact or wildcard) governs a given category/action pair.
func (h *RetentionHandler) Resolve(c *gin.Context) {
	category := c.Query("category")
	if category == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category is required"})
		return
	}
	action := c.Query("action")

	p, err := h.policies.Resolve(c.Request.Context(), category, action)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve retention policy"})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no retention policy covers this event type"})
		return
	}
	c.JSON(http.StatusOK, toPolicyJSON(p))
}

// policyJSON is the API representation of one retention policy.
type policyJSON struct {
	ID                      int64   `json:"id"`
	EventCategory           string  `json:"event_category"`
	EventAction             *string `json:"event_action"`
	Wildcard                bool    `json:"wildcard"`
	HotDays                 int     `json:"hot_days"`
	WarmDays                int     `json:"warm_days"`
	ColdDays                int     `json:"cold_days"`
	PermanentRetention      bool    `json:"permanent_retention"`
	ComplianceJustification string  `json:"compliance_justification"`
	CreatedAt               string  `json:"created_at"`
	UpdatedAt               string  `json:"updated_at"`
}

func toPolicyJSON(p *models.RetentionPolicy) policyJSON {
	return policyJSON{
		ID:                      p.ID,
		EventCategory:           p.EventCategory,
		EventAction:             p.EventAction,
		Wildcard:                p.IsWildcard(),
		HotDays:                 p.HotDays,
		WarmDays:                p.WarmDays,
		ColdDays:                p.ColdDays,
		PermanentRetention:      p.PermanentRetention,
		ComplianceJustification: p.ComplianceJustification,
		CreatedAt:               p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:               p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toPolicyJSONs(policies []*models.RetentionPolicy) []policyJSON {
	out := make([]policyJSON, 0, len(policies))
	for _, p := range policies {
		out = append(out, toPolicyJSON(p))
	}
	return out
}
