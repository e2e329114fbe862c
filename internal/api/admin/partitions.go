// Package admin implements the operator-facing handlers behind the admin
// role: partition management, chain validation, retention policies, and the
// meta-audit access log.
//
// partitions.go serves the monthly partition endpoints. Provisioning is
// normally the background job's duty; the POST endpoint exists for operators
// backfilling history or preparing partitions far beyond the configured lead.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jcom-dev/zmanim-audit/internal/db/repositories"
	"github.com/jcom-dev/zmanim-audit/internal/telemetry"
)

// partitionStore is the slice of the partition repository the handlers use.
type partitionStore interface {
	EnsureMonthlyPartition(ctx context.Context, year int, month time.Month) (bool, error)
	ListPartitions(ctx context.Context) ([]repositories.Partition, error)
}

// PartitionHandler serves /api/v1/admin/partitions.
type PartitionHandler struct {
	partitions partitionStore
}

// NewPartitionHandler creates the partition admin handler.
func NewPartitionHandler(partitions partitionStore) *PartitionHandler {
	return &PartitionHandler{partitions: partitions}
}

// EnsurePartitionRequest names the month to provision.
type EnsurePartitionRequest struct {
	Year  int `json:"year" binding:"required"`
	Month int `json:"month" binding:"required"`
}

// Ensure handles POST /api/v1/admin/partitions. Idempotent: provisioning an
// existing month reports created=false.
func (h *PartitionHandler) Ensure(c *gin.Context) {
	var req EnsurePartitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "year and month are required"})
		return
	}
	if req.Month < 1 || req.Month > 12 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month must be between 1 and 12"})
		return
	}

	created, err := h.partitions.EnsureMonthlyPartition(c.Request.Context(), req.Year, time.Month(req.Month))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to provision partition"})
		return
	}

	outcome := "exists"
	status := http.StatusOK
	if created {
		outcome = "created"
		status = http.StatusCreated
	}
	telemetry.PartitionsEnsuredTotal.WithLabelValues(outcome).Inc()
	c.JSON(status, gin.H{"year": req.Year, "month": req.Month, "created": created})
}

// List handles GET /api/v1/admin/partitions.
func (h *PartitionHandler) List(c *gin.Context) {
	partitions, err := h.partitions.ListPartitions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list partitions"})
		return
	}
	if partitions == nil {
		partitions = []repositories.Partition{}
	}
	c.JSON(http.StatusOK, gin.H{"partitions": partitions})
}
