// Package api wires together the HTTP surface of the audit service.
//
// Route grouping philosophy:
//   - POST /api/v1/events is open to any authenticated platform service;
//     producers write events but have no read access.
//   - Query endpoints (events, stats, exports) require the auditor or admin
//     role, and every successful read is written to the meta-audit access
//     log when enabled.
//   - Operational endpoints (partitions, chain validation, retention
//     policies, the access log itself) require the admin role.
//
// Prometheus metrics are NOT served here; cmd/server exposes them on a
// dedicated side-channel port so the scrape path stays off the public
// ingress.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/jcom-dev/zmanim-audit/internal/api/admin"
	"github.com/jcom-dev/zmanim-audit/internal/api/events"
	"github.com/jcom-dev/zmanim-audit/internal/api/exports"
	"github.com/jcom-dev/zmanim-audit/internal/audit"
	"github.com/jcom-dev/zmanim-audit/internal/auth"
	"github.com/jcom-dev/zmanim-audit/internal/config"
	"github.com/jcom-dev/zmanim-audit/internal/db/repositories"
	"github.com/jcom-dev/zmanim-audit/internal/jobs"
	"github.com/jcom-dev/zmanim-audit/internal/middleware"
	"github.com/jcom-dev/zmanim-audit/internal/safego"
)

// BackgroundServices holds the background jobs that must be stopped during
// graceful shutdown. The caller (cmd/server) calls Shutdown after the HTTP
// server has drained in-flight requests.
type BackgroundServices struct {
	partitionCreator *jobs.PartitionCreator
	exportWorker     *jobs.ExportWorker
}

// Shutdown stops all background goroutines.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.partitionCreator != nil {
		bg.partitionCreator.Stop()
	}
	if bg.exportWorker != nil {
		bg.exportWorker.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router and starts the background
// jobs.
func NewRouter(cfg *config.Config, database *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("auth configuration: %w", err)
	}

	// Repositories. The retention repository reads through sqlx; everything
	// else uses database/sql directly.
	eventRepo := repositories.NewEventRepository(database, cfg.Audit.ChainLookbackHours)
	partitionRepo := repositories.NewPartitionRepository(database)
	accessRepo := repositories.NewAccessLogRepository(database)
	exportRepo := repositories.NewExportRepository(database)
	sqlxDB := sqlx.NewDb(database, "postgres")
	retentionRepo := repositories.NewRetentionRepository(sqlxDB)

	recorder := audit.NewRecorder(eventRepo)

	// Background jobs.
	partitionCreator := jobs.NewPartitionCreator(partitionRepo,
		cfg.Audit.PartitionLeadMonths, cfg.Audit.PartitionCheckIntervalHours)
	exportWorker := jobs.NewExportWorker(exportRepo, eventRepo, accessRepo, &cfg.Export)
	safego.Go(func() { partitionCreator.Start(context.Background()) })
	safego.Go(func() { exportWorker.Start(context.Background()) })

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())

	router.GET("/health", healthCheckHandler(database))
	router.GET("/version", versionHandler())

	eventsHandler := events.NewHandler(recorder, eventRepo, accessRepo, cfg.Audit.LogAccess)
	partitionHandler := admin.NewPartitionHandler(partitionRepo)
	chainHandler := admin.NewChainHandler(eventRepo)
	retentionHandler := admin.NewRetentionHandler(retentionRepo)
	accessLogHandler := admin.NewAccessLogHandler(accessRepo)
	exportsHandler := exports.NewHandler(exportRepo)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(verifier))
	{
		// Any authenticated platform service may record events.
		apiV1.POST("/events", eventsHandler.Record)

		// Reading audit history requires the auditor or admin role.
		readGroup := apiV1.Group("")
		readGroup.Use(middleware.RequireAnyRole(auth.RoleAuditor, auth.RoleAdmin))
		{
			readGroup.GET("/events", eventsHandler.List)
			readGroup.GET("/events/stats", eventsHandler.Stats)
			readGroup.GET("/events/:id", eventsHandler.Get)

			readGroup.POST("/exports", exportsHandler.Request)
			readGroup.GET("/exports/:id", exportsHandler.Get)
			readGroup.GET("/exports/:id/download", exportsHandler.Download)
		}

		// Operational endpoints require the admin role.
		adminGroup := apiV1.Group("/admin")
		adminGroup.Use(middleware.RequireRole(auth.RoleAdmin))
		{
			adminGroup.GET("/partitions", partitionHandler.List)
			adminGroup.POST("/partitions", partitionHandler.Ensure)

			adminGroup.POST("/chain/validate", chainHandler.Validate)

			adminGroup.GET("/retention-policies", retentionHandler.List)
			adminGroup.POST("/retention-policies", retentionHandler.Create)
			adminGroup.GET("/retention-policies/resolve", retentionHandler.Resolve)
			adminGroup.GET("/retention-policies/:id", retentionHandler.Get)
			adminGroup.PUT("/retention-policies/:id", retentionHandler.Update)
			adminGroup.DELETE("/retention-policies/:id", retentionHandler.Delete)

			adminGroup.GET("/access-log", accessLogHandler.List)
		}
	}

	bg := &BackgroundServices{
		partitionCreator: partitionCreator,
		exportWorker:     exportWorker,
	}
	return router, bg, nil
}

// healthCheckHandler returns the health status of the service.
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware emits one structured record per request. The output format
// (json or text) follows the global slog handler configured in
// telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
