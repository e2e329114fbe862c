package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/jcom-dev/zmanim-audit/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret: "0123456789abcdef0123456789abcdef",
			Issuer:    "zmanim-platform",
		},
		Audit: config.AuditConfig{
			ChainLookbackHours:          24,
			PartitionLeadMonths:         0,
			PartitionCheckIntervalHours: 24,
			LogAccess:                   true,
		},
		Export: config.ExportConfig{
			OutputDir:    t.TempDir(),
			ArtifactTTL:  time.Hour,
			PollInterval: time.Hour,
			MaxRows:      100,
		},
	}
}

func TestNewRouter_HealthAndVersion(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.ExpectPing()

	router, bg, err := NewRouter(testConfig(t), db)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer bg.Shutdown()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/version status = %d, want 200", w.Code)
	}
}

func TestNewRouter_APIRequiresAuth(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	router, bg, err := NewRouter(testConfig(t), db)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer bg.Shutdown()

	for _, path := range []string{"/api/v1/events", "/api/v1/admin/partitions", "/api/v1/exports/x"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, w.Code)
		}
	}
}

func TestNewRouter_RejectsMissingJWTSecret(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := testConfig(t)
	cfg.Auth.JWTSecret = ""
	if _, _, err := NewRouter(cfg, db); err == nil {
		t.Error("expected error for empty JWT secret")
	}
}
