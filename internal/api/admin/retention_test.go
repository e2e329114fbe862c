package admin

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jcom-dev/zmanim-audit/internal/db/models"
)

type fakePolicies struct {
	policies map[int64]*models.RetentionPolicy
	nextID   int64
}

func newFakePolicies(policies ...*models.RetentionPolicy) *fakePolicies {
	f := &fakePolicies{policies: make(map[int64]*models.RetentionPolicy), nextID: 1}
	for _, p := range policies {
		p.ID = f.nextID
		f.policies[p.ID] = p
		f.nextID++
	}
	return f
}

func (f *fakePolicies) List(context.Context) ([]*models.RetentionPolicy, error) {
	out := make([]*models.RetentionPolicy, 0, len(f.policies))
	for id := int64(1); id < f.nextID; id++ {
		if p, ok := f.policies[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePolicies) Get(_ context.Context, id int64) (*models.RetentionPolicy, error) {
	p, ok := f.policies[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakePolicies) Create(_ context.Context, p *models.RetentionPolicy) error {
	p.ID = f.nextID
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	f.policies[p.ID] = p
	f.nextID++
	return nil
}

func (f *fakePolicies) Update(_ context.Context, p *models.RetentionPolicy) error {
	if _, ok := f.policies[p.ID]; !ok {
		return sql.ErrNoRows
	}
	f.policies[p.ID] = p
	return nil
}

func (f *fakePolicies) Delete(_ context.Context, id int64) error {
	if _, ok := f.policies[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.policies, id)
	return nil
}

func (f *fakePolicies) Resolve(_ context.Context, category, action string) (*models.RetentionPolicy, error) {
	var wildcard *models.RetentionPolicy
	for id := int64(1); id < f.nextID; id++ {
		p, ok := f.policies[id]
		if !ok || p.EventCategory != category {
			continue
		}
		if p.EventAction != nil && *p.EventAction == action {
			return p, nil
		}
		if p.EventAction == nil && wildcard == nil {
			wildcard = p
		}
	}
	return wildcard, nil
}

func retentionRouter(h *RetentionHandler) *gin.Engine {
	router := gin.New()
	router.GET("/admin/retention-policies", h.List)
	router.POST("/admin/retention-policies", h.Create)
	router.GET("/admin/retention-policies/resolve", h.Resolve)
	router.GET("/admin/retention-policies/:id", h.Get)
	router.PUT("/admin/retention-policies/:id", h.Update)
	router.DELETE("/admin/retention-policies/:id", h.Delete)
	return router
}

func actionPtr(s string) *string { return &s }

func TestRetentionCreate_ThenGet(t *testing.T) {
	fake := newFakePolicies()
	router := retentionRouter(NewRetentionHandler(fake))

	body := `{
		"event_category": "auth",
		"event_action":   "login",
		"hot_days":       90,
		"warm_days":      275,
		"cold_days":      2190,
		"compliance_justification": "security review window"
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/retention-policies", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/retention-policies/1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp["event_category"] != "auth" || resp["hot_days"] != float64(90) {
		t.Errorf("resp = %v", resp)
	}
	if resp["wildcard"] != false {
		t.Errorf("wildcard = %v, want false", resp["wildcard"])
	}
}

func TestRetentionCreate_EmptyActionBecomesWildcard(t *testing.T) {
	fake := newFakePolicies()
	router := retentionRouter(NewRetentionHandler(fake))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/retention-policies",
		bytes.NewBufferString(`{"event_category": "zman", "event_action": "", "hot_days": 30}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if fake.policies[1].EventAction != nil {
		t.Errorf("EventAction = %v, want nil wildcard", fake.policies[1].EventAction)
	}
}

func TestRetentionCreate_NegativeDays(t *testing.T) {
	router := retentionRouter(NewRetentionHandler(newFakePolicies()))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/retention-policies",
		bytes.NewBufferString(`{"event_category": "zman", "hot_days": -1}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRetentionGet_NotFound(t *testing.T) {
	router := retentionRouter(NewRetentionHandler(newFakePolicies()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/retention-policies/99", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRetentionUpdate_NotFound(t *testing.T) {
	router := retentionRouter(NewRetentionHandler(newFakePolicies()))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/admin/retention-policies/99",
		bytes.NewBufferString(`{"event_category": "zman", "hot_days": 30}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRetentionDelete(t *testing.T) {
	fake := newFakePolicies(&models.RetentionPolicy{EventCategory: "zman"})
	router := retentionRouter(NewRetentionHandler(fake))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/retention-policies/1", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if len(fake.policies) != 0 {
		t.Errorf("policy not deleted")
	}
}

func TestRetentionResolve_ExactBeatsWildcard(t *testing.T) {
	fake := newFakePolicies(
		&models.RetentionPolicy{EventCategory: "auth", HotDays: 30},
		&models.RetentionPolicy{EventCategory: "auth", EventAction: actionPtr("login"), HotDays: 90},
	)
	router := retentionRouter(NewRetentionHandler(fake))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/admin/retention-policies/resolve?category=auth&action=login", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp["hot_days"] != float64(90) {
		t.Errorf("hot_days = %v, want exact policy's 90", resp["hot_days"])
	}
}

func TestRetentionResolve_NoPolicy(t *testing.T) {
	router := retentionRouter(NewRetentionHandler(newFakePolicies()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/admin/retention-policies/resolve?category=coverage", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRetentionResolve_MissingCategory(t *testing.T) {
	router := retentionRouter(NewRetentionHandler(newFakePolicies()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/retention-policies/resolve", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
