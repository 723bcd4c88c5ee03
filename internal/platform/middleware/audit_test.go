package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pdclinic/pdclinic/internal/platform/auth"
	"github.com/pdclinic/pdclinic/internal/platform/center"
)

// mockRecorder collects audit entries for assertions.
type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newAuditContext(method, target, userID, role, centerID string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	ctx := center.WithID(req.Context(), centerID)
	if userID != "" {
		ctx = auth.WithUser(ctx, userID, "", role)
	}
	return e.NewContext(req.WithContext(ctx), httptest.NewRecorder())
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAudit_PatientRead(t *testing.T) {
	rec := &mockRecorder{}
	c := newAuditContext(http.MethodGet, "/api/patients/p-1", "user-1", auth.RoleNurse, "c1")
	c.Set("request_id", "req-abc")

	if err := Audit(zerolog.New(os.Stderr), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 audit entry, got %d", rec.count())
	}
	entry := rec.last()
	if entry.UserID != "user-1" || entry.Role != auth.RoleNurse || entry.CenterID != "c1" {
		t.Errorf("unexpected identity in entry %+v", entry)
	}
	if entry.Resource != "patients" || entry.ResourceID != "p-1" || entry.PatientID != "p-1" {
		t.Errorf("unexpected resource in entry %+v", entry)
	}
	if entry.Action != "read" || entry.StatusCode != http.StatusOK || entry.RequestID != "req-abc" {
		t.Errorf("unexpected outcome in entry %+v", entry)
	}
}

func TestAudit_VisitCreate(t *testing.T) {
	rec := &mockRecorder{}
	c := newAuditContext(http.MethodPost, "/api/episodes/e-1/visits", "user-2", auth.RoleDoctor, "c1")

	Audit(zerolog.New(os.Stderr), rec)(func(c echo.Context) error {
		return c.String(http.StatusCreated, "created")
	})(c)

	entry := rec.last()
	if entry.Action != "create" || entry.Resource != "episodes" || entry.ResourceID != "e-1" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", entry.StatusCode)
	}
}

func TestAudit_RecordsHTTPErrorStatus(t *testing.T) {
	rec := &mockRecorder{}
	c := newAuditContext(http.MethodPut, "/api/patients/p-9", "user-1", auth.RoleAuditor, "c1")

	err := Audit(zerolog.New(os.Stderr), rec)(func(echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "nope")
	})(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if got := rec.last(); got.StatusCode != http.StatusForbidden || got.Action != "update" {
		t.Errorf("unexpected entry %+v", got)
	}
}

func TestAudit_SkipsNonAuditablePaths(t *testing.T) {
	rec := &mockRecorder{}
	for _, path := range []string{"/health", "/metrics", "/api/auth/login", "/api/health"} {
		c := newAuditContext(http.MethodGet, path, "", "", "c1")
		Audit(zerolog.New(os.Stderr), rec)(okHandler)(c)
	}
	if rec.count() != 0 {
		t.Errorf("expected no audit entries, got %d", rec.count())
	}
}

func TestAudit_RecorderError_DoesNotBreakRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	c := newAuditContext(http.MethodGet, "/api/alerts", "user-1", auth.RoleDoctor, "c1")

	if err := Audit(zerolog.New(os.Stderr), rec)(okHandler)(c); err != nil {
		t.Fatalf("recorder failure should not fail the request: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected recorder to be called once, got %d", rec.count())
	}
}

func TestAudit_NoRecorder_LogOnly(t *testing.T) {
	c := newAuditContext(http.MethodGet, "/api/alerts", "user-1", auth.RoleDoctor, "c1")
	if err := Audit(zerolog.New(os.Stderr))(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAudit_PatientIDFromQuery(t *testing.T) {
	rec := &mockRecorder{}
	c := newAuditContext(http.MethodGet, "/api/episodes?patientId=p-7", "user-1", auth.RoleDoctor, "c1")
	Audit(zerolog.New(os.Stderr), rec)(okHandler)(c)
	if got := rec.last().PatientID; got != "p-7" {
		t.Errorf("expected patient p-7, got %q", got)
	}
}

func TestAuditRecorderFunc(t *testing.T) {
	var got AuditEntry
	f := AuditRecorderFunc(func(e AuditEntry) error {
		got = e
		return nil
	})
	f.RecordAccess(AuditEntry{UserID: "u"})
	if got.UserID != "u" {
		t.Error("expected adapter to forward the entry")
	}
}

func TestHttpMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:   "read",
		http.MethodHead:  "read",
		http.MethodPost:  "create",
		http.MethodPut:   "update",
		http.MethodPatch: "update",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %q, want %q", method, got, want)
		}
	}
}

func TestSplitResource(t *testing.T) {
	tests := []struct {
		path, resource, id string
	}{
		{"/api/patients", "patients", ""},
		{"/api/patients/p-1", "patients", "p-1"},
		{"/api/episodes/e-1/visits", "episodes", "e-1"},
		{"/api/", "unknown", ""},
	}
	for _, tt := range tests {
		r, id := splitResource(tt.path)
		if r != tt.resource || id != tt.id {
			t.Errorf("splitResource(%q) = (%q, %q), want (%q, %q)", tt.path, r, id, tt.resource, tt.id)
		}
	}
}
