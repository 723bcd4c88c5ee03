package settings

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/pdclinic/pdclinic/internal/platform/auth"
	"github.com/pdclinic/pdclinic/internal/platform/center"
	"github.com/pdclinic/pdclinic/internal/platform/store"
)

func newServer() *echo.Echo {
	e := echo.New()
	api := e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := center.WithID(c.Request().Context(), c.Request().Header.Get(center.Header))
			ctx = auth.WithUser(ctx, "admin-1", "", c.Request().Header.Get("X-Test-Role"))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(NewService(store.NewMemoryStore())).RegisterRoutes(api)
	return e
}

func do(e *echo.Echo, centerID, role, method, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/settings", strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(center.Header, centerID)
	req.Header.Set("X-Test-Role", role)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSettings_Defaults(t *testing.T) {
	e := newServer()
	rec := do(e, "c1", auth.RoleNurse, http.MethodGet, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var cfg ClinicalConfig
	json.Unmarshal(rec.Body.Bytes(), &cfg)
	if cfg.ActiveScales != (ActiveScales{Wifi: true}) {
		t.Errorf("unexpected defaults %+v", cfg.ActiveScales)
	}
}

func TestSettings_UpdateIsAdminOnly(t *testing.T) {
	e := newServer()
	body := `{"activeScales":{"wifi":false,"wagner":true,"texas":true}}`

	if rec := do(e, "c1", auth.RoleDoctor, http.MethodPut, body); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for doctor, got %d", rec.Code)
	}

	rec := do(e, "c1", auth.RoleAdmin, http.MethodPut, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var saved ClinicalConfig
	json.Unmarshal(rec.Body.Bytes(), &saved)
	if saved.UpdatedBy != "admin-1" || saved.UpdatedAt.IsZero() {
		t.Errorf("expected update stamp, got %+v", saved)
	}

	rec = do(e, "c1", auth.RoleAuditor, http.MethodGet, "")
	var got ClinicalConfig
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ActiveScales != (ActiveScales{Wagner: true, Texas: true}) {
		t.Errorf("expected saved scales, got %+v", got.ActiveScales)
	}

	rec = do(e, "c2", auth.RoleAuditor, http.MethodGet, "")
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ActiveScales != Default().ActiveScales {
		t.Errorf("other centers keep defaults, got %+v", got.ActiveScales)
	}
}
