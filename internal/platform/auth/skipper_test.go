package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/metrics", true},
		{"/api/auth/login", true},
		{"/api/auth/register", true},
		{"/api/auth/me", false},
		{"/api/patients", false},
		{"/api/state", false},
	}
	for _, tt := range tests {
		e := echo.New()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, tt.path, nil), httptest.NewRecorder())
		c.SetPath(tt.path)
		if got := AuthSkipper(c); got != tt.want {
			t.Errorf("AuthSkipper(%s) = %v, want %v", tt.path, got, tt.want)
		}
		if got := IsPublicPath(tt.path); got != tt.want {
			t.Errorf("IsPublicPath(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
