// Package center resolves which clinic center a request belongs to. Every
// record is scoped to a center; the resolved id is handed to services as an
// explicit argument rather than read from ambient state.
package center

import (
	"context"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
)

type contextKey string

const centerIDKey contextKey = "center_id"

// Header is the request header that selects a center.
const Header = "X-Center-ID"

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Valid reports whether id is an acceptable center identifier.
func Valid(id string) bool {
	return idPattern.MatchString(id)
}

// Middleware resolves the center for every request and stores it on the
// request context. Resolution order: the auth token claim, the X-Center-ID
// header, the center_id query parameter, then defaultCenter.
func Middleware(defaultCenter string, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			id := extract(c, defaultCenter)
			if !Valid(id) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid center identifier")
			}

			ctx := WithID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("center_id", id)
			return next(c)
		}
	}
}

func extract(c echo.Context, defaultCenter string) string {
	if id, ok := c.Get("jwt_center_id").(string); ok && id != "" {
		return id
	}
	if id := c.Request().Header.Get(Header); id != "" {
		return id
	}
	if id := c.QueryParam("center_id"); id != "" {
		return id
	}
	return defaultCenter
}

// WithID returns a copy of ctx carrying the center id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, centerIDKey, id)
}

// FromContext retrieves the center id from ctx.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(centerIDKey).(string)
	return id
}

// FromEcho is a convenience for handlers.
func FromEcho(c echo.Context) string {
	return FromContext(c.Request().Context())
}
