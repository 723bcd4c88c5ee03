package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// bulkRoute is the only endpoint allowed the larger body limit: a full
// center state replacement.
const bulkRoute = "/api/state"

// BodyLimit caps request bodies at defaultLimit, or bulkLimit for
// PUT /api/state. Limits use K, M or G suffixes; a bare number is bytes.
func BodyLimit(defaultLimit string, bulkLimit string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	bulkBytes := parseLimit(bulkLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Body == nil || c.Request().Body == http.NoBody {
				return next(c)
			}

			req := c.Request()
			limit := defaultBytes
			if req.Method == http.MethodPut && req.URL.Path == bulkRoute {
				limit = bulkBytes
			}
			if req.ContentLength > limit {
				return payloadTooLarge(limit)
			}
			// Content-Length may be absent or wrong; count what is read.
			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: limit, limit: limit}

			return next(c)
		}
	}
}

// limitedReadCloser fails every read once more than limit bytes were seen.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	limit     int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (n int, err error) {
	if r.exceeded {
		return 0, payloadTooLarge(r.limit)
	}

	if room := r.remaining + 1; int64(len(p)) > room {
		p = p[:room]
	}
	n, err = r.ReadCloser.Read(p)
	if r.remaining -= int64(n); r.remaining < 0 {
		r.exceeded = true
		return 0, payloadTooLarge(r.limit)
	}
	return n, err
}

func payloadTooLarge(limit int64) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit))
}

var sizeSuffixes = []struct {
	suffix     string
	multiplier int64
}{
	{"GB", 1 << 30}, {"G", 1 << 30},
	{"MB", 1 << 20}, {"M", 1 << 20},
	{"KB", 1 << 10}, {"K", 1 << 10},
}

// parseLimit turns "512K", "10M" or "1G" into bytes. Empty or malformed
// values fall back to 1 MB.
func parseLimit(s string) int64 {
	const fallback = 1 << 20
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	multiplier := int64(1)
	for _, sfx := range sizeSuffixes {
		if strings.HasSuffix(s, sfx.suffix) {
			multiplier = sfx.multiplier
			s = strings.TrimSuffix(s, sfx.suffix)
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n * multiplier
}
