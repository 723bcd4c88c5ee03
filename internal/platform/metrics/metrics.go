// Package metrics exposes Prometheus collectors for the HTTP layer and the
// clinic's derived state (active alerts, pending referrals).
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build independent instances.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	AlertsActive     *prometheus.GaugeVec
	ReferralsPending *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pd_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AlertsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pd_alerts_active",
				Help: "Alerts produced by the last recomputation, per center and severity",
			},
			[]string{"center", "severity"},
		),
		ReferralsPending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pd_referrals_pending",
				Help: "Referrals still in Pendiente status, per center",
			},
			[]string{"center"},
		),
	}
	m.Registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.AlertsActive,
		m.ReferralsPending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Middleware records request counts and latency by route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < 400 {
					status = 500
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
}

// SetAlerts replaces the per-severity alert gauges for a center.
func (m *Metrics) SetAlerts(center string, bySeverity map[string]int) {
	for _, sev := range []string{"Low", "Medium", "High"} {
		m.AlertsActive.WithLabelValues(center, sev).Set(float64(bySeverity[sev]))
	}
}

func (m *Metrics) SetPendingReferrals(center string, n int) {
	m.ReferralsPending.WithLabelValues(center).Set(float64(n))
}
