package alert

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/pdclinic/pdclinic/internal/platform/auth"
	"github.com/pdclinic/pdclinic/internal/platform/center"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/alerts", auth.RequireRole(auth.ReadRoles...))
	read.GET("", h.ListAlerts)
}

// ListAlerts returns the current alerts, optionally filtered by severity,
// type or episodeId.
func (h *Handler) ListAlerts(c echo.Context) error {
	alerts, err := h.svc.Current(c.Request().Context(), center.FromEcho(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	severity, typ, episodeID := c.QueryParam("severity"), c.QueryParam("type"), c.QueryParam("episodeId")
	alerts = lo.Filter(alerts, func(a Alert, _ int) bool {
		return (severity == "" || a.Severity == severity) &&
			(typ == "" || a.Type == typ) &&
			(episodeID == "" || a.EpisodeID == episodeID)
	})
	return c.JSON(http.StatusOK, alerts)
}
