package dashboard

import (
	"net/http"

	"github.com/labstack/echo/v4"

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
	api.GET("/dashboard", h.GetDashboard, auth.RequireRole(auth.ReadRoles...))
}

func (h *Handler) GetDashboard(c echo.Context) error {
	d, err := h.svc.Get(c.Request().Context(), center.FromEcho(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}
