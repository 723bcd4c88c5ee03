package snapshot

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
	g := api.Group("/state")
	g.GET("", h.GetState, auth.RequireRole(auth.ReadRoles...))
	g.PUT("", h.PutState, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) GetState(c echo.Context) error {
	st, err := h.svc.Load(c.Request().Context(), center.FromEcho(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) PutState(c echo.Context) error {
	var st State
	if err := c.Bind(&st); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Apply(c.Request().Context(), center.FromEcho(c), &st)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "written": res})
}
