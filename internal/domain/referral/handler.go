package referral

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pdclinic/pdclinic/internal/domain/episode"
	"github.com/pdclinic/pdclinic/internal/platform/auth"
	"github.com/pdclinic/pdclinic/internal/platform/center"
	"github.com/pdclinic/pdclinic/internal/platform/store"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/referrals", h.ListReferrals)
	read.GET("/referrals/unread-count", h.UnreadCount)
	read.GET("/referrals/:id", h.GetReferral)

	send := api.Group("", auth.RequireRole(auth.RoleDoctor))
	send.POST("/referrals", h.CreateReferral)
	send.GET("/episodes/:id/referral-draft", h.GetDraft)

	inbox := api.Group("", auth.RequireRole(auth.SurgicalRoles...))
	inbox.POST("/referrals/:id/review", h.ReviewReferral)
}

func author(c echo.Context) episode.Author {
	ctx := c.Request().Context()
	return episode.Author{ID: auth.UserIDFromContext(ctx), Role: auth.RoleFromContext(ctx)}
}

func (h *Handler) CreateReferral(c echo.Context) error {
	var r Referral
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&r); err != nil {
		return err
	}
	if err := h.svc.Create(c.Request().Context(), center.FromEcho(c), author(c), &r); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ListReferrals(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context(), center.FromEcho(c), c.QueryParam("status"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetReferral(c echo.Context) error {
	r, err := h.svc.Get(c.Request().Context(), center.FromEcho(c), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ReviewReferral(c echo.Context) error {
	r, err := h.svc.Review(c.Request().Context(), center.FromEcho(c), c.Param("id"), author(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) UnreadCount(c echo.Context) error {
	n, err := h.svc.UnreadCount(c.Request().Context(), center.FromEcho(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) GetDraft(c echo.Context) error {
	d, err := h.svc.Draft(c.Request().Context(), center.FromEcho(c), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrSenderRole):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalid), errors.Is(err, episode.ErrPatientMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
