package episode

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

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
	read.GET("/episodes", h.ListEpisodes)
	read.GET("/episodes/:id", h.GetEpisode)
	read.GET("/episodes/:id/wifi", h.GetWifi)
	read.GET("/episodes/:id/visits", h.ListVisits)
	read.GET("/patients/:id/episodes", h.ListPatientEpisodes)
	read.GET("/visits/:id", h.GetVisit)

	clinical := api.Group("", auth.RequireRole(auth.ClinicalRoles...))
	clinical.POST("/episodes", h.CreateEpisode)
	clinical.PUT("/episodes/:id", h.UpdateEpisode)
	clinical.POST("/episodes/:id/documents", h.AddDocument)
	clinical.POST("/episodes/:id/visits", h.CreateVisit)

	lifecycle := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleSurgery, auth.RoleVascular))
	lifecycle.POST("/episodes/:id/close", h.CloseEpisode)

	surgical := api.Group("", auth.RequireRole(auth.SurgicalRoles...))
	surgical.POST("/episodes/:id/procedures", h.AddProcedure)
}

func author(c echo.Context) Author {
	ctx := c.Request().Context()
	return Author{ID: auth.UserIDFromContext(ctx), Role: auth.RoleFromContext(ctx)}
}

// -- Episode Handlers --

func (h *Handler) CreateEpisode(c echo.Context) error {
	var e Episode
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&e); err != nil {
		return err
	}
	if err := h.svc.CreateEpisode(c.Request().Context(), center.FromEcho(c), &e); err != nil {
		return toHTTPError(err, "episode not found")
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEpisode(c echo.Context) error {
	e, err := h.svc.GetEpisode(c.Request().Context(), center.FromEcho(c), c.Param("id"))
	if err != nil {
		return toHTTPError(err, "episode not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEpisodes(c echo.Context) error {
	items, err := h.svc.ListEpisodes(c.Request().Context(), center.FromEcho(c),
		c.QueryParam("patientId"), c.QueryParam("active") == "true")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListPatientEpisodes(c echo.Context) error {
	items, err := h.svc.ListEpisodes(c.Request().Context(), center.FromEcho(c), c.Param("id"), false)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateEpisode(c echo.Context) error {
	var e Episode
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e.ID = c.Param("id")
	if err := h.svc.UpdateEpisode(c.Request().Context(), center.FromEcho(c), &e); err != nil {
		return toHTTPError(err, "episode not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) CloseEpisode(c echo.Context) error {
	e, err := h.svc.CloseEpisode(c.Request().Context(), center.FromEcho(c), c.Param("id"))
	if err != nil {
		return toHTTPError(err, "episode not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) AddProcedure(c echo.Context) error {
	var p Procedure
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&p); err != nil {
		return err
	}
	e, err := h.svc.AddProcedure(c.Request().Context(), center.FromEcho(c), c.Param("id"), author(c), &p)
	if err != nil {
		return toHTTPError(err, "episode not found")
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) AddDocument(c echo.Context) error {
	var d Document
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&d); err != nil {
		return err
	}
	e, err := h.svc.AddDocument(c.Request().Context(), center.FromEcho(c), c.Param("id"), author(c), &d)
	if err != nil {
		return toHTTPError(err, "episode not found")
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetWifi(c echo.Context) error {
	score, err := h.svc.Wifi(c.Request().Context(), center.FromEcho(c), c.Param("id"))
	if err != nil {
		return toHTTPError(err, "episode not found")
	}
	return c.JSON(http.StatusOK, score)
}

// -- Visit Handlers --

func (h *Handler) CreateVisit(c echo.Context) error {
	var v Visit
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v.EpisodeID = c.Param("id")
	if err := c.Validate(&v); err != nil {
		return err
	}
	if err := h.svc.CreateVisit(c.Request().Context(), center.FromEcho(c), author(c), &v); err != nil {
		return toHTTPError(err, "episode not found")
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	ctx := c.Request().Context()
	cid := center.FromEcho(c)
	if _, err := h.svc.GetEpisode(ctx, cid, c.Param("id")); err != nil {
		return toHTTPError(err, "episode not found")
	}
	visits, err := h.svc.ListVisits(ctx, cid, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, visits)
}

func (h *Handler) GetVisit(c echo.Context) error {
	v, err := h.svc.GetVisit(c.Request().Context(), center.FromEcho(c), c.Param("id"))
	if err != nil {
		return toHTTPError(err, "visit not found")
	}
	return c.JSON(http.StatusOK, v)
}

func toHTTPError(err error, notFound string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFound)
	case errors.Is(err, ErrUnknownPatient):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEpisodeClosed), errors.Is(err, ErrEpisodeExists), errors.Is(err, ErrVisitExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
