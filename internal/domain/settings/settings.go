// Package settings keeps the clinical configuration of each center.
package settings

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pdclinic/pdclinic/internal/platform/auth"
	"github.com/pdclinic/pdclinic/internal/platform/center"
	"github.com/pdclinic/pdclinic/internal/platform/store"
	"github.com/pdclinic/pdclinic/pkg/clinicaltime"
)

// documentID is the single settings document of a center.
const documentID = "clinical"

// ActiveScales selects the wound classifications shown on the visit form.
type ActiveScales struct {
	Wifi   bool `json:"wifi"`
	Wagner bool `json:"wagner"`
	Texas  bool `json:"texas"`
}

type ClinicalConfig struct {
	ActiveScales ActiveScales      `json:"activeScales"`
	UpdatedAt    clinicaltime.Time `json:"updatedAt,omitempty"`
	UpdatedBy    string            `json:"updatedBy,omitempty"`
}

// Default is the configuration of a center that never saved one.
func Default() ClinicalConfig {
	return ClinicalConfig{ActiveScales: ActiveScales{Wifi: true}}
}

type Service struct {
	docs *store.Collection[ClinicalConfig]
	now  func() time.Time
}

func NewService(s store.DocumentStore) *Service {
	return &Service{docs: store.NewCollection[ClinicalConfig](s, store.CollectionSettings), now: time.Now}
}

func (s *Service) Get(ctx context.Context, center string) (ClinicalConfig, error) {
	cfg, err := s.docs.Get(ctx, center, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return Default(), nil
	}
	if err != nil {
		return ClinicalConfig{}, err
	}
	return *cfg, nil
}

// Update replaces the center's configuration, stamping who changed it.
func (s *Service) Update(ctx context.Context, center, userID string, cfg ClinicalConfig) (ClinicalConfig, error) {
	cfg.UpdatedAt = clinicaltime.New(s.now().UTC())
	cfg.UpdatedBy = userID
	if err := s.docs.Put(ctx, center, documentID, &cfg); err != nil {
		return ClinicalConfig{}, err
	}
	return cfg, nil
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/settings")
	g.GET("", h.GetSettings, auth.RequireRole(auth.ReadRoles...))
	g.PUT("", h.UpdateSettings, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) GetSettings(c echo.Context) error {
	cfg, err := h.svc.Get(c.Request().Context(), center.FromEcho(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) UpdateSettings(c echo.Context) error {
	var cfg ClinicalConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	saved, err := h.svc.Update(ctx, center.FromEcho(c), auth.UserIDFromContext(ctx), cfg)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, saved)
}
