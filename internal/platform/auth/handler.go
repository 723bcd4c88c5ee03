package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Public    `json:"user"`
}

// Handler serves the standalone account endpoints.
type Handler struct {
	accounts *Accounts
	issuer   *TokenIssuer
}

func NewHandler(accounts *Accounts, issuer *TokenIssuer) *Handler {
	return &Handler{accounts: accounts, issuer: issuer}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)
	api.POST("/auth/register", h.Register)
	api.GET("/auth/me", h.Me)
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	u, err := h.accounts.Authenticate(c.Request().Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	token, exp, err := h.issuer.Issue(u)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, User: u.Public()})
}

// Register creates an account. Admin accounts are only created from the CLI.
func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Role == RoleAdmin {
		return echo.NewHTTPError(http.StatusForbidden, "admin accounts cannot self-register")
	}
	u, err := h.accounts.Register(c.Request().Context(), req.Email, req.Password, req.Name, req.Role)
	if errors.Is(err, ErrEmailTaken) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, u.Public())
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	id := UserIDFromContext(ctx)
	if id == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	u, err := h.accounts.Get(ctx, id)
	if err != nil {
		return c.JSON(http.StatusOK, Public{ID: id, Email: EmailFromContext(ctx), Role: RoleFromContext(ctx)})
	}
	return c.JSON(http.StatusOK, u.Public())
}
