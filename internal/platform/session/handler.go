package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinic/crm/internal/platform/auth"
)

// Authenticator verifies credentials without touching the process session.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*auth.Session, error)
}

type Handler struct {
	mgr   *Manager
	authn Authenticator
}

func NewHandler(mgr *Manager, authn Authenticator) *Handler {
	return &Handler{mgr: mgr, authn: authn}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/auth/login", h.Login)
	g.POST("/auth/bypass", h.Bypass)
	g.POST("/auth/logout", h.Logout)
	g.GET("/auth/session", h.Session)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token,omitempty"`
	ExpiresAt string    `json:"expires_at,omitempty"`
	UserID    string    `json:"user_id"`
	Session   *Snapshot `json:"session,omitempty"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}
	ctx := c.Request().Context()

	if h.mgr.opts.AllowBypass && h.mgr.IsSentinel(req.Email, req.Password) {
		p, err := h.mgr.BypassAuth(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		snap := h.mgr.Snapshot(ctx)
		return c.JSON(http.StatusOK, loginResponse{UserID: p.ID, Session: &snap})
	}

	s, err := h.authn.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid email or password")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "identity provider unavailable")
	}
	return c.JSON(http.StatusOK, loginResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt.Format(http.TimeFormat),
		UserID:    s.UserID,
	})
}

func (h *Handler) Bypass(c echo.Context) error {
	if _, err := h.mgr.BypassAuth(c.Request().Context()); err != nil {
		if errors.Is(err, ErrBypassDisabled) {
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.mgr.Snapshot(c.Request().Context()))
}

// Logout clears a bypass session. Bearer tokens are stateless and simply
// dropped by the client.
func (h *Handler) Logout(c echo.Context) error {
	id := auth.IdentityFromContext(c.Request().Context())
	if id != nil && id.Bypass {
		if err := h.mgr.Logout(c.Request().Context()); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Session(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mgr.Snapshot(c.Request().Context()))
}
