package demo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinic/crm/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/demo", auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	g.POST("/generate", h.Generate)
	// Clear removes every patient, not only the caller's.
	g.DELETE("", h.Clear, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) Generate(c echo.Context) error {
	res, err := h.svc.Generate(c.Request().Context())
	switch {
	case errors.Is(err, ErrNoIdentity):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrDataExists):
		return echo.NewHTTPError(http.StatusConflict, "demo data already exists")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Clear(c echo.Context) error {
	if err := h.svc.Clear(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
