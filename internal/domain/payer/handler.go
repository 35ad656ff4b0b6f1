package payer

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "billing", "collections"))
	readGroup.GET("/payer-policies", h.ListPolicies)
	readGroup.GET("/payer-policies/:category", h.GetPolicy)

	writeGroup := api.Group("", auth.RequireRole("admin"))
	writeGroup.PUT("/payer-policies/:category", h.UpsertPolicy)
}

func (h *Handler) ListPolicies(c echo.Context) error {
	policies, err := h.svc.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, policies)
}

func (h *Handler) GetPolicy(c echo.Context) error {
	p := h.svc.Lookup(c.Param("category"))
	if p == nil {
		return echo.NewHTTPError(http.StatusNotFound, "payer policy not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpsertPolicy(c echo.Context) error {
	var p Policy
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.Category = c.Param("category")
	if err := h.svc.Upsert(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}
