package catalog

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "billing", "collections"))
	readGroup.GET("/procedure-codes", h.ListProcedureCodes)
	readGroup.GET("/procedure-codes/:code", h.GetProcedureCode)

	writeGroup := api.Group("", auth.RequireRole("admin"))
	writeGroup.PUT("/procedure-codes/:code", h.UpsertProcedureCode)
}

func (h *Handler) ListProcedureCodes(c echo.Context) error {
	pg := pagination.FromContext(c)
	category := c.QueryParam("category")

	codes, total, err := h.svc.List(c.Request().Context(), category, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(codes, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetProcedureCode(c echo.Context) error {
	pc, err := h.svc.Get(c.Request().Context(), c.Param("code"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "procedure code not found")
	}
	return c.JSON(http.StatusOK, pc)
}

func (h *Handler) UpsertProcedureCode(c echo.Context) error {
	var pc ProcedureCode
	if err := c.Bind(&pc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pc.Code = c.Param("code")
	if err := h.svc.Upsert(c.Request().Context(), &pc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pc)
}
