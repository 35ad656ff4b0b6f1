package analytics

import (
	"net/http"
	"time"

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
	readGroup.GET("/analytics/aging", h.Aging)
	readGroup.GET("/analytics/kpis", h.GetKPIs)
	readGroup.GET("/analytics/revenue", h.Revenue)
}

// parseAsOf reads the as_of query param as a date, defaulting to now.
func parseAsOf(c echo.Context) (time.Time, error) {
	raw := c.QueryParam("as_of")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "as_of must be YYYY-MM-DD")
	}
	return t, nil
}

func (h *Handler) Aging(c echo.Context) error {
	at, err := parseAsOf(c)
	if err != nil {
		return err
	}
	buckets, err := h.svc.Aging(c.Request().Context(), at)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"as_of":   at.Format("2006-01-02"),
		"buckets": buckets,
	})
}

func (h *Handler) GetKPIs(c echo.Context) error {
	at, err := parseAsOf(c)
	if err != nil {
		return err
	}
	kpis, err := h.svc.KPIs(c.Request().Context(), at)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, kpis)
}

func (h *Handler) Revenue(c echo.Context) error {
	start, err := time.Parse("2006-01-02", c.QueryParam("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end must be YYYY-MM-DD")
	}
	if !end.After(start) {
		return echo.NewHTTPError(http.StatusBadRequest, "end must be after start")
	}

	total, err := h.svc.Revenue(c.Request().Context(), start, end)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"start":         start.Format("2006-01-02"),
		"end":           end.Format("2006-01-02"),
		"revenue_cents": total,
		"revenue":       total.String(),
	})
}
