package claims

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/pkg/money"
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
	readGroup.GET("/claims", h.ListClaims)
	readGroup.GET("/claims/:id", h.GetClaim)
	readGroup.GET("/claims/:id/transitions", h.ListTransitions)
	readGroup.GET("/claims/:id/payments", h.ListPayments)

	billingGroup := api.Group("", auth.RequireRole("admin", "billing"))
	billingGroup.POST("/claims", h.CreateClaim)
	billingGroup.DELETE("/claims/:id", h.DiscardDraft)
	billingGroup.POST("/claims/:id/submit", h.SubmitClaim)
	billingGroup.POST("/claims/:id/accept", h.AcceptClaim)
	billingGroup.POST("/claims/:id/deny", h.DenyClaim)
	billingGroup.POST("/claims/:id/appeal", h.AppealClaim)
	billingGroup.POST("/claims/:id/appeal/resolve", h.ResolveAppeal)
	billingGroup.POST("/claims/:id/resubmit", h.ResubmitClaim)
	billingGroup.PUT("/claims/:id/eligibility", h.RecordEligibility)

	paymentsGroup := api.Group("", auth.RequireRole("admin", "billing", "collections"))
	paymentsGroup.POST("/claims/:id/payments", h.PostPayment)
}

// httpError maps a classified claim error onto an HTTP status.
func httpError(err error) error {
	switch KindOf(err) {
	case KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case KindInvalidStateTransition, KindVersionConflict:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case KindOverpaymentRejected, KindEligibilityNotVerified,
		KindMissingDenialCode, KindInvalidDenialCode:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case KindUnknownProcedureCode, KindInvalidQuantity,
		KindNegativeOrZeroAmount, KindUnknownPayerCategory:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func claimID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid claim id")
	}
	return id, nil
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) CreateClaim(c echo.Context) error {
	var in BuildInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	claim, err := h.svc.Create(c.Request().Context(), in, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := claimID(c)
	if err != nil {
		return err
	}
	claim, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) ListClaims(c echo.Context) error {
	pg := pagination.FromContext(c)

	f := QueryFilter{
		Status:        Status(c.QueryParam("status")),
		PayerCategory: c.QueryParam("payer_category"),
		Outstanding:   c.QueryParam("outstanding") == "true",
	}
	if f.Status != "" && !ValidStatus(f.Status) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status filter")
	}
	if pid := c.QueryParam("patient_id"); pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = id
	}

	claims, total, err := h.svc.Query(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(claims, total, pg.Limit, pg.Offset))
}

func (h *Handler) DiscardDraft(c echo.Context) error {
	id, err := claimID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DiscardDraft(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	return h.simpleTransition(c, h.svc.Submit)
}

func (h *Handler) AcceptClaim(c echo.Context) error {
	return h.simpleTransition(c, h.svc.Accept)
}

func (h *Handler) simpleTransition(c echo.Context, op func(ctx context.Context, id uuid.UUID, actor string) (*Claim, error)) error {
	id, err := claimID(c)
	if err != nil {
		return err
	}
	claim, err := op(c.Request().Context(), id, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) DenyClaim(c echo.Context) error {
	id, err := claimID(c)
	if err != nil {
		return err
	}
	var body struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.Deny(c.Request().Context(), id, body.Code, body.Reason, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) AppealClaim(c echo.Context) error {
	id, err := claimID(c)
	if err != nil {
		return err
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.Appeal(c.Request().Context(), id, body.Notes, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) ResolveAppeal(c echo.Context) error {
	id, err := claimID(c)
	if err != nil {
		return err
	}
	var body struct {
		Outcome string `json:"outcome"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.ResolveAppeal(c.Request().Context(), id, Status(body.Outcome), actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) ResubmitClaim(c echo.Context) error {
	id, err := claimID(c)
	if err != nil {
		return err
	}
	claim, err := h.svc.Resubmit(c.Request().Context(), id, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) PostPayment(c echo.Context) error {
	id, err := claimID(c)
	if err != nil {
		return err
	}
	var body struct {
		Amount    string `json:"amount"`
		Method    string `json:"method"`
		Reference string `json:"reference"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.Parse(body.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.PostPayment(c.Request().Context(), id, amount, body.Method, body.Reference, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) RecordEligibility(c echo.Context) error {
	id, err := claimID(c)
	if err != nil {
		return err
	}
	var body struct {
		Verified bool `json:"verified"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.RecordEligibility(c.Request().Context(), id, body.Verified, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) ListTransitions(c echo.Context) error {
	id, err := claimID(c)
	if err != nil {
		return err
	}
	history, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := claimID(c)
	if err != nil {
		return err
	}
	payments, err := h.svc.Payments(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, payments)
}
