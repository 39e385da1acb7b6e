package api

import (
	"context"
	"time"

	models "OTCDesk/internal/domain/models"
	"OTCDesk/internal/usecase"
	xhttp "OTCDesk/pkg/http"
	xlogger "OTCDesk/pkg/logger"
	xutil "OTCDesk/pkg/util"

	"github.com/labstack/echo/v4"
)

// AdminEchoHandler exposes the manual control surface. Authentication happens
// upstream; the acting admin is named in each request body.
type AdminEchoHandler struct {
	logger *xlogger.Logger
	svc    *usecase.ManualControlService
	audit  *usecase.AuditLog
}

func NewAdminEchoHandler(logger *xlogger.Logger, svc *usecase.ManualControlService, audit *usecase.AuditLog) *AdminEchoHandler {
	return &AdminEchoHandler{logger: logger, svc: svc, audit: audit}
}

func (h *AdminEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/admin")
	g.GET("/controls", h.ListControls)
	g.GET("/controls/:symbol", h.GetControl)
	g.PUT("/controls/:symbol/bias", h.SetBias)
	g.DELETE("/controls/:symbol/bias", h.ClearBias)
	g.PUT("/controls/:symbol/volatility", h.SetVolatility)
	g.DELETE("/controls/:symbol/volatility", h.ClearVolatility)
	g.PUT("/controls/:symbol/override", h.SetOverride)
	g.DELETE("/controls/:symbol/override", h.ClearOverride)
	g.POST("/controls/:symbol/reset", h.Reset)

	g.GET("/trades/open", h.OpenTrades)
	g.POST("/trades/:id/force", h.ForceTrade)

	g.GET("/targets", h.ListTargets)
	g.PUT("/targets/:userId", h.SetTargeting)
	g.DELETE("/targets/:userId", h.RemoveTargeting)

	g.GET("/interventions", h.Interventions)
}

func (h *AdminEchoHandler) ListControls(c echo.Context) error {
	controls := h.svc.ListControls(c.Request().Context())
	return xhttp.ListResponse(c, controls, int64(len(controls)))
}

func (h *AdminEchoHandler) GetControl(c echo.Context) error {
	ctl, err := h.svc.GetControl(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		return errorResponse(c, h.logger, "get control", err)
	}
	return xhttp.SuccessResponse(c, ctl)
}

func (h *AdminEchoHandler) SetBias(c echo.Context) error {
	req := &models.SetBiasRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	m, err := mutation(req.AdminID, req.DurationMinutes, req.Reason)
	if err != nil {
		return errorResponse(c, h.logger, "set bias", err)
	}
	ctl, err := h.svc.SetDirectionBias(c.Request().Context(), c.Param("symbol"), *req.Bias, *req.Strength, m)
	if err != nil {
		return errorResponse(c, h.logger, "set bias", err)
	}
	return xhttp.SuccessResponse(c, ctl)
}

func (h *AdminEchoHandler) ClearBias(c echo.Context) error {
	return h.clear(c, h.svc.ClearDirectionBias)
}

func (h *AdminEchoHandler) SetVolatility(c echo.Context) error {
	req := &models.SetVolatilityRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	m, err := mutation(req.AdminID, req.DurationMinutes, req.Reason)
	if err != nil {
		return errorResponse(c, h.logger, "set volatility", err)
	}
	ctl, err := h.svc.SetVolatility(c.Request().Context(), c.Param("symbol"), *req.Multiplier, m)
	if err != nil {
		return errorResponse(c, h.logger, "set volatility", err)
	}
	return xhttp.SuccessResponse(c, ctl)
}

func (h *AdminEchoHandler) ClearVolatility(c echo.Context) error {
	return h.clear(c, h.svc.ClearVolatility)
}

func (h *AdminEchoHandler) SetOverride(c echo.Context) error {
	req := &models.SetOverrideRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	m, err := mutation(req.AdminID, req.DurationMinutes, req.Reason)
	if err != nil {
		return errorResponse(c, h.logger, "set override", err)
	}
	ctl, err := h.svc.SetPriceOverride(c.Request().Context(), c.Param("symbol"), *req.Price, m)
	if err != nil {
		return errorResponse(c, h.logger, "set override", err)
	}
	return xhttp.SuccessResponse(c, ctl)
}

func (h *AdminEchoHandler) ClearOverride(c echo.Context) error {
	return h.clear(c, h.svc.ClearPriceOverride)
}

func (h *AdminEchoHandler) Reset(c echo.Context) error {
	return h.clear(c, h.svc.ResetSymbol)
}

type clearFunc func(ctx context.Context, symbol string, m models.Mutation) (models.ManualControl, error)

func (h *AdminEchoHandler) clear(c echo.Context, fn clearFunc) error {
	req := &models.AdminActionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	m, _ := mutation(req.AdminID, 0, req.Reason)
	ctl, err := fn(c.Request().Context(), c.Param("symbol"), m)
	if err != nil {
		return errorResponse(c, h.logger, "clear control", err)
	}
	return xhttp.SuccessResponse(c, ctl)
}

func (h *AdminEchoHandler) OpenTrades(c echo.Context) error {
	trades, err := h.svc.ListOpenTrades(c.Request().Context(), c.QueryParam("symbol"))
	if err != nil {
		return errorResponse(c, h.logger, "list open trades", err)
	}
	return xhttp.ListResponse(c, trades, int64(len(trades)))
}

func (h *AdminEchoHandler) ForceTrade(c echo.Context) error {
	req := &models.ForceTradeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id := c.Param("id")
	outcome := models.Outcome(req.Outcome)
	m, _ := mutation(req.AdminID, 0, req.Reason)
	if err := h.svc.ForceTradeOutcome(c.Request().Context(), id, outcome, m); err != nil {
		return errorResponse(c, h.logger, "force trade", err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{"trade_id": id, "outcome": outcome})
}

func (h *AdminEchoHandler) ListTargets(c echo.Context) error {
	targets := h.svc.ListUserTargets()
	return xhttp.ListResponse(c, targets, int64(len(targets)))
}

func (h *AdminEchoHandler) SetTargeting(c echo.Context) error {
	req := &models.SetTargetingRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	patch := models.TargetingPatch{
		TargetWinRate: req.TargetWinRate,
		ClearWinRate:  req.ClearWinRate,
		ForceNextWin:  req.ForceNextWin,
		ForceNextLose: req.ForceNextLose,
	}
	m, _ := mutation(req.AdminID, 0, req.Reason)
	t, err := h.svc.SetUserTargeting(c.Request().Context(), c.Param("userId"), req.Symbol, patch, m)
	if err != nil {
		return errorResponse(c, h.logger, "set targeting", err)
	}
	return xhttp.SuccessResponse(c, t)
}

func (h *AdminEchoHandler) RemoveTargeting(c echo.Context) error {
	req := &models.AdminActionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	userID := c.Param("userId")
	symbol := c.QueryParam("symbol")
	m, _ := mutation(req.AdminID, 0, req.Reason)
	if err := h.svc.RemoveUserTargeting(c.Request().Context(), userID, symbol, m); err != nil {
		return errorResponse(c, h.logger, "remove targeting", err)
	}
	key := models.NewTargetKey(userID, symbol)
	return xhttp.SuccessResponse(c, map[string]interface{}{"user_id": key.UserID, "symbol": key.Symbol, "is_active": false})
}

func (h *AdminEchoHandler) Interventions(c echo.Context) error {
	req := &models.InterventionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f := models.InterventionFilter{
		AdminID:    req.AdminID,
		ActionType: models.ActionType(req.ActionType),
		TargetType: models.TargetType(req.TargetType),
		TargetID:   req.TargetID,
		Limit:      req.Limit,
		Offset:     req.Offset,
	}
	if req.From != "" {
		t, ok := xutil.ParseTime(req.From)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.ValidationFieldError("from", "from must be RFC3339 or unix seconds"))
		}
		f.From = &t
	}
	if req.To != "" {
		t, ok := xutil.ParseTime(req.To)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.ValidationFieldError("to", "to must be RFC3339 or unix seconds"))
		}
		f.To = &t
	}
	page, err := h.audit.Query(c.Request().Context(), f)
	if err != nil {
		return errorResponse(c, h.logger, "query interventions", err)
	}
	return xhttp.SuccessResponse(c, page)
}

// mutation converts duration_minutes to whole seconds. A positive value under
// one second would otherwise read as "no expiry".
func mutation(adminID string, minutes float64, reason string) (models.Mutation, error) {
	m := models.Mutation{AdminID: adminID, Reason: reason}
	if minutes <= 0 {
		return m, nil
	}
	if minutes*float64(time.Minute) > float64(models.MaxControlDuration) {
		return m, models.ValidationErrorf("duration_minutes", "duration_minutes cannot exceed %d", int(models.MaxControlDuration/time.Minute))
	}
	m.Duration = time.Duration(minutes * float64(time.Minute)).Truncate(time.Second)
	if m.Duration < time.Second {
		return m, models.ValidationErrorf("duration_minutes", "duration_minutes must be at least one second")
	}
	return m, nil
}
