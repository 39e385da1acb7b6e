package api

import (
	"time"

	models "OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	"OTCDesk/internal/usecase"
	xhttp "OTCDesk/pkg/http"
	xlogger "OTCDesk/pkg/logger"
	xutil "OTCDesk/pkg/util"

	"github.com/labstack/echo/v4"
)

// PricesEchoHandler serves published prices to clients.
type PricesEchoHandler struct {
	logger  *xlogger.Logger
	engine  *usecase.PriceEngine
	dist    *usecase.TickDistributor
	candles *usecase.CandlesUseCase
	clock   xutil.Clock
}

func NewPricesEchoHandler(logger *xlogger.Logger, engine *usecase.PriceEngine, dist *usecase.TickDistributor, candles *usecase.CandlesUseCase, clock xutil.Clock) *PricesEchoHandler {
	return &PricesEchoHandler{logger: logger, engine: engine, dist: dist, candles: candles, clock: clock}
}

func (h *PricesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/prices")
	g.GET("", h.List)
	g.GET("/:symbol", h.Price)
	g.GET("/:symbol/history", h.History)
	g.GET("/:symbol/candles", h.Candles)
}

type priceView struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Seq    uint64    `json:"seq,omitempty"`
	Time   time.Time `json:"time,omitempty"`
}

func (h *PricesEchoHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	symbols := h.engine.Symbols()
	out := make([]priceView, 0, len(symbols))
	for _, s := range symbols {
		p, err := h.engine.GetPublishedPrice(ctx, s)
		if err != nil {
			continue
		}
		out = append(out, h.view(s, p))
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *PricesEchoHandler) Price(c echo.Context) error {
	symbol := c.Param("symbol")
	p, err := h.engine.GetPublishedPrice(c.Request().Context(), symbol)
	if err != nil {
		return errorResponse(c, h.logger, "get price", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.view(symbol, p))
}

func (h *PricesEchoHandler) view(symbol string, price float64) priceView {
	v := priceView{Symbol: symbol, Price: price}
	if t, ok := h.dist.Last(symbol); ok {
		v.Seq, v.Time = t.Seq, t.Time
	}
	return v
}

func (h *PricesEchoHandler) History(c echo.Context) error {
	symbol := c.Param("symbol")
	if !h.engine.HasSymbol(symbol) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown symbol %s", symbol))
	}
	n := xutil.ParseIntDefault(c.QueryParam("n"), 100)
	ticks := h.dist.History(symbol, n)
	return xhttp.ListResponse(c, ticks, int64(len(ticks)))
}

func (h *PricesEchoHandler) Candles(c echo.Context) error {
	symbol := c.Param("symbol")
	if !h.engine.HasSymbol(symbol) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown symbol %s", symbol))
	}
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	now := h.clock.Now()
	to := xutil.ParseTimeDefault(req.To, now)
	from := xutil.ParseTimeDefault(req.From, to.Add(-time.Hour))
	tf := domrepo.NormalizeTimeframe(req.TF)
	from, to = xutil.AlignFromTo(from, to, string(tf))

	res, err := h.candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:    symbol,
		From:      from,
		To:        to,
		Timeframe: tf,
	})
	if err != nil {
		return errorResponse(c, h.logger, "get candles", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.SuccessResponse(c, res)
}
