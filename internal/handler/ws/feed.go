package ws

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"OTCDesk/internal/domain/models"
	domrepo "OTCDesk/internal/domain/repository"
	"OTCDesk/internal/service/ratelimit"
	"OTCDesk/internal/usecase"
	applogger "OTCDesk/pkg/logger"
	xutil "OTCDesk/pkg/util"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// FeedHandler streams published ticks to websocket clients. Each client is
// rate limited independently; ticks over the limit are skipped for it.
type FeedHandler struct {
	dist    *usecase.TickDistributor
	rl      *ratelimit.Limiter
	metrics domrepo.Metrics
	l       *applogger.Logger
	rate    float64
	burst   float64
	seq     atomic.Uint64
}

func NewFeedHandler(dist *usecase.TickDistributor, metrics domrepo.Metrics, l *applogger.Logger, perClientRate float64, burst int) *FeedHandler {
	return &FeedHandler{
		dist:    dist,
		rl:      ratelimit.New(),
		metrics: metrics,
		l:       l,
		rate:    perClientRate,
		burst:   float64(burst),
	}
}

func (h *FeedHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/ticks", h.Serve)
}

// Serve upgrades the request. ?symbols=A,B narrows the stream.
func (h *FeedHandler) Serve(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.l.Warn("ws upgrade failed", applogger.Error(err))
		return nil
	}
	defer conn.Close()

	filter := make(map[string]bool)
	for _, s := range xutil.SplitNonEmpty(c.QueryParam("symbols"), ",") {
		filter[strings.TrimSpace(s)] = true
	}

	client := c.RealIP() + "#" + strconv.FormatUint(h.seq.Add(1), 10)
	stream, unsubscribe := h.dist.Subscribe("ws", 256)
	defer unsubscribe()
	defer h.rl.Forget(client)

	h.l.Debug("ws client connected", applogger.String("client", client), applogger.Int("symbols", len(filter)))

	closed := make(chan struct{})
	go readPump(conn, closed)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			h.l.Debug("ws client gone", applogger.String("client", client))
			return nil
		case <-c.Request().Context().Done():
			return nil
		case t, ok := <-stream:
			if !ok {
				return nil
			}
			if len(filter) > 0 && !filter[t.Symbol] {
				continue
			}
			if !h.rl.Allow(client, h.burst, h.rate) {
				h.metrics.RecordTickDropped("ws_rate_limit")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(tickFrame(t)); err != nil {
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

type frame struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Seq    uint64  `json:"seq"`
	T      int64   `json:"t"` // unix millis
}

func tickFrame(t models.Tick) frame {
	return frame{Type: "tick", Symbol: t.Symbol, Price: t.Price, Seq: t.Seq, T: t.Time.UnixMilli()}
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
