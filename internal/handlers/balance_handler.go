package handlers

import (
	"net/http"
	"time"

	"ledger-service/internal/middleware"
	"ledger-service/internal/notify"
	"ledger-service/pkg/common"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultHistoryDays = 30
	defaultSeriesHours = 24
	defaultKeepAlive   = 25 * time.Second
	writeWait          = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *Handler) Balance(c *gin.Context) {
	summary, err := h.Summary.Summary(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(summary, "success"))
}

// BalanceHistory returns the record together with its recent history entries.
func (h *Handler) BalanceHistory(c *gin.Context) {
	rec, err := h.Summary.BalanceWithHistory(c.Request.Context(), middleware.GetUserID(c),
		queryInt(c, "days", defaultHistoryDays))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(rec, "success"))
}

// BalanceSeries returns a gap-filled chart series, hourly when ?hours= is set.
func (h *Handler) BalanceSeries(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	var (
		points interface{}
		err    error
	)
	if c.Query("hours") != "" {
		points, err = h.Summary.HourlySeries(ctx, userID, queryInt(c, "hours", defaultSeriesHours))
	} else {
		points, err = h.Summary.DailySeries(ctx, userID, queryInt(c, "days", defaultHistoryDays))
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(points, "success"))
}

func (h *Handler) RefreshBalance(c *gin.Context) {
	rec, err := h.Ledger.Recompute(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(rec, "balance recalculated"))
}

func (h *Handler) keepAlive() time.Duration {
	if h.KeepAlive > 0 {
		return h.KeepAlive
	}
	return defaultKeepAlive
}

// StreamBalance pushes balance events over server-sent events. The first
// event is the current summary.
func (h *Handler) StreamBalance(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	summary, err := h.Summary.Summary(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	events, cancel := h.Broker.Subscribe(userID)
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("balance", summary)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive())
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(notify.EventBalanceUpdate, ev)
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// BalanceSocket is the websocket variant of StreamBalance. Incoming frames
// are only read to notice the client going away.
func (h *Handler) BalanceSocket(c *gin.Context) {
	userID := middleware.GetUserID(c)
	summary, err := h.Summary.Summary(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := h.Broker.Subscribe(userID)
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v interface{}) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}
	if err := write(gin.H{"type": "balance", "data": summary}); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive())
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := write(gin.H{"type": notify.EventBalanceUpdate, "data": ev}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
