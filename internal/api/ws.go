package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tertt-dev/grokgates/internal/store"
)

const (
	wsReplayDepth  = 20
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The board is public read-only data; any origin may watch it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// boardStream upgrades to a websocket, replays recent board history oldest
// first, then relays live updates until the client goes away.
func (h *Handlers) boardStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	history, err := h.store.BoardHistory(ctx, wsReplayDepth)
	if err != nil {
		h.logger.WithError(err).Warn("Board replay failed")
	}
	for i := len(history) - 1; i >= 0; i-- {
		if err := conn.WriteJSON(history[i]); err != nil {
			return
		}
	}

	updates := make(chan store.BoardEntry, 16)
	go func() {
		err := h.store.SubscribeBoard(ctx, func(entry store.BoardEntry) {
			select {
			case updates <- entry:
			default:
				// Slow consumer; drop rather than block the subscription.
			}
		})
		if err != nil && ctx.Err() == nil {
			h.logger.WithError(err).Warn("Board subscription ended")
		}
		cancel()
	}()

	// Reads are discarded; the read loop only detects the peer closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-updates:
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
