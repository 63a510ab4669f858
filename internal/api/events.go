package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/annel0/voxel-terrain/internal/eventbus"
)

const (
	eventQueueSize = 256
	writeTimeout   = 5 * time.Second
	readTimeout    = 60 * time.Second
)

// handleEvents транслирует события шины в websocket.
// ?types=block-load,block-free ограничивает типы событий.
func (rs *RestServer) handleEvents(c *gin.Context) {
	bus := rs.service.Bus()
	if bus == nil {
		fail(c, http.StatusServiceUnavailable, "Шина событий не настроена", nil)
		return
	}

	var filter eventbus.Filter
	if types := c.Query("types"); types != "" {
		filter.Types = strings.Split(types, ",")
	}

	out := make(chan []byte, eventQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case out <- b:
		default:
			// медленный клиент теряет события, шина не ждёт
		}
	})
	if err != nil {
		fail(c, http.StatusServiceUnavailable, "Шина событий закрыта", err)
		return
	}
	defer sub.Unsubscribe()

	// Подписка оформлена до апгрейда: клиент получает все события после рукопожатия
	conn, err := rs.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rs.log.Debug("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	// Читатель нужен только для обнаружения закрытия соединения
	go func() {
		defer cancel()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		case b := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}
