package notification

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const writeTimeout = 10 * time.Second

// WebsocketHandler streams broker events to websocket clients as JSON objects.
type WebsocketHandler struct {
	broker   *Broker
	upgrader websocket.Upgrader
}

func NewWebsocketHandler(broker *Broker) *WebsocketHandler {
	return &WebsocketHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebsocketHandler) Handle(ctx echo.Context) error {
	conn, err := h.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// The upgrader has already written an HTTP error response
		slog.Warn("websocket upgrade failed", "error", err, "remote_ip", ctx.RealIP())
		return nil
	}
	defer func() {
		_ = conn.Close()
	}()

	sub := h.broker.Subscribe(DefaultSubscriberBuffer)
	defer sub.Close()

	// Clients never send anything meaningful; reading detects the close handshake
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return nil
		case event, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeTimeout))
				return nil
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return nil
			}
			if err := conn.WriteJSON(event); err != nil {
				slog.Debug("websocket write failed, dropping subscriber", "error", err)
				return nil
			}
		}
	}
}
