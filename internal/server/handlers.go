package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades GET requests from allowed origins and registers
// the connection with hub.
func WebSocketHandler(hub *Hub, origins *OriginPolicy) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.Check,
	}
	logger := hub.logger.With(slog.String("component", "websocket"))

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
			return
		}

		t := newWSTransport(conn, r.RemoteAddr, hub.cfg.MaxLineLength)
		if _, err := hub.Register(t); err != nil {
			logger.Warn("connection refused", slog.String("addr", t.ip), slog.Any("error", err))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
			_ = conn.Close()
		}
	}
}

// HealthHandler reports that the server is up and how many connections it
// holds.
func HealthHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "hallchat server is running! %d connections\n", hub.ConnectionCount())
	}
}
