package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
)

func websocketUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			log.Debug("WebSocket origin: %s", origin)
			// TODO: restrict to ALLOWED_ORIGINS once the web client settles on a host
			return true
		},
	}
}
