package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"rsacomm/internal/hub"
	"rsacomm/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is delegated to the cors middleware in main.
		return true
	},
}

type Controller struct {
	hub *hub.Hub
}

func NewController(h *hub.Hub) *Controller {
	return &Controller{hub: h}
}

// HandleWS upgrades the connection and hands it to the hub as a pending
// session. Everything after the upgrade speaks the message protocol.
func (c *Controller) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade failed", "error", err)
		return
	}
	c.hub.Attach(pipeline.NewWebsocketConn(conn))
}

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Error("failed to write health response", "error", err)
	}
}
