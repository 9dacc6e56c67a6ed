package pipeline

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"rsacomm/internal/message"
)

// WebsocketConn adapts a gorilla websocket connection to Conn. Every text
// frame carries one JSON-encoded message. Writes are serialized with a
// mutex because gorilla connections allow only one concurrent writer.
type WebsocketConn struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func NewWebsocketConn(conn *websocket.Conn) *WebsocketConn {
	return &WebsocketConn{conn: conn}
}

func (c *WebsocketConn) ReadMessage() (*message.Message, error) {
	var msg message.Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("unknown message kind %q", msg.Kind)
	}
	return &msg, nil
}

func (c *WebsocketConn) WriteMessage(msg *message.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *WebsocketConn) Close() error {
	return c.conn.Close()
}
