package server

import (
	"net"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla websocket connection to downstream.Conn.
type wsConn struct {
	c *websocket.Conn
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{c: c}
}

// ReadText reads frames until a text frame arrives, per spec.md §6:
// downstream-to-proxy frames are text only.
func (w *wsConn) ReadText() (string, error) {
	for {
		mt, data, err := w.c.ReadMessage()
		if err != nil {
			return "", err
		}
		if mt == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (w *wsConn) WriteText(s string) error {
	return w.c.WriteMessage(websocket.TextMessage, []byte(s))
}

func (w *wsConn) WriteBinary(b []byte) error {
	return w.c.WriteMessage(websocket.BinaryMessage, b)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}

func (w *wsConn) RemoteAddr() net.Addr {
	return w.c.RemoteAddr()
}
