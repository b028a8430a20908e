package agent

import (
	"context"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/hookline/hookline/pkg/api"
)

// Conn is one live transport connection to the server.
type Conn interface {
	ReadMessage(ctx context.Context) (api.ServerMessage, error)
	WriteMessage(ctx context.Context, msg api.ClientMessage) error
	Close() error
}

// Dialer opens transport connections. The websocket implementation is the
// production default; tests inject their own.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the server's websocket endpoint.
type WebsocketDialer struct{}

// Dial opens a websocket connection.
func (WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage(ctx context.Context) (api.ServerMessage, error) {
	var msg api.ServerMessage
	err := wsjson.Read(ctx, c.conn, &msg)
	return msg, err
}

func (c *wsConn) WriteMessage(ctx context.Context, msg api.ClientMessage) error {
	return wsjson.Write(ctx, c.conn, msg)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
