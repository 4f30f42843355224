// ABOUTME: Adapts a coder/websocket connection to the registry's Transport contract
// ABOUTME: Writes are text frames; Close tears the socket down without waiting for the peer

package chat

import (
	"context"

	"github.com/coder/websocket"
)

type wsTransport struct {
	conn *websocket.Conn
}

// Send writes one text frame. coder/websocket serializes concurrent writers.
func (t *wsTransport) Send(ctx context.Context, payload []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, payload)
}

// Close is called by the registry when the registration is replaced, a send
// fails or the gateway shuts down. The session's read loop then ends.
func (t *wsTransport) Close() error {
	return t.conn.CloseNow()
}
