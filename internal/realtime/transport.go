package realtime

import (
	"context"
	"sync/atomic"

	"github.com/coder/websocket"
)

// Transport abstracts the wire beneath a ConnectionWorker. Production
// traffic is carried by wsTransport (below); tests substitute an in-memory
// fake. BufferedBytes is the one piece of backpressure state the worker
// consults before writing a push.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Close(code int, reason string) error
	BufferedBytes() int64
}

// wsTransport adapts a github.com/coder/websocket connection to Transport.
// coder/websocket does not expose the kernel's outbound socket buffer, so
// BufferedBytes tracks the sum of writes currently in flight through this
// adapter — the portion of backpressure this process actually controls.
type wsTransport struct {
	conn     *websocket.Conn
	buffered atomic.Int64
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	t.buffered.Add(int64(len(data)))
	defer t.buffered.Add(-int64(len(data)))
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	return t.conn.Close(websocket.StatusCode(code), reason)
}

func (t *wsTransport) BufferedBytes() int64 {
	return t.buffered.Load()
}
