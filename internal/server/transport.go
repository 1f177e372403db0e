package server

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"github.com/pion/webrtc/v4"
)

// wsTransport adapts a WebSocket connection. Writes are serialized
// because the broadcaster, the audio fan-out and reply paths may send
// concurrently, and the connection allows one writer at a time.
type wsTransport struct {
	ctx  context.Context
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSTransport(ctx context.Context, conn *websocket.Conn) *wsTransport {
	return &wsTransport{ctx: ctx, conn: conn}
}

func (t *wsTransport) SendText(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Write(t.ctx, websocket.MessageText, data)
}

func (t *wsTransport) SendBinary(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Write(t.ctx, websocket.MessageBinary, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

// dataChannelTransport adapts a WebRTC data channel to the same surface.
type dataChannelTransport struct {
	dc *webrtc.DataChannel
}

func newDataChannelTransport(dc *webrtc.DataChannel) *dataChannelTransport {
	return &dataChannelTransport{dc: dc}
}

func (t *dataChannelTransport) SendText(data []byte) error {
	return t.dc.SendText(string(data))
}

func (t *dataChannelTransport) SendBinary(data []byte) error {
	return t.dc.Send(data)
}

func (t *dataChannelTransport) Close() error {
	return t.dc.Close()
}
