package ripple

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FumingPower3925/ripple/internal/h1"
	"github.com/FumingPower3925/ripple/internal/strand"
	"github.com/FumingPower3925/ripple/internal/transport"
	"github.com/FumingPower3925/ripple/internal/wsconn"
)

// newTestWebsocket returns a websocket over an idle pipe, for exercising
// middlewares without a network round trip.
func newTestWebsocket(t *testing.T, headers ...[2]string) *Websocket {
	t.Helper()

	s := NewWithDefaults().Handler(HandlerFuncs{})
	require.NoError(t, s.prepare())

	server, client := net.Pipe()
	req := &h1.Request{Method: "GET", Path: "/ws", Version: "HTTP/1.1", Headers: headers}
	ws := newWebsocket(s, req)
	ws.conn = wsconn.New(wsconn.NextID(), transport.NewNetStream(server, nil), s.settings, ws.onFrame, ws.onClose)

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return ws
}

// newInlineServer returns a prepared server whose connections run their
// strands on the calling goroutine.
func newInlineServer(t *testing.T, h Handler) *Server {
	t.Helper()

	s := New(testConfig()).Handler(h)
	require.NoError(t, s.prepare())
	s.settings = s.config.settings(strand.Inline)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func textMessage(s string) Message {
	return Message{Opcode: OpText, Fin: true, Payload: []byte(s)}
}

func okHandler() MessageHandler {
	return MessageHandlerFunc(func(context.Context, *Websocket, Message) error { return nil })
}

// brokenStream accepts the upgrade but fails every write, like a peer that
// resets right after the handshake.
type brokenStream struct {
	mu     sync.Mutex
	closed bool
	read   transport.ReadCallback
}

func (b *brokenStream) ReadSome(_ []byte, cb transport.ReadCallback) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cb(0, transport.ErrAborted)
		return
	}
	b.read = cb
	b.mu.Unlock()
}

func (b *brokenStream) Write(_ [][]byte, cb transport.WriteCallback) {
	cb(0, errors.New("broken pipe"))
}

func (b *brokenStream) Shutdown() error { return nil }

func (b *brokenStream) Close() error {
	b.mu.Lock()
	b.closed = true
	read := b.read
	b.read = nil
	b.mu.Unlock()
	if read != nil {
		read(0, transport.ErrAborted)
	}
	return nil
}

func (b *brokenStream) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

func (b *brokenStream) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

// lifecycleCounter counts OnOpen and OnClose calls.
type lifecycleCounter struct {
	HandlerFuncs
	opens  atomic.Int64
	closes atomic.Int64
}

func newLifecycleCounter() *lifecycleCounter {
	c := &lifecycleCounter{}
	c.Open = func(*Websocket) { c.opens.Add(1) }
	c.Close = func(*Websocket, string) { c.closes.Add(1) }
	return c
}

func switchingProtocols(path string) *h1.Accepted {
	return &h1.Accepted{
		Request:  &h1.Request{Method: "GET", Path: path, Version: "HTTP/1.1"},
		Response: []byte("HTTP/1.1 101 Switching Protocols\r\n\r\n"),
	}
}
