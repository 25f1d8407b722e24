package ripple

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/FumingPower3925/ripple/internal/frame"
	"github.com/FumingPower3925/ripple/internal/h1"
	"github.com/FumingPower3925/ripple/internal/wsconn"
)

// Opcode identifies the frame type of a Message.
type Opcode = frame.Opcode

// Frame opcodes.
const (
	OpContinuation = frame.OpContinuation
	OpText         = frame.OpText
	OpBinary       = frame.OpBinary
	OpClose        = frame.OpClose
	OpPing         = frame.OpPing
	OpPong         = frame.OpPong
)

// Close status codes.
const (
	CloseNormal          = frame.CloseNormal
	CloseGoingAway       = frame.CloseGoingAway
	CloseProtocolError   = frame.CloseProtocolError
	CloseUnsupportedData = frame.CloseUnsupportedData
	CloseNoStatus        = frame.CloseNoStatus
	CloseInvalidPayload  = frame.CloseInvalidPayload
	ClosePolicyViolation = frame.ClosePolicyViolation
	CloseMessageTooBig   = frame.CloseMessageTooBig
	CloseInternalError   = frame.CloseInternalError
)

// Close reasons passed to Handler.OnClose for orderly closes. Failures carry
// a description of the error instead.
const (
	ReasonUserInitiated = wsconn.ReasonUserInitiated
	ReasonPeerClosed    = wsconn.ReasonPeerClosed
)

var (
	// ErrClosed is returned when sending on a websocket that is closing.
	ErrClosed = errors.New("ripple: websocket closed")
	// ErrCloseOpcode is returned by SendMessage for OpClose; use Close.
	ErrCloseOpcode = errors.New("ripple: send close frames with Close")
)

// Message is one received frame. Fragmented messages arrive as a sequence of
// frames, the last one with Fin set.
type Message struct {
	Opcode  Opcode
	Fin     bool
	Payload []byte
}

// Websocket is an open WebSocket connection. Its methods may be called from
// any goroutine.
type Websocket struct {
	conn    *wsconn.Connection
	server  *Server
	request *h1.Request
	ctx     context.Context
	cancel  context.CancelFunc
	closing atomic.Bool

	// Accessed on the connection strand only.
	peerInitiated bool // the peer sent the first close frame
	opened        bool // OnOpen was called
	terminated    bool // the close handler ran

	mu       sync.Mutex
	values   map[any]any
	peerCode uint16
}

func newWebsocket(s *Server, req *h1.Request) *Websocket {
	ctx, cancel := context.WithCancel(context.Background())
	return &Websocket{server: s, request: req, ctx: ctx, cancel: cancel}
}

// ID returns the connection id.
func (ws *Websocket) ID() uint64 { return ws.conn.ID() }

// RemoteAddr returns the peer address.
func (ws *Websocket) RemoteAddr() net.Addr { return ws.conn.RemoteAddr() }

// Path returns the request target of the opening handshake.
func (ws *Websocket) Path() string { return ws.request.Path }

// Header returns a header of the opening handshake request.
func (ws *Websocket) Header(name string) string {
	return ws.request.Header(strings.ToLower(name))
}

// Context is canceled when the connection closes.
func (ws *Websocket) Context() context.Context { return ws.ctx }

// Done is closed once the connection has fully terminated.
func (ws *Websocket) Done() <-chan struct{} { return ws.conn.Done() }

// Set stores a value on the connection.
func (ws *Websocket) Set(key, value any) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.values == nil {
		ws.values = make(map[any]any)
	}
	ws.values[key] = value
}

// Get retrieves a value stored with Set.
func (ws *Websocket) Get(key any) (any, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	v, ok := ws.values[key]
	return v, ok
}

// PeerCloseCode returns the status code of the peer's close frame, or 0.
func (ws *Websocket) PeerCloseCode() uint16 {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.peerCode
}

// SendText sends a text message.
func (ws *Websocket) SendText(s string) error {
	return ws.SendMessage(OpText, []byte(s))
}

// SendBinary sends a binary message.
func (ws *Websocket) SendBinary(b []byte) error {
	return ws.SendMessage(OpBinary, b)
}

// Ping sends a ping with an optional payload of at most 125 bytes.
func (ws *Websocket) Ping(payload []byte) error {
	return ws.SendMessage(OpPing, payload)
}

// SendMessage sends a single final frame. payload is copied.
func (ws *Websocket) SendMessage(op Opcode, payload []byte) error {
	if op == OpClose {
		return ErrCloseOpcode
	}
	if op.IsControl() && len(payload) > frame.MaxControlPayload {
		return frame.ErrControlTooLarge
	}
	if ws.closing.Load() {
		return ErrClosed
	}
	ws.write(op, payload)
	return nil
}

// Close sends a close frame and closes the connection once everything queued
// before it was written. Later calls do nothing.
func (ws *Websocket) Close(code uint16, reason string) {
	if !ws.closing.CompareAndSwap(false, true) {
		return
	}
	ws.write(OpClose, frame.EncodeClosePayload(code, reason))
	ws.conn.Close()
}

// Kill closes the connection without a close frame once queued data was
// written.
func (ws *Websocket) Kill() {
	ws.closing.Store(true)
	ws.conn.Close()
}

// write queues one final frame. messagesSent only counts frames the
// connection accepted.
func (ws *Websocket) write(op Opcode, payload []byte) {
	buf := make([]byte, 0, frame.MaxHeaderSize+len(payload))
	sent := messagesSent.WithLabelValues(op.String())
	ws.conn.WriteDataFunc([][]byte{frame.AppendFrame(buf, true, op, payload)}, sent.Inc)
}

// onFrame runs on the connection strand for every received frame.
func (ws *Websocket) onFrame(_ *wsconn.Connection, m wsconn.Message) {
	switch m.Opcode {
	case OpClose:
		ws.onPeerClose(m.Payload)
		return
	case OpPing:
		if ws.server.config.AutoPong && !ws.closing.Load() {
			ws.write(OpPong, m.Payload)
		}
	}
	if ws.closing.Load() {
		return
	}
	ws.server.dispatch(ws, Message{Opcode: m.Opcode, Fin: m.Fin, Payload: m.Payload})
}

func (ws *Websocket) onPeerClose(payload []byte) {
	code, _, err := frame.DecodeClosePayload(payload)
	if err != nil {
		ws.Close(CloseProtocolError, "invalid close payload")
		return
	}

	ws.mu.Lock()
	ws.peerCode = code
	ws.mu.Unlock()

	if ws.closing.CompareAndSwap(false, true) {
		echo := code
		if code == CloseNoStatus {
			echo = 0
		}
		ws.write(OpClose, frame.EncodeClosePayload(echo, ""))
		ws.peerInitiated = true
	}
	ws.conn.Close()
}

// open runs on the connection strand. A connection that already terminated,
// e.g. because the 101 response could not be written, is never opened.
func (ws *Websocket) open() {
	if ws.terminated {
		return
	}
	ws.opened = true
	ws.server.handler.OnOpen(ws)
}

// onClose runs once, on the connection strand, when the engine closes.
// OnClose is only reported for websockets that were opened.
func (ws *Websocket) onClose(_ *wsconn.Connection, reason string) {
	if ws.peerInitiated && reason == wsconn.ReasonUserInitiated {
		reason = wsconn.ReasonPeerClosed
	}
	ws.terminated = true
	ws.closing.Store(true)
	ws.cancel()
	ws.server.forget(ws, reason)
	if ws.opened {
		ws.server.handler.OnClose(ws, reason)
	}
}
