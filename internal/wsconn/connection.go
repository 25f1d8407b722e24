// Package wsconn implements the per-connection WebSocket engine: frame
// assembly on the read side, an ordered single-writer queue on the write side,
// and the close protocol joining both. All state changes happen on the
// connection's strand.
package wsconn

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"

	"go.uber.org/zap"

	"github.com/FumingPower3925/ripple/internal/frame"
	"github.com/FumingPower3925/ripple/internal/strand"
	"github.com/FumingPower3925/ripple/internal/transport"
)

// MessageHandler receives every assembled frame. It runs on the connection's
// strand and must not block.
type MessageHandler func(c *Connection, msg Message)

// CloseHandler is called at most once when the connection terminates.
type CloseHandler func(c *Connection, reason string)

// Close reasons reported to the close handler.
const (
	ReasonUserInitiated = "user initiated"
	ReasonPeerClosed    = "connection closed by peer"
)

// Connection is a WebSocket connection over an asynchronous stream.
type Connection struct {
	id       uint64
	stream   transport.Stream
	strand   *strand.Strand
	settings *Settings
	logger   *zap.Logger

	msgHandler   MessageHandler
	closeHandler CloseHandler

	// Read half.
	input   *FixedBuffer
	current inProgressMessage
	reading bool

	// Write half.
	out  outgoingQueue
	wctx writeContext

	closed   bool
	inflight int
	done     chan struct{}
}

// New creates a connection. Nothing happens on the stream until InitRead or
// WriteData is called.
func New(id uint64, stream transport.Stream, settings *Settings, msgHandler MessageHandler, closeHandler CloseHandler) *Connection {
	if settings == nil {
		settings = NewSettings(Settings{})
	}
	c := &Connection{
		id:           id,
		stream:       stream,
		strand:       strand.New(settings.Runner),
		settings:     settings,
		logger:       settings.Logger.With(zap.Uint64("conn_id", id)),
		msgHandler:   msgHandler,
		closeHandler: closeHandler,
		input:        NewFixedBuffer(settings.InputBufferSize),
		done:         make(chan struct{}),
	}
	c.logger.Debug("start connection", zap.Stringer("remote", addrStringer{stream}))
	return c
}

// ID returns the connection id.
func (c *Connection) ID() uint64 { return c.id }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr { return c.stream.RemoteAddr() }

// Done is closed once the connection was closed and every operation it
// started has completed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// InitRead starts reading frames.
func (c *Connection) InitRead() {
	c.dispatch("unable to init read", func() {
		if c.reading {
			c.logger.Warn("read already started")
			return
		}
		c.reading = true
		c.processInput()
	})
}

// WriteData queues a buffer group for transmission. The buffers must not be
// modified until the connection is done with them.
func (c *Connection) WriteData(bufs [][]byte) {
	c.WriteDataFunc(bufs, nil)
}

// WriteDataFunc is WriteData with a callback run on the strand once bufs
// were accepted into the queue. It is not called for dropped data.
func (c *Connection) WriteDataFunc(bufs [][]byte, queued func()) {
	c.dispatch("unable to write data", func() {
		if c.writeDataImpl(bufs) && queued != nil {
			queued()
		}
	})
}

// Run executes fn on the connection's strand, after every operation posted
// before it. A panic in fn closes the connection.
func (c *Connection) Run(fn func()) {
	c.dispatch("task failed", fn)
}

// Close closes the connection once every queued buffer has been written.
func (c *Connection) Close() {
	c.strand.Post(func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("close operation error", zap.Any("panic", r))
			}
		}()
		c.gracefulClose()
	})
}

// dispatch runs fn on the strand. A panic in fn closes the connection with
// the panic message as the reason.
func (c *Connection) dispatch(what string, fn func()) {
	c.strand.Post(func() {
		defer func() {
			if r := recover(); r != nil {
				c.triggerErrorAndClose(fmt.Sprintf("%s: %v", what, r), nil)
			}
		}()
		fn()
	})
}

// Read half.

// processInput parses frames out of the input buffer, delivering each one,
// until more bytes are needed. It then issues exactly one read.
func (c *Connection) processInput() {
	for !c.closed {
		if c.current.active {
			c.startReadPayload()
			return
		}

		h, n, err := frame.ParseHeader(c.input.Bytes())
		if err != nil {
			c.triggerErrorAndClose(fmt.Sprintf("invalid frame header: %v", err), err)
			return
		}
		if n == 0 {
			c.startReadHeader()
			return
		}
		c.input.Consume(n)

		if err := c.checkHeader(h); err != nil {
			c.triggerErrorAndClose(err.Error(), err)
			return
		}

		c.current.begin(h)
		c.input.Consume(c.current.fill(c.input.Bytes()))
		if c.current.complete() {
			c.deliver()
			continue
		}
		c.startReadPayload()
		return
	}
}

func (c *Connection) checkHeader(h frame.Header) error {
	if h.Length > c.settings.MaxPayloadSize || h.Length > math.MaxInt {
		return fmt.Errorf("%w: declared %d bytes, limit %d", frame.ErrPayloadTooLarge, h.Length, c.settings.MaxPayloadSize)
	}
	if c.settings.RequireMaskedFrames && !h.Masked {
		return frame.ErrUnmasked
	}
	return nil
}

func (c *Connection) startReadHeader() {
	c.input.Compact()
	space := c.input.FreeSpace()
	if len(space) == 0 {
		c.triggerErrorAndClose("input buffer exhausted while reading header", nil)
		return
	}

	c.logger.Debug("start reading header", zap.Int("buffered", c.input.Len()))
	c.inflight++
	c.stream.ReadSome(space, func(n int, err error) {
		c.dispatch("after read header", func() {
			c.inflight--
			c.afterReadHeader(n, err)
		})
	})
}

func (c *Connection) afterReadHeader(n int, err error) {
	if err != nil {
		c.afterReadError(err)
		return
	}
	if c.closed {
		c.finishIfIdle()
		return
	}
	c.input.Commit(n)
	c.processInput()
}

func (c *Connection) startReadPayload() {
	remaining := c.current.remaining()
	c.logger.Debug("start reading payload", zap.Int("remaining", len(remaining)))
	c.inflight++
	c.stream.ReadSome(remaining, func(n int, err error) {
		c.dispatch("after read payload", func() {
			c.inflight--
			c.afterReadPayload(n, err)
		})
	})
}

func (c *Connection) afterReadPayload(n int, err error) {
	if err != nil {
		c.afterReadError(err)
		return
	}
	if c.closed {
		c.finishIfIdle()
		return
	}
	c.current.filled += n
	if c.current.complete() {
		c.deliver()
	}
	c.processInput()
}

func (c *Connection) afterReadError(err error) {
	if transport.IsAborted(err) || c.closed {
		c.logger.Debug("read aborted", zap.Error(err))
		c.finishIfIdle()
		return
	}
	if errors.Is(err, io.EOF) {
		c.triggerErrorAndClose(ReasonPeerClosed, err)
		return
	}
	c.triggerErrorAndClose(fmt.Sprintf("unable to read: %v", err), err)
}

func (c *Connection) deliver() {
	msg := c.current.take()
	c.logger.Debug("message received",
		zap.Stringer("opcode", msg.Opcode),
		zap.Bool("fin", msg.Fin),
		zap.Int("size", len(msg.Payload)))
	if c.msgHandler != nil {
		c.msgHandler(c, msg)
	}
}

// Write half.

func (c *Connection) writeDataImpl(bufs [][]byte) bool {
	if c.closed || !c.stream.IsOpen() {
		c.logger.Warn("try to write data while socket is closed")
		return false
	}
	if c.out.closeWhenDone {
		c.logger.Warn("try to write data after websocket was closed")
		return false
	}

	c.out.append(bufs)
	c.initWriteIfNecessary()
	return true
}

// initWriteIfNecessary starts a write when none is in flight and data is
// queued. With nothing queued and a close requested it finishes the close.
func (c *Connection) initWriteIfNecessary() {
	if c.wctx.transmitting || c.closed {
		return
	}

	if c.wctx.obtain(&c.out, c.settings.MaxWriteBuffers) {
		bufs := c.wctx.buffers()
		c.logger.Debug("sending data", zap.Int("buf_count", len(bufs)), zap.Int("bytes", c.wctx.bytes))

		c.inflight++
		c.stream.Write(bufs, func(n int, err error) {
			c.dispatch("after write callback error", func() {
				c.inflight--
				c.afterWrite(n, err)
			})
		})
		return
	}

	if c.out.closeWhenDone {
		c.callCloseHandler(ReasonUserInitiated)
		c.closeImpl()
	}
}

func (c *Connection) afterWrite(n int, err error) {
	c.wctx.done()

	if err != nil {
		if transport.IsAborted(err) || c.closed {
			c.logger.Debug("write aborted", zap.Error(err))
			c.finishIfIdle()
			return
		}
		c.triggerErrorAndClose(fmt.Sprintf("unable to write: %v", err), err)
		return
	}

	c.logger.Debug("outgoing data was sent", zap.Int("bytes", n))
	if c.stream.IsOpen() {
		c.initWriteIfNecessary()
	}
	c.finishIfIdle()
}

// Close protocol.

func (c *Connection) gracefulClose() {
	if c.out.closeWhenDone {
		return
	}
	c.out.setCloseWhenDone()
	c.initWriteIfNecessary()
}

// closeImpl runs the low-level close sequence once.
func (c *Connection) closeImpl() {
	if c.closed {
		return
	}
	c.closed = true
	c.logger.Debug("close")

	if err := c.stream.Shutdown(); err != nil {
		c.logger.Debug("shutdown", zap.Error(err))
	}
	if err := c.stream.Close(); err != nil {
		c.logger.Debug("close stream", zap.Error(err))
	}

	c.out.discard()
	c.current.reset()
	c.input.Reset()
	c.finishIfIdle()
}

// triggerErrorAndClose logs err, reports reason to the close handler and
// closes without waiting for queued data.
func (c *Connection) triggerErrorAndClose(reason string, err error) {
	if errors.Is(err, io.EOF) {
		c.logger.Debug(reason)
	} else {
		c.logger.Error(reason, zap.Error(err))
	}
	c.callCloseHandler(reason)
	c.closeImpl()
}

func (c *Connection) callCloseHandler(reason string) {
	if h := c.closeHandler; h != nil {
		c.closeHandler = nil
		h(c, reason)
	}
}

func (c *Connection) finishIfIdle() {
	if !c.closed || c.inflight > 0 {
		return
	}
	select {
	case <-c.done:
	default:
		close(c.done)
		c.logger.Debug("destroyed")
	}
}

type addrStringer struct{ s transport.Stream }

func (a addrStringer) String() string {
	if addr := a.s.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "<unknown>"
}
