package transport

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/panjf2000/gnet/v2"
	"github.com/valyala/bytebufferpool"
)

// gnetConn is the subset of gnet.Conn GnetStream needs.
type gnetConn interface {
	AsyncWritev(bs [][]byte, callback gnet.AsyncCallback) error
	Close() error
	RemoteAddr() net.Addr
}

// GnetStream adapts a gnet connection to Stream.
//
// gnet pushes inbound bytes to the event handler instead of letting callers
// pull them, so the owning event handler forwards every OnTraffic payload to
// Feed and the OnClose notification to Detach. Bytes that arrive while no
// read is pending are staged in a pooled buffer.
type GnetStream struct {
	conn gnetConn

	mu        sync.Mutex
	staged    *bytebufferpool.ByteBuffer
	readBuf   []byte
	readCb    ReadCallback
	closed    bool
	detached  bool
	detachErr error
}

// NewGnetStream wraps c.
func NewGnetStream(c gnetConn) *GnetStream {
	return &GnetStream{conn: c, staged: bytebufferpool.Get()}
}

// Feed hands inbound bytes to the stream. data is copied; the caller may
// reuse it after Feed returns.
func (s *GnetStream) Feed(data []byte) {
	if len(data) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed || s.detached {
		s.mu.Unlock()
		return
	}
	if s.readCb == nil || s.staged.Len() > 0 {
		_, _ = s.staged.Write(data)
		s.mu.Unlock()
		return
	}

	n := copy(s.readBuf, data)
	if n < len(data) {
		_, _ = s.staged.Write(data[n:])
	}
	cb := s.readCb
	s.readBuf, s.readCb = nil, nil
	s.mu.Unlock()

	cb(n, nil)
}

// Detach records that the event loop closed the connection. A pending read
// completes with err, or io.EOF when err is nil.
func (s *GnetStream) Detach(err error) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	if err == nil {
		err = io.EOF
	}
	if s.closed {
		err = fmt.Errorf("%w: %v", ErrAborted, err)
	}
	s.detachErr = err

	cb := s.readCb
	s.readBuf, s.readCb = nil, nil
	s.mu.Unlock()

	if cb != nil {
		cb(0, err)
	}
}

// ReadSome implements Stream.
func (s *GnetStream) ReadSome(buf []byte, cb ReadCallback) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		cb(0, ErrAborted)
		return
	case s.staged.Len() > 0:
		n := copy(buf, s.staged.B)
		rest := copy(s.staged.B, s.staged.B[n:])
		s.staged.B = s.staged.B[:rest]
		s.mu.Unlock()
		cb(n, nil)
		return
	case s.detachErr != nil:
		err := s.detachErr
		s.mu.Unlock()
		cb(0, err)
		return
	}
	s.readBuf, s.readCb = buf, cb
	s.mu.Unlock()
}

// Write implements Stream. gnet copies the buffers into its outbound buffer on
// the event loop; the callback fires after they were handed to the kernel.
func (s *GnetStream) Write(bufs [][]byte, cb WriteCallback) {
	s.mu.Lock()
	closed, detachErr := s.closed, s.detachErr
	s.mu.Unlock()
	switch {
	case closed:
		cb(0, ErrAborted)
		return
	case detachErr != nil:
		cb(0, detachErr)
		return
	}

	want := totalLen(bufs)
	err := s.conn.AsyncWritev(bufs, func(_ gnet.Conn, err error) error {
		if err != nil {
			s.mu.Lock()
			aborted := s.closed
			s.mu.Unlock()
			if aborted {
				err = fmt.Errorf("%w: %v", ErrAborted, err)
			}
			cb(0, err)
			return nil
		}
		cb(want, nil)
		return nil
	})
	if err != nil {
		cb(0, err)
	}
}

// Shutdown implements Stream. gnet has no half-close; the connection is
// released by Close.
func (s *GnetStream) Shutdown() error {
	return nil
}

// Close implements Stream.
func (s *GnetStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cb := s.readCb
	s.readBuf, s.readCb = nil, nil
	staged := s.staged
	s.staged = &bytebufferpool.ByteBuffer{}
	s.mu.Unlock()

	bytebufferpool.Put(staged)
	if cb != nil {
		cb(0, ErrAborted)
	}
	return s.conn.Close()
}

// IsOpen implements Stream.
func (s *GnetStream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.detached
}

// RemoteAddr implements Stream.
func (s *GnetStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
