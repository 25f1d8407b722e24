package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

type closeWriter interface {
	CloseWrite() error
}

type closeReader interface {
	CloseRead() error
}

// NetStream adapts a blocking net.Conn (plain TCP, *tls.Conn, net.Pipe) to
// Stream. Each pending operation runs on its own goroutine.
type NetStream struct {
	conn net.Conn

	closed   atomic.Bool
	peerGone atomic.Bool

	mu       sync.Mutex
	prefetch []byte
}

// NewNetStream wraps conn. prefetched holds bytes already read from conn
// (for example past the end of an HTTP upgrade request); they are returned by
// the first reads before conn is touched.
func NewNetStream(conn net.Conn, prefetched []byte) *NetStream {
	s := &NetStream{conn: conn}
	if len(prefetched) > 0 {
		s.prefetch = append([]byte(nil), prefetched...)
	}
	return s
}

// ReadSome implements Stream.
func (s *NetStream) ReadSome(buf []byte, cb ReadCallback) {
	if s.closed.Load() {
		cb(0, ErrAborted)
		return
	}

	s.mu.Lock()
	if len(s.prefetch) > 0 {
		n := copy(buf, s.prefetch)
		s.prefetch = s.prefetch[n:]
		if len(s.prefetch) == 0 {
			s.prefetch = nil
		}
		s.mu.Unlock()
		cb(n, nil)
		return
	}
	s.mu.Unlock()

	go func() {
		n, err := s.conn.Read(buf)
		cb(n, s.classify(err))
	}()
}

// Write implements Stream.
func (s *NetStream) Write(bufs [][]byte, cb WriteCallback) {
	if s.closed.Load() {
		cb(0, ErrAborted)
		return
	}

	// net.Buffers.WriteTo consumes its receiver; keep the caller's slice intact.
	batch := make(net.Buffers, len(bufs))
	copy(batch, bufs)
	want := totalLen(bufs)

	go func() {
		n, err := batch.WriteTo(s.conn)
		if err == nil && int(n) != want {
			err = fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, want)
		}
		cb(int(n), s.classify(err))
	}()
}

// Shutdown implements Stream.
func (s *NetStream) Shutdown() error {
	var errs []error
	if cw, ok := s.conn.(closeWriter); ok {
		errs = append(errs, cw.CloseWrite())
	}
	if cr, ok := s.conn.(closeReader); ok {
		errs = append(errs, cr.CloseRead())
	}
	return errors.Join(errs...)
}

// Close implements Stream.
func (s *NetStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

// IsOpen implements Stream.
func (s *NetStream) IsOpen() bool {
	return !s.closed.Load() && !s.peerGone.Load()
}

// RemoteAddr implements Stream.
func (s *NetStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *NetStream) classify(err error) error {
	if err == nil {
		return nil
	}
	if s.closed.Load() {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if errors.Is(err, io.EOF) {
		s.peerGone.Store(true)
	}
	return err
}
