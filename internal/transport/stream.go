// Package transport provides the asynchronous byte streams the WebSocket
// engine runs on. A Stream hides whether bytes travel over a plain TCP socket,
// a TLS session or a gnet event loop.
package transport

import (
	"errors"
	"net"
)

// ErrAborted is reported by operations that were pending when the stream was
// closed locally. It is the expected outcome of a caller-initiated close.
var ErrAborted = errors.New("operation aborted")

// ErrShortWrite is reported when a write completed without error but did not
// transmit every byte.
var ErrShortWrite = errors.New("short write")

// ReadCallback receives the outcome of a ReadSome call.
type ReadCallback func(n int, err error)

// WriteCallback receives the outcome of a Write call.
type WriteCallback func(n int, err error)

// Stream is an asynchronous, full-duplex byte stream.
//
// ReadSome and Write return immediately; their callbacks run later, possibly
// on another goroutine, possibly before ReadSome/Write returns. Callers keep
// at most one read and one write in flight. The buffers passed in belong to
// the stream until the callback runs.
type Stream interface {
	// ReadSome reads at least one byte into buf unless an error occurs.
	// A zero-length result with a nil error is permitted.
	ReadSome(buf []byte, cb ReadCallback)
	// Write transmits every buffer of bufs, in order.
	Write(bufs [][]byte, cb WriteCallback)
	// Shutdown stops both directions of the stream without releasing it.
	Shutdown() error
	// Close releases the stream. Pending operations complete with ErrAborted.
	Close() error
	// IsOpen reports whether Close has not been called and the peer has not
	// gone away.
	IsOpen() bool
	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
}

// IsAborted reports whether err is the benign outcome of a local close.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

func totalLen(bufs [][]byte) int {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	return n
}
