package wsconn

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/FumingPower3925/ripple/internal/frame"
	"github.com/FumingPower3925/ripple/internal/transport"
)

// fakeStream is an instrumented transport.Stream. Reads and writes stay
// pending until the test completes them, unless autoWrite is set.
type fakeStream struct {
	mu sync.Mutex

	readBuf   []byte
	readCb    transport.ReadCallback
	readSizes []int

	writeBufs  [][]byte
	writeCb    transport.WriteCallback
	writeCalls int
	written    [][]byte
	autoWrite  bool

	readOverlap  bool
	writeOverlap bool

	shutdowns int
	closes    int
	closed    bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{}
}

func (f *fakeStream) ReadSome(buf []byte, cb transport.ReadCallback) {
	f.mu.Lock()
	if f.readCb != nil {
		f.readOverlap = true
	}
	if f.closed {
		f.mu.Unlock()
		cb(0, transport.ErrAborted)
		return
	}
	f.readBuf, f.readCb = buf, cb
	f.readSizes = append(f.readSizes, len(buf))
	f.mu.Unlock()
}

func (f *fakeStream) Write(bufs [][]byte, cb transport.WriteCallback) {
	f.mu.Lock()
	f.writeCalls++
	if f.writeCb != nil {
		f.writeOverlap = true
	}
	if f.closed {
		f.mu.Unlock()
		cb(0, transport.ErrAborted)
		return
	}
	f.writeBufs, f.writeCb = bufs, cb
	auto := f.autoWrite
	f.mu.Unlock()

	if auto {
		go func() {
			time.Sleep(time.Duration(rand.Intn(50)) * time.Microsecond)
			f.completeWrite(nil)
		}()
	}
}

func (f *fakeStream) Shutdown() error {
	f.mu.Lock()
	f.shutdowns++
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closes++
	f.closed = true
	rcb, wcb := f.readCb, f.writeCb
	f.readBuf, f.readCb = nil, nil
	f.writeBufs, f.writeCb = nil, nil
	f.mu.Unlock()

	if rcb != nil {
		rcb(0, transport.ErrAborted)
	}
	if wcb != nil {
		wcb(0, transport.ErrAborted)
	}
	return nil
}

func (f *fakeStream) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeStream) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4242}
}

// readPending reports whether a read is waiting for data.
func (f *fakeStream) readPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCb != nil
}

func (f *fakeStream) writePending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeCb != nil
}

// completeRead hands up to len(data) bytes to the pending read and returns
// how many were taken.
func (f *fakeStream) completeRead(data []byte) int {
	f.mu.Lock()
	cb, buf := f.readCb, f.readBuf
	f.readBuf, f.readCb = nil, nil
	f.mu.Unlock()
	if cb == nil {
		panic("fakeStream: no pending read")
	}
	n := copy(buf, data)
	cb(n, nil)
	return n
}

func (f *fakeStream) failRead(err error) {
	f.mu.Lock()
	cb := f.readCb
	f.readBuf, f.readCb = nil, nil
	f.mu.Unlock()
	if cb == nil {
		panic("fakeStream: no pending read")
	}
	cb(0, err)
}

// feed pushes data through as many reads as it takes. An empty chunk
// completes one read with zero bytes.
func (f *fakeStream) feed(data []byte) {
	if len(data) == 0 {
		f.completeRead(nil)
		return
	}
	for len(data) > 0 {
		n := f.completeRead(data)
		data = data[n:]
	}
}

func (f *fakeStream) completeWrite(err error) {
	f.mu.Lock()
	cb, bufs := f.writeCb, f.writeBufs
	f.writeBufs, f.writeCb = nil, nil
	n := 0
	if err == nil {
		for _, b := range bufs {
			f.written = append(f.written, append([]byte(nil), b...))
			n += len(b)
		}
	}
	f.mu.Unlock()
	if cb != nil {
		cb(n, err)
	}
}

func (f *fakeStream) snapshot() (written [][]byte, writeCalls, shutdowns, closes int, overlap bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...), f.writeCalls, f.shutdowns, f.closes, f.readOverlap || f.writeOverlap
}

func (f *fakeStream) reads() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.readSizes...)
}

// clientFrame builds a masked frame the way a browser would send it.
func clientFrame(op frame.Opcode, payload []byte) []byte {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	wire := frame.AppendHeader(nil, frame.Header{Fin: true, Opcode: op, Masked: true, MaskKey: key, Length: uint64(len(payload))})
	start := len(wire)
	wire = append(wire, payload...)
	frame.Mask(key, 0, wire[start:])
	return wire
}
