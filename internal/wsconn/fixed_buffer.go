package wsconn

import "fmt"

// FixedBuffer is a reusable receive buffer of fixed capacity. It tracks how
// many bytes were filled from the socket and how many of those a parser has
// consumed: consumed <= valid <= capacity.
type FixedBuffer struct {
	buf      []byte
	valid    int
	consumed int
}

// NewFixedBuffer allocates a buffer of the given capacity.
func NewFixedBuffer(capacity int) *FixedBuffer {
	return &FixedBuffer{buf: make([]byte, capacity)}
}

// Capacity returns the fixed size of the buffer.
func (b *FixedBuffer) Capacity() int { return len(b.buf) }

// Len returns the number of valid bytes not yet consumed.
func (b *FixedBuffer) Len() int { return b.valid - b.consumed }

// Bytes returns the valid, unconsumed bytes. The slice aliases the buffer and
// is invalidated by Compact, Commit and Reset.
func (b *FixedBuffer) Bytes() []byte { return b.buf[b.consumed:b.valid] }

// Consume marks n bytes as parsed.
func (b *FixedBuffer) Consume(n int) {
	if n < 0 || n > b.Len() {
		panic(fmt.Sprintf("wsconn: consume %d of %d buffered bytes", n, b.Len()))
	}
	b.consumed += n
	if b.consumed == b.valid {
		b.consumed, b.valid = 0, 0
	}
}

// Compact moves unconsumed bytes to the front so the whole tail is free for
// the next fill.
func (b *FixedBuffer) Compact() {
	if b.consumed == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.consumed:b.valid])
	b.consumed, b.valid = 0, n
}

// FreeSpace returns the writable tail of the buffer.
func (b *FixedBuffer) FreeSpace() []byte { return b.buf[b.valid:] }

// Commit records that n bytes were written into FreeSpace.
func (b *FixedBuffer) Commit(n int) {
	if n < 0 || b.valid+n > len(b.buf) {
		panic(fmt.Sprintf("wsconn: commit %d bytes with %d free", n, len(b.buf)-b.valid))
	}
	b.valid += n
}

// Reset discards all content.
func (b *FixedBuffer) Reset() {
	b.consumed, b.valid = 0, 0
}
