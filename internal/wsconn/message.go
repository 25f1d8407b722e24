package wsconn

import (
	"github.com/FumingPower3925/ripple/internal/frame"
)

// Message is one assembled frame, payload already unmasked.
type Message struct {
	Fin     bool
	Opcode  frame.Opcode
	Payload []byte
}

// inProgressMessage accumulates the payload of the frame being read.
type inProgressMessage struct {
	header  frame.Header
	payload []byte
	filled  int
	active  bool
}

func (m *inProgressMessage) begin(h frame.Header) {
	m.header = h
	m.payload = make([]byte, int(h.Length))
	m.filled = 0
	m.active = true
}

// fill copies bytes that arrived together with the header and returns how
// many were taken.
func (m *inProgressMessage) fill(b []byte) int {
	n := copy(m.payload[m.filled:], b)
	m.filled += n
	return n
}

// remaining returns the uncopied region of the payload.
func (m *inProgressMessage) remaining() []byte { return m.payload[m.filled:] }

func (m *inProgressMessage) complete() bool { return m.filled == len(m.payload) }

// take finishes the message and resets the accumulator.
func (m *inProgressMessage) take() Message {
	if m.header.Masked {
		frame.Mask(m.header.MaskKey, 0, m.payload)
	}
	msg := Message{Fin: m.header.Fin, Opcode: m.header.Opcode, Payload: m.payload}
	m.reset()
	return msg
}

func (m *inProgressMessage) reset() {
	*m = inProgressMessage{}
}
