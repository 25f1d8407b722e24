// Package frame provides WebSocket (RFC 6455) frame header parsing and encoding.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Opcode represents a WebSocket frame opcode
type Opcode uint8

// WebSocket opcode constants
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// String returns a lowercase name suitable for logs and metric labels.
func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%x)", uint8(o))
	}
}

// IsControl reports whether o is a control opcode (close, ping, pong).
func (o Opcode) IsControl() bool { return o&0x8 != 0 }

func (o Opcode) known() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

const (
	bitFin  = 0x80
	bitRsv  = 0x70
	bitMask = 0x80

	// MinHeaderSize is the smallest possible frame header.
	MinHeaderSize = 2
	// MaxHeaderSize is the largest possible frame header: 2 + 8 length + 4 mask.
	MaxHeaderSize = 14
	// MaxControlPayload is the payload limit of control frames.
	MaxControlPayload = 125
)

// Framing errors. They are fatal for the connection that produced them.
var (
	ErrReservedBits     = errors.New("reserved bits set")
	ErrUnknownOpcode    = errors.New("unknown opcode")
	ErrControlFragment  = errors.New("fragmented control frame")
	ErrControlTooLarge  = errors.New("control frame payload exceeds 125 bytes")
	ErrInvalidLength    = errors.New("invalid 64-bit payload length")
	ErrNonMinimalLength = errors.New("payload length not minimally encoded")
	ErrPayloadTooLarge  = errors.New("payload exceeds limit")
	ErrUnmasked         = errors.New("unmasked client frame")
	ErrInvalidClose     = errors.New("invalid close payload")
)

// Header is a parsed frame header.
type Header struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Length  uint64
}

// ParseHeader parses a frame header from the start of b.
// It returns the number of header bytes, or 0 with a nil error when b does not
// yet hold a complete header.
func ParseHeader(b []byte) (Header, int, error) {
	var h Header
	if len(b) < MinHeaderSize {
		return h, 0, nil
	}

	b0, b1 := b[0], b[1]
	if b0&bitRsv != 0 {
		return h, 0, ErrReservedBits
	}
	h.Fin = b0&bitFin != 0
	h.Opcode = Opcode(b0 & 0x0f)
	if !h.Opcode.known() {
		return h, 0, fmt.Errorf("%w: 0x%x", ErrUnknownOpcode, uint8(h.Opcode))
	}
	h.Masked = b1&bitMask != 0

	n := MinHeaderSize
	switch l := b1 & 0x7f; l {
	case 126:
		if len(b) < n+2 {
			return h, 0, nil
		}
		h.Length = uint64(binary.BigEndian.Uint16(b[n:]))
		if h.Length < 126 {
			return h, 0, ErrNonMinimalLength
		}
		n += 2
	case 127:
		if len(b) < n+8 {
			return h, 0, nil
		}
		h.Length = binary.BigEndian.Uint64(b[n:])
		if h.Length>>63 != 0 {
			return h, 0, ErrInvalidLength
		}
		if h.Length <= 0xffff {
			return h, 0, ErrNonMinimalLength
		}
		n += 8
	default:
		h.Length = uint64(l)
	}

	if h.Opcode.IsControl() {
		if !h.Fin {
			return h, 0, ErrControlFragment
		}
		if h.Length > MaxControlPayload {
			return h, 0, ErrControlTooLarge
		}
	}

	if h.Masked {
		if len(b) < n+4 {
			return h, 0, nil
		}
		copy(h.MaskKey[:], b[n:n+4])
		n += 4
	}

	return h, n, nil
}

// Size returns the encoded header size.
func (h Header) Size() int {
	n := MinHeaderSize
	switch {
	case h.Length > 0xffff:
		n += 8
	case h.Length > 125:
		n += 2
	}
	if h.Masked {
		n += 4
	}
	return n
}

// AppendHeader appends the wire form of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	b0 := byte(h.Opcode) & 0x0f
	if h.Fin {
		b0 |= bitFin
	}
	var b1 byte
	if h.Masked {
		b1 = bitMask
	}

	switch {
	case h.Length > 0xffff:
		dst = append(dst, b0, b1|127)
		dst = binary.BigEndian.AppendUint64(dst, h.Length)
	case h.Length > 125:
		dst = append(dst, b0, b1|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(h.Length))
	default:
		dst = append(dst, b0, b1|byte(h.Length))
	}

	if h.Masked {
		dst = append(dst, h.MaskKey[:]...)
	}
	return dst
}

// Mask XORs b in place with key, starting at payload offset pos.
// Masking and unmasking are the same operation.
func Mask(key [4]byte, pos int, b []byte) {
	for i := range b {
		b[i] ^= key[(pos+i)&3]
	}
}

// AppendFrame appends a complete unmasked frame (server to client) to dst.
func AppendFrame(dst []byte, fin bool, op Opcode, payload []byte) []byte {
	dst = AppendHeader(dst, Header{Fin: fin, Opcode: op, Length: uint64(len(payload))})
	return append(dst, payload...)
}

// Close status codes used by the engine.
const (
	CloseNormal          uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseUnsupportedData uint16 = 1003
	CloseNoStatus        uint16 = 1005
	CloseInvalidPayload  uint16 = 1007
	ClosePolicyViolation uint16 = 1008
	CloseMessageTooBig   uint16 = 1009
	CloseInternalError   uint16 = 1011
)

// EncodeClosePayload builds a close frame payload. Code 0 yields an empty payload.
func EncodeClosePayload(code uint16, reason string) []byte {
	if code == 0 {
		return nil
	}
	if len(reason) > MaxControlPayload-2 {
		n := MaxControlPayload - 2
		for n > 0 && !utf8.RuneStart(reason[n]) {
			n--
		}
		reason = reason[:n]
	}
	b := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(b, code)
	return append(b, reason...)
}

// DecodeClosePayload parses a close frame payload. An empty payload reports
// CloseNoStatus.
func DecodeClosePayload(p []byte) (uint16, string, error) {
	switch len(p) {
	case 0:
		return CloseNoStatus, "", nil
	case 1:
		return 0, "", ErrInvalidClose
	}
	code := binary.BigEndian.Uint16(p)
	if !validCloseCode(code) {
		return 0, "", fmt.Errorf("%w: code %d", ErrInvalidClose, code)
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return 0, "", fmt.Errorf("%w: reason is not utf-8", ErrInvalidClose)
	}
	return code, string(reason), nil
}

func validCloseCode(code uint16) bool {
	switch {
	case code >= 3000 && code <= 4999:
		return true
	case code >= 1000 && code <= 1011:
		return code != 1004 && code != 1005 && code != 1006
	}
	return false
}
