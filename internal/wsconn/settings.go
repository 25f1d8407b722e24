package wsconn

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/FumingPower3925/ripple/internal/frame"
	"github.com/FumingPower3925/ripple/internal/strand"
)

// Defaults applied by NewSettings.
const (
	DefaultInputBufferSize = 4096
	DefaultMaxPayloadSize  = 16 << 20
	DefaultMaxWriteBuffers = 64
)

// Settings are shared, read-only parameters of many connections. They must not
// be modified after the first connection was created with them.
type Settings struct {
	Logger *zap.Logger
	// Runner executes connection strands.
	Runner strand.Runner
	// InputBufferSize is the capacity of the header staging buffer. Values
	// below frame.MaxHeaderSize are raised to it.
	InputBufferSize int
	// MaxPayloadSize bounds the declared payload length of a single frame.
	MaxPayloadSize uint64
	// MaxWriteBuffers caps how many buffers one stream write carries.
	MaxWriteBuffers int
	// RequireMaskedFrames rejects unmasked frames, as servers must.
	RequireMaskedFrames bool
}

// NewSettings returns s with zero fields replaced by defaults.
func NewSettings(s Settings) *Settings {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.Runner == nil {
		s.Runner = strand.Goroutine
	}
	if s.InputBufferSize == 0 {
		s.InputBufferSize = DefaultInputBufferSize
	}
	if s.InputBufferSize < frame.MaxHeaderSize {
		s.InputBufferSize = frame.MaxHeaderSize
	}
	if s.MaxPayloadSize == 0 {
		s.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if s.MaxWriteBuffers <= 0 {
		s.MaxWriteBuffers = DefaultMaxWriteBuffers
	}
	return &s
}

var lastConnID atomic.Uint64

// NextID returns a process-wide unique, monotonically increasing connection id.
func NextID() uint64 {
	return lastConnID.Add(1)
}
