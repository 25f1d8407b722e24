// Package ripple provides an embeddable WebSocket server for Go.
package ripple

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/FumingPower3925/ripple/internal/h1"
	"github.com/FumingPower3925/ripple/internal/strand"
	"github.com/FumingPower3925/ripple/internal/wsconn"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the server configuration options.
type Config struct {
	Addr                string        `yaml:"addr"`                  // Server address to bind to
	Multicore           bool          `yaml:"multicore"`             // Enable multicore mode for the event engine
	NumEventLoop        int           `yaml:"num_event_loop"`        // Number of event loops (0 for auto-detect)
	ReusePort           bool          `yaml:"reuse_port"`            // Enable SO_REUSEPORT for load balancing
	Path                string        `yaml:"path"`                  // Upgrade path; empty accepts any
	MaxHeaderBytes      int           `yaml:"max_header_bytes"`      // Maximum handshake request head size
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`     // Deadline for the handshake on ServeListener connections
	MaxPayloadSize      uint64        `yaml:"max_payload_size"`      // Maximum declared payload length of one frame
	InputBufferSize     int           `yaml:"input_buffer_size"`     // Per-connection header buffer size
	MaxWriteBuffers     int           `yaml:"max_write_buffers"`     // Maximum buffers per transport write
	RequireMaskedFrames bool          `yaml:"require_masked_frames"` // Reject unmasked client frames
	AutoPong            bool          `yaml:"auto_pong"`             // Answer pings automatically
	WorkerPoolSize      int           `yaml:"worker_pool_size"`      // Goroutines running connection strands (0 for unbounded)
	MaxConnections      uint32        `yaml:"max_connections"`       // Connection limit (0 for none)
	Logger              *zap.Logger   `yaml:"-"`                     // Logger for server events
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Addr:                ":8080",
		Multicore:           true,
		NumEventLoop:        0, // Auto-detect
		ReusePort:           true,
		Path:                "",
		MaxHeaderBytes:      h1.DefaultMaxHeaderBytes,
		HandshakeTimeout:    10 * time.Second,
		MaxPayloadSize:      wsconn.DefaultMaxPayloadSize,
		InputBufferSize:     wsconn.DefaultInputBufferSize,
		MaxWriteBuffers:     wsconn.DefaultMaxWriteBuffers,
		RequireMaskedFrames: true,
		AutoPong:            true,
		WorkerPoolSize:      0,
		MaxConnections:      0,
		Logger:              zap.NewNop(),
	}
}

// Validate checks and normalizes the configuration values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: path %q must start with /", ErrInvalidConfig, c.Path)
	}
	if c.NumEventLoop < 0 {
		return fmt.Errorf("%w: num_event_loop %d", ErrInvalidConfig, c.NumEventLoop)
	}
	if c.InputBufferSize < 0 || c.MaxHeaderBytes < 0 || c.MaxWriteBuffers < 0 || c.WorkerPoolSize < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidConfig)
	}
	if c.MaxHeaderBytes == 0 {
		c.MaxHeaderBytes = h1.DefaultMaxHeaderBytes
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = wsconn.DefaultMaxPayloadSize
	}
	if c.InputBufferSize == 0 {
		c.InputBufferSize = wsconn.DefaultInputBufferSize
	}
	if c.MaxWriteBuffers == 0 {
		c.MaxWriteBuffers = wsconn.DefaultMaxWriteBuffers
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

func (c *Config) settings(runner strand.Runner) *wsconn.Settings {
	return wsconn.NewSettings(wsconn.Settings{
		Logger:              c.Logger.Named("ws"),
		Runner:              runner,
		InputBufferSize:     c.InputBufferSize,
		MaxPayloadSize:      c.MaxPayloadSize,
		MaxWriteBuffers:     c.MaxWriteBuffers,
		RequireMaskedFrames: c.RequireMaskedFrames,
	})
}

func (c *Config) handshake() h1.HandshakeConfig {
	return h1.HandshakeConfig{Path: c.Path, MaxHeaderBytes: c.MaxHeaderBytes}
}
