package ripple

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Recovery returns a middleware that recovers from panics in the message
// handler and turns them into errors, closing the connection with 1011.
func Recovery() Middleware {
	return func(next MessageHandler) MessageHandler {
		return MessageHandlerFunc(func(ctx context.Context, ws *Websocket, msg Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in message handler: %v", r)
				}
			}()

			return next.OnMessage(ctx, ws, msg)
		})
	}
}

// LoggerConfig defines the configuration options for the Logger middleware.
type LoggerConfig struct {
	// Logger receives the entries (defaults to zap.L())
	Logger *zap.Logger
	// Level of successful entries; failures are logged at warn
	Level zapcore.Level
	// SkipControl skips ping and pong frames
	SkipControl bool
}

// DefaultLoggerConfig returns a LoggerConfig with sensible defaults.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Logger:      zap.L(),
		Level:       zapcore.InfoLevel,
		SkipControl: true,
	}
}

// Logger returns a middleware that logs every handled message.
func Logger() Middleware {
	return LoggerWithConfig(DefaultLoggerConfig())
}

// LoggerWithConfig returns a middleware that logs messages with custom configuration.
func LoggerWithConfig(config LoggerConfig) Middleware {
	if config.Logger == nil {
		config.Logger = zap.L()
	}

	return func(next MessageHandler) MessageHandler {
		return MessageHandlerFunc(func(ctx context.Context, ws *Websocket, msg Message) error {
			if config.SkipControl && msg.Opcode.IsControl() {
				return next.OnMessage(ctx, ws, msg)
			}

			start := time.Now()
			err := next.OnMessage(ctx, ws, msg)

			level := config.Level
			if err != nil {
				level = zapcore.WarnLevel
			}
			if ce := config.Logger.Check(level, "message"); ce != nil {
				fields := []zap.Field{
					zap.Uint64("conn_id", ws.ID()),
					zap.Stringer("remote", ws.RemoteAddr()),
					zap.String("path", ws.Path()),
					zap.Stringer("opcode", msg.Opcode),
					zap.Int("size", len(msg.Payload)),
					zap.Bool("fin", msg.Fin),
					zap.Duration("duration", time.Since(start)),
				}
				if err != nil {
					fields = append(fields, zap.Error(err))
				}
				ce.Write(fields...)
			}
			return err
		})
	}
}

// RateLimitConfig holds configuration for the RateLimit middleware.
type RateLimitConfig struct {
	// MessagesPerSecond is the sustained rate allowed per connection
	MessagesPerSecond int
	// BurstSize is the number of messages that can be burst at once
	BurstSize int
	// SkipControl exempts ping and pong frames
	SkipControl bool
	// Code and Reason of the close sent when the limit is exceeded
	Code   uint16
	Reason string
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults.
func DefaultRateLimitConfig(messagesPerSecond int) RateLimitConfig {
	return RateLimitConfig{
		MessagesPerSecond: messagesPerSecond,
		BurstSize:         messagesPerSecond * 2,
		SkipControl:       true,
		Code:              ClosePolicyViolation,
		Reason:            "rate limit exceeded",
	}
}

// RateLimit returns a middleware that limits messages per connection using a
// token bucket. A connection over the limit is closed.
func RateLimit(messagesPerSecond int) Middleware {
	return RateLimitWithConfig(DefaultRateLimitConfig(messagesPerSecond))
}

// RateLimitWithConfig returns a rate limiting middleware with custom configuration.
func RateLimitWithConfig(config RateLimitConfig) Middleware {
	if config.MessagesPerSecond <= 0 {
		panic("messages per second must be positive")
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.MessagesPerSecond * 2
	}
	if config.Code == 0 {
		config.Code = ClosePolicyViolation
	}
	if config.Reason == "" {
		config.Reason = "rate limit exceeded"
	}

	// Each middleware instance keeps its own bucket per connection.
	key := new(int)

	return func(next MessageHandler) MessageHandler {
		return MessageHandlerFunc(func(ctx context.Context, ws *Websocket, msg Message) error {
			if config.SkipControl && msg.Opcode.IsControl() {
				return next.OnMessage(ctx, ws, msg)
			}

			var limiter *tokenBucket
			if v, ok := ws.Get(key); ok {
				limiter = v.(*tokenBucket)
			} else {
				limiter = newTokenBucket(config.MessagesPerSecond, config.BurstSize)
				ws.Set(key, limiter)
			}

			if !limiter.allow() {
				return &CloseError{Code: config.Code, Reason: config.Reason}
			}
			return next.OnMessage(ctx, ws, msg)
		})
	}
}

// tokenBucket implements a token bucket rate limiter
type tokenBucket struct {
	capacity   int
	tokens     int
	refillRate int
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate, burst int) *tokenBucket {
	return &tokenBucket{
		capacity:   burst,
		tokens:     burst,
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// allow consumes a token if one is available.
func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tokensToAdd := int(float64(elapsed.Nanoseconds()) / float64(time.Second) * float64(tb.refillRate))

	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}
