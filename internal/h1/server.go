package h1

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/gnet/v2"
	"github.com/panjf2000/gnet/v2/pkg/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/FumingPower3925/ripple/internal/date"
	"github.com/FumingPower3925/ripple/internal/transport"
)

// ErrServerClosed is returned by Start after Stop, or when called twice.
var ErrServerClosed = errors.New("h1: server closed")

// Upgrader takes over a connection whose handshake was accepted. It must write
// acc.Response to stream before anything else.
type Upgrader interface {
	Upgrade(stream transport.Stream, acc *Accepted)
}

// UpgraderFunc adapts a function to Upgrader.
type UpgraderFunc func(stream transport.Stream, acc *Accepted)

// Upgrade calls f.
func (f UpgraderFunc) Upgrade(stream transport.Stream, acc *Accepted) { f(stream, acc) }

// Config defines the configuration options for the handshake server.
type Config struct {
	Addr           string
	Multicore      bool
	NumEventLoop   int
	ReusePort      bool
	Logger         *zap.Logger
	MaxConnections uint32
	Handshake      HandshakeConfig
}

// Server implements gnet.EventHandler. Connections start in the HTTP phase
// and move to a GnetStream once upgraded.
type Server struct {
	gnet.BuiltinEventEngine
	upgrader    Upgrader
	cfg         Config
	logger      *zap.Logger
	activeConns atomic.Uint32

	mu       sync.Mutex
	engine   gnet.Engine
	started  bool
	ready    chan struct{}
	runErr   chan error
	stopDate func()
}

// connState is stored in gnet.Conn.Context for accepted connections.
type connState struct {
	session *Session
	stream  *transport.GnetStream
}

// NewServer creates a server handing upgraded connections to upgrader.
func NewServer(upgrader Upgrader, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Server{
		upgrader: upgrader,
		cfg:      cfg,
		logger:   cfg.Logger.Named("h1"),
		ready:    make(chan struct{}),
		runErr:   make(chan error, 1),
	}
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// ActiveConnections returns the number of open accepted connections.
func (s *Server) ActiveConnections() uint32 { return s.activeConns.Load() }

// Start runs the event engine and blocks until it listens or fails to.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.started = true
	s.stopDate = date.Start()
	s.mu.Unlock()

	numLoops := runtime.NumCPU()
	if s.cfg.NumEventLoop > 0 {
		numLoops = s.cfg.NumEventLoop
	}
	options := []gnet.Option{
		gnet.WithMulticore(s.cfg.Multicore),
		gnet.WithReusePort(s.cfg.ReusePort),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithTCPKeepAlive(time.Minute),
		gnet.WithLogger(gnetLogger(s.logger)),
		gnet.WithLockOSThread(false),
		gnet.WithReadBufferCap(64 << 10),
		gnet.WithWriteBufferCap(64 << 10),
		gnet.WithLoadBalancing(gnet.RoundRobin),
		gnet.WithNumEventLoop(numLoops),
	}

	go func() {
		s.runErr <- gnet.Run(s, "tcp://"+s.cfg.Addr, options...)
	}()

	select {
	case <-s.ready:
		return nil
	case err := <-s.runErr:
		s.stopDate()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the event engine. Open connections are closed and their
// streams detached.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	eng, stopDate := s.engine, s.stopDate
	s.mu.Unlock()

	select {
	case <-s.ready:
	default:
		return nil
	}

	s.logger.Info("stopping", zap.String("addr", s.cfg.Addr))
	err := eng.Stop(ctx)
	if stopDate != nil {
		stopDate()
	}
	return err
}

// OnBoot is called when the server is ready to accept connections.
func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.mu.Lock()
	s.engine = eng
	s.mu.Unlock()
	s.logger.Info("listening",
		zap.String("addr", s.cfg.Addr),
		zap.Bool("multicore", s.cfg.Multicore))
	close(s.ready)
	return gnet.None
}

// OnOpen is called when a new connection is opened.
func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	if limit := s.cfg.MaxConnections; limit > 0 {
		if current := s.activeConns.Load(); current >= limit {
			s.logger.Warn("connection rejected: too many connections",
				zap.Stringer("remote", c.RemoteAddr()),
				zap.Uint32("active", current),
				zap.Uint32("limit", limit))
			_ = c.AsyncWrite(Reject(http.StatusServiceUnavailable), func(c gnet.Conn, _ error) error {
				return c.Close()
			})
			return nil, gnet.None
		}
	}

	s.activeConns.Add(1)
	c.SetContext(&connState{session: NewSession(s.cfg.Handshake)})
	return nil, gnet.None
}

// OnClose is called when a connection is closed.
func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	st, ok := c.Context().(*connState)
	if !ok {
		return gnet.None
	}
	s.activeConns.Add(^uint32(0))

	if ce := s.logger.Check(zapcore.DebugLevel, "connection closed"); ce != nil {
		ce.Write(zap.Stringer("remote", c.RemoteAddr()), zap.Error(err), zap.Bool("upgraded", st.stream != nil))
	}
	if st.stream != nil {
		st.stream.Detach(err)
	}
	return gnet.None
}

// OnTraffic is called when data is received on a connection.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	st, ok := c.Context().(*connState)
	if !ok {
		return gnet.Close
	}

	buf, err := c.Next(-1)
	if err != nil {
		s.logger.Error("read inbound buffer", zap.Error(err))
		return gnet.Close
	}
	if len(buf) == 0 {
		return gnet.None
	}

	if st.stream != nil {
		st.stream.Feed(buf)
		return gnet.None
	}

	res := st.session.HandleData(buf)
	if acc := res.Accepted; acc != nil {
		st.stream = transport.NewGnetStream(c)
		s.upgrader.Upgrade(st.stream, acc)
		st.stream.Feed(acc.Rest)
		return gnet.None
	}

	if res.Err != nil {
		s.logger.Debug("handshake rejected", zap.Stringer("remote", c.RemoteAddr()), zap.Error(res.Err))
	}
	if len(res.Reply) > 0 {
		closeAfter := res.Close
		_ = c.AsyncWrite(res.Reply, func(c gnet.Conn, _ error) error {
			if closeAfter {
				return c.Close()
			}
			return nil
		})
	}
	return gnet.None
}

// gnetLogger routes gnet's own logging to zap, or silences it.
func gnetLogger(l *zap.Logger) logging.Logger {
	if l.Core().Enabled(zapcore.FatalLevel) {
		return l.Named("gnet").Sugar()
	}
	return silentGnetLogger{}
}

// silentGnetLogger is a logger that discards all gnet output
type silentGnetLogger struct{}

func (silentGnetLogger) Debugf(_ string, _ ...any) {}
func (silentGnetLogger) Infof(_ string, _ ...any)  {}
func (silentGnetLogger) Warnf(_ string, _ ...any)  {}
func (silentGnetLogger) Errorf(_ string, _ ...any) {}
func (silentGnetLogger) Fatalf(_ string, _ ...any) {}
