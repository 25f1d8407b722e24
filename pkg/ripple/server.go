package ripple

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/FumingPower3925/ripple/internal/h1"
	"github.com/FumingPower3925/ripple/internal/strand"
	"github.com/FumingPower3925/ripple/internal/transport"
	"github.com/FumingPower3925/ripple/internal/wsconn"
)

var (
	// ErrServerClosed is returned by Start and ServeListener after Stop.
	ErrServerClosed = errors.New("ripple: server closed")
	// ErrHandlerNotSet is returned when starting without a Handler.
	ErrHandlerNotSet = errors.New("ripple: handler not set")
)

// Server accepts WebSocket connections, on its own gnet event engine (Start)
// or on caller-provided listeners (ServeListener).
type Server struct {
	config      Config
	handler     Handler
	middlewares []Middleware
	logger      *zap.Logger

	prepareOnce sync.Once
	prepareErr  error
	chain       MessageHandler
	pool        *ants.Pool
	settings    *wsconn.Settings

	readyOnce sync.Once
	ready     chan struct{}

	mu         sync.Mutex
	engine     *h1.Server
	conns      map[uint64]*Websocket
	listeners  map[net.Listener]struct{}
	closed     bool
	handshakes sync.WaitGroup
}

// New creates a new Server with the provided configuration.
func New(config Config) *Server {
	if err := config.Validate(); err != nil {
		panic(err)
	}

	return &Server{
		config:    config,
		logger:    config.Logger,
		ready:     make(chan struct{}),
		conns:     make(map[uint64]*Websocket),
		listeners: make(map[net.Listener]struct{}),
	}
}

// NewWithDefaults creates a new Server with default configuration.
func NewWithDefaults() *Server {
	return New(DefaultConfig())
}

// Handler sets the connection handler and returns the server for method chaining.
func (s *Server) Handler(handler Handler) *Server {
	s.handler = handler
	return s
}

// Use appends message middlewares. They must be added before the server starts.
func (s *Server) Use(middlewares ...Middleware) *Server {
	s.middlewares = append(s.middlewares, middlewares...)
	return s
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// ActiveConnections returns the number of open websockets.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ListenAndServe sets the handler and starts the server.
func (s *Server) ListenAndServe(handler Handler) error {
	s.handler = handler
	return s.Start()
}

// Start listens on Config.Addr with the gnet event engine. It returns once
// the engine accepts connections.
func (s *Server) Start() error {
	if err := s.prepare(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed || s.engine != nil {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.engine = h1.NewServer(h1.UpgraderFunc(s.upgrade), h1.Config{
		Addr:           s.config.Addr,
		Multicore:      s.config.Multicore,
		NumEventLoop:   s.config.NumEventLoop,
		ReusePort:      s.config.ReusePort,
		Logger:         s.logger,
		MaxConnections: s.config.MaxConnections,
		Handshake:      s.config.handshake(),
	})
	engine := s.engine
	s.mu.Unlock()

	if err := engine.Start(context.Background()); err != nil {
		return fmt.Errorf("start event engine: %w", err)
	}
	s.markReady()
	return nil
}

// ServeListener accepts connections on ln until Stop is called or Accept
// fails. Each connection runs its handshake on its own goroutine, bounded by
// Config.HandshakeTimeout.
func (s *Server) ServeListener(ln net.Listener) error {
	if err := s.prepare(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("serving", zap.Stringer("addr", ln.Addr()))
	s.markReady()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return err
		}

		if limit := s.config.MaxConnections; limit > 0 && uint32(s.ActiveConnections()) >= limit {
			s.logger.Warn("connection rejected: too many connections",
				zap.Stringer("remote", conn.RemoteAddr()),
				zap.Uint32("limit", limit))
			_, _ = conn.Write(h1.Reject(0))
			_ = conn.Close()
			continue
		}

		s.handshakes.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.handshakes.Done()

	if t := s.config.HandshakeTimeout; t > 0 {
		_ = conn.SetDeadline(time.Now().Add(t))
	}
	acc, err := h1.ReadUpgrade(conn, s.config.handshake())
	if err != nil {
		s.logger.Debug("handshake failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	s.upgrade(transport.NewNetStream(conn, acc.Rest), acc)
}

// Stop sends a going-away close to every connection, waits for them to
// terminate, and stops accepting. Connections still open when ctx expires
// are dropped.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := make([]net.Listener, 0, len(s.listeners))
	for ln := range s.listeners {
		listeners = append(listeners, ln)
	}
	conns := make([]*Websocket, 0, len(s.conns))
	for _, ws := range s.conns {
		conns = append(conns, ws)
	}
	engine := s.engine
	s.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, ws := range conns {
		ws.Close(CloseGoingAway, "server shutting down")
	}

	var err error
wait:
	for _, ws := range conns {
		select {
		case <-ws.Done():
		case <-ctx.Done():
			err = ctx.Err()
			break wait
		}
	}

	handshakesDone := make(chan struct{})
	go func() {
		s.handshakes.Wait()
		close(handshakesDone)
	}()
	select {
	case <-handshakesDone:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if engine != nil {
		if stopErr := engine.Stop(ctx); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	if s.pool != nil {
		_ = s.pool.ReleaseTimeout(time.Second)
	}

	s.logger.Info("server stopped", zap.Int("connections", len(conns)))
	return err
}

func (s *Server) prepare() error {
	s.prepareOnce.Do(func() {
		if s.handler == nil {
			s.prepareErr = ErrHandlerNotSet
			return
		}
		pool, err := strand.NewPool(s.config.WorkerPoolSize)
		if err != nil {
			s.prepareErr = err
			return
		}
		s.pool = pool
		s.settings = s.config.settings(pool)
		s.chain = Chain(s.middlewares...)(MessageHandlerFunc(s.handler.OnMessage))
	})
	return s.prepareErr
}

func (s *Server) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// upgrade turns an accepted handshake into a Websocket. The 101 response is
// the first buffer queued on the connection, after the websocket is tracked,
// so a failure of that write is accounted for by onClose.
func (s *Server) upgrade(stream transport.Stream, acc *h1.Accepted) {
	ws := newWebsocket(s, acc.Request)
	ws.conn = wsconn.New(wsconn.NextID(), stream, s.settings, ws.onFrame, ws.onClose)

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.conns[ws.ID()] = ws
	}
	s.mu.Unlock()
	if closed {
		ws.conn.WriteData([][]byte{acc.Response})
		ws.Close(CloseGoingAway, "server shutting down")
		return
	}

	connectionsActive.Inc()
	connectionsTotal.Inc()
	if ce := s.logger.Check(zap.DebugLevel, "websocket open"); ce != nil {
		ce.Write(zap.Uint64("conn_id", ws.ID()), zap.Stringer("remote", ws.RemoteAddr()), zap.String("path", ws.Path()))
	}

	ws.conn.WriteData([][]byte{acc.Response})
	ws.conn.Run(ws.open)
	ws.conn.InitRead()
}

// forget untracks ws. Only the first call for a tracked websocket updates
// the metrics and reports true.
func (s *Server) forget(ws *Websocket, reason string) bool {
	s.mu.Lock()
	_, tracked := s.conns[ws.ID()]
	delete(s.conns, ws.ID())
	s.mu.Unlock()
	if !tracked {
		return false
	}

	connectionsActive.Dec()
	connectionsClosed.WithLabelValues(closeInitiator(reason)).Inc()
	if ce := s.logger.Check(zap.DebugLevel, "websocket closed"); ce != nil {
		ce.Write(zap.Uint64("conn_id", ws.ID()), zap.String("reason", reason))
	}
	return true
}

// dispatch runs the middleware chain for one message. Handler errors close
// the connection.
func (s *Server) dispatch(ws *Websocket, msg Message) {
	err := s.chain.OnMessage(ws.ctx, ws, msg)
	if err == nil {
		return
	}

	var ce *CloseError
	if errors.As(err, &ce) {
		ws.Close(ce.Code, ce.Reason)
		return
	}
	s.logger.Error("message handler failed", zap.Uint64("conn_id", ws.ID()), zap.Error(err))
	ws.Close(CloseInternalError, "internal error")
}
