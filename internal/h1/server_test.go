package h1

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/FumingPower3925/ripple/internal/transport"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// echoUpgrader answers the handshake and then echoes raw bytes.
func echoUpgrader() Upgrader {
	return UpgraderFunc(func(stream transport.Stream, acc *Accepted) {
		stream.Write([][]byte{acc.Response}, func(_ int, err error) {
			if err != nil {
				return
			}
			var loop func()
			buf := make([]byte, 1024)
			loop = func() {
				stream.ReadSome(buf, func(n int, err error) {
					if err != nil {
						_ = stream.Close()
						return
					}
					out := append([]byte(nil), buf[:n]...)
					stream.Write([][]byte{out}, func(int, error) { loop() })
				})
			}
			loop()
		})
	})
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Addr = freeAddr(t)
	cfg.NumEventLoop = 1
	core, _ := observer.New(zapcore.DebugLevel)
	cfg.Logger = zap.New(core)
	s := NewServer(echoUpgrader(), cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestServer_UpgradeAndEcho(t *testing.T) {
	s := startServer(t, Config{Handshake: HandshakeConfig{Path: "/ws"}})

	conn, err := net.Dial("tcp", s.cfg.Addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, upgradeRequest+"early")
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	resp, err := http.ReadResponse(r, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="), resp.Header.Get("Sec-WebSocket-Accept"))

	got := make([]byte, len("early"))
	_, err = io.ReadFull(r, got)
	require.NoError(t, err)
	assert.Equal(t, "early", string(got))

	_, err = io.WriteString(conn, "later")
	require.NoError(t, err)
	_, err = io.ReadFull(r, got)
	require.NoError(t, err)
	assert.Equal(t, "later", string(got))
}

func TestServer_RejectsPlainRequest(t *testing.T) {
	s := startServer(t, Config{})

	conn, err := net.Dial("tcp", s.cfg.Addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	resp, err := http.ReadResponse(r, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	_, _ = io.Copy(io.Discard, resp.Body)

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_ConnectionLimit(t *testing.T) {
	s := startServer(t, Config{MaxConnections: 1})

	first, err := net.Dial("tcp", s.cfg.Addr)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return s.ActiveConnections() == 1 }, 5*time.Second, 10*time.Millisecond)

	second, err := net.Dial("tcp", s.cfg.Addr)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.SetDeadline(time.Now().Add(5*time.Second)))

	resp, err := http.ReadResponse(bufio.NewReader(second), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return s.ActiveConnections() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServer_StartTwice(t *testing.T) {
	s := startServer(t, Config{})
	assert.ErrorIs(t, s.Start(context.Background()), ErrServerClosed)
}
