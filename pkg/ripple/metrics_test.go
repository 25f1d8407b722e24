package ripple

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FumingPower3925/ripple/internal/h1"
	"github.com/FumingPower3925/ripple/internal/wsconn"
)

func TestCloseInitiator(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{ReasonUserInitiated, "local"},
		{ReasonPeerClosed, "peer"},
		{"payload exceeds limit", "error"},
		{"", "error"},
	}

	for _, tt := range tests {
		if got := closeInitiator(tt.reason); got != tt.want {
			t.Errorf("closeInitiator(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestPrometheus_Middleware(t *testing.T) {
	ws := newTestWebsocket(t)
	h := Prometheus()(okHandler())

	received := messagesReceived.WithLabelValues("binary")
	before := testutil.ToFloat64(received)
	pingsBefore := testutil.ToFloat64(messagesReceived.WithLabelValues("ping"))

	require.NoError(t, h.OnMessage(context.Background(), ws, Message{Opcode: OpBinary, Fin: true, Payload: make([]byte, 300)}))
	require.NoError(t, h.OnMessage(context.Background(), ws, Message{Opcode: OpPing, Fin: true}))

	assert.Equal(t, before+1, testutil.ToFloat64(received))
	assert.Equal(t, pingsBefore, testutil.ToFloat64(messagesReceived.WithLabelValues("ping")), "control frames are skipped")
}

func TestPrometheusWithConfig_CountsControl(t *testing.T) {
	ws := newTestWebsocket(t)
	h := PrometheusWithConfig(PrometheusConfig{})(okHandler())

	pongs := messagesReceived.WithLabelValues("pong")
	before := testutil.ToFloat64(pongs)

	require.NoError(t, h.OnMessage(context.Background(), ws, Message{Opcode: OpPong, Fin: true}))
	assert.Equal(t, before+1, testutil.ToFloat64(pongs))
}

func TestPrometheus_RegisteredCollectors(t *testing.T) {
	// Registration happens at init; a second registration would panic.
	assert.Positive(t, testutil.CollectAndCount(connectionsActive))
	assert.Positive(t, testutil.CollectAndCount(connectionsTotal))
}

func TestWebsocket_SentCountsQueuedFrames(t *testing.T) {
	s := newInlineServer(t, HandlerFuncs{})
	ws := newWebsocket(s, &h1.Request{Method: "GET", Path: "/ws", Version: "HTTP/1.1"})
	ws.conn = wsconn.New(wsconn.NextID(), &brokenStream{}, s.settings, ws.onFrame, ws.onClose)

	texts := messagesSent.WithLabelValues("text")
	pongs := messagesSent.WithLabelValues("pong")
	textsBefore := testutil.ToFloat64(texts)
	pongsBefore := testutil.ToFloat64(pongs)

	// Queued, then the failed write closes the connection.
	ws.write(OpText, []byte("x"))
	assert.Equal(t, textsBefore+1, testutil.ToFloat64(texts))
	<-ws.Done()

	ws.write(OpPong, nil)
	assert.Equal(t, pongsBefore, testutil.ToFloat64(pongs), "dropped frames are not counted")
}
