package h1

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadUpgrade_Accepts(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = io.WriteString(client, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
		_, _ = io.WriteString(client, upgradeRequest+"tail")
	}()

	replies := make(chan int, 1)
	go func() {
		resp, err := http.ReadResponse(bufio.NewReader(client), nil)
		if err == nil {
			replies <- resp.StatusCode
		}
	}()

	acc, err := ReadUpgrade(server, HandshakeConfig{Path: "/ws"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, <-replies)
	assert.Equal(t, "/ws?room=1", acc.Request.Path)
	assert.Equal(t, []int{http.StatusSwitchingProtocols}, readStatuses(t, acc.Response))

	// "tail" may have arrived with the head or not yet.
	assert.Contains(t, []string{"", "tail"}, string(acc.Rest))
}

func TestReadUpgrade_Rejects(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	go func() {
		_, _ = io.WriteString(client, "BROKEN\r\n\r\n")
	}()

	done := make(chan error, 1)
	go func() {
		_, err := ReadUpgrade(server, HandshakeConfig{})
		_ = server.Close()
		done <- err
	}()

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.ErrorIs(t, <-done, ErrMalformedRequest)
}

func TestReadUpgrade_PeerGone(t *testing.T) {
	server, client := net.Pipe()
	_ = client.Close()

	_, err := ReadUpgrade(server, HandshakeConfig{})
	assert.ErrorIs(t, err, io.EOF)
}
