package h1

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string) *Request {
	t.Helper()
	p := NewParser()
	p.Reset([]byte(raw))
	var req Request
	n, err := p.ParseRequest(&req)
	require.NoError(t, err)
	require.NotZero(t, n)
	return &req
}

func TestAcceptKey(t *testing.T) {
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestValidateUpgrade(t *testing.T) {
	valid := upgradeRequest

	tests := []struct {
		name   string
		raw    string
		path   string
		err    error
		status int
	}{
		{name: "valid", raw: valid, path: "/ws"},
		{name: "any path", raw: valid},
		{name: "wrong path", raw: valid, path: "/chat", err: ErrWrongPath, status: http.StatusNotFound},
		{
			name:   "plain GET",
			raw:    "GET /ws HTTP/1.1\r\nHost: x\r\n\r\n",
			err:    ErrNotUpgrade,
			status: http.StatusUpgradeRequired,
		},
		{
			name:   "POST",
			raw:    strings.Replace(valid, "GET", "POST", 1),
			err:    ErrBadHandshake,
			status: http.StatusBadRequest,
		},
		{
			name:   "version 8",
			raw:    strings.Replace(valid, "Version: 13", "Version: 8", 1),
			err:    ErrUnsupportedVersion,
			status: http.StatusUpgradeRequired,
		},
		{
			name:   "short key",
			raw:    strings.Replace(valid, "dGhlIHNhbXBsZSBub25jZQ==", "c2hvcnQ=", 1),
			err:    ErrBadHandshake,
			status: http.StatusBadRequest,
		},
		{
			name:   "body",
			raw:    strings.Replace(valid, "X-Custom: a\r\n", "Content-Length: 3\r\n", 1),
			err:    ErrBadHandshake,
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpgrade(parse(t, tt.raw), tt.path)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.status, StatusCode(err))
		})
	}
}

func TestAppendSwitchingProtocols(t *testing.T) {
	raw := AppendSwitchingProtocols(nil, "dGhlIHNhbXBsZSBub25jZQ==")
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "websocket", resp.Header.Get("Upgrade"))
	assert.Equal(t, "Upgrade", resp.Header.Get("Connection"))
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", resp.Header.Get("Sec-WebSocket-Accept"))
	assert.NotEmpty(t, resp.Header.Get("Date"))
}

func TestAppendError(t *testing.T) {
	raw := AppendError(nil, http.StatusUpgradeRequired, true)
	raw = AppendError(raw, http.StatusNotFound, false)

	r := bufio.NewReader(bytes.NewReader(raw))

	resp, err := http.ReadResponse(r, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	assert.Equal(t, "13", resp.Header.Get("Sec-WebSocket-Version"))
	assert.False(t, resp.Close)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	assert.Equal(t, "Upgrade Required", body.String())

	resp, err = http.ReadResponse(r, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.True(t, resp.Close)
}
