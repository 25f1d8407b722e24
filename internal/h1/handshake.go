package h1

import (
	"crypto/sha1" //nolint:gosec // mandated by RFC 6455
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Handshake rejections. StatusCode maps each to its HTTP status.
var (
	ErrNotUpgrade         = errors.New("not a websocket upgrade request")
	ErrWrongPath          = errors.New("no websocket endpoint at path")
	ErrBadHandshake       = errors.New("bad websocket handshake")
	ErrUnsupportedVersion = errors.New("unsupported websocket version")
	ErrHeadTooLarge       = errors.New("request head too large")
)

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ValidateUpgrade checks that req is a WebSocket opening handshake for path.
// An empty path accepts any target.
func ValidateUpgrade(req *Request, path string) error {
	if path != "" && requestPath(req.Path) != path {
		return fmt.Errorf("%w %q", ErrWrongPath, req.Path)
	}
	if !httpguts.HeaderValuesContainsToken(req.Values("upgrade"), "websocket") ||
		!httpguts.HeaderValuesContainsToken(req.Values("connection"), "upgrade") {
		return ErrNotUpgrade
	}
	if req.Method != http.MethodGet {
		return fmt.Errorf("%w: method %s", ErrBadHandshake, req.Method)
	}
	if req.Version != sHTTP11 {
		return fmt.Errorf("%w: %s", ErrBadHandshake, req.Version)
	}
	if req.HasBody() {
		return fmt.Errorf("%w: request has a body", ErrBadHandshake)
	}
	if v := req.Header("sec-websocket-version"); v != "13" {
		return fmt.Errorf("%w %q", ErrUnsupportedVersion, v)
	}
	key := req.Header("sec-websocket-key")
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return fmt.Errorf("%w: invalid Sec-WebSocket-Key", ErrBadHandshake)
	}
	return nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for key.
func AcceptKey(key string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(key))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// StatusCode returns the HTTP status a handshake error is answered with.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrWrongPath):
		return http.StatusNotFound
	case errors.Is(err, ErrNotUpgrade), errors.Is(err, ErrUnsupportedVersion):
		return http.StatusUpgradeRequired
	case errors.Is(err, ErrHeadTooLarge):
		return http.StatusRequestHeaderFieldsTooLarge
	default:
		return http.StatusBadRequest
	}
}

func requestPath(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}
