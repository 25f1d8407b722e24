package h1

import (
	"net/http"
	"strconv"

	"github.com/FumingPower3925/ripple/internal/date"
)

// Pre-allocated common header fragments
var (
	statusLine101       = []byte("HTTP/1.1 101 Switching Protocols\r\n")
	headerUpgrade       = []byte("upgrade: websocket\r\n")
	headerConnUpgrade   = []byte("connection: Upgrade\r\n")
	headerAccept        = []byte("sec-websocket-accept: ")
	headerVersion       = []byte("sec-websocket-version: 13\r\n")
	headerDate          = []byte("date: ")
	headerContentType   = []byte("content-type: text/plain; charset=utf-8\r\n")
	headerContentLength = []byte("content-length: ")
	headerConnection    = []byte("connection: ")
	headerKeepAlive     = []byte("keep-alive\r\n")
	headerClose         = []byte("close\r\n")
	crlf                = []byte("\r\n")
)

// AppendSwitchingProtocols appends the 101 response accepting a handshake
// with the given Sec-WebSocket-Key.
func AppendSwitchingProtocols(dst []byte, key string) []byte {
	dst = append(dst, statusLine101...)
	dst = append(dst, headerUpgrade...)
	dst = append(dst, headerConnUpgrade...)
	dst = append(dst, headerAccept...)
	dst = append(dst, AcceptKey(key)...)
	dst = append(dst, crlf...)
	dst = appendDate(dst)
	return append(dst, crlf...)
}

// AppendError appends a plain-text error response. 426 responses advertise
// the supported WebSocket version.
func AppendError(dst []byte, status int, keepAlive bool) []byte {
	body := statusText(status)

	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, ' ')
	dst = append(dst, body...)
	dst = append(dst, crlf...)

	dst = appendDate(dst)
	if status == http.StatusUpgradeRequired {
		dst = append(dst, headerUpgrade...)
		dst = append(dst, headerVersion...)
	}
	dst = append(dst, headerContentType...)
	dst = append(dst, headerContentLength...)
	dst = strconv.AppendInt(dst, int64(len(body)), 10)
	dst = append(dst, crlf...)

	dst = append(dst, headerConnection...)
	if keepAlive {
		dst = append(dst, headerKeepAlive...)
	} else {
		dst = append(dst, headerClose...)
	}
	dst = append(dst, crlf...)
	return append(dst, body...)
}

func appendDate(dst []byte) []byte {
	dst = append(dst, headerDate...)
	dst = append(dst, date.Current()...)
	return append(dst, crlf...)
}

// statusText returns the status text for the codes the handshake produces.
func statusText(code int) string {
	switch code {
	case 101:
		return "Switching Protocols"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 426:
		return "Upgrade Required"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return http.StatusText(code)
	}
}
