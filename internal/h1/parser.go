// Package h1 implements the HTTP/1.1 half of the WebSocket opening handshake,
// both on a gnet event loop and over a blocking net.Conn.
package h1

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ErrMalformedRequest reports a request head that is not valid HTTP/1.x.
var ErrMalformedRequest = errors.New("malformed request")

// Request is a parsed HTTP/1.1 request head.
type Request struct {
	Method  string
	Path    string
	Version string
	Host    string
	// Headers holds (lowercased name, value) pairs in arrival order.
	Headers [][2]string

	ContentLength   int64
	ChunkedEncoding bool
	KeepAlive       bool
}

// Reset clears the request fields for reuse.
func (r *Request) Reset() {
	r.Method = ""
	r.Path = ""
	r.Version = ""
	r.Host = ""
	r.Headers = r.Headers[:0]
	r.ContentLength = -1
	r.ChunkedEncoding = false
	r.KeepAlive = false
}

// Header returns the first value of the named header. name must be lowercase.
func (r *Request) Header(name string) string {
	for _, h := range r.Headers {
		if h[0] == name {
			return h[1]
		}
	}
	return ""
}

// Values returns every value of the named header. name must be lowercase.
func (r *Request) Values(name string) []string {
	var vs []string
	for _, h := range r.Headers {
		if h[0] == name {
			vs = append(vs, h[1])
		}
	}
	return vs
}

// HasBody reports whether the request announced a body.
func (r *Request) HasBody() bool {
	return r.ChunkedEncoding || r.ContentLength > 0
}

var (
	bGET    = []byte("GET")
	bHTTP11 = []byte("HTTP/1.1")
	bCRLF   = []byte("\r\n")

	sGET    = "GET"
	sHTTP11 = "HTTP/1.1"
)

// Parser parses request heads out of a byte buffer.
type Parser struct {
	buf []byte
	pos int
}

// NewParser creates a new HTTP/1.1 parser.
func NewParser() *Parser {
	return &Parser{}
}

// Reset resets the parser with new buffer data.
func (p *Parser) Reset(buf []byte) {
	p.buf = buf
	p.pos = 0
}

// Remaining returns the number of unparsed bytes in the buffer.
func (p *Parser) Remaining() int {
	return len(p.buf) - p.pos
}

// ParseRequest parses the request line and headers from the buffer.
// It returns the number of bytes consumed, or 0 when the head is incomplete.
func (p *Parser) ParseRequest(req *Request) (int, error) {
	start := p.pos
	req.Reset()

	complete, err := p.parseRequestLine(req)
	if err != nil || !complete {
		p.pos = start
		return 0, err
	}
	complete, err = p.parseHeaders(req)
	if err != nil || !complete {
		p.pos = start
		return 0, err
	}

	if req.Host == "" && req.Version == sHTTP11 {
		return 0, fmt.Errorf("%w: missing Host header", ErrMalformedRequest)
	}
	req.KeepAlive = keepAlive(req)
	return p.pos - start, nil
}

// parseRequestLine parses METHOD SP PATH SP VERSION CRLF, advancing p.pos.
func (p *Parser) parseRequestLine(req *Request) (bool, error) {
	lineEnd := bytes.Index(p.buf[p.pos:], bCRLF)
	if lineEnd == -1 {
		return false, nil
	}
	line := p.buf[p.pos : p.pos+lineEnd]
	p.pos += lineEnd + 2

	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 || len(parts[0]) == 0 || len(parts[1]) == 0 {
		return false, fmt.Errorf("%w: invalid request line", ErrMalformedRequest)
	}
	if bytes.Equal(parts[0], bGET) {
		req.Method = sGET
	} else {
		req.Method = string(parts[0])
	}
	req.Path = string(parts[1])
	if bytes.Equal(parts[2], bHTTP11) {
		req.Version = sHTTP11
	} else {
		req.Version = string(parts[2])
	}
	if req.Version != "HTTP/1.1" && req.Version != "HTTP/1.0" {
		return false, fmt.Errorf("%w: unsupported HTTP version %q", ErrMalformedRequest, req.Version)
	}
	return true, nil
}

// parseHeaders parses headers until CRLF CRLF, advancing p.pos.
func (p *Parser) parseHeaders(req *Request) (bool, error) {
	for {
		lineEnd := bytes.Index(p.buf[p.pos:], bCRLF)
		if lineEnd == -1 {
			return false, nil
		}
		line := p.buf[p.pos : p.pos+lineEnd]
		p.pos += lineEnd + 2
		if len(line) == 0 {
			return true, nil
		}
		colonIdx := bytes.IndexByte(line, ':')
		if colonIdx <= 0 {
			return false, fmt.Errorf("%w: invalid header line", ErrMalformedRequest)
		}
		if err := appendHeader(req, line[:colonIdx], bytes.TrimSpace(line[colonIdx+1:])); err != nil {
			return false, err
		}
	}
}

// appendHeader records a single header line.
func appendHeader(req *Request, rawName, rawValue []byte) error {
	var name string
	switch {
	case asciiEqualFold(rawName, "Host"):
		name = "host"
	case asciiEqualFold(rawName, "Upgrade"):
		name = "upgrade"
	case asciiEqualFold(rawName, "Connection"):
		name = "connection"
	case asciiEqualFold(rawName, "Content-Length"):
		name = "content-length"
	case asciiEqualFold(rawName, "Transfer-Encoding"):
		name = "transfer-encoding"
	default:
		name = strings.ToLower(string(rawName))
	}
	value := string(rawValue)
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("%w: invalid header %q", ErrMalformedRequest, name)
	}
	req.Headers = append(req.Headers, [2]string{name, value})

	switch name {
	case "host":
		req.Host = value
	case "content-length":
		cl, ok := parseInt64Bytes(rawValue)
		if !ok {
			return fmt.Errorf("%w: invalid content-length", ErrMalformedRequest)
		}
		req.ContentLength = cl
	case "transfer-encoding":
		if asciiContainsFoldBytes(rawValue, "chunked") {
			req.ChunkedEncoding = true
			req.ContentLength = -1
		}
	}
	return nil
}

func keepAlive(req *Request) bool {
	conn := req.Values("connection")
	if req.Version == sHTTP11 {
		return !httpguts.HeaderValuesContainsToken(conn, "close")
	}
	return httpguts.HeaderValuesContainsToken(conn, "keep-alive")
}

// asciiEqualFold reports whether b equals s under ASCII case-insensitive comparison
func asciiEqualFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		cb := b[i]
		cs := s[i]
		if 'A' <= cb && cb <= 'Z' {
			cb |= 0x20
		}
		if 'A' <= cs && cs <= 'Z' {
			cs |= 0x20
		}
		if cb != cs {
			return false
		}
	}
	return true
}

// asciiContainsFoldBytes reports whether b contains sub (ASCII case-insensitive)
func asciiContainsFoldBytes(b []byte, sub string) bool {
	m := len(sub)
	if m == 0 {
		return true
	}
	for i := 0; i+m <= len(b); i++ {
		if asciiEqualFold(b[i:i+m], sub) {
			return true
		}
	}
	return false
}

// parseInt64Bytes parses a base-10 int64 from ASCII bytes, returning ok=false on error
func parseInt64Bytes(b []byte) (int64, bool) {
	if len(b) == 0 || len(b) > 18 {
		return 0, false
	}
	var n int64
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}
