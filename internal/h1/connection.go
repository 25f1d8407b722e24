package h1

import (
	"fmt"
	"net/http"
)

// DefaultMaxHeaderBytes bounds a request head when HandshakeConfig leaves it unset.
const DefaultMaxHeaderBytes = 8 << 10

// HandshakeConfig parameterizes the HTTP phase of a connection.
type HandshakeConfig struct {
	// Path is the only request path accepted for upgrades. Empty accepts any.
	Path string
	// MaxHeaderBytes bounds a single request head.
	MaxHeaderBytes int
}

// Result tells the transport what to do after Session.HandleData.
type Result struct {
	// Reply holds responses to send, in order.
	Reply []byte
	// Close asks the transport to close once Reply was written.
	Close bool
	// Accepted is set once a valid upgrade request was received. Reply is
	// then empty; everything to send is in Accepted.Response.
	Accepted *Accepted
	// Err is the last rejection, if any.
	Err error
}

// Accepted describes a successful opening handshake.
type Accepted struct {
	Request *Request
	// Response holds any earlier rejections followed by the 101 response.
	// It must be written before the first frame.
	Response []byte
	// Rest holds bytes received after the request head. They belong to the
	// WebSocket stream.
	Rest []byte
}

// Session runs the HTTP phase of one connection: it parses pipelined
// request heads, answers everything that is not a valid upgrade, and stops at
// the first accepted handshake.
type Session struct {
	cfg     HandshakeConfig
	parser  *Parser
	req     Request
	pending []byte
	done    bool
}

// NewSession creates a session.
func NewSession(cfg HandshakeConfig) *Session {
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	return &Session{cfg: cfg, parser: NewParser()}
}

// Done reports whether the session reached a final outcome.
func (s *Session) Done() bool { return s.done }

// HandleData processes incoming bytes. data may be reused by the caller
// after HandleData returns.
func (s *Session) HandleData(data []byte) Result {
	if s.done {
		return Result{}
	}

	buf := data
	if len(s.pending) > 0 {
		s.pending = append(s.pending, data...)
		buf = s.pending
	}

	var res Result
	for len(buf) > 0 {
		s.parser.Reset(buf)
		n, err := s.parser.ParseRequest(&s.req)
		if err != nil {
			return s.reject(res, err)
		}
		if n == 0 {
			if len(buf) > s.cfg.MaxHeaderBytes {
				return s.reject(res, fmt.Errorf("%w: %d bytes without end of head", ErrHeadTooLarge, len(buf)))
			}
			s.pending = append([]byte(nil), buf...)
			return res
		}
		if n > s.cfg.MaxHeaderBytes {
			return s.reject(res, fmt.Errorf("%w: %d bytes", ErrHeadTooLarge, n))
		}

		if err := ValidateUpgrade(&s.req, s.cfg.Path); err != nil {
			// Request bodies are never read, so a request with one ends the connection.
			keep := s.req.KeepAlive && !s.req.HasBody()
			if !keep {
				return s.reject(res, err)
			}
			res.Reply = AppendError(res.Reply, StatusCode(err), true)
			res.Err = err
			buf = buf[n:]
			continue
		}

		s.done = true
		req := s.req
		res.Accepted = &Accepted{
			Request:  &req,
			Response: AppendSwitchingProtocols(res.Reply, req.Header("sec-websocket-key")),
			Rest:     append([]byte(nil), buf[n:]...),
		}
		res.Reply = nil
		s.pending = nil
		return res
	}

	s.pending = s.pending[:0]
	return res
}

func (s *Session) reject(res Result, err error) Result {
	s.done = true
	s.pending = nil
	res.Reply = AppendError(res.Reply, StatusCode(err), false)
	res.Close = true
	res.Err = err
	return res
}

// Reject builds the response refusing a connection outright, e.g. when the
// server is at capacity.
func Reject(status int) []byte {
	if status == 0 {
		status = http.StatusServiceUnavailable
	}
	return AppendError(nil, status, false)
}
