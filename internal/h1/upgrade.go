package h1

import (
	"net"
)

const readChunk = 4096

// ReadUpgrade runs the HTTP phase over a blocking connection. Rejections are
// answered on conn. It returns once a handshake was accepted, with the 101
// response still to be written, or with the error that ended the connection.
// The caller owns conn and its deadlines.
func ReadUpgrade(conn net.Conn, cfg HandshakeConfig) (*Accepted, error) {
	s := NewSession(cfg)
	buf := make([]byte, readChunk)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			res := s.HandleData(buf[:n])
			if res.Accepted != nil {
				return res.Accepted, nil
			}
			if len(res.Reply) > 0 {
				if _, werr := conn.Write(res.Reply); werr != nil {
					return nil, werr
				}
			}
			if res.Close {
				return nil, res.Err
			}
		}
		if err != nil {
			return nil, err
		}
	}
}
