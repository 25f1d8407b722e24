package h1

import (
	"testing"
)

// FuzzSessionHandleData feeds arbitrary bytes, split at an arbitrary point,
// through the HTTP phase. It must never panic, and an accepted handshake must
// always validate.
func FuzzSessionHandleData(f *testing.F) {
	f.Add([]byte(upgradeRequest), uint16(10))
	f.Add([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"+upgradeRequest), uint16(0))
	f.Add([]byte("GARBAGE\r\n\r\n"), uint16(3))
	f.Add([]byte("GET / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"), uint16(40))

	f.Fuzz(func(t *testing.T, data []byte, split uint16) {
		cut := int(split)
		if cut > len(data) {
			cut = len(data)
		}

		s := NewSession(HandshakeConfig{MaxHeaderBytes: 1024})
		for _, chunk := range [][]byte{data[:cut], data[cut:]} {
			res := s.HandleData(chunk)
			if acc := res.Accepted; acc != nil {
				if err := ValidateUpgrade(acc.Request, ""); err != nil {
					t.Fatalf("accepted invalid handshake: %v", err)
				}
				if len(acc.Response) == 0 {
					t.Fatal("accepted without a response")
				}
				return
			}
			if res.Close {
				return
			}
		}
	})
}
