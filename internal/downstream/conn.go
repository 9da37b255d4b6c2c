package downstream

import "net"

// Conn is the transport a Connection reads requests from and writes
// replies to. The websocket-backed implementation lives in
// internal/server; tests use an in-memory fake.
type Conn interface {
	ReadText() (string, error)
	WriteText(string) error
	WriteBinary([]byte) error
	Close() error
	RemoteAddr() net.Addr
}
