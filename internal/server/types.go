package server

import (
	"net"
	"strings"
)

// Transport frames lines over one connection. ReadLine is only called by
// the client's read pump; the other methods only by its write pump, except
// RemoteIP which is safe to call anywhere.
type Transport interface {
	// ReadLine blocks until a full line arrives. The line has no
	// terminator.
	ReadLine() (string, error)
	// WriteLines writes lines as one batch.
	WriteLines(lines []string) error
	// Ping sends a transport level keepalive, if the transport has one.
	Ping() error
	Close() error
	// RemoteIP returns the peer address used for bans, or "" when the
	// connection has none.
	RemoteIP() string
}

// hostOf strips the port of a remote address.
func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
