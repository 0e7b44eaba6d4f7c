// Package testhelpers provides utilities shared by the server tests: loggers,
// HTTP requests and line oriented TCP and WebSocket clients.
package testhelpers

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Timeout bounds every blocking read of the helpers.
const Timeout = 5 * time.Second

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MakeRequest executes an HTTP request and fails the test on transport
// errors. The caller closes the body.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: Timeout}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// LineReader reads protocol lines from a connection.
type LineReader interface {
	ReadLine() (string, error)
}

// TCPClient is a line protocol client over TCP.
type TCPClient struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// DialTCP connects to addr and closes the connection when the test ends.
func DialTCP(t *testing.T, addr string) *TCPClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, Timeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &TCPClient{conn: conn, scanner: bufio.NewScanner(conn)}
}

func (c *TCPClient) Send(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, c.conn.SetWriteDeadline(time.Now().Add(Timeout)))
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(t, err)
}

func (c *TCPClient) ReadLine() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(Timeout)); err != nil {
		return "", err
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return c.scanner.Text(), nil
}

func (c *TCPClient) Close() error { return c.conn.Close() }

// WSClient is a line protocol client over WebSocket. Frames holding several
// lines are split.
type WSClient struct {
	conn    *websocket.Conn
	pending []string
}

// ConnectWebSocket dials url with an allowed origin header and closes the
// connection when the test ends.
func ConnectWebSocket(t *testing.T, url, origin string) *WSClient {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: Timeout}
	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &WSClient{conn: conn}
}

func (c *WSClient) Send(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(line)))
}

func (c *WSClient) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(Timeout)); err != nil {
			return "", err
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		c.pending = strings.Split(string(data), "\n")
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

// CloseWebSocket sends a normal close frame and closes the connection.
func (c *WSClient) CloseWebSocket() error {
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return c.conn.Close()
}

// ExpectLine reads lines until one contains want and returns it. Lines read
// before are discarded.
func ExpectLine(t *testing.T, r LineReader, want string) string {
	t.Helper()
	for {
		line, err := r.ReadLine()
		require.NoError(t, err, "waiting for a line containing %q", want)
		if strings.Contains(line, want) {
			return line
		}
	}
}

// ExpectClosed reads until the peer closes the connection.
func ExpectClosed(t *testing.T, r LineReader) {
	t.Helper()
	deadline := time.Now().Add(Timeout)
	for time.Now().Before(deadline) {
		if _, err := r.ReadLine(); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				t.Fatal("connection still open")
			}
			return
		}
	}
	t.Fatal("connection still open")
}
