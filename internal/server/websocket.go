package server

import (
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const pongWait = 60 * time.Second

// wsTransport carries lines over a WebSocket. An inbound text frame may hold
// several lines; outbound batches are written as one frame.
type wsTransport struct {
	conn    *websocket.Conn
	ip      string
	pending []string
}

func newWSTransport(conn *websocket.Conn, remoteAddr string, maxLine int) *wsTransport {
	conn.SetReadLimit(int64(maxLine))
	t := &wsTransport{conn: conn, ip: hostOf(remoteAddr)}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return t
}

func (t *wsTransport) ReadLine() (string, error) {
	for len(t.pending) == 0 {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
		text := strings.TrimRight(string(data), "\r\n")
		for _, line := range strings.Split(text, "\n") {
			t.pending = append(t.pending, strings.TrimSuffix(line, "\r"))
		}
	}
	line := t.pending[0]
	t.pending = t.pending[1:]
	return line, nil
}

func (t *wsTransport) WriteLines(lines []string) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	w, err := t.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(strings.Join(lines, "\n"))); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (t *wsTransport) Ping() error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a close frame, best effort, and closes the connection.
func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *wsTransport) RemoteIP() string { return t.ip }
