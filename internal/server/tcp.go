package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/Tyrowin/hallchat/internal/chat"
)

// tcpTransport frames newline terminated lines over a TCP connection.
type tcpTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
	ip      string
}

func newTCPTransport(conn net.Conn, maxLine int) *tcpTransport {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(maxLine, 4096)), maxLine)
	return &tcpTransport{conn: conn, scanner: scanner, ip: hostOf(conn.RemoteAddr().String())}
}

func (t *tcpTransport) ReadLine() (string, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSuffix(t.scanner.Text(), "\r"), nil
}

func (t *tcpTransport) WriteLines(lines []string) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	_, err := io.WriteString(t.conn, strings.Join(lines, "\n")+"\n")
	return err
}

// Ping is a no-op: line clients send the heartbeat token themselves.
func (t *tcpTransport) Ping() error { return nil }

func (t *tcpTransport) Close() error { return t.conn.Close() }

func (t *tcpTransport) RemoteIP() string { return t.ip }

// ServeTCP accepts line protocol connections on ln until ctx is done.
func ServeTCP(ctx context.Context, ln net.Listener, hub *Hub) error {
	logger := hub.logger.With(slog.String("component", "tcp"))
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logger.Info("listening", slog.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}

		t := newTCPTransport(conn, hub.cfg.MaxLineLength)
		if _, err := hub.Register(t); err != nil {
			logger.Warn("connection refused", slog.String("addr", t.ip), slog.Any("error", err))
			if errors.Is(err, ErrBanned) {
				_ = t.WriteLines(serviceLines(chat.ServicePrefix, "You are banned from this server."))
			}
			_ = conn.Close()
		}
	}
}
