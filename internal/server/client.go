package server

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/hallchat/internal/chat"
)

const (
	// sendBuffer is the outbound queue length of a client.
	sendBuffer = 256
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	// maxFailedLogins is the number of failed admin logins after which a
	// connection's logins are refused unchecked.
	maxFailedLogins = 3
)

const msgRateLimited = "Rate limit exceeded, message discarded."

// Client is one attached connection. The hub talks to it through a bounded
// queue drained by writePump; readPump feeds received lines to the hub.
type Client struct {
	id          chat.ConnID
	transport   Transport
	hub         *Hub
	addr        string
	send        chan string
	done        chan struct{}
	closeOnce   sync.Once
	rateLimiter *rateLimiter
	rateLimit   RateLimitConfig
	logger      *slog.Logger

	// failedLogins is owned by the read loop.
	failedLogins int
}

func newClient(h *Hub, t Transport, id chat.ConnID, limiter *rateLimiter) *Client {
	addr := t.RemoteIP()
	if id == chat.ConsoleConn {
		addr = "console"
	}
	return &Client{
		id:          id,
		transport:   t,
		hub:         h,
		addr:        addr,
		send:        make(chan string, sendBuffer),
		done:        make(chan struct{}),
		rateLimiter: limiter,
		rateLimit:   h.cfg.RateLimit,
		logger:      h.logger.With(slog.String("component", "client"), slog.String("addr", addr)),
	}
}

// ID returns the connection id assigned by the hub.
func (c *Client) ID() chat.ConnID { return c.id }

// enqueue queues lines without blocking. It reports false when the queue
// is full. Lines for a closed client are dropped silently.
func (c *Client) enqueue(lines []string) bool {
	for _, line := range lines {
		select {
		case <-c.done:
			return true
		default:
		}
		select {
		case c.send <- line:
		default:
			return false
		}
	}
	return true
}

// close asks writePump to flush the queue and close the transport.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// handleReadError logs err at a level matching how unusual it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit) || errors.Is(err, bufio.ErrTooLong):
		c.logger.Warn("line exceeded maximum size", slog.Int("max", c.hub.cfg.MaxLineLength))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Debug("connection closed", slog.Any("error", err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.logger.Warn("unexpected websocket close", slog.Any("error", err))
	default:
		c.logger.Warn("read error", slog.Any("error", err))
	}
}

// checkRateLimit reports whether the next line may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn("rate limit exceeded; discarding line",
			slog.Int("burst", c.rateLimit.Burst), slog.Duration("interval", c.rateLimit.RefillInterval))
		c.enqueue(serviceLines(chat.ServicePrefix, msgRateLimited))
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer c.hub.Unregister(c)

	for {
		line, err := c.transport.ReadLine()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.checkRateLimit() {
			continue
		}
		c.hub.Receive(c, line)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		if err := c.transport.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection", slog.Any("error", err))
		}
	}()

	for {
		select {
		case line := <-c.send:
			if !c.writeLines(line) {
				return
			}
		case <-ticker.C:
			if err := c.transport.Ping(); err != nil {
				c.logger.Debug("ping failed", slog.Any("error", err))
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// writeLines writes first together with everything queued behind it.
func (c *Client) writeLines(first string) bool {
	lines := []string{first}
	for n := len(c.send); n > 0; n-- {
		lines = append(lines, <-c.send)
	}
	if err := c.transport.WriteLines(lines); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("write error", slog.Any("error", err))
		}
		return false
	}
	return true
}

// flush writes what is still queued at close time.
func (c *Client) flush() {
	var lines []string
	for {
		select {
		case line := <-c.send:
			lines = append(lines, line)
		default:
			if len(lines) > 0 {
				if err := c.transport.WriteLines(lines); err != nil && !isExpectedCloseError(err) {
					c.logger.Debug("flush failed", slog.Any("error", err))
				}
			}
			return
		}
	}
}
