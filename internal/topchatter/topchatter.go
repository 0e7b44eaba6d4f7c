// Package topchatter implements an in-process chat bot. It greets users
// arriving on the server, reports how many messages departing users wrote
// and answers "!topchatter" in the default room with the most active users.
package topchatter

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/hallchat/internal/chat"
)

const (
	// DefaultName is the username the bot logs in with.
	DefaultName = "TopChatter"
	// Trigger is the text that asks the bot for the ranking.
	Trigger = "!topchatter"
	// Top is the number of users in the ranking.
	Top = 4
)

// Bot is both the transport of the bot's connection and an observer of
// the hub it is attached to. Lines it wants to say are queued by Observe
// and handed to the hub by ReadLine.
type Bot struct {
	name      string
	heartbeat time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending []string
	ready   chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// New returns a bot logging in as name that sends a heartbeat every
// heartbeat so the liveness sweep keeps it.
func New(name string, heartbeat time.Duration, logger *slog.Logger) *Bot {
	if heartbeat <= 0 {
		heartbeat = time.Minute
	}
	b := &Bot{
		name:      chat.SanitizeUsername(name),
		heartbeat: heartbeat,
		logger:    logger.With(slog.String("component", "topchatter")),
		ready:     make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
	b.say(chat.CommandPrefix + "user " + b.name)
	return b
}

// Name returns the username the bot logs in with.
func (b *Bot) Name() string { return b.name }

// Observe reacts to users arriving and leaving and to messages in the
// default room.
func (b *Bot) Observe(s chat.State, e chat.Effect) {
	switch e := e.(type) {
	case chat.Deliver:
		if e.Entry.Room == chat.DefaultRoom && e.Entry.User.Username != b.name &&
			strings.Contains(e.Entry.Message, Trigger) {
			b.say(Ranking(s, b.name, Top)...)
		}
	case chat.UserRenamed:
		if e.To != b.name {
			b.say(fmt.Sprintf("User %s is now on the server.", e.To))
		}
	case chat.UserLeft:
		if e.Known && e.Username != b.name {
			n := MessageCount(s.History(), e.Username)
			b.say(fmt.Sprintf("User %s left the server. They wrote %d messages.", e.Username, n))
		}
	}
}

// Ranking lists the n connected users with the most messages in history,
// leaving out the user named self.
func Ranking(s chat.State, self string, n int) []string {
	type count struct {
		name     string
		messages int
	}
	var counts []count
	for _, u := range s.Users() {
		if u.Username == self {
			continue
		}
		counts = append(counts, count{u.Username, MessageCount(s.History(), u.Username)})
	}
	slices.SortStableFunc(counts, func(a, b count) int { return cmp.Compare(b.messages, a.messages) })
	if len(counts) > n {
		counts = counts[:n]
	}

	lines := []string{fmt.Sprintf("Top %d chatter users:", n)}
	for _, c := range counts {
		lines = append(lines, fmt.Sprintf(" -- %s has %d messages", c.name, c.messages))
	}
	return lines
}

// MessageCount returns the number of messages username wrote.
func MessageCount(h chat.History, username string) int {
	return h.Query(chat.Filter{User: &chat.User{Username: username}}).Len()
}

func (b *Bot) say(lines ...string) {
	b.mu.Lock()
	b.pending = append(b.pending, lines...)
	b.mu.Unlock()
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *Bot) next() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return "", false
	}
	line := b.pending[0]
	b.pending = b.pending[1:]
	if len(b.pending) > 0 {
		select {
		case b.ready <- struct{}{}:
		default:
		}
	}
	return line, true
}

// ReadLine returns the next queued line, or the heartbeat token when
// nothing was said for a heartbeat period.
func (b *Bot) ReadLine() (string, error) {
	timer := time.NewTimer(b.heartbeat)
	defer timer.Stop()
	for {
		if line, ok := b.next(); ok {
			return line, nil
		}
		select {
		case <-b.ready:
		case <-timer.C:
			return chat.Heartbeat, nil
		case <-b.closed:
			return "", io.EOF
		}
	}
}

// WriteLines discards what the hub sends to the bot.
func (b *Bot) WriteLines(lines []string) error {
	b.logger.Debug("discarding output", slog.Int("lines", len(lines)))
	return nil
}

func (b *Bot) Ping() error { return nil }

func (b *Bot) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// RemoteIP is empty: the bot can not be banned by address.
func (b *Bot) RemoteIP() string { return "" }
