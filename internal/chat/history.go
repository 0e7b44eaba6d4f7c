package chat

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Entry is one delivered message. Entries are never modified once created.
type Entry struct {
	Message   string
	User      User
	Room      string
	Timestamp time.Time
}

// Formatted renders the entry the way room members receive it.
func (e Entry) Formatted() string {
	var b strings.Builder
	if e.Room != DefaultRoom {
		b.WriteString(RoomPrefix + e.Room + " ")
	}
	fmt.Fprintf(&b, "[%s] %s: %s", e.Timestamp.Format("15:04"), e.User.Username, e.Message)
	return b.String()
}

// Data renders the entry in the machine parsable form
// "@room$<epoch millis>+user message".
func (e Entry) Data() string {
	return RoomPrefix + e.Room + "$" + strconv.FormatInt(e.Timestamp.UnixMilli(), 10) + "+" + e.User.Username + " " + e.Message
}

// Extended renders the entry with the full date and millisecond time.
func (e Entry) Extended() string {
	return fmt.Sprintf("%s%-8s [%s] %s: %s",
		RoomPrefix, e.Room, e.Timestamp.Format("02-01-2006 15:04:05.000"), e.User.Username, e.Message)
}

// History is an append-only log of entries.
type History struct {
	entries []Entry
}

// Append returns a history with e added at the end.
func (h History) Append(e Entry) History {
	return History{entries: append(slices.Clip(h.entries), e)}
}

// Join merges two histories ordered by timestamp. Entries with equal
// timestamps keep their relative order, receiver first.
func (h History) Join(other History) History {
	merged := make([]Entry, 0, len(h.entries)+len(other.entries))
	merged = append(merged, h.entries...)
	merged = append(merged, other.entries...)
	slices.SortStableFunc(merged, func(a, b Entry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return History{entries: merged}
}

// All returns a copy of every entry in order.
func (h History) All() []Entry {
	return slices.Clone(h.entries)
}

func (h History) Len() int { return len(h.entries) }

// Filter selects entries. Zero fields impose no restriction and set fields
// combine conjunctively. Start and End are inclusive.
type Filter struct {
	Text  string
	User  *User
	Room  *Room
	Start *time.Time
	End   *time.Time
}

func (f Filter) match(e Entry) bool {
	if f.Text != "" && !strings.Contains(e.Message, f.Text) {
		return false
	}
	if f.User != nil && e.User.Username != f.User.Username {
		return false
	}
	if f.Room != nil && e.Room != f.Room.Name {
		return false
	}
	if f.Start != nil && e.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.Timestamp.After(*f.End) {
		return false
	}
	return true
}

// Query returns the entries matching f.
func (h History) Query(f Filter) History {
	var out []Entry
	for _, e := range h.entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	return History{entries: out}
}

// QueryText returns the entries whose message contains text.
func (h History) QueryText(text string) History {
	return h.Query(Filter{Text: text})
}

// QueryStrings is Query with every filter given as text: a username, a room
// name and epoch millisecond bounds. Empty strings and bounds that do not
// parse impose no restriction.
func (h History) QueryStrings(text, username, room, start, end string) History {
	f := Filter{Text: text}
	if username != "" {
		f.User = &User{Username: username}
	}
	if room != "" {
		r := NewRoom(room)
		f.Room = &r
	}
	f.Start = parseMillis(start)
	f.End = parseMillis(end)
	return h.Query(f)
}

func parseMillis(s string) *time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}
