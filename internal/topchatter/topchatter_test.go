package topchatter

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/hallchat/internal/chat"
	"github.com/Tyrowin/hallchat/internal/testhelpers"
)

var now = time.Date(2018, time.September, 15, 12, 0, 0, 0, time.UTC)

// chatState holds the named users, each having written the given number of
// messages in the default room.
func chatState(t *testing.T, messages map[string]int, names ...string) chat.State {
	t.Helper()
	s := chat.NewState(chat.NewRegistry(nil))
	for i, name := range names {
		s = s.RegisterUser(name, chat.ConnID(i+1), chat.LevelNormal)
		u, ok := s.User(name)
		require.True(t, ok, name)
		for j := 0; j < messages[name]; j++ {
			s = s.AppendHistory(chat.Entry{Message: "hi", User: u, Room: chat.DefaultRoom, Timestamp: now})
		}
	}
	return s.ClearEffects()
}

func newBot(t *testing.T, heartbeat time.Duration) *Bot {
	t.Helper()
	b := New(DefaultName, heartbeat, testhelpers.DiscardLogger())
	t.Cleanup(func() { _ = b.Close() })
	line, err := b.ReadLine()
	require.NoError(t, err)
	require.Equal(t, ":user TopChatter", line)
	return b
}

func readLine(t *testing.T, b *Bot) string {
	t.Helper()
	line, err := b.ReadLine()
	require.NoError(t, err)
	return line
}

func TestRanking(t *testing.T) {
	s := chatState(t, map[string]int{"alice": 3, "bob": 1, "carl": 2, "erin": 5, DefaultName: 9},
		"alice", "bob", "carl", "dave", "erin", DefaultName)

	assert.Equal(t, []string{
		"Top 4 chatter users:",
		" -- erin has 5 messages",
		" -- alice has 3 messages",
		" -- carl has 2 messages",
		" -- bob has 1 messages",
	}, Ranking(s, DefaultName, Top))

	assert.Equal(t, []string{"Top 4 chatter users:", " -- dave has 0 messages"},
		Ranking(chatState(t, nil, "dave"), DefaultName, Top))
}

func TestMessageCount(t *testing.T) {
	s := chatState(t, map[string]int{"alice": 3, "bob": 1}, "alice", "bob")
	assert.Equal(t, 3, MessageCount(s.History(), "alice"))
	assert.Equal(t, 1, MessageCount(s.History(), "bob"))
	assert.Zero(t, MessageCount(s.History(), "nobody"))
}

func TestTriggerAnswersWithRanking(t *testing.T) {
	b := newBot(t, time.Hour)
	s := chatState(t, map[string]int{"alice": 2, "bob": 1}, "alice", "bob")
	alice, _ := s.User("alice")

	b.Observe(s, chat.Deliver{Entry: chat.Entry{Message: "who talks? !topchatter", User: alice, Room: chat.DefaultRoom}})
	assert.Equal(t, "Top 4 chatter users:", readLine(t, b))
	assert.Equal(t, " -- alice has 2 messages", readLine(t, b))
	assert.Equal(t, " -- bob has 1 messages", readLine(t, b))
}

func TestTriggerOutsideTheDefaultRoomIsIgnored(t *testing.T) {
	b := newBot(t, 20*time.Millisecond)
	s := chatState(t, nil, "alice")
	alice, _ := s.User("alice")

	b.Observe(s, chat.Deliver{Entry: chat.Entry{Message: "!topchatter", User: alice, Room: "dev"}})
	b.Observe(s, chat.Deliver{Entry: chat.Entry{Message: "no trigger here", User: alice, Room: chat.DefaultRoom}})
	b.Observe(s, chat.Deliver{Entry: chat.Entry{Message: "!topchatter", User: chat.User{Username: DefaultName}, Room: chat.DefaultRoom}})
	assert.Equal(t, chat.Heartbeat, readLine(t, b))
}

func TestArrivalsAndDepartures(t *testing.T) {
	b := newBot(t, 20*time.Millisecond)
	s := chatState(t, map[string]int{"alice": 2}, "alice")

	b.Observe(s, chat.UserJoined{Username: "unknown_7"})
	b.Observe(s, chat.UserRenamed{From: "unknown_7", To: "bob"})
	b.Observe(s, chat.UserRenamed{From: "unknown_8", To: DefaultName})
	assert.Equal(t, "User bob is now on the server.", readLine(t, b))

	gone := s.RemoveUser("alice").ClearEffects()
	b.Observe(gone, chat.UserLeft{Username: "unknown_9", Known: false})
	b.Observe(gone, chat.UserLeft{Username: "alice", Known: true})
	assert.Equal(t, "User alice left the server. They wrote 2 messages.", readLine(t, b))
	assert.Equal(t, chat.Heartbeat, readLine(t, b))
}

func TestCloseEndsReadLine(t *testing.T) {
	b := newBot(t, time.Hour)
	done := make(chan error, 1)
	go func() {
		_, err := b.ReadLine()
		done <- err
	}()
	require.NoError(t, b.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(testhelpers.Timeout):
		t.Fatal("ReadLine did not return")
	}
	assert.NoError(t, b.Close())
	assert.Empty(t, b.RemoteIP())
	assert.NoError(t, b.WriteLines([]string{"ignored"}))
}
