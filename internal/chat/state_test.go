package chat

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var now = time.Date(2018, time.September, 15, 12, 0, 0, 0, time.UTC)

// testRegistry echoes text into the history and re-enters itself on :loop.
func testRegistry() *Registry {
	return NewRegistry(map[string]Handler{
		TextCommand: func(s State, req Request) State {
			e := Entry{Message: req.Args, User: req.User, Room: req.Room.Name, Timestamp: req.Now}
			return s.AppendHistory(e).Emit(Deliver{Entry: e})
		},
		":loop": func(s State, req Request) State {
			return s.Execute(req, ":loop")
		},
	})
}

func newTestState(t *testing.T) State {
	t.Helper()
	return NewState(testRegistry())
}

// named registers conn under name and drops the produced effects.
func named(s State, name string, conn ConnID) State {
	return s.RegisterConn(conn).ChangeUsername(fmt.Sprintf("%s%d", UnknownUserPrefix, conn), name).ClearEffects()
}

func notices(effects []Effect, conn ConnID) []string {
	var out []string
	for _, e := range effects {
		if n, ok := e.(ServiceToConn); ok && n.Conn == conn {
			out = append(out, n.Text)
		}
	}
	return out
}

func TestNewStateHoldsOnlyTheDefaultRoom(t *testing.T) {
	s := newTestState(t)
	rooms := s.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, DefaultRoom, rooms[0].Name)
	assert.Empty(t, s.Users())
	assert.Empty(t, s.Effects())
}

func TestRegisterConn(t *testing.T) {
	s := newTestState(t).RegisterConn(7)

	u, ok := s.UserOf(7)
	require.True(t, ok)
	assert.Equal(t, User{Username: "unknown_7", Level: LevelUnknown}, u)
	hall, _ := s.Room(DefaultRoom)
	assert.True(t, hall.HasMember("unknown_7"))
	assert.Equal(t, []Effect{UserJoined{Username: "unknown_7"}}, s.Effects())
}

func TestRegisterUserRefusesTakenNames(t *testing.T) {
	s := newTestState(t).RegisterUser(ConsoleUsername, ConsoleConn, LevelAdmin).ClearEffects()
	s = s.RegisterUser(ConsoleUsername, 3, LevelNormal)

	_, bound := s.UserOf(3)
	assert.False(t, bound)
	assert.Equal(t, []string{msgUserExists}, notices(s.Effects(), 3))
}

func TestChangeUsername(t *testing.T) {
	s := newTestState(t).RegisterConn(1).ClearEffects()
	s = s.ChangeUsername("unknown_1", "bob smith")

	u, ok := s.UserOf(1)
	require.True(t, ok)
	assert.Equal(t, User{Username: "bob", Level: LevelNormal}, u)
	_, stale := s.User("unknown_1")
	assert.False(t, stale)
	assert.Contains(t, s.Effects(), Effect(UserRenamed{From: "unknown_1", To: "bob"}))
	assert.Contains(t, notices(s.Effects(), 1), "User set to bob.")
	assert.Contains(t, notices(s.Effects(), 1),
		"The username you inserted contained invalid characters, so it was modified to bob.")

	hall, _ := s.Room(DefaultRoom)
	assert.True(t, hall.HasMember("bob"))
	assert.False(t, hall.HasMember("unknown_1"))
}

func TestChangeUsernameKeepsRoomPermissions(t *testing.T) {
	s := named(newTestState(t), "bob", 1)
	s = s.AddRoom("dev").UserJoinRoom("dev", "bob").SetUserPermission("dev", "bob", PermMod).ClearEffects()

	s = s.ChangeUsername("bob", "robert")
	dev, _ := s.Room("dev")
	assert.True(t, dev.HasMember("robert"))
	assert.Equal(t, PermMod, dev.Permission("robert"))
	assert.Contains(t, s.Effects(), Effect(ServiceToRoom{Room: "dev", Text: "User bob is now called robert."}))
}

func TestChangeUsernameRefusals(t *testing.T) {
	s := named(named(newTestState(t), "alice", 1), "bob", 2)
	s = s.ChangeUsername("bob", "alice")
	assert.Equal(t, []string{msgUserExists}, notices(s.Effects(), 2))
	_, ok := s.User("bob")
	assert.True(t, ok)

	c := newTestState(t).RegisterUser(ConsoleUsername, ConsoleConn, LevelAdmin).ClearEffects()
	c = c.ChangeUsername(ConsoleUsername, "other")
	_, ok = c.User(ConsoleUsername)
	assert.True(t, ok, "the console keeps its name")
	assert.Empty(t, c.Effects())
}

func TestBecomeAdmin(t *testing.T) {
	s := named(newTestState(t), "bob", 1)
	s = s.AddRoom("dev").UserJoinRoom("dev", "bob").SetUserPermission("dev", "bob", PermRead).ClearEffects()
	bob, _ := s.User("bob")

	failed := s.BecomeAdmin("admin", false, bob)
	assert.Equal(t, []string{msgAdminLoginFailed}, notices(failed.Effects(), 1))
	_, ok := failed.User("bob")
	assert.True(t, ok)

	s = s.BecomeAdmin("admin", true, bob)
	u, ok := s.UserOf(1)
	require.True(t, ok)
	assert.Equal(t, User{Username: "admin", Level: LevelAdmin}, u)
	for _, name := range []string{DefaultRoom, "dev"} {
		r, _ := s.Room(name)
		assert.Equal(t, PermAdmin, r.Permission("admin"), name)
	}
	assert.Contains(t, s.Effects(), Effect(UserRenamed{From: "bob", To: "admin"}))

	s = named(s.ClearEffects(), "carl", 2)
	carl, _ := s.User("carl")
	s = s.BecomeAdmin("admin", true, carl)
	assert.Equal(t, []string{msgAdminLoggedIn}, notices(s.Effects(), 2))
}

func TestRemoveUser(t *testing.T) {
	s := named(newTestState(t), "bob", 1)
	s = s.AddRoom("dev").UserJoinRoom("dev", "bob").ClearEffects()

	s = s.RemoveUser("bob")
	_, ok := s.User("bob")
	assert.False(t, ok)
	_, ok = s.UserOf(1)
	assert.False(t, ok)
	for _, r := range s.Rooms() {
		assert.False(t, r.HasMember("bob"), r.Name)
	}
	assert.Equal(t, []Effect{UserLeft{Username: "bob", Known: true}, DropConn{Conn: 1}}, s.Effects())

	c := newTestState(t).RegisterUser(ConsoleUsername, ConsoleConn, LevelAdmin).ClearEffects()
	c = c.RemoveUser(ConsoleUsername)
	_, ok = c.User(ConsoleUsername)
	assert.True(t, ok)
}

func TestDefaultRoomCannotBeLeftOrRemoved(t *testing.T) {
	s := named(newTestState(t), "bob", 1)
	s = s.UserLeaveRoom(DefaultRoom, "bob").RemoveRoom(DefaultRoom)

	hall, ok := s.Room(DefaultRoom)
	require.True(t, ok)
	assert.True(t, hall.HasMember("bob"))
}

func TestLiftBan(t *testing.T) {
	s := newTestState(t).AddBannedIP("10.0.0.1").AddBannedIP("10.0.0.2")
	assert.True(t, s.IsBanned("10.0.0.1"))

	s = s.LiftBan("10.0.0.1")
	assert.False(t, s.IsBanned("10.0.0.1"))
	assert.Equal(t, []string{"10.0.0.2"}, s.BannedIPs())
	assert.Contains(t, s.Effects(), Effect(LiftBan{IP: "10.0.0.1"}))
}

// TestBindingsStayConsistent runs random register, rename and remove
// sequences and checks that users and connections stay paired one to one.
func TestBindingsStayConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	names := []string{"ann", "ben", "cat", "dan", "eve"}

	for round := 0; round < 50; round++ {
		s := newTestState(t)
		for step := 0; step < 40; step++ {
			conn := ConnID(rng.Intn(6) + 1)
			u, bound := s.UserOf(conn)
			switch op := rng.Intn(3); {
			case op == 0 && !bound:
				s = s.RegisterConn(conn)
			case op == 1 && bound:
				s = s.ChangeUsername(u.Username, names[rng.Intn(len(names))])
			case op == 2 && bound:
				s = s.RemoveUser(u.Username)
			}
			s = s.ClearEffects()

			seen := map[ConnID]bool{}
			for _, u := range s.Users() {
				c, ok := s.ConnOf(u.Username)
				require.True(t, ok, u.Username)
				require.False(t, seen[c])
				seen[c] = true
				back, ok := s.UserOf(c)
				require.True(t, ok)
				require.Equal(t, u, back)
			}
			require.Len(t, s.Conns(), len(s.Users()))
		}
	}
}

func TestHandleLine(t *testing.T) {
	s := named(newTestState(t), "bob", 1).AddRoom("dev")

	t.Run("unbound connection", func(t *testing.T) {
		out := s.HandleLine(99, "hello", now)
		assert.Empty(t, out.Effects())
		assert.Zero(t, out.History().Len())
	})

	t.Run("plain text goes to the default room", func(t *testing.T) {
		out := s.HandleLine(1, "hello", now)
		require.Equal(t, 1, out.History().Len())
		e := out.History().All()[0]
		assert.Equal(t, Entry{Message: "hello", User: User{Username: "bob", Level: LevelNormal}, Room: DefaultRoom, Timestamp: now}, e)
		assert.Equal(t, []Effect{Deliver{Entry: e}}, out.Effects())
	})

	t.Run("forged service prefix", func(t *testing.T) {
		for _, line := range []string{":- fake", "text\n:- fake"} {
			out := s.HandleLine(1, line, now)
			assert.Equal(t, []string{msgForgedService}, notices(out.Effects(), 1))
			assert.Zero(t, out.History().Len())
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		out := s.HandleLine(1, ":nope arg", now)
		assert.Equal(t, []string{"Did not get it :nope"}, notices(out.Effects(), 1))
	})

	t.Run("missing room", func(t *testing.T) {
		out := s.HandleLine(1, "@nowhere hi", now)
		assert.Equal(t, []string{"Error: Room nowhere does not exists"}, notices(out.Effects(), 1))
	})

	t.Run("room not joined", func(t *testing.T) {
		out := s.HandleLine(1, "@dev hi", now)
		assert.Equal(t, []string{"Error: you did not join the room dev. Use :room dev"}, notices(out.Effects(), 1))
		assert.Zero(t, out.History().Len())
	})

	t.Run("replay skips the membership check", func(t *testing.T) {
		bob, _ := s.User("bob")
		out := s.ReplayAs(bob, "@dev hi", now)
		require.Equal(t, 1, out.History().Len())
		assert.Equal(t, "dev", out.History().All()[0].Room)
	})

	t.Run("replay as a departed user does nothing", func(t *testing.T) {
		bob, _ := s.User("bob")
		out := s.RemoveUser("bob").ClearEffects().ReplayAs(bob, "hi", now)
		assert.Empty(t, out.Effects())
		assert.Zero(t, out.History().Len())
	})

	t.Run("nested execution is bounded", func(t *testing.T) {
		out := s.HandleLine(1, ":loop", now)
		assert.Equal(t, []string{msgTooDeep}, notices(out.Effects(), 1))
	})
}

func TestRegistryMerge(t *testing.T) {
	noop := func(s State, _ Request) State { return s }
	base := NewRegistry(map[string]Handler{":a": noop, ":b": noop})

	merged, conflicts := base.Merge(map[string]Handler{":b": noop, ":c": noop})
	assert.Equal(t, []string{":b"}, conflicts)
	assert.Equal(t, []string{":a", ":b", ":c"}, merged.Names())
	assert.Equal(t, []string{":a", ":b"}, base.Names(), "merge leaves the receiver alone")

	var empty *Registry
	_, ok := empty.Lookup(":a")
	assert.False(t, ok)
}

func TestHashCredentials(t *testing.T) {
	hashed, err := HashCredentials(map[string]string{"admin": "secret"}, bcrypt.MinCost)
	require.NoError(t, err)
	creds := Credentials(hashed)
	assert.True(t, creds.Check("admin", "secret"))
	assert.True(t, creds.Check("  Admin ", "secret"), "names are sanitized")
	assert.False(t, creds.Check("admin", "other"))
	assert.False(t, creds.Check("nobody", "secret"))

	again, err := HashCredentials(hashed, bcrypt.MinCost)
	require.NoError(t, err)
	assert.Equal(t, hashed, again, "hashes are kept")
}

func TestParseLogin(t *testing.T) {
	tests := []struct {
		line           string
		name, password string
		ok             bool
	}{
		{":admin root hunter2", "root", "hunter2", true},
		{"@dev :admin root hunter2", "root", "hunter2", true},
		{":admin root", "root", "", true},
		{":admin", "", "", true},
		{":administrator root hunter2", "", "", false},
		{"hello :admin root hunter2", "", "", false},
		{"@dev hello", "", "", false},
	}
	for _, tt := range tests {
		name, password, ok := ParseLogin(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.name, name, tt.line)
		assert.Equal(t, tt.password, password, tt.line)
	}
}

func TestVerifiedLoginReachesTheHandler(t *testing.T) {
	hashed, err := HashCredentials(map[string]string{"admin": "secret"}, bcrypt.MinCost)
	require.NoError(t, err)
	creds := Credentials(hashed)

	var got []bool
	reg := NewRegistry(map[string]Handler{
		AdminCommand: func(s State, req Request) State {
			got = append(got, req.LoginValid("admin", "secret"))
			return s
		},
		":again": func(s State, req Request) State {
			return s.Execute(req, ":admin admin secret")
		},
	})
	s := NewState(reg).RegisterConn(1).ClearEffects()

	login, ok := creds.Verify(":admin admin secret")
	require.True(t, ok)
	assert.True(t, login.Valid)
	s = s.HandleLogin(1, ":admin admin secret", now, login)
	s = s.HandleLine(1, ":admin admin secret", now)
	s.HandleLogin(1, ":again", now, login)

	assert.Equal(t, []bool{true, false, false}, got, "only the checked line itself carries the login")
}
