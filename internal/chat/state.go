// Package chat holds the protocol state machine of the chat server.
//
// State is an immutable value. Every transition returns a new State carrying
// the effects it produced; the caller drains them with Effects and resets
// the queue with ClearEffects before requesting the next transition. Nothing
// in this package performs I/O or reads the clock.
package chat

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Tyrowin/hallchat/internal/bijection"
)

// State is the whole logical state of the server.
type State struct {
	users     map[string]User
	rooms     map[string]Room
	bindings  bijection.Bijection[string, ConnID]
	history   History
	effects   []Effect
	bannedIPs map[string]struct{}
	registry  *Registry
}

// NewState returns a state holding only the default room.
func NewState(registry *Registry) State {
	return State{
		users:    map[string]User{},
		rooms:    map[string]Room{DefaultRoom: NewRoom(DefaultRoom)},
		registry: registry,
	}
}

// WithRegistry swaps the command registry.
func (s State) WithRegistry(r *Registry) State {
	s.registry = r
	return s
}

func (s State) Registry() *Registry { return s.registry }

// Emit appends effects.
func (s State) Emit(effects ...Effect) State {
	s.effects = append(slices.Clip(s.effects), effects...)
	return s
}

// Effects returns the pending effects in emission order.
func (s State) Effects() []Effect { return slices.Clone(s.effects) }

// ClearEffects drops the pending effects.
func (s State) ClearEffects() State {
	s.effects = nil
	return s
}

func (s State) User(username string) (User, bool) {
	u, ok := s.users[username]
	return u, ok
}

// Users returns every user sorted case-insensitively.
func (s State) Users() []User {
	out := slices.Collect(maps.Values(s.users))
	slices.SortFunc(out, func(a, b User) int {
		return strings.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username))
	})
	return out
}

func (s State) Room(name string) (Room, bool) {
	r, ok := s.rooms[name]
	return r, ok
}

// Rooms returns every room sorted case-insensitively.
func (s State) Rooms() []Room {
	out := slices.Collect(maps.Values(s.rooms))
	slices.SortFunc(out, func(a, b Room) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return out
}

// RoomsOf returns the rooms username belongs to.
func (s State) RoomsOf(username string) []Room {
	var out []Room
	for _, r := range s.Rooms() {
		if r.HasMember(username) {
			out = append(out, r)
		}
	}
	return out
}

func (s State) ConnOf(username string) (ConnID, bool) {
	return s.bindings.Direct(username)
}

func (s State) UserOf(conn ConnID) (User, bool) {
	name, ok := s.bindings.Inverse(conn)
	if !ok {
		return User{}, false
	}
	u, ok := s.users[name]
	return u, ok
}

// Conns returns every bound connection.
func (s State) Conns() []ConnID { return s.bindings.Codomain() }

// ConnsInRoom returns the connections of the members of room.
func (s State) ConnsInRoom(room string) []ConnID {
	r, ok := s.rooms[room]
	if !ok {
		return nil
	}
	var out []ConnID
	for _, u := range r.Members() {
		if id, ok := s.bindings.Direct(u.Username); ok {
			out = append(out, id)
		}
	}
	return out
}

func (s State) History() History { return s.history }

func (s State) AppendHistory(e Entry) State {
	s.history = s.history.Append(e)
	return s
}

func (s State) IsBanned(ip string) bool {
	_, ok := s.bannedIPs[ip]
	return ok
}

// BannedIPs returns the banned addresses sorted.
func (s State) BannedIPs() []string {
	return slices.Sorted(maps.Keys(s.bannedIPs))
}

func (s State) AddBannedIP(ip string) State {
	s.bannedIPs = with(s.bannedIPs, ip, struct{}{})
	return s
}

// LiftBan removes ip from the ban list and announces it in the default room.
func (s State) LiftBan(ip string) State {
	s.bannedIPs = without(s.bannedIPs, ip)
	return s.Emit(LiftBan{IP: ip}, ServiceToRoom{Room: DefaultRoom, Text: "Unbanned " + ip})
}

// UpdateRoom stores r, replacing the room with the same name.
func (s State) UpdateRoom(r Room) State {
	s.rooms = with(s.rooms, r.Name, r)
	return s
}

// RegisterUser binds a sanitized name to conn and joins the default room.
// Names already taken are refused with a message to conn.
func (s State) RegisterUser(name string, conn ConnID, level Level) State {
	return s.register(name, SanitizeUsername(name), conn, level)
}

// RegisterConn binds a fresh anonymous user to conn.
func (s State) RegisterConn(conn ConnID) State {
	name := fmt.Sprintf("%s%d", UnknownUserPrefix, conn)
	return s.register(name, name, conn, LevelUnknown)
}

func (s State) register(requested, name string, conn ConnID, level Level) State {
	if _, taken := s.users[name]; taken {
		return s.Emit(Notice(conn, msgUserExists))
	}
	u := User{Username: name, Level: level}
	if level == LevelUnknown {
		s = s.Emit(UserJoined{Username: name})
	} else {
		s = s.Emit(UserRenamed{To: name})
	}
	if name != requested {
		s = s.Emit(nameModified(conn, name))
	}
	if name != requested || level != LevelUnknown {
		s = s.Emit(userSet(conn, name))
	}
	s.users = with(s.users, name, u)
	s.bindings = s.bindings.Plus(name, conn)
	return s.UserJoinRoom(DefaultRoom, name)
}

func nameModified(conn ConnID, name string) Effect {
	return Notice(conn, fmt.Sprintf("The username you inserted contained invalid characters, so it was modified to %s.", name))
}

func userSet(conn ConnID, name string) Effect {
	return Notice(conn, fmt.Sprintf("User set to %s.", name))
}

// ChangeUsername renames a user, keeping its connection, room memberships
// and room permissions. Anonymous users become LevelNormal. The console
// cannot be renamed.
func (s State) ChangeUsername(from, to string) State {
	u, ok := s.users[from]
	if !ok || from == ConsoleUsername {
		return s
	}
	conn, ok := s.bindings.Direct(from)
	if !ok {
		return s
	}
	name := SanitizeUsername(to)
	if _, taken := s.users[name]; taken {
		return s.Emit(Notice(conn, msgUserExists))
	}
	renamed := User{Username: name, Level: max(u.Level, LevelNormal)}
	if name != to {
		s = s.Emit(nameModified(conn, name))
	}
	s = s.Emit(userSet(conn, name), UserRenamed{From: from, To: name})
	for _, r := range s.RoomsOf(from) {
		s = s.Emit(ServiceToRoom{Room: r.Name, Text: fmt.Sprintf("User %s is now called %s.", from, name)})
	}
	s = s.replaceUser(u, renamed, conn, func(r Room) Permission { return r.Permission(from) })
	if hall := s.rooms[DefaultRoom]; !hall.HasMember(name) {
		s = s.UserJoinRoom(DefaultRoom, name)
	}
	return s
}

func (s State) replaceUser(old, u User, conn ConnID, perm func(Room) Permission) State {
	rooms := make(map[string]Room, len(s.rooms))
	for name, r := range s.rooms {
		if r.HasMember(old.Username) {
			r = r.ReplaceMember(old.Username, u, perm(r))
		}
		rooms[name] = r
	}
	s.rooms = rooms
	s.users = with(without(s.users, old.Username), u.Username, u)
	s.bindings = s.bindings.RemoveByDomain(old.Username).Plus(u.Username, conn)
	return s
}

// BecomeAdmin logs from in as the admin account name. verified is the
// outcome of the password check, made by the caller with Credentials.Check.
// On success from is replaced by an admin identity in every room it belongs
// to, with PermAdmin there.
func (s State) BecomeAdmin(name string, verified bool, from User) State {
	conn, ok := s.bindings.Direct(from.Username)
	if !ok {
		return s
	}
	name = SanitizeUsername(name)
	if holder, taken := s.users[name]; taken && (holder.Username != from.Username || holder.Level == LevelAdmin) {
		return s.Emit(Notice(conn, msgAdminLoggedIn))
	}
	if !verified {
		return s.Emit(Notice(conn, msgAdminLoginFailed))
	}
	admin := User{Username: name, Level: LevelAdmin}
	s = s.Emit(userSet(conn, name))
	if name != from.Username {
		s = s.Emit(UserRenamed{From: from.Username, To: name})
	}
	return s.replaceUser(from, admin, conn, func(Room) Permission { return PermAdmin })
}

// RemoveUser removes a user from every room and the user table and asks for
// its connection to be dropped. The console is never removed.
func (s State) RemoveUser(username string) State {
	u, ok := s.users[username]
	if !ok || username == ConsoleUsername {
		return s
	}
	rooms := make(map[string]Room, len(s.rooms))
	for name, r := range s.rooms {
		rooms[name] = r.Leave(username)
	}
	s.rooms = rooms
	s.users = without(s.users, username)
	s = s.Emit(UserLeft{Username: username, Known: u.Level != LevelUnknown})
	if conn, ok := s.bindings.Direct(username); ok {
		s.bindings = s.bindings.RemoveByDomain(username)
		s = s.Emit(DropConn{Conn: conn})
	}
	return s
}

// AddRoom creates a room with a sanitized name unless it already exists.
func (s State) AddRoom(name string) State {
	name = SanitizeRoomName(name)
	if _, ok := s.rooms[name]; ok {
		return s
	}
	return s.UpdateRoom(NewRoom(name))
}

// RemoveRoom deletes a room. The default room cannot be removed.
func (s State) RemoveRoom(name string) State {
	if name == DefaultRoom {
		return s
	}
	s.rooms = without(s.rooms, name)
	return s
}

func (s State) SetRoomTopic(room, topic string) State {
	r, ok := s.rooms[room]
	if !ok {
		return s
	}
	return s.UpdateRoom(r.SetTopic(topic))
}

func (s State) SetUserPermission(room, username string, p Permission) State {
	r, ok := s.rooms[room]
	if _, known := s.users[username]; !ok || !known {
		return s
	}
	return s.UpdateRoom(r.SetPermission(username, p))
}

// UserJoinRoom adds a connected user to a room and greets it with the room
// topic. Refusals are reported to the user's connection.
func (s State) UserJoinRoom(room, username string) State {
	u, ok := s.users[username]
	if !ok {
		return s
	}
	conn, ok := s.bindings.Direct(username)
	if !ok {
		return s
	}
	r, ok := s.rooms[room]
	if !ok {
		return s.Emit(RoomDoesNotExist(conn, room))
	}
	joined := r.Join(u)
	if joined.Len() != r.Len()+1 {
		return s.Emit(Notice(conn, msgCannotJoin))
	}
	if r.Greeting != "" {
		s = s.Emit(Notice(conn, r.Greeting))
	}
	return s.UpdateRoom(joined)
}

// UserLeaveRoom removes a user from a room. Nobody leaves the default room.
func (s State) UserLeaveRoom(room, username string) State {
	r, ok := s.rooms[room]
	if !ok || room == DefaultRoom {
		return s
	}
	return s.UpdateRoom(r.Leave(username))
}

// BanUser tells the user it is banned and asks for its address to be
// banned. Removing the user is left to the caller.
func (s State) BanUser(username string) State {
	conn, ok := s.bindings.Direct(username)
	if !ok {
		return s
	}
	return s.Emit(Notice(conn, msgBanned), BanConn{Conn: conn})
}
