// Package commands implements the built-in chat commands as pure handlers
// over chat.State.
package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/hallchat/internal/chat"
)

// Options tunes the handlers that depend on configuration.
type Options struct {
	// MaxNonAdminSchedule caps the :schedule delay of non-admin users.
	MaxNonAdminSchedule time.Duration
	// QueryWindow is how far back a :query start bound without a time goes.
	QueryWindow time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxNonAdminSchedule: 60 * time.Second,
		QueryWindow:         10 * time.Minute,
	}
}

// Builtin returns the built-in command table keyed by command name. The
// chat.TextCommand key handles plain text.
func Builtin(opts Options) map[string]chat.Handler {
	if opts.MaxNonAdminSchedule <= 0 {
		opts.MaxNonAdminSchedule = DefaultOptions().MaxNonAdminSchedule
	}
	if opts.QueryWindow <= 0 {
		opts.QueryWindow = DefaultOptions().QueryWindow
	}

	return map[string]chat.Handler{
		chat.TextCommand:  textMessage,
		":user":           setUsername,
		":users":          listUsers,
		":messages":       listMessages,
		":quit":           quit,
		chat.AdminCommand: adminLogin,
		":room":           joinRoom,
		":leave":          leaveRoom,
		":kick":           kickFromRoom,
		":grant":          grantPermission,
		":KICK":           kickFromServer,
		":BAN":            ban,
		":UNBAN":          unban,
		":topic":          setTopic,
		":rooms":          listRooms,
		":query":          queryHistory(opts.QueryWindow),
		":whitelist":      accessList(whitelist),
		":blacklist":      accessList(blacklist),
		":pvt":            privateMessage,
		":block":          block,
		":unblock":        unblock,
		":ping":           ping,
		":STOP":           stop,
		":schedule":       schedule(opts.MaxNonAdminSchedule),
		":execute":        execute,
	}
}

func arg(args string, i int) string {
	fields := strings.Fields(args)
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

// afterFirst returns args without its first word.
func afterFirst(args string) string {
	_, rest, _ := strings.Cut(strings.TrimLeft(args, " "), " ")
	return rest
}

// dataFlag strips a leading "data" keyword.
func dataFlag(args string) (string, bool) {
	args = strings.TrimSpace(args)
	if rest, ok := strings.CutPrefix(args, "data"); ok {
		return strings.TrimSpace(rest), true
	}
	return args, false
}

func reply(s chat.State, conn chat.ConnID, parsable bool, text string) chat.State {
	text = strings.Trim(text, "\n")
	if parsable {
		return s.Emit(chat.Data(conn, text))
	}
	return s.Emit(chat.Notice(conn, text))
}

func requireLevel(s chat.State, req chat.Request, need chat.Level) (chat.State, bool) {
	if req.User.Level < need {
		return s.Emit(chat.LevelDenied(req.Conn, req.User.Level, need)), false
	}
	return s, true
}

func requirePermission(s chat.State, req chat.Request, need chat.Permission) (chat.State, bool) {
	if have := req.Room.Permission(req.User.Username); have < need {
		return s.Emit(chat.PermissionDenied(req.Conn, have, need)), false
	}
	return s, true
}

func textMessage(s chat.State, req chat.Request) chat.State {
	if req.User.Level <= chat.LevelUnknown {
		return s.Emit(chat.UsernameNotSet(req.Conn))
	}
	s, ok := requirePermission(s, req, chat.PermVoice)
	if !ok {
		return s
	}
	e := chat.Entry{Message: req.Args, User: req.User, Room: req.Room.Name, Timestamp: req.Now}
	return s.AppendHistory(e).Emit(chat.Deliver{Entry: e})
}

func setUsername(s chat.State, req chat.Request) chat.State {
	name := arg(req.Args, 0)
	if name == "" {
		return s.Emit(chat.Notice(req.Conn, "User name not set: no username specified."))
	}
	if req.User.Username == chat.ConsoleUsername {
		return s
	}
	return s.ChangeUsername(req.User.Username, name)
}

func listUsers(s chat.State, req chat.Request) chat.State {
	var b strings.Builder
	b.WriteString("Users:\n")
	switch mode := arg(req.Args, 0); {
	case mode == "all" && req.User.Level >= chat.LevelAdmin:
		for _, u := range s.Users() {
			fmt.Fprintf(&b, "%s %s in", u.Username, u.Level)
			for _, r := range s.RoomsOf(u.Username) {
				fmt.Fprintf(&b, " %s(%s)", r.Name, r.Permission(u.Username))
			}
			b.WriteByte('\n')
		}
	case mode == "details":
		for _, u := range req.Room.Members() {
			fmt.Fprintf(&b, "%s %s(%s)\n", u.Username, u.Level, req.Room.Permission(u.Username))
		}
	default:
		for _, u := range req.Room.Members() {
			b.WriteString(u.Username + "\n")
		}
	}
	return reply(s, req.Conn, false, b.String())
}

func formatEntries(header string, entries []chat.Entry, data bool) string {
	var b strings.Builder
	b.WriteString(header + "\n")
	for _, e := range entries {
		if data {
			b.WriteString(e.Data())
		} else {
			b.WriteString(e.Extended())
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func listMessages(s chat.State, req chat.Request) chat.State {
	scope, data := dataFlag(req.Args)
	isAdmin := req.User.Level >= chat.LevelAdmin
	if perm := req.Room.Permission(req.User.Username); perm < chat.PermRead && !isAdmin {
		return s.Emit(chat.PermissionDenied(req.Conn, perm, chat.PermRead))
	}
	history := s.History()
	if scope != "all" || !isAdmin {
		history = history.Query(chat.Filter{Room: &req.Room})
	}
	return reply(s, req.Conn, data, formatEntries("Messages:", history.All(), data))
}

func quit(s chat.State, req chat.Request) chat.State {
	return s.RemoveUser(req.User.Username)
}

func adminLogin(s chat.State, req chat.Request) chat.State {
	name, password := arg(req.Args, 0), arg(req.Args, 1)
	return s.BecomeAdmin(name, req.LoginValid(name, password), req.User)
}

func joinRoom(s chat.State, req chat.Request) chat.State {
	s, ok := requireLevel(s, req, chat.LevelNormal)
	if !ok {
		return s
	}
	raw := arg(req.Args, 0)
	if raw == "" {
		return s.Emit(chat.Notice(req.Conn, "Error: No room specified. Use :room name"))
	}
	name := chat.SanitizeRoomName(raw)
	before, exists := s.Room(name)
	if !exists && strings.Contains(name, chat.PvtSeparator) {
		return s.Emit(chat.Notice(req.Conn, "Error: Room "+name+" is reserved for pvt. Use :pvt user message"))
	}
	wasInside := exists && before.HasMember(req.User.Username)

	s = s.AddRoom(name).UserJoinRoom(name, req.User.Username)
	if after, _ := s.Room(name); !wasInside && after.HasMember(req.User.Username) {
		s = s.Emit(chat.ServiceToRoom{Room: name, Text: fmt.Sprintf("User %s joined the room.", req.User.Username)})
	}
	return s
}

func leaveRoom(s chat.State, req chat.Request) chat.State {
	if req.Room.Name == chat.DefaultRoom {
		return s.Emit(chat.Notice(req.Conn, "Error: You can't leave the main room."))
	}
	return s.UserLeaveRoom(req.Room.Name, req.User.Username).Emit(
		chat.ServiceToRoom{Room: req.Room.Name, Text: fmt.Sprintf("User %s left the room.", req.User.Username)},
		chat.Notice(req.Conn, fmt.Sprintf("You left the room %s.", req.Room.Name)),
	)
}

func kickFromRoom(s chat.State, req chat.Request) chat.State {
	if req.Room.Name == chat.DefaultRoom {
		return s.Emit(chat.Notice(req.Conn, "Error: You can't kick users from the main room."))
	}
	s, ok := requirePermission(s, req, chat.PermMod)
	if !ok {
		return s
	}
	name := arg(req.Args, 0)
	target, ok := s.User(name)
	if !ok {
		return s.Emit(chat.UserDoesNotExist(req.Conn))
	}
	if !req.Room.HasMember(target.Username) {
		return s.Emit(chat.Notice(req.Conn, fmt.Sprintf("Error: User %s is not in the room %s.", target.Username, req.Room.Name)))
	}
	if req.Room.Permission(req.User.Username) <= req.Room.Permission(target.Username) {
		return s.Emit(chat.NeedHigherPermission(req.Conn, target.Username))
	}

	msg := fmt.Sprintf("You have been kicked from room %s.", req.Room.Name)
	if reason := strings.TrimSpace(afterFirst(req.Args)); reason != "" {
		msg += fmt.Sprintf(" Reason: %s.", reason)
	}
	s = s.UserLeaveRoom(req.Room.Name, target.Username).
		Emit(chat.ServiceToRoom{Room: req.Room.Name, Text: fmt.Sprintf("User %s has been kicked.", target.Username)})
	if conn, ok := s.ConnOf(target.Username); ok {
		s = s.Emit(chat.Notice(conn, msg))
	}
	return s
}

// grantPermission sets a room permission. Granting to oneself is allowed up
// to one's own permission; granting to others requires a permission above
// both the granted one and the target's current one.
func grantPermission(s chat.State, req chat.Request) chat.State {
	s, ok := requirePermission(s, req, chat.PermMod)
	if !ok {
		return s
	}
	issuer := req.Room.Permission(req.User.Username)
	perm, ok := chat.ParsePermission(arg(req.Args, 0))
	if !ok {
		return s.Emit(chat.Notice(req.Conn, fmt.Sprintf("Error: Unknown permission %q. Use one of NONE, READ, VOICE, MOD, ADMIN.", arg(req.Args, 0))))
	}
	name := arg(req.Args, 1)
	if name == "" {
		name = req.User.Username
	}
	target, ok := s.User(name)
	if !ok {
		return s.Emit(chat.UserDoesNotExist(req.Conn))
	}

	if target.Username == req.User.Username {
		if perm > issuer {
			return s.Emit(chat.PermissionDenied(req.Conn, issuer, perm))
		}
	} else {
		if perm >= issuer {
			return s.Emit(chat.Notice(req.Conn, fmt.Sprintf("Error: You can only grant permissions lower than your own (%s).", issuer)))
		}
		if req.Room.Permission(target.Username) >= issuer {
			return s.Emit(chat.NeedHigherPermission(req.Conn, target.Username))
		}
	}
	return s.SetUserPermission(req.Room.Name, target.Username, perm).
		Emit(chat.ServiceToRoom{Room: req.Room.Name, Text: fmt.Sprintf("Permissions %s granted to %s.", perm, target.Username)})
}

// serverTarget resolves the target of an admin-only server wide command.
func serverTarget(s chat.State, req chat.Request) (chat.State, chat.User, bool) {
	s, ok := requireLevel(s, req, chat.LevelAdmin)
	if !ok {
		return s, chat.User{}, false
	}
	target, ok := s.User(arg(req.Args, 0))
	if !ok {
		return s.Emit(chat.UserDoesNotExist(req.Conn)), chat.User{}, false
	}
	if target.Username == chat.ConsoleUsername {
		return s.Emit(chat.Notice(req.Conn, "Error: The server console can not be removed.")), chat.User{}, false
	}
	return s, target, true
}

func kickFromServer(s chat.State, req chat.Request) chat.State {
	s, target, ok := serverTarget(s, req)
	if !ok {
		return s
	}
	if conn, ok := s.ConnOf(target.Username); ok {
		s = s.Emit(chat.Notice(conn, "You have been kicked from the server."))
	}
	return s.RemoveUser(target.Username)
}

func ban(s chat.State, req chat.Request) chat.State {
	s, target, ok := serverTarget(s, req)
	if !ok {
		return s
	}
	if _, ok := s.ConnOf(target.Username); !ok {
		return s
	}
	return s.BanUser(target.Username).RemoveUser(target.Username)
}

func unban(s chat.State, req chat.Request) chat.State {
	s, ok := requireLevel(s, req, chat.LevelAdmin)
	if !ok {
		return s
	}
	ip := arg(req.Args, 0)
	if ip == "" {
		return s.Emit(chat.Notice(req.Conn, "Error: No address specified. Use :UNBAN ip"))
	}
	return s.LiftBan(ip)
}

func setTopic(s chat.State, req chat.Request) chat.State {
	s, ok := requirePermission(s, req, chat.PermMod)
	if !ok {
		return s
	}
	return s.SetRoomTopic(req.Room.Name, strings.TrimSpace(req.Args))
}

// listRooms shows every room to admins. Other users only see public rooms
// and the private rooms they belong to.
func listRooms(s chat.State, req chat.Request) chat.State {
	var b strings.Builder
	b.WriteString("Rooms:")
	for _, r := range s.Rooms() {
		if req.User.Level < chat.LevelAdmin && r.Private() && !r.HasMember(req.User.Username) {
			continue
		}
		b.WriteString("\n" + r.Name)
	}
	return reply(s, req.Conn, false, b.String())
}

// queryHistory filters the history with "key=value;..." arguments. Known
// keys are text, user, room, start and end. Non-admins only search the
// targeted room.
func queryHistory(window time.Duration) chat.Handler {
	return func(s chat.State, req chat.Request) chat.State {
		args, data := dataFlag(req.Args)
		s, ok := requirePermission(s, req, chat.PermRead)
		if !ok {
			return s
		}
		q := queryArgs(args)

		bounds := map[string]string{}
		for _, key := range []string{"start", "end"} {
			raw, ok := q[key]
			if !ok {
				continue
			}
			t, ok := parseQueryTime(raw, key == "start", req.Now, window)
			if !ok {
				return s.Emit(chat.Notice(req.Conn, fmt.Sprintf("Error: Invalid time %q.", raw)))
			}
			bounds[key] = strconv.FormatInt(t.UnixMilli(), 10)
		}

		history := s.History()
		if req.User.Level < chat.LevelAdmin {
			history = history.Query(chat.Filter{Room: &req.Room})
		}
		result := history.QueryStrings(q["text"], q["user"], q["room"], bounds["start"], bounds["end"])
		return reply(s, req.Conn, data, formatEntries("Query result:", result.All(), data))
	}
}

type listKind int

const (
	whitelist listKind = iota
	blacklist
)

func (k listKind) String() string {
	if k == whitelist {
		return "whitelist"
	}
	return "blacklist"
}

// accessList manages a room whitelist or blacklist:
//
//	:whitelist add user | remove user | user | clear
//
// Blacklisting a member forces it out of the room, except for the default
// room which nobody leaves.
func accessList(kind listKind) chat.Handler {
	return func(s chat.State, req chat.Request) chat.State {
		if req.User.Level <= chat.LevelUnknown {
			return s.Emit(chat.UsernameNotSet(req.Conn))
		}
		s, ok := requirePermission(s, req, chat.PermAdmin)
		if !ok {
			return s
		}
		room := req.Room
		op, name := arg(req.Args, 0), arg(req.Args, 1)
		if op == "clear" {
			if kind == whitelist {
				room = room.WhitelistClear()
			} else {
				room = room.BlacklistClear()
			}
			return s.UpdateRoom(room).Emit(chat.Notice(req.Conn, fmt.Sprintf("The %s of %s has been cleared.", kind, room.Name)))
		}
		if name == "" {
			op, name = "add", op
		}
		target, ok := s.User(name)
		if !ok {
			return s.Emit(chat.UserDoesNotExist(req.Conn))
		}

		switch {
		case op == "add" && kind == whitelist:
			room = room.WhitelistAdd(target.Username)
		case op == "remove" && kind == whitelist:
			room = room.WhitelistRemove(target.Username)
		case op == "add" && kind == blacklist:
			room = room.BlacklistAdd(target.Username)
			if room.Name != chat.DefaultRoom {
				room = room.Leave(target.Username)
			}
		case op == "remove" && kind == blacklist:
			room = room.BlacklistRemove(target.Username)
		default:
			return s.Emit(chat.UnknownCommand(req.Conn, fmt.Sprintf(":%s %s", kind, op)))
		}
		return s.UpdateRoom(room)
	}
}

// pvtRoom returns the private room of a and b, creating it when missing.
// The whitelist holds exactly a and b and any other member is evicted. Both
// users are joined with PermAdmin unless blacklisted.
func pvtRoom(s chat.State, a, b chat.User) (chat.State, chat.Room) {
	name := chat.PvtRoomName(a.Username, b.Username)
	r, ok := s.Room(name)
	if !ok {
		r = chat.NewRoom(name)
	}
	r = r.WhitelistClear().WhitelistAdd(a.Username).WhitelistAdd(b.Username)
	for _, m := range r.Members() {
		if m.Username != a.Username && m.Username != b.Username {
			r = r.Leave(m.Username)
		}
	}
	r = r.Join(a).Join(b)
	for _, u := range []chat.User{a, b} {
		if r.HasMember(u.Username) {
			r = r.SetPermission(u.Username, chat.PermAdmin)
		}
	}
	return s.UpdateRoom(r), r
}

func pvtTarget(s chat.State, req chat.Request) (chat.State, chat.User, bool) {
	s, ok := requireLevel(s, req, chat.LevelNormal)
	if !ok {
		return s, chat.User{}, false
	}
	target, ok := s.User(arg(req.Args, 0))
	if !ok {
		return s.Emit(chat.UserDoesNotExist(req.Conn)), chat.User{}, false
	}
	if target.Username == req.User.Username {
		return s.Emit(chat.Notice(req.Conn, "Error: You can't send pvt to this user.")), chat.User{}, false
	}
	return s, target, true
}

func privateMessage(s chat.State, req chat.Request) chat.State {
	s, target, ok := pvtTarget(s, req)
	if !ok {
		return s
	}
	withRoom, room := pvtRoom(s, req.User, target)
	if !room.HasMember(req.User.Username) {
		return s.Emit(chat.Notice(req.Conn, "Error: You can't send pvt to this user."))
	}
	e := chat.Entry{Message: afterFirst(req.Args), User: req.User, Room: room.Name, Timestamp: req.Now}
	return withRoom.AppendHistory(e).Emit(chat.Deliver{Entry: e})
}

func block(s chat.State, req chat.Request) chat.State {
	s, target, ok := pvtTarget(s, req)
	if !ok {
		return s
	}
	s, room := pvtRoom(s, req.User, target)
	return s.UpdateRoom(room.BlacklistAdd(target.Username).Leave(target.Username)).
		Emit(chat.Notice(req.Conn, fmt.Sprintf("User %s can no longer send you pvt.", target.Username)))
}

func unblock(s chat.State, req chat.Request) chat.State {
	s, target, ok := pvtTarget(s, req)
	if !ok {
		return s
	}
	s, room := pvtRoom(s, req.User, target)
	return s.UpdateRoom(room.BlacklistRemove(target.Username)).
		Emit(chat.Notice(req.Conn, fmt.Sprintf("User %s can send you pvt again.", target.Username)))
}

// ping sends a heartbeat to any connected user, whatever room the caller
// is in. Without an argument the caller pings itself.
func ping(s chat.State, req chat.Request) chat.State {
	name := arg(req.Args, 0)
	if name == "" {
		return s.Emit(chat.PingUser{From: req.User, To: req.User})
	}
	target, ok := s.User(name)
	if !ok {
		return s.Emit(chat.UserDoesNotExist(req.Conn))
	}
	return s.Emit(chat.PingUser{From: req.User, To: target})
}

func stop(s chat.State, req chat.Request) chat.State {
	s, ok := requireLevel(s, req, chat.LevelAdmin)
	if !ok {
		return s
	}
	return s.Emit(chat.Stop{})
}

// schedule replays an action later as the issuing user in the targeted
// room: ":schedule seconds action".
func schedule(limit time.Duration) chat.Handler {
	return func(s chat.State, req chat.Request) chat.State {
		s, ok := requireLevel(s, req, chat.LevelNormal)
		if !ok {
			return s
		}
		secs, err := strconv.Atoi(arg(req.Args, 0))
		if err != nil || secs < 0 {
			return s.Emit(chat.UnknownCommand(req.Conn, ":schedule "+req.Args))
		}
		delay := time.Duration(secs) * time.Second
		if req.User.Level < chat.LevelAdmin && delay > limit {
			return s.Emit(chat.Notice(req.Conn, fmt.Sprintf(
				"Error: Only ADMIN users can schedule actions later than %d seconds from now.", int(limit/time.Second))))
		}
		return s.Emit(chat.Schedule{
			At:     req.Now.Add(delay),
			Action: afterFirst(req.Args),
			User:   req.User,
			Room:   req.Room.Name,
		})
	}
}

func execute(s chat.State, req chat.Request) chat.State {
	s, ok := requireLevel(s, req, chat.LevelNormal)
	if !ok {
		return s
	}
	return s.Execute(req, chat.RoomPrefix+req.Room.Name+" "+req.Args)
}
