package chat

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// TextCommand is the registry key of the handler for lines that carry no
// command prefix.
const TextCommand = ""

// maxDepth bounds nested re-entry through Execute.
const maxDepth = 8

// Request carries everything a handler needs about the line it handles.
type Request struct {
	// Args is the line without the command name, or the whole line for
	// TextCommand.
	Args string
	User User
	Room Room
	Conn ConnID
	Now  time.Time

	depth int
	login Login
}

// LoginValid reports whether name and password were verified before the
// line reached the interpreter. Only lines handled with HandleLogin carry a
// verification; nested and replayed lines never do.
func (r Request) LoginValid(name, password string) bool {
	return r.login.Valid && r.login.Name == name && r.login.Password == password
}

// Handler is a pure command implementation. Handlers authorize themselves
// and report failures as effects; they never fail.
type Handler func(s State, req Request) State

// Registry maps command names to handlers. A Registry is never modified
// after construction.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(handlers map[string]Handler) *Registry {
	return &Registry{handlers: maps.Clone(handlers)}
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered command names sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.handlers))
}

// Merge returns a registry holding r plus extra. Names already present in r
// keep their handler and are returned as conflicts.
func (r *Registry) Merge(extra map[string]Handler) (*Registry, []string) {
	var handlers map[string]Handler
	if r != nil {
		handlers = maps.Clone(r.handlers)
	}
	if handlers == nil {
		handlers = make(map[string]Handler, len(extra))
	}
	var conflicts []string
	for _, name := range slices.Sorted(maps.Keys(extra)) {
		if _, ok := handlers[name]; ok {
			conflicts = append(conflicts, name)
			continue
		}
		handlers[name] = extra[name]
	}
	return &Registry{handlers: handlers}, conflicts
}

// HandleLine interprets a line received from conn.
func (s State) HandleLine(conn ConnID, line string, now time.Time) State {
	return s.HandleLogin(conn, line, now, Login{})
}

// HandleLogin is HandleLine for a line whose admin login, if any, was
// checked beforehand with Credentials.Verify.
func (s State) HandleLogin(conn ConnID, line string, now time.Time, login Login) State {
	u, ok := s.UserOf(conn)
	if !ok {
		return s
	}
	return s.process(u, line, now, false, 0, login)
}

// ReplayAs interprets a line on behalf of u, as the scheduler does. The
// room membership check is skipped. Nothing happens when u is no longer
// connected.
func (s State) ReplayAs(u User, line string, now time.Time) State {
	return s.process(u, line, now, true, 0, Login{})
}

// Execute re-enters the interpreter with line on behalf of the issuer of
// req, as if the issuer had sent it.
func (s State) Execute(req Request, line string) State {
	if req.depth >= maxDepth {
		return s.Emit(Notice(req.Conn, msgTooDeep))
	}
	return s.process(req.User, line, req.Now, false, req.depth+1, Login{})
}

func (s State) process(u User, line string, now time.Time, override bool, depth int, login Login) State {
	// Refresh the identity: a replayed user may have changed level since.
	current, ok := s.users[u.Username]
	if !ok {
		return s
	}
	conn, ok := s.bindings.Direct(current.Username)
	if !ok {
		return s
	}

	room, content, ok := s.targetRoom(line)
	if !ok {
		name, _, _ := strings.Cut(strings.TrimPrefix(line, RoomPrefix), " ")
		return s.Emit(RoomDoesNotExist(conn, name))
	}
	if room.Name != DefaultRoom && !room.HasMember(current.Username) && !override {
		return s.Emit(Notice(conn, "Error: you did not join the room "+room.Name+". Use :room "+room.Name))
	}

	req := Request{User: current, Room: room, Conn: conn, Now: now, depth: depth, login: login}
	return s.interpret(req, content)
}

// targetRoom splits an optional "@room " prefix off line.
func (s State) targetRoom(line string) (Room, string, bool) {
	if !strings.HasPrefix(line, RoomPrefix) {
		r, ok := s.rooms[DefaultRoom]
		return r, line, ok
	}
	name, content, _ := strings.Cut(line[len(RoomPrefix):], " ")
	r, ok := s.rooms[name]
	return r, content, ok
}

func (s State) interpret(req Request, line string) State {
	if strings.HasPrefix(line, ServicePrefix) || strings.Contains(line, "\n"+ServicePrefix) {
		return s.Emit(Notice(req.Conn, msgForgedService))
	}
	if strings.HasPrefix(line, CommandPrefix) {
		name, args, _ := strings.Cut(line, " ")
		h, ok := s.registry.Lookup(name)
		if !ok {
			return s.Emit(UnknownCommand(req.Conn, name))
		}
		req.Args = args
		return h(s, req)
	}
	h, ok := s.registry.Lookup(TextCommand)
	if !ok {
		return s
	}
	req.Args = line
	return h(s, req)
}
