package chat

import "time"

// ConnID identifies a live connection. The console always holds ConsoleConn.
type ConnID int64

const ConsoleConn ConnID = 0

// Effect describes an externally visible action requested by a transition.
// The set of effects is closed: only the types in this file implement it.
type Effect interface {
	effect()
}

// ServiceToConn is a service message for one connection. Parsable messages
// carry machine readable data and are rendered with ParsablePrefix.
type ServiceToConn struct {
	Conn     ConnID
	Text     string
	Parsable bool
}

// ServiceToRoom is a service message for every member of a room.
type ServiceToRoom struct {
	Room string
	Text string
}

// ServiceToAll is a service message for every connection.
type ServiceToAll struct {
	Text string
}

// UserJoined reports a new anonymous connection.
type UserJoined struct {
	Username string
}

// UserRenamed reports a user that picked a name or logged in as admin.
type UserRenamed struct {
	From string
	To   string
}

// UserLeft reports a removed user. Known is false for anonymous users.
type UserLeft struct {
	Username string
	Known    bool
}

// DropConn asks for the connection to be closed.
type DropConn struct {
	Conn ConnID
}

// BanConn asks for the source address of the connection to be banned.
type BanConn struct {
	Conn ConnID
}

// LiftBan reports that an address may connect again.
type LiftBan struct {
	IP string
}

// Schedule asks for Action to be replayed as User in Room at At.
type Schedule struct {
	At     time.Time
	Action string
	User   User
	Room   string
}

// Deliver hands a chat message to the members of its room.
type Deliver struct {
	Entry Entry
}

// Ping sends the heartbeat token to a connection.
type Ping struct {
	Conn ConnID
}

// PingUser sends the heartbeat token to To, naming From.
type PingUser struct {
	From User
	To   User
}

// Stop asks for a full shutdown.
type Stop struct{}

func (ServiceToConn) effect() {}
func (ServiceToRoom) effect() {}
func (ServiceToAll) effect()  {}
func (UserJoined) effect()    {}
func (UserRenamed) effect()   {}
func (UserLeft) effect()      {}
func (DropConn) effect()      {}
func (BanConn) effect()       {}
func (LiftBan) effect()       {}
func (Schedule) effect()      {}
func (Deliver) effect()       {}
func (Ping) effect()          {}
func (PingUser) effect()      {}
func (Stop) effect()          {}
