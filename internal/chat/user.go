package chat

import "strings"

// Level is the server wide authentication level of a user.
type Level int

const (
	// LevelUnknown is an anonymous connection that has not picked a name.
	LevelUnknown Level = iota
	// LevelNormal is a user that set a name with :user.
	LevelNormal
	// LevelAdmin is a user that logged in with :admin.
	LevelAdmin
)

func (l Level) String() string {
	switch l {
	case LevelUnknown:
		return "UNKNOWN"
	case LevelNormal:
		return "NORMAL"
	case LevelAdmin:
		return "ADMIN"
	default:
		return "INVALID"
	}
}

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, bool) {
	for _, l := range []Level{LevelUnknown, LevelNormal, LevelAdmin} {
		if strings.EqualFold(s, l.String()) {
			return l, true
		}
	}
	return LevelUnknown, false
}

// User identifies a participant. Two users are the same user when their
// usernames match, whatever their level.
type User struct {
	Username string
	Level    Level
}

// Permission is a per-room capability level. Permissions are totally ordered,
// so checks compare with >=.
type Permission int

const (
	PermNone Permission = iota
	PermRead
	PermVoice
	PermMod
	PermAdmin
)

var permissionNames = [...]string{"NONE", "READ", "VOICE", "MOD", "ADMIN"}

func (p Permission) String() string {
	if p < PermNone || p > PermAdmin {
		return "INVALID"
	}
	return permissionNames[p]
}

// ParsePermission parses a permission name case-insensitively.
func ParsePermission(s string) (Permission, bool) {
	for i, name := range permissionNames {
		if strings.EqualFold(s, name) {
			return Permission(i), true
		}
	}
	return PermNone, false
}
