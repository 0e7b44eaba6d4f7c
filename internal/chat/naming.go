package chat

import (
	"strings"
	"unicode"
)

// Protocol constants shared by the interpreter and the transports.
const (
	DefaultRoom       = "hall"
	ConsoleUsername   = "server"
	UnknownUserPrefix = "unknown_"
	DefaultUserPrefix = "user_"
	DefaultRoomPrefix = "room_"
	PvtSeparator      = "."
	CommandPrefix     = ":"
	RoomPrefix        = "@"
	ServicePrefix     = ":-"
	ParsablePrefix    = ":="
	Heartbeat         = ":PING:"

	MaxUsernameLength = 10
	MaxRoomNameLength = 2*MaxUsernameLength + len(PvtSeparator)
)

// SanitizeUsername keeps the first word of name, drops everything but
// letters, digits and underscores and truncates it. Empty or digit-leading
// results get DefaultUserPrefix.
func SanitizeUsername(name string) string {
	filtered := filterName(name, MaxUsernameLength, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
	})
	if filtered == "" || startsWithDigit(filtered) {
		return DefaultUserPrefix + filtered
	}
	return filtered
}

// SanitizeRoomName works like SanitizeUsername but also keeps the private
// room separator and never yields the default room's name.
func SanitizeRoomName(name string) string {
	filtered := filterName(name, MaxRoomNameLength, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || string(r) == PvtSeparator
	})
	if filtered == "" || startsWithDigit(filtered) || filtered == DefaultRoom {
		return DefaultRoomPrefix + filtered
	}
	return filtered
}

func filterName(name string, limit int, keep func(rune) bool) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	out := make([]rune, 0, limit)
	for _, r := range fields[0] {
		if len(out) == limit {
			break
		}
		if keep(r) {
			out = append(out, r)
		}
	}
	return string(out)
}

func startsWithDigit(s string) bool {
	for _, r := range s {
		return unicode.IsDigit(r)
	}
	return false
}

// PvtRoomName derives the private room shared by two users. The result does
// not depend on argument order.
func PvtRoomName(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + PvtSeparator + b
}
