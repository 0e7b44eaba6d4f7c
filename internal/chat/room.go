package chat

import (
	"maps"
	"slices"
	"strings"
)

// Room is a named channel. Messages posted to a room are only visible to its
// members. Room is a value: every mutator returns a modified copy.
type Room struct {
	Name              string
	Greeting          string
	DefaultPermission Permission

	members     map[string]User
	whitelist   map[string]struct{}
	blacklist   map[string]struct{}
	permissions map[string]Permission
}

// NewRoom returns an empty room granting PermVoice by default.
func NewRoom(name string) Room {
	return Room{Name: name, DefaultPermission: PermVoice}
}

func with[K comparable, V any](m map[K]V, k K, v V) map[K]V {
	out := maps.Clone(m)
	if out == nil {
		out = make(map[K]V, 1)
	}
	out[k] = v
	return out
}

func without[K comparable, V any](m map[K]V, k K) map[K]V {
	if _, ok := m[k]; !ok {
		return m
	}
	out := maps.Clone(m)
	delete(out, k)
	return out
}

// Join adds u to the room. It is refused, returning the room unchanged, when
// u is already a member, a non-empty whitelist does not list u, or u is
// blacklisted. The first member and server admins get PermAdmin.
func (r Room) Join(u User) Room {
	if r.HasMember(u.Username) || !r.admits(u.Username) {
		return r
	}
	perm := r.DefaultPermission
	if len(r.members) == 0 || u.Level == LevelAdmin {
		perm = PermAdmin
	}
	r.members = with(r.members, u.Username, u)
	r.permissions = with(r.permissions, u.Username, perm)
	return r
}

func (r Room) admits(username string) bool {
	if len(r.whitelist) > 0 {
		if _, ok := r.whitelist[username]; !ok {
			return false
		}
	}
	_, banned := r.blacklist[username]
	return !banned
}

// Leave removes the member. Its explicit permission is forgotten.
func (r Room) Leave(username string) Room {
	if !r.HasMember(username) {
		return r
	}
	r.members = without(r.members, username)
	r.permissions = without(r.permissions, username)
	return r
}

// ReplaceMember swaps the member old for u, bypassing the access lists, and
// gives u perm. Whitelist and blacklist entries follow the member.
func (r Room) ReplaceMember(old string, u User, perm Permission) Room {
	if !r.HasMember(old) {
		return r
	}
	r.members = with(without(r.members, old), u.Username, u)
	r.permissions = with(without(r.permissions, old), u.Username, perm)
	if _, ok := r.whitelist[old]; ok {
		r.whitelist = with(without(r.whitelist, old), u.Username, struct{}{})
	}
	if _, ok := r.blacklist[old]; ok {
		r.blacklist = with(without(r.blacklist, old), u.Username, struct{}{})
	}
	return r
}

func (r Room) SetTopic(topic string) Room {
	r.Greeting = topic
	return r
}

func (r Room) SetPermission(username string, p Permission) Room {
	r.permissions = with(r.permissions, username, p)
	return r
}

func (r Room) WhitelistAdd(username string) Room {
	r.whitelist = with(r.whitelist, username, struct{}{})
	return r
}

func (r Room) WhitelistRemove(username string) Room {
	r.whitelist = without(r.whitelist, username)
	return r
}

func (r Room) WhitelistClear() Room {
	r.whitelist = nil
	return r
}

func (r Room) BlacklistAdd(username string) Room {
	r.blacklist = with(r.blacklist, username, struct{}{})
	return r
}

func (r Room) BlacklistRemove(username string) Room {
	r.blacklist = without(r.blacklist, username)
	return r
}

func (r Room) BlacklistClear() Room {
	r.blacklist = nil
	return r
}

func (r Room) HasMember(username string) bool {
	_, ok := r.members[username]
	return ok
}

func (r Room) Len() int { return len(r.members) }

// Members returns the members sorted case-insensitively by username.
func (r Room) Members() []User {
	out := slices.Collect(maps.Values(r.members))
	slices.SortFunc(out, func(a, b User) int {
		if c := strings.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username)); c != 0 {
			return c
		}
		return strings.Compare(a.Username, b.Username)
	})
	return out
}

func (r Room) IsWhitelisted(username string) bool {
	_, ok := r.whitelist[username]
	return ok
}

func (r Room) IsBlacklisted(username string) bool {
	_, ok := r.blacklist[username]
	return ok
}

// Private reports whether the room restricts joining to a whitelist.
func (r Room) Private() bool { return len(r.whitelist) > 0 }

// Permission returns the explicit permission of username, or the room
// default.
func (r Room) Permission(username string) Permission {
	if p, ok := r.permissions[username]; ok {
		return p
	}
	return r.DefaultPermission
}

func (r Room) CanRead(username string) bool  { return r.Permission(username) >= PermRead }
func (r Room) CanWrite(username string) bool { return r.Permission(username) >= PermVoice }
func (r Room) CanKick(username string) bool  { return r.Permission(username) >= PermMod }
func (r Room) CanBan(username string) bool   { return r.Permission(username) >= PermAdmin }
