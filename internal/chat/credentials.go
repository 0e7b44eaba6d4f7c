package chat

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminCommand is the command name of the admin login.
const AdminCommand = CommandPrefix + "admin"

// Credentials maps admin account names to bcrypt hashes.
type Credentials map[string]string

// HashCredentials returns a copy of creds where every plaintext password is
// replaced by its bcrypt hash. Values that already are bcrypt hashes are
// kept as they are.
func HashCredentials(creds map[string]string, cost int) (map[string]string, error) {
	out := make(map[string]string, len(creds))
	for name, secret := range creds {
		if isBcryptHash(secret) {
			out[name] = secret
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
		if err != nil {
			return nil, fmt.Errorf("hash credentials for %q: %w", name, err)
		}
		out[name] = string(hash)
	}
	return out, nil
}

func isBcryptHash(s string) bool {
	if _, err := bcrypt.Cost([]byte(s)); err != nil {
		return false
	}
	return strings.HasPrefix(s, "$2")
}

// Check reports whether password belongs to the account name, sanitized
// the way BecomeAdmin sanitizes it. Check is slow and is meant to run
// outside any lock guarding a State.
func (c Credentials) Check(name, password string) bool {
	hash, ok := c[SanitizeUsername(name)]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Login is the outcome of an admin password check made before the line
// carrying it reaches the interpreter.
type Login struct {
	Name     string
	Password string
	Valid    bool
}

// Verify checks the admin login carried by line, if any. ok is false for
// lines that are not an :admin command.
func (c Credentials) Verify(line string) (login Login, ok bool) {
	name, password, ok := ParseLogin(line)
	if !ok {
		return Login{}, false
	}
	return Login{Name: name, Password: password, Valid: c.Check(name, password)}, true
}

// ParseLogin extracts the account name and password of an :admin line,
// optionally targeted at a room with the room prefix.
func ParseLogin(line string) (name, password string, ok bool) {
	if strings.HasPrefix(line, RoomPrefix) {
		_, line, _ = strings.Cut(line, " ")
	}
	cmd, args, _ := strings.Cut(line, " ")
	if cmd != AdminCommand {
		return "", "", false
	}
	fields := strings.Fields(args)
	for len(fields) < 2 {
		fields = append(fields, "")
	}
	return fields[0], fields[1], true
}
