package chat

import "fmt"

// Notice is a plain service message to conn.
func Notice(conn ConnID, text string) Effect {
	return ServiceToConn{Conn: conn, Text: text}
}

// Data is a parsable service message to conn.
func Data(conn ConnID, text string) Effect {
	return ServiceToConn{Conn: conn, Text: text, Parsable: true}
}

// LevelDenied reports a server level that is too low for a command.
func LevelDenied(conn ConnID, have, need Level) Effect {
	msg := fmt.Sprintf("User level %s is not enough to issue the command. At least level %s is required.", have, need)
	if need == LevelNormal {
		msg += " Did you set a username?"
	}
	return Notice(conn, msg)
}

// PermissionDenied reports a room permission that is too low for a command.
func PermissionDenied(conn ConnID, have, need Permission) Effect {
	return Notice(conn, fmt.Sprintf("User permission %s is not enough to issue the command. At least %s is required.", have, need))
}

func NeedHigherPermission(conn ConnID, target string) Effect {
	return Notice(conn, fmt.Sprintf("You need higher permission than the target user %s to issue this command.", target))
}

func UnknownCommand(conn ConnID, command string) Effect {
	return Notice(conn, "Did not get it "+command)
}

func UserDoesNotExist(conn ConnID) Effect {
	return Notice(conn, "Error: User does not exists.")
}

func RoomDoesNotExist(conn ConnID, room string) Effect {
	return Notice(conn, fmt.Sprintf("Error: Room %s does not exists", room))
}

const (
	msgUsernameNotSet   = "User name not set. Use command :user to set it."
	msgUserExists       = "Error: User already exists."
	msgAdminLoggedIn    = "Error: This admin account is already logged in."
	msgAdminLoginFailed = "Admin login failed.\nUse :admin name password to login as server admin."
	msgCannotJoin       = "Error: User can not join the room because already joined or lacking permissions."
	msgBanned           = "You have been banned."
	msgForgedService    = "You are not allowed to start your message with " + ServicePrefix
	msgTooDeep          = "Error: Too many nested commands."
)

func UsernameNotSet(conn ConnID) Effect {
	return Notice(conn, msgUsernameNotSet)
}
