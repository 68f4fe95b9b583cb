// Package protocol defines the pipe-delimited line format exchanged between
// chat clients and the relay, plus the handshake vocabulary. It is pure and
// does no I/O.
package protocol

import (
	"regexp"
	"strings"
)

const (
	DefaultPort = 8888
	DefaultHost = "localhost"

	// Delimiter separates wire fields. Literal occurrences inside content
	// are escaped by the codec.
	Delimiter = "|"

	// PromptUsername is the first line the server sends on a new connection.
	PromptUsername = "ENTER_USERNAME"

	successPrefix = "SUCCESS"
	errorPrefix   = "ERROR"

	// SystemSender names the server itself in System, Join/Leave and
	// UserList messages.
	SystemSender = "System"

	// privateCommandPrefix starts a "/msg user text" client command.
	privateCommandPrefix = "/msg"
)

var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_]{2,20}$`)

// ValidUsername reports whether name satisfies the handshake rule:
// 2-20 characters, letters, digits and underscore only.
func ValidUsername(name string) bool {
	return usernameRE.MatchString(name)
}

// SuccessLine formats the handshake acceptance response.
func SuccessLine(text string) string {
	return successPrefix + Delimiter + text
}

// ErrorLine formats the handshake rejection response.
func ErrorLine(reason string) string {
	return errorPrefix + Delimiter + reason
}

// IsSuccessLine reports whether a handshake response line is an acceptance.
func IsSuccessLine(line string) bool {
	return strings.HasPrefix(line, successPrefix)
}

// IsErrorLine reports whether a handshake response line is a rejection.
func IsErrorLine(line string) bool {
	return strings.HasPrefix(line, errorPrefix)
}

// ErrorReason extracts the reason text of an ERROR response line.
func ErrorReason(line string) string {
	parts := strings.SplitN(line, Delimiter, 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return "Authentication failed"
}

// IsPrivateCommand reports whether text is a "/msg user text" command.
func IsPrivateCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), privateCommandPrefix)
}

// ParsePrivateCommand splits a "/msg user text" command into recipient and
// content. ok is false when the command is malformed.
func ParsePrivateCommand(text string) (recipient, content string, ok bool) {
	if !IsPrivateCommand(text) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimSpace(text), " ", 3)
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// JoinUserList renders a membership snapshot as UserList content.
func JoinUserList(users []string) string {
	return strings.Join(users, ",")
}

// SplitUserList parses UserList content back into usernames, skipping
// empties left by a trailing comma.
func SplitUserList(content string) []string {
	var users []string
	for _, u := range strings.Split(content, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	return users
}
