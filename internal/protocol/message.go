package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTooFewFields = errors.New("message has fewer than 4 fields")
	ErrUnknownKind  = errors.New("unknown message kind")
)

// Kind identifies how a message is routed and rendered.
type Kind string

const (
	KindNormal   Kind = "NORMAL"
	KindPrivate  Kind = "PRIVATE"
	KindSystem   Kind = "SYSTEM"
	KindJoin     Kind = "JOIN"
	KindLeave    Kind = "LEAVE"
	KindUserList Kind = "USER_LIST"
	KindImage    Kind = "IMAGE"
	KindFile     Kind = "FILE"
	KindVoice    Kind = "VOICE"
)

var knownKinds = map[Kind]bool{
	KindNormal:   true,
	KindPrivate:  true,
	KindSystem:   true,
	KindJoin:     true,
	KindLeave:    true,
	KindUserList: true,
	KindImage:    true,
	KindFile:     true,
	KindVoice:    true,
}

// Message is the unit of routable information. Recipient and AttachmentName
// are optional; empty means absent. Content may hold text or a base64 payload.
type Message struct {
	Kind           Kind
	Sender         string
	Timestamp      time.Time
	Content        string
	Recipient      string
	AttachmentName string
}

// New builds a message stamped with the current time.
func New(kind Kind, sender, content string) Message {
	return Message{
		Kind:      kind,
		Sender:    sender,
		Timestamp: time.Now(),
		Content:   content,
	}
}

const (
	// timeLayout is the wire clock format. Display only, never used for ordering.
	timeLayout = "15:04:05"

	// pipeEscape replaces literal delimiters inside Content on the wire.
	pipeEscape = "<!PIPE!>"
)

// Encode renders m in the wire form
// KIND|SENDER|TIMESTAMP|CONTENT|RECIPIENT|ATTACHMENT
// without the trailing line boundary.
func Encode(m Message) string {
	var sb strings.Builder
	sb.WriteString(string(m.Kind))
	sb.WriteString(Delimiter)
	sb.WriteString(m.Sender)
	sb.WriteString(Delimiter)
	sb.WriteString(m.Timestamp.Format(timeLayout))
	sb.WriteString(Delimiter)
	sb.WriteString(strings.ReplaceAll(m.Content, Delimiter, pipeEscape))
	sb.WriteString(Delimiter)
	sb.WriteString(m.Recipient)
	if m.AttachmentName != "" {
		sb.WriteString(Delimiter)
		sb.WriteString(m.AttachmentName)
	}
	return sb.String()
}

// Decode parses a wire line. At least 4 fields are required; recipient and
// attachment are optional trailing fields. Failures are plain errors the
// caller is expected to log and drop.
func Decode(line string) (Message, error) {
	parts := strings.SplitN(line, Delimiter, 6)
	if len(parts) < 4 {
		return Message{}, fmt.Errorf("%w: %d", ErrTooFewFields, len(parts))
	}

	kind := Kind(parts[0])
	if !knownKinds[kind] {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, parts[0])
	}

	m := Message{
		Kind:    kind,
		Sender:  parts[1],
		Content: strings.ReplaceAll(parts[3], pipeEscape, Delimiter),
	}

	// The timestamp is informational; a garbled one is not worth dropping
	// the message over.
	if ts, err := time.Parse(timeLayout, parts[2]); err == nil {
		m.Timestamp = ts
	}

	if len(parts) >= 5 {
		m.Recipient = parts[4]
	}
	if len(parts) == 6 {
		m.AttachmentName = parts[5]
	}

	return m, nil
}
