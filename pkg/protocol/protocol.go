// Package protocol defines the line-oriented text frame grammar exchanged
// between chat clients and the server.
//
// Every frame is one UTF-8 line terminated by '\n'. The tag is the text
// before the first ':'; fixed-count fields follow, and the final content
// field is always the remainder of the line. Parsing splits into at most
// N parts so content containing ':' is never truncated.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Delimiter separates the tag and fields within a frame.
const Delimiter = ":"

// NullRoom is the wire value for a message outside any named room.
const NullRoom = "null"

// ReasonBadCredentials is the ERROR reason for a rejected LOGIN frame.
// Clients match on it to count down their remaining attempts.
const ReasonBadCredentials = "Invalid username or password. Please try again."

// Client frame tags.
const (
	TagLogin          = "LOGIN"
	TagMessage        = "MESSAGE"
	TagAddUserInvite  = "ADD_USER_INVITE"
	TagInviteAccepted = "INVITE_ACCEPTED"
	TagInviteRejected = "INVITE_REJECTED"
)

// Server line prefixes.
const (
	prefixWelcome     = "Welcome "
	prefixUserID      = "USER_ID:"
	prefixDisplayName = "DISPLAY_NAME:"
	prefixHistory     = "MESSAGES:"
	prefixError       = "ERROR: "
	suffixJoined      = " has joined the chat."
	suffixLeft        = " has left the chat."
)

var (
	ErrUnknownTag    = errors.New("protocol: unknown frame tag")
	ErrBadFieldCount = errors.New("protocol: wrong field count")
	ErrBadField      = errors.New("protocol: malformed field")
)

// LoginFrame carries a credential pair. The password is rest-of-line and
// may itself contain the delimiter.
type LoginFrame struct {
	Username string
	Password string
}

// MessageFrame carries one chat message. RoomID 0 means the global room
// ("null" on the wire). Body is rest-of-line.
type MessageFrame struct {
	DisplayName string
	RoomID      int64
	Body        string
}

// InviteFrame is a control frame forwarded between two sessions.
// RouteToID is the user the server should deliver the frame to and
// ActorID is the user who produced it.
type InviteFrame struct {
	Tag       string
	RouteToID int64
	ActorID   int64
	Raw       string // original line, forwarded verbatim
}

// ClientFrame is the parse result of one client line. Exactly one of the
// pointer fields is set.
type ClientFrame struct {
	Login   *LoginFrame
	Message *MessageFrame
	Invite  *InviteFrame
}

// Tag returns the text before the first delimiter, or the whole line if
// no delimiter is present.
func Tag(line string) string {
	if i := strings.Index(line, Delimiter); i >= 0 {
		return line[:i]
	}
	return line
}

// ParseClientFrame parses one client-to-server line.
func ParseClientFrame(line string) (*ClientFrame, error) {
	switch Tag(line) {
	case TagLogin:
		// LOGIN:<username>:<password>, password is rest-of-line.
		parts := strings.SplitN(line, Delimiter, 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: LOGIN wants 2 fields", ErrBadFieldCount)
		}
		return &ClientFrame{Login: &LoginFrame{Username: parts[1], Password: parts[2]}}, nil

	case TagMessage:
		// MESSAGE:<displayName>:<roomId|null>:<content>, content is rest-of-line.
		parts := strings.SplitN(line, Delimiter, 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("%w: MESSAGE wants 3 fields", ErrBadFieldCount)
		}
		roomID, err := parseRoomID(parts[2])
		if err != nil {
			return nil, err
		}
		return &ClientFrame{Message: &MessageFrame{
			DisplayName: parts[1],
			RoomID:      roomID,
			Body:        parts[3],
		}}, nil

	case TagAddUserInvite:
		// ADD_USER_INVITE:<targetId>:<senderId> routes to the target.
		return parseInvite(line, TagAddUserInvite, 0)

	case TagInviteAccepted:
		// INVITE_ACCEPTED:<senderId>:<receiverId> routes to the receiver.
		return parseInvite(line, TagInviteAccepted, 1)

	case TagInviteRejected:
		return parseInvite(line, TagInviteRejected, 1)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTag, Tag(line))
}

func parseInvite(line, tag string, routeField int) (*ClientFrame, error) {
	parts := strings.SplitN(line, Delimiter, 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %s wants 2 fields", ErrBadFieldCount, tag)
	}
	ids := make([]int64, 2)
	for i, f := range parts[1:] {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s id %q", ErrBadField, tag, f)
		}
		ids[i] = id
	}
	return &ClientFrame{Invite: &InviteFrame{
		Tag:       tag,
		RouteToID: ids[routeField],
		ActorID:   ids[1-routeField],
		Raw:       line,
	}}, nil
}

func parseRoomID(field string) (int64, error) {
	if field == NullRoom || field == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: room id %q", ErrBadField, field)
	}
	return id, nil
}

// ---- Client frame encoding ----

// EncodeLogin builds a LOGIN frame line.
func EncodeLogin(username, password string) string {
	return TagLogin + Delimiter + username + Delimiter + password
}

// EncodeMessage builds a MESSAGE frame line. roomID 0 encodes as "null".
func EncodeMessage(displayName string, roomID int64, body string) string {
	room := NullRoom
	if roomID != 0 {
		room = strconv.FormatInt(roomID, 10)
	}
	return TagMessage + Delimiter + displayName + Delimiter + room + Delimiter + body
}

// EncodeInvite builds an invite control frame line.
func EncodeInvite(tag string, firstID, secondID int64) string {
	return tag + Delimiter + strconv.FormatInt(firstID, 10) + Delimiter + strconv.FormatInt(secondID, 10)
}

// ---- Server line encoding ----

// EncodeWelcome builds the login acknowledgment line.
func EncodeWelcome(username string) string {
	return prefixWelcome + username + "!"
}

// EncodeUserID builds the assigned-identity user id line.
func EncodeUserID(id int64) string {
	return prefixUserID + strconv.FormatInt(id, 10)
}

// EncodeDisplayName builds the assigned-identity display name line.
func EncodeDisplayName(name string) string {
	return prefixDisplayName + name
}

// EncodeError builds an ERROR reply line.
func EncodeError(reason string) string {
	return prefixError + reason
}

// EncodeChat builds a live broadcast line.
func EncodeChat(displayName, body string) string {
	return displayName + ": " + body
}

// EncodeJoined builds a presence notice for a session that logged in.
func EncodeJoined(displayName string) string {
	return displayName + suffixJoined
}

// EncodeLeft builds a presence notice for a session that disconnected.
func EncodeLeft(displayName string) string {
	return displayName + suffixLeft
}

// EncodeHistory builds the MESSAGES frame. The payload is the newline-join
// of the entries carried on a single line: '\' escapes to `\\` and newline
// to `\n`, keeping one-frame-per-line framing intact.
func EncodeHistory(lines []string) string {
	return prefixHistory + escapeHistory(strings.Join(lines, "\n"))
}

func escapeHistory(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func unescapeHistory(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == 'n' {
				b.WriteByte('\n')
			} else {
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ---- Server line parsing (client side) ----

// EventKind classifies a server line for callback dispatch.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventWelcome
	EventUserID
	EventDisplayName
	EventHistory
	EventError
	EventPresence
	EventChat
)

// ServerEvent is the parse result of one server line. Which fields are
// meaningful depends on Kind.
type ServerEvent struct {
	Kind EventKind

	Username    string   // EventWelcome
	UserID      int64    // EventUserID
	DisplayName string   // EventDisplayName, EventChat
	History     []string // EventHistory
	Reason      string   // EventError
	Text        string   // EventPresence
	Body        string   // EventChat
}

// ParseServerLine classifies one server-to-client line. Lines that match
// no known shape come back as EventUnknown.
func ParseServerLine(line string) ServerEvent {
	switch {
	case strings.HasPrefix(line, prefixWelcome) && strings.HasSuffix(line, "!"):
		return ServerEvent{
			Kind:     EventWelcome,
			Username: strings.TrimSuffix(strings.TrimPrefix(line, prefixWelcome), "!"),
		}

	case strings.HasPrefix(line, prefixUserID):
		id, err := strconv.ParseInt(line[len(prefixUserID):], 10, 64)
		if err != nil {
			return ServerEvent{Kind: EventUnknown}
		}
		return ServerEvent{Kind: EventUserID, UserID: id}

	case strings.HasPrefix(line, prefixDisplayName):
		return ServerEvent{Kind: EventDisplayName, DisplayName: line[len(prefixDisplayName):]}

	case strings.HasPrefix(line, prefixHistory):
		payload := unescapeHistory(line[len(prefixHistory):])
		var history []string
		if payload != "" {
			history = strings.Split(payload, "\n")
		}
		return ServerEvent{Kind: EventHistory, History: history}

	case strings.HasPrefix(line, prefixError):
		return ServerEvent{Kind: EventError, Reason: line[len(prefixError):]}

	case strings.HasSuffix(line, suffixJoined), strings.HasSuffix(line, suffixLeft):
		return ServerEvent{Kind: EventPresence, Text: line}
	}

	// Live broadcast: "<displayName>: <content>".
	if parts := strings.SplitN(line, ": ", 2); len(parts) == 2 {
		return ServerEvent{Kind: EventChat, DisplayName: parts[0], Body: parts[1]}
	}
	return ServerEvent{Kind: EventUnknown, Text: line}
}
