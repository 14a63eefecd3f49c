package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxBodyLength = 2000

var ErrMessageBodyTooLong = fmt.Errorf("message body exceeds %d characters", MessageMaxBodyLength)
var ErrMessageBodyEmpty = errors.New("message body cannot be empty")

// GlobalRoom is the RoomID value for messages outside any named room.
// It maps to a NULL room_id in the store and "null" on the wire.
const GlobalRoom int64 = 0

// Message is one persisted chat message.
type Message struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	RoomID    int64     `json:"room_id"` // GlobalRoom (0) = global room
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Message) Validate() error {
	if strings.TrimSpace(m.Body) == "" {
		return ErrMessageBodyEmpty
	} else if utf8.RuneCountInString(m.Body) > MessageMaxBodyLength {
		return ErrMessageBodyTooLong
	}

	return nil
}

// HistoryLine is one entry of the login-time history replay:
// the sender's display name joined with the message body.
type HistoryLine struct {
	DisplayName string
	Body        string
}

func (h HistoryLine) String() string {
	return h.DisplayName + ": " + h.Body
}
