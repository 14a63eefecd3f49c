package protocol_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mkurth/linechat/pkg/protocol"
)

func TestParseClientFrameLogin(t *testing.T) {
	t.Parallel()

	frame, err := protocol.ParseClientFrame("LOGIN:alice:pw1")
	if err != nil {
		t.Fatalf("ParseClientFrame: %v", err)
	}
	want := &protocol.LoginFrame{Username: "alice", Password: "pw1"}
	if diff := cmp.Diff(want, frame.Login); diff != "" {
		t.Errorf("login frame mismatch (-want +got):\n%s", diff)
	}
}

func TestParseClientFrameLoginPasswordWithDelimiter(t *testing.T) {
	t.Parallel()

	frame, err := protocol.ParseClientFrame("LOGIN:alice:pw:with:colons")
	if err != nil {
		t.Fatalf("ParseClientFrame: %v", err)
	}
	if frame.Login.Password != "pw:with:colons" {
		t.Fatalf("password truncated: got %q", frame.Login.Password)
	}
}

func TestParseClientFrameMessage(t *testing.T) {
	t.Parallel()

	type tcase struct {
		line      string
		want      *protocol.MessageFrame
		expectErr error
	}

	tcases := map[string]tcase{
		"global_room": {
			line: "MESSAGE:Bob:null:hi there",
			want: &protocol.MessageFrame{DisplayName: "Bob", RoomID: 0, Body: "hi there"},
		},
		"numeric_room": {
			line: "MESSAGE:Bob:7:hello",
			want: &protocol.MessageFrame{DisplayName: "Bob", RoomID: 7, Body: "hello"},
		},
		"content_with_delimiter": {
			line: "MESSAGE:Bob:null:meet at 10:30: room B",
			want: &protocol.MessageFrame{DisplayName: "Bob", RoomID: 0, Body: "meet at 10:30: room B"},
		},
		"missing_fields": {
			line:      "MESSAGE:Bob:null",
			expectErr: protocol.ErrBadFieldCount,
		},
		"bad_room": {
			line:      "MESSAGE:Bob:lobby:hi",
			expectErr: protocol.ErrBadField,
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			frame, err := protocol.ParseClientFrame(tc.line)
			if tc.expectErr != nil {
				if !errors.Is(err, tc.expectErr) {
					t.Fatalf("ParseClientFrame: expected %v, got %v", tc.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClientFrame: unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, frame.Message); diff != "" {
				t.Errorf("message frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseClientFrameInviteRouting(t *testing.T) {
	t.Parallel()

	// ADD_USER_INVITE routes to the target (first field).
	frame, err := protocol.ParseClientFrame("ADD_USER_INVITE:7:3")
	if err != nil {
		t.Fatalf("ParseClientFrame: %v", err)
	}
	if frame.Invite.RouteToID != 7 || frame.Invite.ActorID != 3 {
		t.Fatalf("invite routing: got route=%d actor=%d", frame.Invite.RouteToID, frame.Invite.ActorID)
	}

	// INVITE_ACCEPTED routes to the receiver (second field).
	frame, err = protocol.ParseClientFrame("INVITE_ACCEPTED:3:7")
	if err != nil {
		t.Fatalf("ParseClientFrame: %v", err)
	}
	if frame.Invite.RouteToID != 7 || frame.Invite.ActorID != 3 {
		t.Fatalf("accepted routing: got route=%d actor=%d", frame.Invite.RouteToID, frame.Invite.ActorID)
	}
	if frame.Invite.Raw != "INVITE_ACCEPTED:3:7" {
		t.Fatalf("raw line not preserved: %q", frame.Invite.Raw)
	}
}

func TestParseClientFrameUnknownTag(t *testing.T) {
	t.Parallel()

	if _, err := protocol.ParseClientFrame("SHOUT:hello"); !errors.Is(err, protocol.ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	t.Parallel()

	lines := []string{
		"Alice: first message",
		"Bob: second: with a colon",
		`Carol: back\slash and more`,
	}
	encoded := protocol.EncodeHistory(lines)

	ev := protocol.ParseServerLine(encoded)
	if ev.Kind != protocol.EventHistory {
		t.Fatalf("ParseServerLine: expected history event, got %v", ev.Kind)
	}
	if diff := cmp.Diff(lines, ev.History); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryEmpty(t *testing.T) {
	t.Parallel()

	ev := protocol.ParseServerLine(protocol.EncodeHistory(nil))
	if ev.Kind != protocol.EventHistory {
		t.Fatalf("expected history event, got %v", ev.Kind)
	}
	if len(ev.History) != 0 {
		t.Fatalf("expected empty history, got %v", ev.History)
	}
}

func TestParseServerLine(t *testing.T) {
	t.Parallel()

	type tcase struct {
		line string
		want protocol.ServerEvent
	}

	tcases := map[string]tcase{
		"welcome": {
			line: protocol.EncodeWelcome("alice"),
			want: protocol.ServerEvent{Kind: protocol.EventWelcome, Username: "alice"},
		},
		"user_id": {
			line: protocol.EncodeUserID(7),
			want: protocol.ServerEvent{Kind: protocol.EventUserID, UserID: 7},
		},
		"display_name": {
			line: protocol.EncodeDisplayName("Alice"),
			want: protocol.ServerEvent{Kind: protocol.EventDisplayName, DisplayName: "Alice"},
		},
		"error": {
			line: protocol.EncodeError("Invalid username or password. Please try again."),
			want: protocol.ServerEvent{Kind: protocol.EventError, Reason: "Invalid username or password. Please try again."},
		},
		"joined": {
			line: protocol.EncodeJoined("Bob"),
			want: protocol.ServerEvent{Kind: protocol.EventPresence, Text: "Bob has joined the chat."},
		},
		"left": {
			line: protocol.EncodeLeft("Bob"),
			want: protocol.ServerEvent{Kind: protocol.EventPresence, Text: "Bob has left the chat."},
		},
		"chat": {
			line: protocol.EncodeChat("Bob", "hi there"),
			want: protocol.ServerEvent{Kind: protocol.EventChat, DisplayName: "Bob", Body: "hi there"},
		},
		"chat_with_colons": {
			line: protocol.EncodeChat("Bob", "see you at 10:30"),
			want: protocol.ServerEvent{Kind: protocol.EventChat, DisplayName: "Bob", Body: "see you at 10:30"},
		},
		"unknown": {
			line: "garbage without structure",
			want: protocol.ServerEvent{Kind: protocol.EventUnknown, Text: "garbage without structure"},
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got := protocol.ParseServerLine(tc.line)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseServerLine(%q) mismatch (-want +got):\n%s", tc.line, diff)
			}
		})
	}
}

func TestEncodeMessageRoom(t *testing.T) {
	t.Parallel()

	if got, want := protocol.EncodeMessage("Bob", 0, "hi"), "MESSAGE:Bob:null:hi"; got != want {
		t.Fatalf("EncodeMessage = %q, want %q", got, want)
	}
	if got, want := protocol.EncodeMessage("Bob", 4, "hi"), "MESSAGE:Bob:4:hi"; got != want {
		t.Fatalf("EncodeMessage = %q, want %q", got, want)
	}
}
