package model

import (
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	t.Parallel()

	type tcase struct {
		username  string
		expectErr error
	}

	tcases := map[string]tcase{
		"plain":          {username: "johndoe", expectErr: nil},
		"with_separator": {username: "john_doe-2", expectErr: nil},
		"empty":          {username: "", expectErr: ErrUsernameEmpty},
		"too_long":       {username: strings.Repeat("a", MaxUsernameLength+1), expectErr: ErrUsernameTooLong},
		"injection":      {username: "' OR '1'='1", expectErr: ErrUsernameInvalidChars},
		"colon":          {username: "john:doe", expectErr: ErrUsernameInvalidChars},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if err := ValidateUsername(tc.username); err != tc.expectErr {
				t.Fatalf("ValidateUsername(%q) = %v, want %v", tc.username, err, tc.expectErr)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	m := &Message{UserID: 1, Body: "hi there"}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: unexpected error: %v", err)
	}

	m.Body = "   "
	if err := m.Validate(); err != ErrMessageBodyEmpty {
		t.Fatalf("Validate: expected ErrMessageBodyEmpty, got %v", err)
	}

	m.Body = strings.Repeat("x", MessageMaxBodyLength+1)
	if err := m.Validate(); err != ErrMessageBodyTooLong {
		t.Fatalf("Validate: expected ErrMessageBodyTooLong, got %v", err)
	}
}

func TestHistoryLineString(t *testing.T) {
	t.Parallel()

	h := HistoryLine{DisplayName: "Alice", Body: "see you at 10:30"}
	if got, want := h.String(), "Alice: see you at 10:30"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
