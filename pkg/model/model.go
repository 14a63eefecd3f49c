// Package model defines the core domain types for linechat.
package model

// Session represents an active client connection (in-memory only).
// It is created after a successful login and removed when the
// connection closes.
type Session struct {
	ID          uint32
	UserID      int64
	Username    string
	DisplayName string
}
