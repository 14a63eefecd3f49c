package datastore

import (
	"context"
	"time"

	"github.com/mkurth/linechat/pkg/model"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for the credential directory
// and the message store. Implementations include the default SQLite store
// and the in-memory store used for testing.
type DataStore interface {
	ConfigReadProvider

	UserReadProvider
	UserWriteProvider

	MessageReadProvider
	MessageWriteProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type ConfigReadProvider interface {
	ZeroTime() time.Time
	Close() error
}

type UserReadProvider interface {
	GetUserByUsername(username string) (*model.User, error)
	GetUserByID(id int64) (*model.User, error)
	ListUsers() ([]model.User, error)
}

type UserWriteProvider interface {
	CreateUser(username, displayName, passwordHash string) (*model.User, error)
	// SetUserActive flips the presence flag and stamps last_login,
	// both at login and at disconnect.
	SetUserActive(userID int64, active bool) error
}

type MessageReadProvider interface {
	// ListHistory returns display-name/body pairs for the login-time
	// replay, oldest first. A positive limit keeps only the most recent
	// entries; limit <= 0 means no limit.
	ListHistory(limit int) ([]model.HistoryLine, error)
}

type MessageWriteProvider interface {
	CreateMessage(message *model.Message) error
}
