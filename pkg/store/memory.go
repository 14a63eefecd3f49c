// Package store provides an in-memory DataStore implementation for tests.
// It mirrors SQLite behavior for validation and error handling.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mkurth/linechat/pkg/datastore"
	"github.com/mkurth/linechat/pkg/model"
)

// MemoryStore is an in-memory credential directory and message store.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextUserID    int64
	nextMessageID int64

	usersByID       map[int64]*model.User
	usersByUsername map[string]*model.User
	messages        []model.Message
}

// Compile-time check: *MemoryStore satisfies the factory and store interfaces.
var _ datastore.DataProviderFactory = (*MemoryStore)(nil)
var _ datastore.DataStore = (*MemoryStore)(nil)

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:             now,
		nextUserID:      1,
		nextMessageID:   1,
		usersByID:       make(map[int64]*model.User),
		usersByUsername: make(map[string]*model.User),
	}
}

// NonTx returns the store itself; the memory store has no transaction
// isolation to speak of.
func (s *MemoryStore) NonTx() datastore.DataStore {
	return s
}

// Tx returns a wrapper with no-op Commit and Rollback. Writes apply
// immediately, which is close enough for the tests this store serves.
func (s *MemoryStore) Tx(_ context.Context) (datastore.DataStoreTx, error) {
	return &memoryTx{MemoryStore: s}, nil
}

type memoryTx struct {
	*MemoryStore
}

func (t *memoryTx) Commit() error   { return nil }
func (t *memoryTx) Rollback() error { return nil }

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// ZeroTime returns the zero time value.
func (s *MemoryStore) ZeroTime() time.Time {
	return time.Time{}
}

// CreateUser creates a new user and returns a copy with the assigned ID.
func (s *MemoryStore) CreateUser(username, displayName, passwordHash string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	if displayName == "" {
		return nil, fmt.Errorf("store: create user: %w", model.ErrDisplayNameEmpty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[username]; exists {
		return nil, fmt.Errorf("store: create user: constraint failed: UNIQUE constraint failed: users.username")
	}
	user := &model.User{
		ID:           s.nextUserID,
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	s.nextUserID++
	copyUser := *user
	s.usersByID[user.ID] = user
	s.usersByUsername[username] = user
	return &copyUser, nil
}

// GetUserByUsername retrieves a user by username, nil if absent.
func (s *MemoryStore) GetUserByUsername(username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

// GetUserByID retrieves a user by ID, nil if absent.
func (s *MemoryStore) GetUserByID(id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByID[id]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

// ListUsers returns all users ordered by ID.
func (s *MemoryStore) ListUsers() ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.usersByID))
	for id := int64(1); id < s.nextUserID; id++ {
		if u, ok := s.usersByID[id]; ok {
			users = append(users, *u)
		}
	}
	return users, nil
}

// SetUserActive flips the presence flag and stamps last_login.
func (s *MemoryStore) SetUserActive(userID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByID[userID]
	if !ok {
		return fmt.Errorf("store: set user active: user %d not found", userID)
	}
	user.IsActive = active
	user.LastLogin = s.now().UTC()
	return nil
}

// CreateMessage appends a message, assigning ID and timestamp.
func (s *MemoryStore) CreateMessage(message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("store: message failed validation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	message.ID = s.nextMessageID
	s.nextMessageID++
	message.CreatedAt = s.now().UTC()
	s.messages = append(s.messages, *message)
	return nil
}

// ListHistory returns display-name/body pairs in append order. A positive
// limit keeps only the most recent entries.
func (s *MemoryStore) ListHistory(limit int) ([]model.HistoryLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var history []model.HistoryLine
	for _, m := range s.messages {
		sender, ok := s.usersByID[m.UserID]
		if !ok {
			continue // mirrors the SQL JOIN dropping orphaned rows
		}
		history = append(history, model.HistoryLine{DisplayName: sender.DisplayName, Body: m.Body})
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}
