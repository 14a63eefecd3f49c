package server

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mkurth/linechat/pkg/crypto"
	"github.com/mkurth/linechat/pkg/datastore"
	"gopkg.in/yaml.v3"
)

// UserYAML represents one user entry in the seed file. Password is the
// plaintext for seeding only; exports never carry it.
type UserYAML struct {
	Username    string `yaml:"username"`
	DisplayName string `yaml:"display_name"`
	Password    string `yaml:"password,omitempty"`
}

// UsersConfig is the top-level YAML document for the user seed file.
type UsersConfig struct {
	Users []UserYAML `yaml:"users"`
}

// UserExportYAML represents one user in a YAML export.
type UserExportYAML struct {
	ID          int64  `yaml:"id"`
	Username    string `yaml:"username"`
	DisplayName string `yaml:"display_name"`
	IsActive    bool   `yaml:"is_active"`
	LastLogin   string `yaml:"last_login,omitempty"`
	CreatedAt   string `yaml:"created_at"`
}

// UsersExport is the top-level YAML for a user export.
type UsersExport struct {
	Users []UserExportYAML `yaml:"users"`
}

// LoadUsersFromYAML reads a users YAML file and seeds the credential
// directory. Entries whose username already exists are left untouched.
func LoadUsersFromYAML(path string, st datastore.DataProviderFactory) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read users config: %w", err)
	}
	return ImportUsersFromYAML(data, st)
}

// ImportUsersFromYAML parses YAML data and creates the users it names.
func ImportUsersFromYAML(data []byte, st datastore.DataProviderFactory) error {
	var cfg UsersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse users config: %w", err)
	}

	created := 0
	for _, u := range cfg.Users {
		ok, err := ensureUser(st, u)
		if err != nil {
			slog.Error("failed to create user from config", "username", u.Username, "err", err)
			continue
		}
		if ok {
			created++
		}
	}

	slog.Info("imported users from YAML", "total", len(cfg.Users), "created", created)
	return nil
}

// ensureUser creates a user unless one with the same username exists.
// Returns true when a user was created.
func ensureUser(st datastore.DataProviderFactory, u UserYAML) (bool, error) {
	existing, err := st.NonTx().GetUserByUsername(u.Username)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	hash, err := crypto.HashPassword(u.Password)
	if err != nil {
		return false, err
	}
	displayName := u.DisplayName
	if displayName == "" {
		displayName = u.Username
	}
	if _, err := st.NonTx().CreateUser(u.Username, displayName, hash); err != nil {
		return false, err
	}
	slog.Debug("created user from config", "username", u.Username)
	return true, nil
}

// ExportUsersYAML exports all users as YAML, without credentials.
func ExportUsersYAML(st datastore.DataProviderFactory) ([]byte, error) {
	users, err := st.NonTx().ListUsers()
	if err != nil {
		return nil, err
	}

	export := UsersExport{Users: make([]UserExportYAML, 0, len(users))}
	for _, u := range users {
		entry := UserExportYAML{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			IsActive:    u.IsActive,
			CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
		}
		if !u.LastLogin.IsZero() {
			entry.LastLogin = u.LastLogin.UTC().Format(time.RFC3339)
		}
		export.Users = append(export.Users, entry)
	}
	return yaml.Marshal(&export)
}
