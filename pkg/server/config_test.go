package server

import (
	"strings"
	"testing"

	"github.com/mkurth/linechat/pkg/crypto"
	"github.com/mkurth/linechat/pkg/store"
)

const usersYAML = `
users:
  - username: alice
    display_name: Alice
    password: secret
  - username: bob
    password: hunter2
`

func TestImportUsersFromYAML(t *testing.T) {
	st := store.NewMemory()

	if err := ImportUsersFromYAML([]byte(usersYAML), st); err != nil {
		t.Fatalf("ImportUsersFromYAML: %v", err)
	}

	alice, err := st.NonTx().GetUserByUsername("alice")
	if err != nil || alice == nil {
		t.Fatalf("GetUserByUsername(alice) = %v, %v", alice, err)
	}
	if alice.DisplayName != "Alice" {
		t.Fatalf("alice display name = %q", alice.DisplayName)
	}
	ok, err := crypto.VerifyPassword("secret", alice.PasswordHash)
	if err != nil || !ok {
		t.Fatalf("seeded password does not verify: ok=%t err=%v", ok, err)
	}

	// Missing display_name falls back to the username.
	bob, err := st.NonTx().GetUserByUsername("bob")
	if err != nil || bob == nil {
		t.Fatalf("GetUserByUsername(bob) = %v, %v", bob, err)
	}
	if bob.DisplayName != "bob" {
		t.Fatalf("bob display name = %q", bob.DisplayName)
	}
}

func TestImportUsersSkipsExisting(t *testing.T) {
	st := store.NewMemory()
	hash, err := crypto.HashPassword("original")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if _, err := st.NonTx().CreateUser("alice", "Original Alice", hash); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if err := ImportUsersFromYAML([]byte(usersYAML), st); err != nil {
		t.Fatalf("ImportUsersFromYAML: %v", err)
	}

	alice, err := st.NonTx().GetUserByUsername("alice")
	if err != nil || alice == nil {
		t.Fatalf("GetUserByUsername(alice) = %v, %v", alice, err)
	}
	if alice.DisplayName != "Original Alice" {
		t.Fatal("import overwrote an existing user")
	}
	ok, err := crypto.VerifyPassword("original", alice.PasswordHash)
	if err != nil || !ok {
		t.Fatal("existing credentials were replaced")
	}
}

func TestExportUsersYAMLOmitsCredentials(t *testing.T) {
	st := store.NewMemory()
	if err := ImportUsersFromYAML([]byte(usersYAML), st); err != nil {
		t.Fatalf("ImportUsersFromYAML: %v", err)
	}

	out, err := ExportUsersYAML(st)
	if err != nil {
		t.Fatalf("ExportUsersYAML: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "username: alice") || !strings.Contains(text, "username: bob") {
		t.Fatalf("export missing users:\n%s", text)
	}
	if strings.Contains(text, "password") || strings.Contains(text, "argon2id") {
		t.Fatalf("export leaks credentials:\n%s", text)
	}
}
