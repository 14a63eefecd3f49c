// Package crypto provides password hashing for the credential directory.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrMalformedHash = errors.New("crypto: malformed password hash")

// Argon2id parameters. Changing these invalidates stored hashes, which is
// why the prefix carries a scheme identifier.
const (
	hashScheme  = "argon2id"
	argonTime   = 1
	argonMemory = 64 * 1024
	argonLanes  = 4
	keyLength   = 32
	saltLength  = 16
)

// HashPassword derives an Argon2id hash from a password with a fresh random
// salt. The result encodes scheme, salt, and key as "argon2id$<salt>$<key>".
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonLanes, keyLength)
	return hashScheme + "$" + hex.EncodeToString(salt) + "$" + hex.EncodeToString(key), nil
}

// VerifyPassword reports whether password matches the encoded hash.
// Comparison is constant-time over the derived key.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != hashScheme {
		return false, ErrMalformedHash
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, ErrMalformedHash
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil {
		return false, ErrMalformedHash
	}
	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonLanes, keyLength)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
