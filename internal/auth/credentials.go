// Package auth holds the fixed-user credential check and JWT issuance for
// the HTTP API.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ErrInvalidCredentials covers unknown usernames and wrong passwords alike,
// so callers cannot probe which usernames exist.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Roles assignable to users.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

const (
	passwordHashIterations = 120000
	passwordHashKeyLength  = 32
	passwordSaltLength     = 16
)

type account struct {
	passwordHash string
	role         string
}

// Credentials authenticates against a fixed set of accounts configured at
// startup. Passwords are hashed at construction, so plaintext never outlives
// initialization.
type Credentials struct {
	accounts map[string]account
}

// NewStaticCredentials hashes the given username/password pairs. Accounts in
// admins receive RoleAdmin, accounts in users receive RoleUser.
func NewStaticCredentials(admins, users map[string]string) (*Credentials, error) {
	accounts := make(map[string]account, len(admins)+len(users))
	add := func(role string, set map[string]string) error {
		for username, password := range set {
			username = strings.TrimSpace(username)
			if username == "" {
				return errors.New("username is required")
			}
			if password == "" {
				return fmt.Errorf("password for %s is required", username)
			}
			if _, exists := accounts[username]; exists {
				return fmt.Errorf("duplicate account %s", username)
			}
			hash, err := hashPassword(password)
			if err != nil {
				return err
			}
			accounts[username] = account{passwordHash: hash, role: role}
		}
		return nil
	}
	if err := add(RoleAdmin, admins); err != nil {
		return nil, err
	}
	if err := add(RoleUser, users); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, errors.New("at least one account is required")
	}
	return &Credentials{accounts: accounts}, nil
}

// Authenticate checks a username/password pair and returns the account role.
func (c *Credentials) Authenticate(username, password string) (string, error) {
	acct, ok := c.accounts[strings.TrimSpace(username)]
	if !ok {
		// Burn a hash anyway so the miss costs as much as a mismatch.
		verifyPassword(unknownUserHash, password)
		return "", ErrInvalidCredentials
	}
	if err := verifyPassword(acct.passwordHash, password); err != nil {
		return "", err
	}
	return acct.role, nil
}

var unknownUserHash = func() string {
	hash, err := hashPassword("placeholder")
	if err != nil {
		panic(err)
	}
	return hash
}()

func hashPassword(password string) (string, error) {
	salt := make([]byte, passwordSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", passwordHashIterations, encodedSalt, encodedKey), nil
}

func verifyPassword(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify password: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
