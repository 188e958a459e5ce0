// Package credentials stores the model API key encrypted at rest.
//
// The key is sealed with AES-GCM under a key derived (scrypt) from a
// machine-local random secret created on first use. This keeps the API key
// out of config files, environment variables, and accidental backups of
// readable plaintext; it is not a defense against an attacker with full
// access to the same user account.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

const (
	secretFile = "machine.secret"
	keyFile    = "api_key.enc"

	saltSize   = 16
	secretSize = 32
)

// Store persists a single secret string under the data directory.
type Store struct {
	dir string
}

// NewStore creates a credential store rooted at dir/credentials.
func NewStore(dataDir string) *Store {
	return &Store{dir: filepath.Join(dataDir, "credentials")}
}

// Save encrypts and persists the API key, replacing any existing one.
func (s *Store) Save(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return errors.New("api key is empty")
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return errors.Wrap(err, "failed to create credentials directory")
	}

	secret, err := s.loadOrCreateSecret()
	if err != nil {
		return err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return errors.Wrap(err, "failed to generate salt")
	}

	gcm, err := newGCM(secret, salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "failed to generate nonce")
	}

	sealed := gcm.Seal(nil, nonce, []byte(apiKey), nil)

	// File layout: salt || nonce || ciphertext.
	blob := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)

	if err := os.WriteFile(filepath.Join(s.dir, keyFile), blob, 0600); err != nil {
		return errors.Wrap(err, "failed to write api key file")
	}
	return nil
}

// Load returns the stored API key, or "" when none is stored.
func (s *Store) Load() (string, error) {
	blob, err := os.ReadFile(filepath.Join(s.dir, keyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to read api key file")
	}

	secret, err := os.ReadFile(filepath.Join(s.dir, secretFile))
	if err != nil {
		return "", errors.Wrap(err, "failed to read machine secret")
	}

	if len(blob) < saltSize {
		return "", errors.New("api key file is corrupt")
	}
	salt, rest := blob[:saltSize], blob[saltSize:]

	gcm, err := newGCM(secret, salt)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", errors.New("api key file is corrupt")
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to decrypt api key")
	}
	return string(plain), nil
}

// Delete removes the stored API key. Deleting when nothing is stored is a
// no-op.
func (s *Store) Delete() error {
	err := os.Remove(filepath.Join(s.dir, keyFile))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete api key file")
	}
	return nil
}

// HasKey reports whether an API key is stored.
func (s *Store) HasKey() bool {
	key, err := s.Load()
	return err == nil && key != ""
}

// Masked returns a display form of the stored key: first 7 characters,
// "******", last 4. Returns "" when no key is stored.
func (s *Store) Masked() string {
	key, err := s.Load()
	if err != nil || key == "" {
		return ""
	}
	return Mask(key)
}

// Mask renders a secret for display without revealing it.
func Mask(key string) string {
	if len(key) <= 11 {
		return strings.Repeat("*", len(key))
	}
	return key[:7] + "******" + key[len(key)-4:]
}

func (s *Store) loadOrCreateSecret() ([]byte, error) {
	path := filepath.Join(s.dir, secretFile)
	secret, err := os.ReadFile(path)
	if err == nil {
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to read machine secret")
	}

	secret = make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.Wrap(err, "failed to generate machine secret")
	}
	if err := os.WriteFile(path, secret, 0600); err != nil {
		return nil, errors.Wrap(err, "failed to write machine secret")
	}
	return secret, nil
}

func newGCM(secret, salt []byte) (cipher.AEAD, error) {
	derived, err := scrypt.Key(secret, salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive encryption key")
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gcm")
	}
	return gcm, nil
}
