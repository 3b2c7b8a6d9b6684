package auth

import (
	"errors"
	"fmt"

	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/zalando/go-keyring"
)

const (
	usernameKey = "username"
	passwordKey = "password"
)

// Secrets is the credential store consulted by the session manager
type Secrets interface {
	Username() (string, error)
	Password() (string, error)
	SetUsername(username string) error
	SetPassword(password string) error
	DeletePassword() error
}

// StoreOptions selects the secret backend
type StoreOptions struct {
	ForceEncryptedFile bool // skip the keyring
	ForcePlainFile     bool // insecure, development only
}

// SecretStore persists the username and password under the application id
type SecretStore struct {
	backend StorageBackend
	warning string
}

// NewSecretStore prefers the system keyring and falls back to encrypted files in configDir
func NewSecretStore(configDir string, opts StoreOptions) *SecretStore {
	store := &SecretStore{}

	switch {
	case opts.ForcePlainFile:
		store.backend = NewPlainFileStorage(configDir)
		store.warning = "WARNING: Using unencrypted file storage. Credentials are stored in plain text."
	case opts.ForceEncryptedFile || !checkKeyringAvailable():
		encrypted, err := NewEncryptedFileStorage(configDir)
		if err != nil {
			store.backend = NewPlainFileStorage(configDir)
			store.warning = fmt.Sprintf("WARNING: Encryption setup failed (%v). Using plain file storage.", err)
			break
		}
		store.backend = encrypted
		if !opts.ForceEncryptedFile {
			store.warning = "INFO: System keyring not available. Using encrypted file storage."
		}
	default:
		store.backend = NewKeyringStorage(utils.AppID)
	}

	return store
}

// NewSecretStoreWithBackend wraps an explicit backend
func NewSecretStoreWithBackend(backend StorageBackend) *SecretStore {
	return &SecretStore{backend: backend}
}

// checkKeyringAvailable probes the system keyring with a throwaway entry
func checkKeyringAvailable() bool {
	testKey := utils.AppID + "-probe"
	if err := keyring.Set(utils.AppID, testKey, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(utils.AppID, testKey)
	return true
}

func (s *SecretStore) load(key string) (string, error) {
	data, err := s.backend.Load(key)
	if errors.Is(err, ErrSecretNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s from %s: %w", key, s.backend.Name(), err)
	}
	return string(data), nil
}

// Username returns the stored username, or "" when none is stored
func (s *SecretStore) Username() (string, error) {
	return s.load(usernameKey)
}

// Password returns the stored password, or "" when none is stored
func (s *SecretStore) Password() (string, error) {
	return s.load(passwordKey)
}

func (s *SecretStore) SetUsername(username string) error {
	return s.backend.Save(usernameKey, []byte(username))
}

func (s *SecretStore) SetPassword(password string) error {
	return s.backend.Save(passwordKey, []byte(password))
}

func (s *SecretStore) DeletePassword() error {
	return s.backend.Delete(passwordKey)
}

// Backend names the storage in use
func (s *SecretStore) Backend() string {
	return s.backend.Name()
}

// Warning describes a degraded backend choice, or ""
func (s *SecretStore) Warning() string {
	return s.warning
}
