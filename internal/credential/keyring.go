// Package credential reads mail account passwords from the system keyring.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/99designs/keyring"

	"github.com/jarrod-lowe/jmap-service-compose/internal/mailaccess"
)

// DefaultServiceName namespaces the keyring items.
const DefaultServiceName = "jmap-compose"

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = errors.New("credential not found")

// Config selects the keyring backend.
type Config struct {
	ServiceName string
	// FileDir and FilePassword configure the encrypted file backend used
	// where no desktop keyring exists.
	FileDir      string
	FilePassword string
	Backends     []keyring.BackendType
}

// Store reads and writes mail account passwords.
type Store struct {
	ring keyring.Keyring
}

var _ mailaccess.PasswordSource = (*Store)(nil)

// Open opens the keyring described by cfg.
func Open(cfg Config) (*Store, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	backends := cfg.Backends
	if len(backends) == 0 {
		backends = []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.ServiceName,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Key returns the keyring key of a mail account.
func Key(account mailaccess.Account) string {
	return "mail-account-" + strconv.Itoa(account.ID) + ":" + account.Username
}

// Password implements mailaccess.PasswordSource.
func (s *Store) Password(_ context.Context, account mailaccess.Account) (string, error) {
	item, err := s.ring.Get(Key(account))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: mail account %d", ErrNotFound, account.ID)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential for mail account %d: %w", account.ID, err)
	}
	return string(item.Data), nil
}

// SetPassword stores the password of a mail account.
func (s *Store) SetPassword(account mailaccess.Account, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:   Key(account),
		Data:  []byte(password),
		Label: fmt.Sprintf("Mail account %d (%s)", account.ID, account.Username),
	})
	if err != nil {
		return fmt.Errorf("setting credential for mail account %d: %w", account.ID, err)
	}
	return nil
}

// DeletePassword removes the password of a mail account.
func (s *Store) DeletePassword(account mailaccess.Account) error {
	if err := s.ring.Remove(Key(account)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential for mail account %d: %w", account.ID, err)
	}
	return nil
}
