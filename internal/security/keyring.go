// Package security provides secure credential handling for fieldterm.
package security

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for keyring entries.
const KeyringService = "fieldterm"

// KeyringStore wraps the OS keyring (macOS Keychain, Linux Secret Service,
// Windows Credential Manager) for passphrase and password persistence.
// Values are base64-encoded so binary credentials survive the round trip.
type KeyringStore struct {
	enabled bool
	mu      sync.RWMutex
}

// NewKeyringStore probes the system keyring with a throwaway entry and
// returns a disabled store when the probe fails, so callers can hold one
// unconditionally.
func NewKeyringStore() *KeyringStore {
	const probe = "__fieldterm_probe__"
	if err := keyring.Set(KeyringService, probe, "probe"); err != nil {
		slog.Debug("keyring not available, credentials stay in memory",
			slog.String("error", err.Error()))
		return &KeyringStore{}
	}
	_ = keyring.Delete(KeyringService, probe)

	slog.Debug("keyring storage enabled")
	return &KeyringStore{enabled: true}
}

// IsEnabled reports whether the keyring is available and enabled.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled turns keyring usage on or off at runtime.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

// set stores a credential under the given entry key.
func (ks *KeyringStore) set(entry string, value []byte) error {
	if !ks.IsEnabled() {
		return fmt.Errorf("keyring not available")
	}
	if err := keyring.Set(KeyringService, entry, base64.StdEncoding.EncodeToString(value)); err != nil {
		return fmt.Errorf("keyring set %s: %w", entry, err)
	}
	return nil
}

// get loads a credential; a missing entry returns nil, nil.
func (ks *KeyringStore) get(entry string) ([]byte, error) {
	if !ks.IsEnabled() {
		return nil, fmt.Errorf("keyring not available")
	}
	encoded, err := keyring.Get(KeyringService, entry)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("keyring get %s: %w", entry, err)
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keyring decode %s: %w", entry, err)
	}
	return value, nil
}

// del removes a credential; a missing entry is not an error.
func (ks *KeyringStore) del(entry string) error {
	if !ks.IsEnabled() {
		return fmt.Errorf("keyring not available")
	}
	if err := keyring.Delete(KeyringService, entry); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("keyring delete %s: %w", entry, err)
	}
	return nil
}

func passphraseEntry(keyPath string) string { return "ssh-passphrase:" + keyPath }
func passwordEntry(host, user string) string {
	return fmt.Sprintf("server:%s@%s", user, host)
}

// StoreSSHPassphrase persists the passphrase for the private key at keyPath.
func (ks *KeyringStore) StoreSSHPassphrase(keyPath string, passphrase []byte) error {
	if err := ks.set(passphraseEntry(keyPath), passphrase); err != nil {
		return err
	}
	slog.Debug("stored SSH passphrase in keyring", slog.String("key_path", keyPath))
	return nil
}

// GetSSHPassphrase loads the passphrase for the private key at keyPath.
// A missing entry returns nil, nil.
func (ks *KeyringStore) GetSSHPassphrase(keyPath string) ([]byte, error) {
	return ks.get(passphraseEntry(keyPath))
}

// DeleteSSHPassphrase removes the stored passphrase for keyPath.
func (ks *KeyringStore) DeleteSSHPassphrase(keyPath string) error {
	return ks.del(passphraseEntry(keyPath))
}

// StoreServerPassword persists the password for user@host.
func (ks *KeyringStore) StoreServerPassword(host, user string, password []byte) error {
	if err := ks.set(passwordEntry(host, user), password); err != nil {
		return err
	}
	slog.Debug("stored server password in keyring",
		slog.String("user", user), slog.String("host", host))
	return nil
}

// GetServerPassword loads the password for user@host. A missing entry
// returns nil, nil.
func (ks *KeyringStore) GetServerPassword(host, user string) ([]byte, error) {
	return ks.get(passwordEntry(host, user))
}

// DeleteServerPassword removes the stored password for user@host.
func (ks *KeyringStore) DeleteServerPassword(host, user string) error {
	return ks.del(passwordEntry(host, user))
}

// ClearAll removes the entries for every combination of the given hosts,
// users, and key paths. Best effort: keyring entries cannot be enumerated.
func (ks *KeyringStore) ClearAll(hosts []string, users []string, keyPaths []string) {
	if !ks.IsEnabled() {
		return
	}
	for _, host := range hosts {
		for _, user := range users {
			_ = ks.DeleteServerPassword(host, user)
		}
	}
	for _, keyPath := range keyPaths {
		_ = ks.DeleteSSHPassphrase(keyPath)
	}
	slog.Debug("cleared keyring entries")
}
