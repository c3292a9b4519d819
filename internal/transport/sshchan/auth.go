package sshchan

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldterm/fieldterm/internal/ports"
	"github.com/fieldterm/fieldterm/internal/security"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthConfig holds authentication configuration for one connection.
type AuthConfig struct {
	KeyPath       string // Path to private key file
	KeyPassphrase string // Passphrase for encrypted keys, if already known
	UseAgent      bool   // Use SSH agent for authentication
	Password      string // Password for password authentication, if already known
	Host          string // Target host, for SSH config lookup and keyring keys
	User          string // Target user, for keyring keys

	// Credential sources consulted, in order, when an encrypted key needs a
	// passphrase or password auth needs a password: OS keyring, in-memory
	// cache, interactive prompt. All are optional.
	Keyring *security.KeyringStore
	Cache   *security.CredentialCache
	Dialog  ports.DialogProvider
}

// BuildAuthMethods constructs SSH auth methods from config.
func BuildAuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	// Try SSH agent first if requested
	if cfg.UseAgent {
		if agentAuth, err := sshAgentAuth(); err == nil {
			methods = append(methods, agentAuth)
		}
	}

	// Add key file authentication
	if cfg.KeyPath != "" {
		keyAuth, err := cfg.privateKeyAuth(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("private key auth: %w", err)
		}
		methods = append(methods, keyAuth)
	}

	// Try SSH config lookup if no explicit key specified
	if cfg.KeyPath == "" && cfg.Host != "" {
		configKey := getSSHConfigIdentityFile(cfg.Host)
		if configKey != "" {
			keyAuth, err := cfg.privateKeyAuth(configKey)
			if err == nil {
				methods = append(methods, keyAuth)
			}
		}
	}

	// Try default key locations if no explicit key specified and no password
	if cfg.KeyPath == "" && cfg.Password == "" && len(methods) == 0 {
		defaultKeys := []string{
			"~/.ssh/id_ed25519",
			"~/.ssh/id_rsa",
			"~/.ssh/id_ecdsa",
		}
		for _, keyPath := range defaultKeys {
			expanded := expandPath(keyPath)
			if _, err := os.Stat(expanded); err == nil {
				if keyAuth, err := cfg.privateKeyAuth(expanded); err == nil {
					methods = append(methods, keyAuth)
					break // Use first available key
				}
			}
		}
	}

	// Add password authentication
	password := cfg.resolvePassword()
	if password != nil {
		methods = append(methods, PasswordAuth(string(password)))
		methods = append(methods, KeyboardInteractiveAuth(string(password)))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication methods available")
	}

	return methods, nil
}

// resolvePassword finds a server password: the configured value, then the
// keyring, then the in-memory cache, then an interactive prompt. A freshly
// entered password is stored back for next time.
func (cfg AuthConfig) resolvePassword() []byte {
	if cfg.Password != "" {
		return []byte(cfg.Password)
	}
	if cfg.Host == "" || cfg.User == "" {
		return nil
	}

	if cfg.Keyring != nil && cfg.Keyring.IsEnabled() {
		if pw, err := cfg.Keyring.GetServerPassword(cfg.Host, cfg.User); err == nil && pw != nil {
			return pw
		}
	}

	cacheKey := cfg.User + "@" + cfg.Host
	if cfg.Cache != nil {
		if pw := cfg.Cache.Get(cacheKey); pw != nil {
			return pw
		}
	}

	if cfg.Dialog == nil {
		return nil
	}
	entered, err := cfg.Dialog.AskSecret(ports.SecretPrompt{
		Title:       "SSH password",
		Description: cacheKey,
	})
	if err != nil || entered == "" {
		return nil
	}
	pw := []byte(entered)
	cfg.storeCredential(cacheKey, pw, func() error {
		return cfg.Keyring.StoreServerPassword(cfg.Host, cfg.User, pw)
	})
	return pw
}

// resolvePassphrase finds the passphrase for an encrypted key, same source
// order as resolvePassword.
func (cfg AuthConfig) resolvePassphrase(keyPath string) []byte {
	if cfg.KeyPassphrase != "" {
		return []byte(cfg.KeyPassphrase)
	}

	if cfg.Keyring != nil && cfg.Keyring.IsEnabled() {
		if pp, err := cfg.Keyring.GetSSHPassphrase(keyPath); err == nil && pp != nil {
			return pp
		}
	}

	if cfg.Cache != nil {
		if pp := cfg.Cache.Get(keyPath); pp != nil {
			return pp
		}
	}

	if cfg.Dialog == nil {
		return nil
	}
	entered, err := cfg.Dialog.AskSecret(ports.SecretPrompt{
		Title:       "Key passphrase",
		Description: keyPath,
	})
	if err != nil || entered == "" {
		return nil
	}
	pp := []byte(entered)
	cfg.storeCredential(keyPath, pp, func() error {
		return cfg.Keyring.StoreSSHPassphrase(keyPath, pp)
	})
	return pp
}

// storeCredential remembers a freshly entered credential in the keyring when
// available, falling back to the in-memory cache.
func (cfg AuthConfig) storeCredential(cacheKey string, value []byte, keyringStore func() error) {
	if cfg.Keyring != nil && cfg.Keyring.IsEnabled() {
		if err := keyringStore(); err == nil {
			return
		}
	}
	if cfg.Cache != nil {
		cfg.Cache.Set(cacheKey, value)
	}
}

// sshAgentAuth returns an SSH agent auth method.
func sshAgentAuth() (ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}

	agentClient := agent.NewClient(conn)
	return ssh.PublicKeysCallback(agentClient.Signers), nil
}

// privateKeyAuth returns a private key auth method, resolving the passphrase
// for encrypted keys.
func (cfg AuthConfig) privateKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	expanded := expandPath(keyPath)

	keyData, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if !errors.As(err, &missing) {
			return nil, fmt.Errorf("parse private key: %w", err)
		}

		passphrase := cfg.resolvePassphrase(expanded)
		if passphrase == nil {
			return nil, fmt.Errorf("key %s is encrypted and no passphrase is available", expanded)
		}
		defer security.WipeBytes(passphrase)

		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, passphrase)
		if err != nil {
			// A wrong remembered passphrase must not wedge future attempts.
			if cfg.Keyring != nil {
				_ = cfg.Keyring.DeleteSSHPassphrase(expanded)
			}
			if cfg.Cache != nil {
				cfg.Cache.Clear(expanded)
			}
			return nil, fmt.Errorf("decrypt private key: %w", err)
		}
	}

	return ssh.PublicKeys(signer), nil
}

// BuildHostKeyCallback creates a host key callback from known_hosts.
func BuildHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}

	expanded := expandPath(knownHostsPath)

	if _, err := os.Stat(expanded); os.IsNotExist(err) {
		// No known_hosts yet. Accept and log; first connection pins nothing.
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			slog.Warn("no known_hosts file, accepting host key unverified",
				slog.String("host", hostname),
			)
			return nil
		}, nil
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}

	return callback, nil
}

// InsecureHostKeyCallback returns a callback that accepts any host key.
// Use only for testing or when host key verification is explicitly disabled.
func InsecureHostKeyCallback() ssh.HostKeyCallback {
	return ssh.InsecureIgnoreHostKey()
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// getSSHConfigIdentityFile parses ~/.ssh/config and returns the IdentityFile for a host.
func getSSHConfigIdentityFile(host string) string {
	configPath := expandPath("~/.ssh/config")
	file, err := os.Open(configPath)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var currentHost string
	var matchesHost bool

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key-value pairs
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		key := strings.ToLower(parts[0])
		value := strings.Join(parts[1:], " ")

		switch key {
		case "host":
			currentHost = value
			// Check if this host pattern matches our target
			matchesHost = matchSSHHostPattern(host, currentHost)
		case "identityfile":
			if matchesHost {
				return expandPath(value)
			}
		}
	}

	return ""
}

// matchSSHHostPattern checks if host matches an SSH config Host pattern.
// Supports wildcards (* matches any sequence, ? matches single char).
func matchSSHHostPattern(host, pattern string) bool {
	// Handle multiple patterns separated by spaces
	patterns := strings.Fields(pattern)
	for _, p := range patterns {
		if matchSinglePattern(host, p) {
			return true
		}
	}
	return false
}

// matchSinglePattern matches a single SSH host pattern.
func matchSinglePattern(host, pattern string) bool {
	// Simple exact match or * wildcard
	if pattern == "*" {
		return true
	}
	if pattern == host {
		return true
	}

	// Convert SSH pattern to a simple matcher
	// SSH uses * for any chars and ? for single char
	i, j := 0, 0
	for i < len(pattern) && j < len(host) {
		if pattern[i] == '*' {
			// Skip consecutive wildcards
			for i < len(pattern) && pattern[i] == '*' {
				i++
			}
			if i == len(pattern) {
				return true // Trailing * matches rest
			}
			// Find next match
			for j < len(host) {
				if matchSinglePattern(host[j:], pattern[i:]) {
					return true
				}
				j++
			}
			return false
		} else if pattern[i] == '?' || pattern[i] == host[j] {
			i++
			j++
		} else {
			return false
		}
	}

	// Check if we consumed both strings
	for i < len(pattern) && pattern[i] == '*' {
		i++
	}
	return i == len(pattern) && j == len(host)
}

// PasswordAuth returns a password auth method.
func PasswordAuth(password string) ssh.AuthMethod {
	return ssh.Password(password)
}

// KeyboardInteractiveAuth returns a keyboard-interactive auth method.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}
