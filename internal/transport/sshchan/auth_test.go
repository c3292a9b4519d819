package sshchan

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldterm/fieldterm/internal/ports"
	"github.com/fieldterm/fieldterm/internal/security"
	"golang.org/x/crypto/ssh"
)

// fakeDialog implements ports.DialogProvider with a scripted answer.
type fakeDialog struct {
	answer  string
	err     error
	prompts []ports.SecretPrompt
}

func (d *fakeDialog) AskSecret(prompt ports.SecretPrompt) (string, error) {
	d.prompts = append(d.prompts, prompt)
	return d.answer, d.err
}

var _ ports.DialogProvider = (*fakeDialog)(nil)

// generateEd25519Key generates an unencrypted Ed25519 private key in PEM format.
func generateEd25519Key(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal ed25519 key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: keyBytes,
	})
}

// generateEncryptedEd25519Key generates a passphrase-protected Ed25519 key in OpenSSH format.
func generateEncryptedEd25519Key(t *testing.T, passphrase string) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	if err != nil {
		t.Fatalf("marshal encrypted key: %v", err)
	}
	return pem.EncodeToMemory(block)
}

func writeKeyFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	return path
}

// --- matchSinglePattern ---

func TestMatchSinglePattern(t *testing.T) {
	tests := []struct {
		host    string
		pattern string
		want    bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "other.com", false},
		{"anything", "*", true},
		{"web1.example.com", "*.example.com", true},
		{"example.com", "*.example.com", false},
		{"web1.example.com", "web1.*", true},
		{"web1.example.com", "web?.example.com", true},
		{"web12.example.com", "web?.example.com", false},
		{"web1.example.com", "web*com", true},
		{"web1.example.org", "web*com", false},
		{"host", "", false},
		{"", "host", false},
		{"", "", true},
		{"abc", "a**c", true},
		{"abc", "abc*", true},
		{"ab", "abc", false},
		{"abcd", "abc", false},
		{"a1c", "?*c", true},
	}
	for _, tt := range tests {
		if got := matchSinglePattern(tt.host, tt.pattern); got != tt.want {
			t.Errorf("matchSinglePattern(%q, %q) = %v, want %v", tt.host, tt.pattern, got, tt.want)
		}
	}
}

func TestMatchSSHHostPattern_MultiplePatterns(t *testing.T) {
	if !matchSSHHostPattern("staging.example.com", "prod.example.com staging.example.com") {
		t.Error("expected match on second pattern")
	}
	if matchSSHHostPattern("dev.example.com", "prod.example.com staging.example.com") {
		t.Error("expected no match")
	}
	if !matchSSHHostPattern("web3.example.com", "bastion *.example.com") {
		t.Error("expected wildcard match")
	}
}

// --- expandPath ---

func TestExpandPath_Tilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got := expandPath("~/.ssh/id_rsa")
	want := filepath.Join(home, ".ssh/id_rsa")
	if got != want {
		t.Errorf("expandPath = %q, want %q", got, want)
	}
}

func TestExpandPath_Absolute(t *testing.T) {
	if got := expandPath("/etc/ssh/key"); got != "/etc/ssh/key" {
		t.Errorf("expandPath = %q, want unchanged", got)
	}
}

// --- privateKeyAuth ---

func TestPrivateKeyAuth_Unencrypted(t *testing.T) {
	path := writeKeyFile(t, generateEd25519Key(t))

	auth, err := AuthConfig{}.privateKeyAuth(path)
	if err != nil {
		t.Fatalf("privateKeyAuth: %v", err)
	}
	if auth == nil {
		t.Fatal("expected non-nil auth method")
	}
}

func TestPrivateKeyAuth_ConfiguredPassphrase(t *testing.T) {
	path := writeKeyFile(t, generateEncryptedEd25519Key(t, "hunter2"))

	auth, err := AuthConfig{KeyPassphrase: "hunter2"}.privateKeyAuth(path)
	if err != nil {
		t.Fatalf("privateKeyAuth: %v", err)
	}
	if auth == nil {
		t.Fatal("expected non-nil auth method")
	}
}

func TestPrivateKeyAuth_PassphraseFromDialog(t *testing.T) {
	path := writeKeyFile(t, generateEncryptedEd25519Key(t, "hunter2"))
	dialog := &fakeDialog{answer: "hunter2"}
	cache := security.NewCredentialCache(time.Minute)

	cfg := AuthConfig{Dialog: dialog, Cache: cache}
	if _, err := cfg.privateKeyAuth(path); err != nil {
		t.Fatalf("privateKeyAuth: %v", err)
	}
	if len(dialog.prompts) != 1 {
		t.Fatalf("expected one prompt, got %d", len(dialog.prompts))
	}

	// The entered passphrase is remembered for the next attempt.
	if got := cache.Get(path); string(got) != "hunter2" {
		t.Errorf("cache.Get = %q, want remembered passphrase", got)
	}
	if _, err := cfg.privateKeyAuth(path); err != nil {
		t.Fatalf("second privateKeyAuth: %v", err)
	}
	if len(dialog.prompts) != 1 {
		t.Errorf("expected cache hit to skip the prompt, got %d prompts", len(dialog.prompts))
	}
}

func TestPrivateKeyAuth_WrongCachedPassphraseCleared(t *testing.T) {
	path := writeKeyFile(t, generateEncryptedEd25519Key(t, "correct"))
	cache := security.NewCredentialCache(time.Minute)
	cache.Set(path, []byte("stale"))

	_, err := AuthConfig{Cache: cache}.privateKeyAuth(path)
	if err == nil {
		t.Fatal("expected decrypt error with stale passphrase")
	}
	if cache.Get(path) != nil {
		t.Error("stale passphrase should be evicted from the cache")
	}
}

func TestPrivateKeyAuth_EncryptedNoSources(t *testing.T) {
	path := writeKeyFile(t, generateEncryptedEd25519Key(t, "secret"))

	_, err := AuthConfig{}.privateKeyAuth(path)
	if err == nil {
		t.Fatal("expected error when no passphrase source is available")
	}
}

func TestPrivateKeyAuth_FileNotFound(t *testing.T) {
	_, err := AuthConfig{}.privateKeyAuth(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error for missing key file")
	}
}

func TestPrivateKeyAuth_InvalidKeyData(t *testing.T) {
	path := writeKeyFile(t, []byte("not a key"))
	_, err := AuthConfig{}.privateKeyAuth(path)
	if err == nil {
		t.Fatal("expected error for invalid key data")
	}
}

// --- resolvePassword ---

func TestResolvePassword_Configured(t *testing.T) {
	cfg := AuthConfig{Password: "pw", Host: "h", User: "u", Dialog: &fakeDialog{answer: "other"}}
	if got := cfg.resolvePassword(); string(got) != "pw" {
		t.Errorf("resolvePassword = %q, want configured value", got)
	}
}

func TestResolvePassword_DialogStoresToCache(t *testing.T) {
	dialog := &fakeDialog{answer: "entered"}
	cache := security.NewCredentialCache(time.Minute)
	cfg := AuthConfig{Host: "prod", User: "deploy", Dialog: dialog, Cache: cache}

	if got := cfg.resolvePassword(); string(got) != "entered" {
		t.Fatalf("resolvePassword = %q, want dialog answer", got)
	}
	if got := cache.Get("deploy@prod"); string(got) != "entered" {
		t.Errorf("cache.Get = %q, want stored password", got)
	}
	if dialog.prompts[0].Description != "deploy@prod" {
		t.Errorf("prompt description = %q, want user@host", dialog.prompts[0].Description)
	}
}

func TestResolvePassword_CacheBeforeDialog(t *testing.T) {
	dialog := &fakeDialog{answer: "should not be asked"}
	cache := security.NewCredentialCache(time.Minute)
	cache.Set("deploy@prod", []byte("cached"))
	cfg := AuthConfig{Host: "prod", User: "deploy", Dialog: dialog, Cache: cache}

	if got := cfg.resolvePassword(); string(got) != "cached" {
		t.Errorf("resolvePassword = %q, want cached value", got)
	}
	if len(dialog.prompts) != 0 {
		t.Error("dialog should not be consulted on a cache hit")
	}
}

func TestResolvePassword_DialogError(t *testing.T) {
	cfg := AuthConfig{Host: "h", User: "u", Dialog: &fakeDialog{err: errors.New("cancelled")}}
	if got := cfg.resolvePassword(); got != nil {
		t.Errorf("resolvePassword = %q, want nil on cancelled dialog", got)
	}
}

func TestResolvePassword_NoHostUser(t *testing.T) {
	cfg := AuthConfig{Dialog: &fakeDialog{answer: "x"}}
	if got := cfg.resolvePassword(); got != nil {
		t.Errorf("resolvePassword = %q, want nil without host and user", got)
	}
}

// --- BuildAuthMethods ---

func TestBuildAuthMethods_KeyAndPassword(t *testing.T) {
	path := writeKeyFile(t, generateEd25519Key(t))

	methods, err := BuildAuthMethods(AuthConfig{
		KeyPath:  path,
		Password: "pw",
		Host:     "h",
		User:     "u",
	})
	if err != nil {
		t.Fatalf("BuildAuthMethods: %v", err)
	}
	// Key, password, keyboard-interactive.
	if len(methods) != 3 {
		t.Errorf("expected 3 auth methods, got %d", len(methods))
	}
}

func TestBuildAuthMethods_BadKeyFails(t *testing.T) {
	_, err := BuildAuthMethods(AuthConfig{KeyPath: filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Fatal("expected error for unreadable key")
	}
}

func TestBuildAuthMethods_NothingAvailable(t *testing.T) {
	// No key, no password sources, no agent socket.
	t.Setenv("SSH_AUTH_SOCK", "")
	t.Setenv("HOME", t.TempDir())

	_, err := BuildAuthMethods(AuthConfig{Host: "nowhere.invalid", User: "u"})
	if err == nil {
		t.Fatal("expected error when no method can be built")
	}
}

// --- Host key callbacks ---

func TestInsecureHostKeyCallback(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("new public key: %v", err)
	}
	if err := InsecureHostKeyCallback()("host:22", nil, sshPub); err != nil {
		t.Errorf("insecure callback rejected key: %v", err)
	}
}

func TestBuildHostKeyCallback_MissingFile(t *testing.T) {
	cb, err := BuildHostKeyCallback(filepath.Join(t.TempDir(), "known_hosts"))
	if err != nil {
		t.Fatalf("BuildHostKeyCallback: %v", err)
	}
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("new public key: %v", err)
	}
	if err := cb("host:22", nil, sshPub); err != nil {
		t.Errorf("missing known_hosts should accept with a warning: %v", err)
	}
}

func TestBuildHostKeyCallback_ValidKnownHosts(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("new public key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "known_hosts")
	line := "example.com " + string(ssh.MarshalAuthorizedKey(sshPub))
	if err := os.WriteFile(path, []byte(line), 0600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}

	cb, err := BuildHostKeyCallback(path)
	if err != nil {
		t.Fatalf("BuildHostKeyCallback: %v", err)
	}
	if cb == nil {
		t.Fatal("expected non-nil callback")
	}
}

func TestBuildHostKeyCallback_InvalidKnownHosts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(path, []byte("not a known_hosts line\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := BuildHostKeyCallback(path); err == nil {
		t.Fatal("expected parse error for malformed known_hosts")
	}
}
