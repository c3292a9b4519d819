package security

import (
	"bytes"
	"testing"
)

func TestKeyringStore_New(t *testing.T) {
	// The probe may fail on headless systems; either way the store must be
	// usable as an object.
	ks := NewKeyringStore()
	if ks == nil {
		t.Fatal("NewKeyringStore returned nil")
	}
	t.Logf("keyring enabled: %v", ks.IsEnabled())
}

func TestKeyringStore_SetEnabled(t *testing.T) {
	ks := NewKeyringStore()
	original := ks.IsEnabled()
	defer ks.SetEnabled(original)

	ks.SetEnabled(false)
	if ks.IsEnabled() {
		t.Error("SetEnabled(false) did not disable the store")
	}
}

func TestKeyringStore_PassphraseRoundTrip(t *testing.T) {
	ks := NewKeyringStore()
	if !ks.IsEnabled() {
		t.Skip("keyring not available on this system")
	}

	keyPath := "/tmp/fieldterm_test_key"
	passphrase := []byte("test-passphrase-123")

	if err := ks.StoreSSHPassphrase(keyPath, passphrase); err != nil {
		t.Fatalf("StoreSSHPassphrase: %v", err)
	}
	got, err := ks.GetSSHPassphrase(keyPath)
	if err != nil {
		t.Fatalf("GetSSHPassphrase: %v", err)
	}
	if !bytes.Equal(got, passphrase) {
		t.Errorf("GetSSHPassphrase = %q, want %q", got, passphrase)
	}

	if err := ks.DeleteSSHPassphrase(keyPath); err != nil {
		t.Fatalf("DeleteSSHPassphrase: %v", err)
	}
	got, err = ks.GetSSHPassphrase(keyPath)
	if err != nil {
		t.Fatalf("GetSSHPassphrase after delete: %v", err)
	}
	if got != nil {
		t.Error("passphrase still present after delete")
	}
}

func TestKeyringStore_PasswordRoundTrip(t *testing.T) {
	ks := NewKeyringStore()
	if !ks.IsEnabled() {
		t.Skip("keyring not available on this system")
	}

	host, user := "bastion.example.com", "deploy"
	password := []byte("server-password-789")

	if err := ks.StoreServerPassword(host, user, password); err != nil {
		t.Fatalf("StoreServerPassword: %v", err)
	}
	got, err := ks.GetServerPassword(host, user)
	if err != nil {
		t.Fatalf("GetServerPassword: %v", err)
	}
	if !bytes.Equal(got, password) {
		t.Errorf("GetServerPassword = %q, want %q", got, password)
	}

	if err := ks.DeleteServerPassword(host, user); err != nil {
		t.Fatalf("DeleteServerPassword: %v", err)
	}
	got, err = ks.GetServerPassword(host, user)
	if err != nil {
		t.Fatalf("GetServerPassword after delete: %v", err)
	}
	if got != nil {
		t.Error("password still present after delete")
	}
}

func TestKeyringStore_DisabledOperationsFail(t *testing.T) {
	ks := NewKeyringStore()
	ks.SetEnabled(false)

	if err := ks.StoreSSHPassphrase("/test", []byte("x")); err == nil {
		t.Error("StoreSSHPassphrase should fail when disabled")
	}
	if _, err := ks.GetSSHPassphrase("/test"); err == nil {
		t.Error("GetSSHPassphrase should fail when disabled")
	}
	if err := ks.StoreServerPassword("h", "u", []byte("x")); err == nil {
		t.Error("StoreServerPassword should fail when disabled")
	}
	if _, err := ks.GetServerPassword("h", "u"); err == nil {
		t.Error("GetServerPassword should fail when disabled")
	}
}
