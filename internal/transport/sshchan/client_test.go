package sshchan

import (
	"errors"
	"testing"
	"time"

	"github.com/fieldterm/fieldterm/internal/ports"
	"golang.org/x/crypto/ssh"
)

// fakeSSHDialer implements ports.SSHDialer with scripted results.
type fakeSSHDialer struct {
	err   error
	addrs []string
}

func (d *fakeSSHDialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d.addrs = append(d.addrs, addr)
	return nil, d.err
}

var _ ports.SSHDialer = (*fakeSSHDialer)(nil)

func testAuthMethods() []ssh.AuthMethod {
	return []ssh.AuthMethod{ssh.Password("x")}
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts ClientOptions
	}{
		{"missing host", ClientOptions{User: "u", AuthMethods: testAuthMethods()}},
		{"missing user", ClientOptions{Host: "h", AuthMethods: testAuthMethods()}},
		{"missing auth", ClientOptions{Host: "h", User: "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.opts); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(ClientOptions{Host: "h", User: "u", AuthMethods: testAuthMethods()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Port() != 22 {
		t.Errorf("Port = %d, want 22", c.Port())
	}
	if c.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.config.Timeout)
	}
	if c.keepaliveInterval != 30*time.Second {
		t.Errorf("keepaliveInterval = %v, want 30s", c.keepaliveInterval)
	}
	if c.config.HostKeyCallback == nil {
		t.Error("expected default host key callback")
	}
}

func TestConnect_DialError(t *testing.T) {
	dialer := &fakeSSHDialer{err: errors.New("connection refused")}
	c, err := NewClient(ClientOptions{
		Host:        "bastion.example.com",
		Port:        2222,
		User:        "deploy",
		AuthMethods: testAuthMethods(),
		Dialer:      dialer,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := c.Connect(); err == nil {
		t.Fatal("expected dial error")
	}
	if len(dialer.addrs) != 1 || dialer.addrs[0] != "bastion.example.com:2222" {
		t.Errorf("dialed %v, want [bastion.example.com:2222]", dialer.addrs)
	}
	if c.IsConnected() {
		t.Error("client should not report connected after a failed dial")
	}
}

func TestNewSession_NotConnected(t *testing.T) {
	c, err := NewClient(ClientOptions{Host: "h", User: "u", AuthMethods: testAuthMethods()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.NewSession(); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestClose_NotConnected(t *testing.T) {
	c, err := NewClient(ClientOptions{Host: "h", User: "u", AuthMethods: testAuthMethods()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on disconnected client: %v", err)
	}
}

func TestHostAccessors(t *testing.T) {
	c, err := NewClient(ClientOptions{Host: "h", Port: 2022, User: "u", AuthMethods: testAuthMethods()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Host() != "h" {
		t.Errorf("Host = %q, want h", c.Host())
	}
	if c.Port() != 2022 {
		t.Errorf("Port = %d, want 2022", c.Port())
	}
}

func TestTunnelManager_Lazy(t *testing.T) {
	c, err := NewClient(ClientOptions{Host: "h", User: "u", AuthMethods: testAuthMethods()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	tm := c.TunnelManager()
	if tm == nil {
		t.Fatal("expected tunnel manager")
	}
	if c.TunnelManager() != tm {
		t.Error("expected the same tunnel manager on repeat calls")
	}
}
