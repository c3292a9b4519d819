package mockssh

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func clientConfig(user, pass string) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(pass)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
}

func TestListenAddress(t *testing.T) {
	server, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer server.Close()

	if server.Host() != "127.0.0.1" {
		t.Errorf("Host() = %q, want 127.0.0.1", server.Host())
	}
	if server.Port() == "" || server.Port() == "0" {
		t.Errorf("Port() = %q, want a bound port", server.Port())
	}
	if server.Addr() != server.Host()+":"+server.Port() {
		t.Errorf("Addr() = %q inconsistent with Host/Port", server.Addr())
	}
}

func TestPasswordAuth(t *testing.T) {
	server, err := New(WithUser("field", "secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer server.Close()

	client, err := ssh.Dial("tcp", server.Addr(), clientConfig("field", "secret"))
	if err != nil {
		t.Fatalf("dial with valid credentials: %v", err)
	}
	client.Close()

	if _, err := ssh.Dial("tcp", server.Addr(), clientConfig("field", "wrong")); err == nil {
		t.Error("dial with a wrong password should fail")
	}
	if _, err := ssh.Dial("tcp", server.Addr(), clientConfig("nobody", "secret")); err == nil {
		t.Error("dial with an unknown user should fail")
	}
}

func TestExecWithoutPTY(t *testing.T) {
	server, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer server.Close()

	client, err := ssh.Dial("tcp", server.Addr(), clientConfig("test", "test"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	if err := sess.Run("echo mock_$((20+3))"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "mock_23") {
		t.Errorf("exec output = %q, want it to contain mock_23", out.String())
	}
}

func TestSequentialSessions(t *testing.T) {
	server, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer server.Close()

	for i := 0; i < 3; i++ {
		client, err := ssh.Dial("tcp", server.Addr(), clientConfig("test", "test"))
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		sess, err := client.NewSession()
		if err != nil {
			client.Close()
			t.Fatalf("NewSession %d: %v", i, err)
		}
		sess.Close()
		client.Close()
	}
}
