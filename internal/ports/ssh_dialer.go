package ports

import "golang.org/x/crypto/ssh"

// SSHDialer establishes SSH connections. The production implementation
// wraps ssh.Dial; tests point it at an in-process server instead.
type SSHDialer interface {
	Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}
