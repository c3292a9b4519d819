// Package realsshdialer backs the SSHDialer port with ssh.Dial.
package realsshdialer

import "golang.org/x/crypto/ssh"

// Dialer is the production SSHDialer.
type Dialer struct{}

// New returns the production Dialer.
func New() *Dialer {
	return &Dialer{}
}

// Dial opens an SSH connection to addr with the given client config.
func (d *Dialer) Dial(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	return ssh.Dial(network, addr, config)
}
