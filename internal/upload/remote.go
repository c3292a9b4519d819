// Package upload runs bulk file transfers to the remote host as side
// channels, independent of the interactive terminal stream.
package upload

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Remote is the slice of a remote filesystem the uploader needs.
type Remote interface {
	// MkdirAll creates a remote directory and all parents.
	MkdirAll(path string) error

	// Create creates or truncates a remote file for writing.
	Create(path string) (io.WriteCloser, error)

	// Close tears down the remote filesystem channel.
	Close() error
}

// sftpRemote implements Remote over an SFTP subsystem on an existing SSH
// connection. The subsystem is initialized lazily on first use.
type sftpRemote struct {
	sshConn *ssh.Client
	client  *sftp.Client
	mu      sync.Mutex
	closed  bool
}

// NewSFTPRemote wraps an existing SSH connection. The SFTP subsystem is
// opened on first use.
func NewSFTPRemote(sshConn *ssh.Client) Remote {
	return &sftpRemote{sshConn: sshConn}
}

func (r *sftpRemote) ensureConnected() (*sftp.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("sftp remote is closed")
	}
	if r.client != nil {
		return r.client, nil
	}
	if r.sshConn == nil {
		return nil, fmt.Errorf("ssh connection is nil")
	}

	client, err := sftp.NewClient(r.sshConn)
	if err != nil {
		return nil, fmt.Errorf("create sftp client: %w", err)
	}
	r.client = client
	return client, nil
}

func (r *sftpRemote) MkdirAll(path string) error {
	client, err := r.ensureConnected()
	if err != nil {
		return err
	}
	return client.MkdirAll(path)
}

func (r *sftpRemote) Create(path string) (io.WriteCloser, error) {
	client, err := r.ensureConnected()
	if err != nil {
		return nil, err
	}
	file, err := client.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create remote file: %w", err)
	}
	return file, nil
}

func (r *sftpRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}
