package sshchan

import (
	"fmt"
	"io"
	"sync"

	"github.com/fieldterm/fieldterm/internal/ports"
	"golang.org/x/crypto/ssh"
)

// Terminal is an interactive PTY channel over an SSH connection. It
// implements ports.Transport; the session engine never sees SSH specifics.
type Terminal struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex

	term string
	rows uint16
	cols uint16
}

// TerminalOptions configures PTY allocation.
type TerminalOptions struct {
	Term string // Terminal type (default: xterm-256color)
	Rows uint16 // Terminal rows (default: 24)
	Cols uint16 // Terminal columns (default: 80)

	// Env sets environment variables on the remote session. Many SSH
	// servers restrict which variables may be set.
	Env map[string]string

	// Command runs instead of a login shell, e.g. the multiplexer attach
	// command for a named remote session.
	Command string
}

// OpenTerminal opens an interactive PTY channel on the connection.
func (c *Client) OpenTerminal(opts TerminalOptions) (*Terminal, error) {
	if !c.IsConnected() {
		if err := c.Connect(); err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
	}

	if opts.Term == "" {
		opts.Term = "xterm-256color"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}

	session, err := c.NewSession()
	if err != nil {
		return nil, err
	}

	for key, value := range opts.Env {
		_ = session.Setenv(key, value)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty(opts.Term, int(opts.Rows), int(opts.Cols), modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if opts.Command != "" {
		err = session.Start(opts.Command)
	} else {
		err = session.Shell()
	}
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("start remote terminal: %w", err)
	}

	return &Terminal{
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		term:    opts.Term,
		rows:    opts.Rows,
		cols:    opts.Cols,
	}, nil
}

// Read reads terminal output.
func (t *Terminal) Read(p []byte) (int, error) {
	return t.stdout.Read(p)
}

// Write writes terminal input.
func (t *Terminal) Write(p []byte) (int, error) {
	return t.stdin.Write(p)
}

// Resize changes the remote PTY window size.
func (t *Terminal) Resize(rows, cols uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session == nil {
		return fmt.Errorf("terminal closed")
	}
	if err := t.session.WindowChange(int(rows), int(cols)); err != nil {
		return fmt.Errorf("window change: %w", err)
	}

	t.rows = rows
	t.cols = cols
	return nil
}

// Close tears down the PTY channel. The SSH connection stays open for other
// channels.
func (t *Terminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		err := t.session.Close()
		t.session = nil
		return err
	}
	return nil
}

// Wait blocks until the remote shell exits.
func (t *Terminal) Wait() error {
	return t.session.Wait()
}

// Term returns the terminal type.
func (t *Terminal) Term() string {
	return t.term
}

// Size returns the last requested terminal size.
func (t *Terminal) Size() (rows, cols uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rows, t.cols
}

var _ ports.Transport = (*Terminal)(nil)
