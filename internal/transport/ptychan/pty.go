// Package ptychan provides a local PTY transport so a session can attach to
// a shell or terminal multiplexer on this machine.
package ptychan

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/fieldterm/fieldterm/internal/ports"
)

// PTY is a terminal byte channel over a local pseudo-terminal.
// It implements ports.Transport.
type PTY struct {
	cmd   *exec.Cmd
	ptmx  *os.File
	shell string
	mu    sync.Mutex
}

var _ ports.Transport = (*PTY)(nil)

// Options configures local PTY allocation.
type Options struct {
	Shell string   // Shell binary (default: $SHELL, then /bin/bash)
	Term  string   // Terminal type (default: xterm-256color)
	Rows  uint16   // Initial rows (default: 24)
	Cols  uint16   // Initial columns (default: 80)
	Dir   string   // Initial working directory
	Env   []string // Additional environment variables

	// Command is the attach command run inside the shell, e.g.
	// "tmux attach -t work". Empty means an interactive shell.
	Command string
}

// Open starts the shell on a fresh pseudo-terminal.
func Open(opts Options) (*PTY, error) {
	if opts.Shell == "" {
		opts.Shell = detectShell()
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

	var cmd *exec.Cmd
	if opts.Command != "" {
		cmd = exec.Command(opts.Shell, "-c", opts.Command)
	} else {
		cmd = exec.Command(opts.Shell)
	}
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.Env = append(os.Environ(), fmt.Sprintf("TERM=%s", opts.Term))
	cmd.Env = append(cmd.Env, opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: opts.Rows,
		Cols: opts.Cols,
	})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	return &PTY{
		cmd:   cmd,
		ptmx:  ptmx,
		shell: opts.Shell,
	}, nil
}

// Shell returns the shell binary in use.
func (p *PTY) Shell() string {
	return p.shell
}

// Read reads shell output from the PTY.
func (p *PTY) Read(b []byte) (int, error) {
	return p.ptmx.Read(b)
}

// Write writes input to the shell.
func (p *PTY) Write(b []byte) (int, error) {
	return p.ptmx.Write(b)
}

// Resize changes the PTY window size. The kernel delivers SIGWINCH to the
// foreground process group.
func (p *PTY) Resize(rows, cols uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{
		Rows: rows,
		Cols: cols,
	})
}

// Signal sends a signal to the shell process.
func (p *PTY) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return p.cmd.Process.Signal(sig)
}

// Interrupt sends SIGINT to the shell.
func (p *PTY) Interrupt() error {
	return p.Signal(syscall.SIGINT)
}

// Wait blocks until the shell process exits.
func (p *PTY) Wait() error {
	return p.cmd.Wait()
}

// Close closes the PTY and terminates the shell. Blocked Reads return with
// an error.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error

	if err := p.ptmx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty: %w", err))
	}

	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !strings.Contains(err.Error(), "already finished") {
			errs = append(errs, fmt.Errorf("kill process: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// detectShell picks the user's shell, falling back through common locations.
func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	for _, shell := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}
