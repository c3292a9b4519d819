// Package mockssh runs a minimal in-process SSH server for integration
// tests: password auth, one shell or exec per session, PTY-backed when the
// client asks for one.
package mockssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/crypto/ssh"
)

// Server listens on a random loopback port until Close.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	shell    string

	mu    sync.RWMutex
	users map[string]string

	done chan struct{}
	wg   sync.WaitGroup

	shellsMu sync.Mutex
	shells   []*shellSession
}

// shellSession tracks the resources of one accepted session channel.
type shellSession struct {
	channel ssh.Channel
	ptmx    *os.File
	cmd     *exec.Cmd
}

// Option configures the server.
type Option func(*Server)

// WithShell overrides the shell binary used for shell and exec requests.
func WithShell(shell string) Option {
	return func(s *Server) { s.shell = shell }
}

// WithUser adds an accepted username/password pair.
func WithUser(username, password string) Option {
	return func(s *Server) { s.users[username] = password }
}

// New generates an ephemeral host key, binds 127.0.0.1:0, and starts
// accepting connections. The default credentials are test/test.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		shell: "/bin/sh",
		users: map[string]string{"test": "test"},
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		return nil, fmt.Errorf("host key signer: %w", err)
	}

	s.config = &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			s.mu.RLock()
			want, ok := s.users[meta.User()]
			s.mu.RUnlock()
			if ok && string(password) == want {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", meta.User())
		},
	}
	s.config.AddHostKey(signer)

	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.addr = s.listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock SSH server started", slog.String("addr", s.addr))
	return s, nil
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string { return s.addr }

// Host returns the listen host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the listen port.
func (s *Server) Port() string {
	_, port, _ := net.SplitHostPort(s.addr)
	return port
}

// Close stops accepting, tears down live sessions, and waits for the
// handler goroutines to drain.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()

	s.shellsMu.Lock()
	for _, sh := range s.shells {
		if sh.ptmx != nil {
			sh.ptmx.Close()
		}
		if sh.cmd != nil && sh.cmd.Process != nil {
			sh.cmd.Process.Kill()
		}
		if sh.channel != nil {
			sh.channel.Close()
		}
	}
	s.shells = nil
	s.shellsMu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", slog.String("error", err.Error()))
				continue
			}
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("handshake failed", slog.String("error", err.Error()))
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			slog.Debug("channel accept failed", slog.String("error", err.Error()))
			continue
		}
		s.wg.Add(1)
		go s.serveChannel(channel, requests)
	}
}

func (s *Server) serveChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	sh := &shellSession{channel: channel}
	s.shellsMu.Lock()
	s.shells = append(s.shells, sh)
	s.shellsMu.Unlock()

	var size *pty.Winsize

	for req := range requests {
		ok := true
		switch req.Type {
		case "pty-req":
			size = parsePtyReq(req.Payload)
		case "shell":
			s.spawn(sh, size)
		case "exec":
			s.spawn(sh, size, "-c", parseExecReq(req.Payload))
		case "window-change":
			if sh.ptmx != nil {
				pty.Setsize(sh.ptmx, parseWindowChange(req.Payload))
			}
		default:
			ok = false
		}
		if req.WantReply {
			req.Reply(ok, nil)
		}
	}
}

// spawn runs the shell (optionally with -c command args), attached to a PTY
// when the client requested one, and reports the exit status on completion.
func (s *Server) spawn(sh *shellSession, size *pty.Winsize, args ...string) {
	cmd := exec.Command(s.shell, args...)
	cmd.Env = os.Environ()

	if size == nil {
		out, err := cmd.CombinedOutput()
		sh.cmd = cmd
		sh.channel.Write(out)
		exitStatus(sh.channel, exitCode(err))
		return
	}

	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		slog.Debug("pty start failed", slog.String("error", err.Error()))
		exitStatus(sh.channel, 1)
		return
	}
	sh.ptmx = ptmx
	sh.cmd = cmd

	drained := make(chan struct{})
	go func() {
		io.Copy(sh.channel, ptmx)
		close(drained)
	}()
	go io.Copy(ptmx, sh.channel)

	code := exitCode(cmd.Wait())
	ptmx.Close()
	<-drained
	exitStatus(sh.channel, code)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

// exitStatus signals EOF, sends the exit-status request, and closes the
// channel, in the order real servers do.
func exitStatus(channel ssh.Channel, code int) {
	channel.CloseWrite()
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(code))
	channel.SendRequest("exit-status", false, payload)
	channel.Close()
}

// parsePtyReq pulls the initial window size out of an RFC 4254 pty-req
// payload (string TERM, then width and height in characters).
func parsePtyReq(payload []byte) *pty.Winsize {
	fallback := &pty.Winsize{Cols: 80, Rows: 24}
	if len(payload) < 4 {
		return fallback
	}
	termLen := int(binary.BigEndian.Uint32(payload))
	if len(payload) < 4+termLen+8 {
		return fallback
	}
	dims := payload[4+termLen:]
	return &pty.Winsize{
		Cols: uint16(binary.BigEndian.Uint32(dims)),
		Rows: uint16(binary.BigEndian.Uint32(dims[4:])),
	}
}

func parseWindowChange(payload []byte) *pty.Winsize {
	if len(payload) < 8 {
		return &pty.Winsize{Cols: 80, Rows: 24}
	}
	return &pty.Winsize{
		Cols: uint16(binary.BigEndian.Uint32(payload)),
		Rows: uint16(binary.BigEndian.Uint32(payload[4:])),
	}
}

func parseExecReq(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := int(binary.BigEndian.Uint32(payload))
	if len(payload) < 4+n {
		return ""
	}
	return string(payload[4 : 4+n])
}
