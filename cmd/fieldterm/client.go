package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/term"

	"github.com/fieldterm/fieldterm/internal/activity"
	"github.com/fieldterm/fieldterm/internal/adapters/realdialog"
	"github.com/fieldterm/fieldterm/internal/config"
	"github.com/fieldterm/fieldterm/internal/ports"
	"github.com/fieldterm/fieldterm/internal/recording"
	"github.com/fieldterm/fieldterm/internal/security"
	"github.com/fieldterm/fieldterm/internal/session"
	"github.com/fieldterm/fieldterm/internal/transport/ptychan"
	"github.com/fieldterm/fieldterm/internal/transport/sshchan"
	"github.com/fieldterm/fieldterm/internal/transport/wschan"
	"github.com/fieldterm/fieldterm/internal/upload"
)

// detachKey drops out of the session without killing the remote shell,
// telnet-style Ctrl-].
const detachKey = 0x1d

type app struct {
	cfg        *atomic.Pointer[config.Config]
	conn       *config.ConnectionConfig
	attachCmd  string
	recordPath string

	// Set when the transport is SSH; tunnels and uploads need it.
	sshClient *sshchan.Client
}

// dial opens the configured transport, connecting the SSH client first when
// one is needed.
func (a *app) dial(rows, cols uint16) (ports.Transport, error) {
	switch a.conn.Transport {
	case "ssh":
		if a.sshClient == nil {
			client, err := a.connectSSH()
			if err != nil {
				return nil, err
			}
			a.sshClient = client
		}
		return a.sshClient.OpenTerminal(sshchan.TerminalOptions{
			Rows:    rows,
			Cols:    cols,
			Command: a.attachCmd,
		})
	case "websocket":
		return wschan.Dial(a.conn.URL, wschan.DialOptions{})
	case "local":
		return ptychan.Open(ptychan.Options{
			Rows:    rows,
			Cols:    cols,
			Command: a.attachCmd,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", a.conn.Transport)
	}
}

// connectSSH builds auth from config plus the credential chain and dials.
func (a *app) connectSSH() (*sshchan.Client, error) {
	cfg := a.cfg.Load()

	authCfg := sshchan.AuthConfig{
		KeyPath:       a.conn.Auth.Path,
		KeyPassphrase: os.Getenv(a.conn.Auth.PassphraseEnv),
		Password:      os.Getenv(a.conn.Auth.PasswordEnv),
		UseAgent:      true,
		Host:          a.conn.Host,
		User:          a.conn.User,
		Cache:         security.NewCredentialCache(security.DefaultCredentialTTL),
		Dialog:        realdialog.New(),
	}
	if cfg.Security.UseKeyring {
		authCfg.Keyring = security.NewKeyringStore()
	}

	methods, err := sshchan.BuildAuthMethods(authCfg)
	if err != nil {
		return nil, fmt.Errorf("build auth: %w", err)
	}
	hostKeys, err := sshchan.BuildHostKeyCallback("")
	if err != nil {
		return nil, fmt.Errorf("host key verification: %w", err)
	}

	client, err := sshchan.NewClient(sshchan.ClientOptions{
		Host:              a.conn.Host,
		Port:              a.conn.Port,
		User:              a.conn.User,
		AuthMethods:       methods,
		HostKeyCallback:   hostKeys,
		KeepaliveInterval: cfg.Terminal.KeepaliveInterval,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// runTerminal attaches a session to the transport and relays the local
// terminal until the user detaches or the remote goes away.
func (a *app) runTerminal() error {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return fmt.Errorf("stdin is not a terminal")
	}

	cols, rows, err := term.GetSize(stdinFd)
	if err != nil {
		rows, cols = 24, 80
	}

	transport, err := a.dial(uint16(rows), uint16(cols))
	if err != nil {
		return err
	}
	defer transport.Close()
	if a.sshClient != nil {
		defer a.sshClient.Close()
	}

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer term.Restore(stdinFd, oldState)

	// Output-only recording; keystrokes are never written so secrets typed
	// at password prompts stay out of the file.
	var recorder *recording.Recorder
	if a.recordPath != "" {
		castFile, err := os.OpenFile(a.recordPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
		if err != nil {
			return fmt.Errorf("create recording: %w", err)
		}
		recorder, err = recording.New(castFile, recording.Header{
			Width:  cols,
			Height: rows,
			Title:  a.conn.Name,
		})
		if err != nil {
			castFile.Close()
			return fmt.Errorf("start recording: %w", err)
		}
		defer recorder.Close()
	}

	done := make(chan session.State, 1)
	cfg := a.cfg.Load()
	summarizer := activity.NewSummarizer()

	var sess *session.Session
	sess = session.New(
		session.WithRingCapacity(cfg.Terminal.ScrollbackRingBytes),
		session.WithPageSize(cfg.Terminal.ScrollbackPageBytes),
		session.WithIdleThreshold(cfg.Terminal.IdleThreshold),
		session.WithPortHandler(a.forwardPort),
		session.WithURLHandler(openBrowser),
		session.WithCallbacks(session.Callbacks{
			TerminalData: func(data []byte) {
				_, _ = os.Stdout.Write(data)
				if recorder != nil {
					_ = recorder.RecordOutput(string(data))
				}
			},
			ScrollbackPage: func(offset, total uint32, data []byte) {
				_, _ = os.Stdout.Write(data)
			},
			StateChanged: func(st session.State) {
				switch st {
				case session.StateDisconnected, session.StateError, session.StateRemotelyDeleted:
					select {
					case done <- st:
					default:
					}
				}
			},
			NeedsReconnect: func() {
				slog.Warn("connection lost, reconnect required")
			},
			WaitingChanged: func(waiting bool) {
				if waiting {
					// Ring the local bell so a backgrounded terminal
					// notices the remote is waiting on input.
					_, _ = os.Stdout.Write([]byte{0x07})
					sum := summarizer.Summarize(sess.RecentOutput())
					if sum.Kind != activity.KindQuiet {
						slog.Info("session waiting",
							slog.String("kind", string(sum.Kind)),
							slog.String("line", sum.Line))
					}
				}
			},
		}),
	)

	if err := sess.Attach(transport, a.conn.ExpectFramed); err != nil {
		return fmt.Errorf("attach: %w", err)
	}

	// Window-size changes flow both through the transport side channel and,
	// in framed mode, the in-band window-size packet.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if c, r, err := term.GetSize(stdinFd); err == nil {
				_ = sess.SendWindowChange(uint16(r), uint16(c))
			}
		}
	}()

	go a.relayStdin(sess)

	st := <-done
	if st == session.StateRemotelyDeleted {
		return fmt.Errorf("session was terminated by the remote end")
	}
	return nil
}

// relayStdin forwards keyboard input to the session until the detach key or
// stdin EOF.
func (a *app) relayStdin(sess *session.Session) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for _, b := range chunk {
				if b == detachKey {
					slog.Info("detach requested")
					sess.Detach()
					return
				}
			}
			if serr := sess.SendData(chunk); serr != nil {
				slog.Warn("send failed", slog.String("error", serr.Error()))
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("stdin read failed", slog.String("error", err.Error()))
			}
			sess.Detach()
			return
		}
	}
}

// forwardPort handles the remote `open`/`forward` commands by ensuring a
// local tunnel to the requested remote port.
func (a *app) forwardPort(name string, port int) error {
	if a.sshClient == nil {
		return fmt.Errorf("%s command needs an SSH transport", name)
	}
	tunnel, err := a.sshClient.TunnelManager().ForwardRemotePort(port)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\r\nforwarding localhost:%d -> remote %d\r\n", tunnel.LocalPort, port)
	return nil
}

// openBrowser handles the remote `browser` command. The URL is printed for
// the user; spawning a browser from inside a raw-mode terminal is left to
// the terminal emulator's link handling.
func openBrowser(url string) error {
	fmt.Fprintf(os.Stderr, "\r\nopen in browser: %s\r\n", url)
	return nil
}

// runUpload transfers files matching the glob over SFTP and exits.
func (a *app) runUpload(ctx context.Context, pattern, dest string) error {
	if a.conn.Transport != "ssh" {
		return fmt.Errorf("uploads require an SSH connection")
	}

	client, err := a.connectSSH()
	if err != nil {
		return err
	}
	defer client.Close()

	cfg := a.cfg.Load()
	manager := upload.NewManager(
		upload.NewSFTPRemote(client.Conn()),
		upload.WithConcurrency(cfg.Upload.ConcurrentTransfers),
		upload.WithProgress(func(p upload.Progress) {
			if p.Total > 0 {
				fmt.Fprintf(os.Stderr, "\r%s: %d%%", p.LocalPath, p.Sent*100/p.Total)
			}
		}),
	)

	uploaded, err := manager.UploadGlob(ctx, pattern, dest)
	fmt.Fprintln(os.Stderr)
	for _, remote := range uploaded {
		fmt.Println(remote)
	}
	return err
}
