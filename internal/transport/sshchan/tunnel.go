package sshchan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/ssh"
)

// TunnelType distinguishes the two forwarding directions.
type TunnelType string

const (
	// TunnelTypeLocal listens locally and forwards through SSH (-L).
	TunnelTypeLocal TunnelType = "local"
	// TunnelTypeReverse listens on the server and forwards back here (-R).
	TunnelTypeReverse TunnelType = "reverse"
)

// Tunnel is one active port forward. Counter fields are updated atomically
// while the tunnel runs; read them through Stats.
type Tunnel struct {
	ID         string
	Type       TunnelType
	LocalHost  string
	LocalPort  int
	RemoteHost string
	RemotePort int

	activeConns int64
	totalConns  int64
	bytesOut    int64
	bytesIn     int64

	listener net.Listener
	dial     func() (net.Conn, error)
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// TunnelManager owns the port forwards of one SSH connection.
type TunnelManager struct {
	sshClient *ssh.Client
	mu        sync.RWMutex
	tunnels   map[string]*Tunnel
	nextID    int
}

// NewTunnelManager creates a tunnel manager over an established connection.
func NewTunnelManager(sshClient *ssh.Client) *TunnelManager {
	return &TunnelManager{
		sshClient: sshClient,
		tunnels:   make(map[string]*Tunnel),
	}
}

// register stores the tunnel under a fresh id and starts its accept loop.
// Callers hold tm.mu.
func (tm *TunnelManager) register(t *Tunnel) {
	tm.nextID++
	t.ID = fmt.Sprintf("tunnel_%d", tm.nextID)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	tm.tunnels[t.ID] = t

	t.wg.Add(1)
	go t.accept()
}

// CreateLocalTunnel listens on localHost:localPort and forwards each
// connection through SSH to remoteHost:remotePort. localPort 0 picks a free
// port; the returned Tunnel carries the bound one.
func (tm *TunnelManager) CreateLocalTunnel(localHost string, localPort int, remoteHost string, remotePort int) (*Tunnel, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", localHost, localPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	sshClient := tm.sshClient
	target := fmt.Sprintf("%s:%d", remoteHost, remotePort)
	t := &Tunnel{
		Type:       TunnelTypeLocal,
		LocalHost:  localHost,
		LocalPort:  listener.Addr().(*net.TCPAddr).Port,
		RemoteHost: remoteHost,
		RemotePort: remotePort,
		listener:   listener,
		dial:       func() (net.Conn, error) { return sshClient.Dial("tcp", target) },
	}
	tm.register(t)

	slog.Info("created local tunnel",
		slog.String("id", t.ID),
		slog.String("local", fmt.Sprintf("%s:%d", t.LocalHost, t.LocalPort)),
		slog.String("remote", target),
	)
	return t, nil
}

// CreateReverseTunnel listens on the server at remoteHost:remotePort and
// forwards each connection back to localHost:localPort.
func (tm *TunnelManager) CreateReverseTunnel(remoteHost string, remotePort int, localHost string, localPort int) (*Tunnel, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", remoteHost, remotePort)
	listener, err := tm.sshClient.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on remote %s: %w", addr, err)
	}

	target := fmt.Sprintf("%s:%d", localHost, localPort)
	t := &Tunnel{
		Type:       TunnelTypeReverse,
		LocalHost:  localHost,
		LocalPort:  localPort,
		RemoteHost: remoteHost,
		RemotePort: listener.Addr().(*net.TCPAddr).Port,
		listener:   listener,
		dial:       func() (net.Conn, error) { return net.Dial("tcp", target) },
	}
	tm.register(t)

	slog.Info("created reverse tunnel",
		slog.String("id", t.ID),
		slog.String("remote", fmt.Sprintf("%s:%d", t.RemoteHost, t.RemotePort)),
		slog.String("local", target),
	)
	return t, nil
}

// ForwardRemotePort ensures a local forward exists for a port the remote
// asked us to expose (the open/forward side-channel commands). Repeated
// requests for the same remote port reuse the existing tunnel.
func (tm *TunnelManager) ForwardRemotePort(remotePort int) (*Tunnel, error) {
	tm.mu.RLock()
	for _, t := range tm.tunnels {
		if t.Type == TunnelTypeLocal && t.RemotePort == remotePort {
			tm.mu.RUnlock()
			return t, nil
		}
	}
	tm.mu.RUnlock()

	return tm.CreateLocalTunnel("127.0.0.1", 0, "localhost", remotePort)
}

// GetTunnel returns a tunnel by id.
func (tm *TunnelManager) GetTunnel(id string) (*Tunnel, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.tunnels[id]
	return t, ok
}

// ListTunnels returns all active tunnels.
func (tm *TunnelManager) ListTunnels() []*Tunnel {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	out := make([]*Tunnel, 0, len(tm.tunnels))
	for _, t := range tm.tunnels {
		out = append(out, t)
	}
	return out
}

// CloseTunnel closes one tunnel by id.
func (tm *TunnelManager) CloseTunnel(id string) error {
	tm.mu.Lock()
	t, ok := tm.tunnels[id]
	if !ok {
		tm.mu.Unlock()
		return fmt.Errorf("tunnel not found: %s", id)
	}
	delete(tm.tunnels, id)
	tm.mu.Unlock()

	t.Close()
	return nil
}

// CloseAll closes every tunnel. Closing happens outside the lock because
// Close waits for in-flight connections.
func (tm *TunnelManager) CloseAll() {
	tm.mu.Lock()
	open := make([]*Tunnel, 0, len(tm.tunnels))
	for _, t := range tm.tunnels {
		open = append(open, t)
	}
	tm.tunnels = make(map[string]*Tunnel)
	tm.mu.Unlock()

	for _, t := range open {
		t.Close()
	}
}

// Close stops accepting and waits for the tunnel's connections to finish.
func (t *Tunnel) Close() {
	t.cancel()
	if t.listener != nil {
		t.listener.Close()
	}
	t.wg.Wait()

	slog.Info("closed tunnel",
		slog.String("id", t.ID),
		slog.Int64("total_connections", atomic.LoadInt64(&t.totalConns)),
		slog.Int64("bytes_sent", atomic.LoadInt64(&t.bytesOut)),
		slog.Int64("bytes_received", atomic.LoadInt64(&t.bytesIn)),
	)
}

func (t *Tunnel) accept() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
			default:
				slog.Warn("tunnel accept error",
					slog.String("id", t.ID),
					slog.String("error", err.Error()))
			}
			return
		}

		atomic.AddInt64(&t.activeConns, 1)
		atomic.AddInt64(&t.totalConns, 1)

		t.wg.Add(1)
		go t.relay(conn)
	}
}

// relay dials the tunnel's target and proxies bytes both ways until either
// side closes.
func (t *Tunnel) relay(accepted net.Conn) {
	defer t.wg.Done()
	defer accepted.Close()
	defer atomic.AddInt64(&t.activeConns, -1)

	target, err := t.dial()
	if err != nil {
		slog.Warn("tunnel dial failed",
			slog.String("id", t.ID),
			slog.String("error", err.Error()))
		return
	}
	defer target.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, _ := io.Copy(target, accepted)
		atomic.AddInt64(&t.bytesOut, n)
	}()
	go func() {
		defer wg.Done()
		n, _ := io.Copy(accepted, target)
		atomic.AddInt64(&t.bytesIn, n)
	}()
	wg.Wait()
}

// TunnelStats is a point-in-time snapshot of tunnel counters.
type TunnelStats struct {
	ID            string
	Type          TunnelType
	LocalHost     string
	LocalPort     int
	RemoteHost    string
	RemotePort    int
	ActiveConns   int64
	TotalConns    int64
	BytesSent     int64
	BytesReceived int64
}

// Stats returns current tunnel statistics.
func (t *Tunnel) Stats() TunnelStats {
	return TunnelStats{
		ID:            t.ID,
		Type:          t.Type,
		LocalHost:     t.LocalHost,
		LocalPort:     t.LocalPort,
		RemoteHost:    t.RemoteHost,
		RemotePort:    t.RemotePort,
		ActiveConns:   atomic.LoadInt64(&t.activeConns),
		TotalConns:    atomic.LoadInt64(&t.totalConns),
		BytesSent:     atomic.LoadInt64(&t.bytesOut),
		BytesReceived: atomic.LoadInt64(&t.bytesIn),
	}
}
