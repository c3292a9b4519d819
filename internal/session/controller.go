// Package session owns the lifecycle of one remote terminal session: the
// connection state machine, the attach/detach protocol plumbing, and the
// scrollback that survives between attaches.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldterm/fieldterm/internal/adapters/realclock"
	"github.com/fieldterm/fieldterm/internal/command"
	"github.com/fieldterm/fieldterm/internal/flow"
	"github.com/fieldterm/fieldterm/internal/idle"
	"github.com/fieldterm/fieldterm/internal/ports"
	"github.com/fieldterm/fieldterm/internal/protocol"
	"github.com/fieldterm/fieldterm/internal/scrollback"
)

// State is the connection state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
	StateRemotelyDeleted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateRemotelyDeleted:
		return "remotely-deleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Callbacks receive session events. All callbacks fire on the session's
// inbound delivery path with no internal lock held, so they may call back
// into the session. Payload slices are only valid for the duration of the
// call.
type Callbacks struct {
	// TerminalData delivers live shell output.
	TerminalData func(data []byte)

	// ScrollbackPage delivers one page of historical output. Offset and
	// total describe the page's position in the remote history.
	ScrollbackPage func(offset, total uint32, data []byte)

	// StateChanged fires on every connection state transition.
	StateChanged func(state State)

	// NeedsReconnect fires when a send found the connection silently dead.
	NeedsReconnect func()

	// WaitingChanged fires when the waiting-for-input flag flips.
	WaitingChanged func(waiting bool)
}

// Session drives one remote terminal session across any number of transport
// attaches. The scrollback ring persists for the session's lifetime; framing,
// flow and pagination state reset on every attach.
type Session struct {
	logger *slog.Logger
	clock  ports.Clock

	mu        sync.Mutex
	state     State
	transport ports.Transport
	epoch     uint64 // attach generation; stale read pumps see a mismatch and exit

	framer      *protocol.Framer
	ring        *scrollback.Ring
	paginator   *scrollback.Paginator
	flow        *flow.Controller
	idle        *idle.Detector
	router      *command.Router
	callbacks   Callbacks
	modeSettled bool

	// Callbacks queued while mu is held, run after release in wire order.
	events []func()
}

type config struct {
	clock         ports.Clock
	logger        *slog.Logger
	ringCapacity  int
	pageSize      uint32
	idleThreshold time.Duration
	portHandler   command.PortHandler
	urlHandler    command.URLHandler
	cmdObserver   command.Observer
	callbacks     Callbacks
}

// Option configures a Session.
type Option func(*config)

// WithClock sets the time source (tests inject a fake).
func WithClock(c ports.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

// WithRingCapacity sets the scrollback ring size in bytes.
func WithRingCapacity(n int) Option {
	return func(cfg *config) { cfg.ringCapacity = n }
}

// WithPageSize sets the scrollback page request size in bytes.
func WithPageSize(n uint32) Option {
	return func(cfg *config) { cfg.pageSize = n }
}

// WithIdleThreshold sets the raw-mode output-silence threshold.
func WithIdleThreshold(d time.Duration) Option {
	return func(cfg *config) { cfg.idleThreshold = d }
}

// WithPortHandler sets the handler for remote open/forward commands.
func WithPortHandler(h command.PortHandler) Option {
	return func(cfg *config) { cfg.portHandler = h }
}

// WithURLHandler sets the handler for remote browser commands.
func WithURLHandler(h command.URLHandler) Option {
	return func(cfg *config) { cfg.urlHandler = h }
}

// WithCommandObserver sets an observer invoked for every parsed remote
// command, including unrecognized names.
func WithCommandObserver(o command.Observer) Option {
	return func(cfg *config) { cfg.cmdObserver = o }
}

// WithCallbacks sets the event callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(cfg *config) { cfg.callbacks = cb }
}

// New creates a detached session.
func New(opts ...Option) *Session {
	cfg := config{
		clock:        realclock.New(),
		logger:       slog.Default(),
		ringCapacity: scrollback.DefaultRingCapacity,
		pageSize:     scrollback.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		logger:    cfg.logger.With("component", "session"),
		clock:     cfg.clock,
		state:     StateDisconnected,
		ring:      scrollback.NewRing(cfg.ringCapacity),
		paginator: scrollback.NewPaginator(cfg.pageSize),
		callbacks: cfg.callbacks,
		router:    command.NewRouter(cfg.portHandler, cfg.urlHandler, cfg.cmdObserver),
	}
	s.framer = protocol.NewFramer((*framerDelegate)(s))
	s.flow = flow.NewController(s.sendLocked)
	s.idle = idle.NewDetector(cfg.clock, cfg.idleThreshold, func(waiting bool) {
		if cb := s.callbacks.WaitingChanged; cb != nil {
			cb(waiting)
		}
	})
	return s
}

// Attach binds a live transport to the session and starts the inbound pump.
// expectFramed false pins the stream to raw mode; true runs handshake
// detection on the first bytes. Framing, flow-control and pagination state
// start fresh; the scrollback ring is untouched.
func (s *Session) Attach(t ports.Transport, expectFramed bool) error {
	s.mu.Lock()
	if s.state == StateRemotelyDeleted {
		s.mu.Unlock()
		return fmt.Errorf("session was deleted remotely")
	}
	if s.transport != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already attached")
	}

	s.transport = t
	s.epoch++
	epoch := s.epoch
	s.modeSettled = false

	s.framer.Reset(expectFramed)
	s.paginator.Reset()
	s.flow.Reset()
	s.idle.Stop()
	if !expectFramed {
		s.settleRawLocked()
	}

	s.setStateLocked(StateConnecting)
	s.setStateLocked(StateConnected)
	events := s.takeEventsLocked()
	s.mu.Unlock()

	s.run(events)
	go s.readLoop(t, epoch)
	return nil
}

// Detach releases the transport. Pending raw idle timers and unapplied flow
// intents are cancelled synchronously; a stale timer can no longer fire into
// a later attach. The scrollback ring is preserved.
func (s *Session) Detach() {
	s.mu.Lock()
	s.epoch++
	t := s.transport
	s.transport = nil
	s.idle.Stop()
	s.paginator.AbortRequest()
	if s.state == StateConnected || s.state == StateConnecting {
		s.setStateLocked(StateDisconnected)
	}
	events := s.takeEventsLocked()
	s.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	s.run(events)
}

// SendData writes user keystrokes, wrapped as a keyboard-input packet when
// the stream is framed. A send with no live transport means the connection
// died silently: the session leaves Connected and asks for a reconnect.
func (s *Session) SendData(data []byte) error {
	s.mu.Lock()
	if s.transport == nil {
		s.noteDeadConnectionLocked()
		events := s.takeEventsLocked()
		s.mu.Unlock()
		s.run(events)
		return fmt.Errorf("no live transport")
	}
	err := s.sendLocked(s.framer.WrapInput(data))
	if err != nil {
		s.noteDeadConnectionLocked()
	}
	events := s.takeEventsLocked()
	s.mu.Unlock()

	s.run(events)
	if err != nil {
		return fmt.Errorf("send input: %w", err)
	}
	return nil
}

// SendWindowChange propagates a terminal resize: always to the transport
// layer, and additionally as a window-size packet when framed so the remote
// multiplexer can reflow its buffer.
func (s *Session) SendWindowChange(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil {
		return fmt.Errorf("no live transport")
	}
	if err := s.transport.Resize(rows, cols); err != nil {
		s.logger.Warn("transport resize failed", "error", err)
	}
	if s.framer.Mode() == protocol.ModeFramed {
		if err := s.sendLocked(protocol.EncodeWindowSize(rows, cols)); err != nil {
			return fmt.Errorf("send window size: %w", err)
		}
	}
	return nil
}

// RequestNextScrollbackPage asks the remote for the next page of history.
// It is a no-op before framed mode is confirmed, while a request is already
// in flight, and once history is fully loaded.
func (s *Session) RequestNextScrollbackPage() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.framer.Mode() != protocol.ModeFramed || s.transport == nil {
		return nil
	}
	offset, limit, ok := s.paginator.BeginRequest()
	if !ok {
		return nil
	}
	if err := s.sendLocked(protocol.EncodePageRequest(offset, limit)); err != nil {
		s.paginator.AbortRequest()
		return fmt.Errorf("request scrollback page: %w", err)
	}
	return nil
}

// PauseOutput stops the remote output push. Before framed confirmation the
// intent is recorded and applied on confirmation.
func (s *Session) PauseOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow.Pause()
}

// ResumeOutput restarts the remote output push and requests a redraw.
func (s *Session) ResumeOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow.Resume()
}

// ClaimActive tells the remote multiplexer this client is now the one the
// user is looking at.
func (s *Session) ClaimActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow.ClaimActive()
}

// State returns the connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the current framing mode.
func (s *Session) Mode() protocol.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framer.Mode()
}

// WaitingForInput reports whether the remote appears to wait on user input.
func (s *Session) WaitingForInput() bool {
	return s.idle.Waiting()
}

// OutputPaused reports the caller-intended flow state.
func (s *Session) OutputPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow.Paused()
}

// RecentOutput returns a copy of the scrollback ring contents.
func (s *Session) RecentOutput() []byte {
	return s.ring.Bytes()
}

// ScrollbackFullyLoaded reports whether the whole remote history has been
// paged in this attach.
func (s *Session) ScrollbackFullyLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paginator.FullyLoaded()
}

// readLoop pumps transport bytes into the framer until the transport closes
// or the attach is superseded.
func (s *Session) readLoop(t ports.Transport, epoch uint64) {
	buf := make([]byte, 32*1024)
	for {
		n, err := t.Read(buf)
		if n > 0 {
			if !s.deliver(buf[:n], epoch) {
				return
			}
		}
		if err != nil {
			s.readClosed(epoch, err)
			return
		}
	}
}

// deliver feeds one chunk through the framer under the lock, then runs the
// queued callbacks. Returns false when the attach was superseded.
func (s *Session) deliver(chunk []byte, epoch uint64) bool {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return false
	}
	s.framer.OnBytes(chunk)
	events := s.takeEventsLocked()
	s.mu.Unlock()

	s.run(events)
	return true
}

func (s *Session) readClosed(epoch uint64, err error) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.logger.Debug("transport closed", "error", err)
	s.transport = nil
	s.idle.Stop()
	s.paginator.AbortRequest()
	if s.state == StateConnected || s.state == StateConnecting {
		s.setStateLocked(StateDisconnected)
	}
	events := s.takeEventsLocked()
	s.mu.Unlock()

	s.run(events)
}

// sendLocked writes one outbound unit to the transport. Callers hold mu, so
// concurrent sends cannot interleave packet bytes.
func (s *Session) sendLocked(pkt []byte) error {
	if s.transport == nil {
		return fmt.Errorf("no live transport")
	}
	if _, err := s.transport.Write(pkt); err != nil {
		return err
	}
	return nil
}

func (s *Session) noteDeadConnectionLocked() {
	s.transport = nil
	s.idle.Stop()
	if s.state == StateConnected || s.state == StateConnecting {
		s.setStateLocked(StateDisconnected)
	}
	if cb := s.callbacks.NeedsReconnect; cb != nil {
		s.events = append(s.events, cb)
	}
}

func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.logger.Info("session state changed", "from", s.state.String(), "to", st.String())
	s.state = st
	if cb := s.callbacks.StateChanged; cb != nil {
		s.events = append(s.events, func() { cb(st) })
	}
}

func (s *Session) settleRawLocked() {
	if s.modeSettled {
		return
	}
	s.modeSettled = true
	s.flow.ConfirmRaw()
	s.events = append(s.events, func() { s.idle.SetRaw() })
}

func (s *Session) takeEventsLocked() []func() {
	events := s.events
	s.events = nil
	return events
}

func (s *Session) run(events []func()) {
	for _, fn := range events {
		fn()
	}
}

// framerDelegate implements protocol.Delegate on the session. The framer
// only invokes it from deliver, so mu is held throughout.
type framerDelegate Session

func (d *framerDelegate) TerminalData(data []byte) {
	s := (*Session)(d)
	if !s.modeSettled && s.framer.Mode() == protocol.ModeRaw {
		s.settleRawLocked()
	}
	_, _ = s.ring.Write(data)
	s.flow.OnTerminalData()

	cp := append([]byte(nil), data...)
	s.events = append(s.events, func() {
		s.idle.OnOutput()
		if cb := s.callbacks.TerminalData; cb != nil {
			cb(cp)
		}
	})
}

func (d *framerDelegate) ScrollbackData(data []byte) {
	s := (*Session)(d)
	// Legacy single-shot history: surface as one page covering everything.
	cp := append([]byte(nil), data...)
	s.events = append(s.events, func() {
		if cb := s.callbacks.ScrollbackPage; cb != nil {
			cb(0, uint32(len(cp)), cp)
		}
	})
}

func (d *framerDelegate) ScrollbackPage(meta protocol.PageMeta, data []byte) {
	s := (*Session)(d)
	if err := s.paginator.HandlePage(meta, len(data)); err != nil {
		s.logger.Warn("dropping scrollback page", "error", err,
			"offset", meta.Offset, "total", meta.Total)
		return
	}
	cp := append([]byte(nil), data...)
	s.events = append(s.events, func() {
		if cb := s.callbacks.ScrollbackPage; cb != nil {
			cb(meta.Offset, meta.Total, cp)
		}
	})
}

func (d *framerDelegate) Command(payload []byte) {
	s := (*Session)(d)
	cp := append([]byte(nil), payload...)
	s.events = append(s.events, func() { s.router.OnCommandPacket(cp) })
}

func (d *framerDelegate) Idle() {
	s := (*Session)(d)
	s.flow.OnIdle()
	s.events = append(s.events, func() { s.idle.OnRemoteIdle() })
}

func (d *framerDelegate) SessionExit() {
	s := (*Session)(d)
	s.logger.Info("remote session deleted")
	s.idle.Stop()
	s.setStateLocked(StateRemotelyDeleted)
}

func (d *framerDelegate) EnteredFramedMode() {
	s := (*Session)(d)
	s.modeSettled = true
	s.flow.ConfirmFramed()
	s.events = append(s.events, func() { s.idle.SetFramed() })
}
