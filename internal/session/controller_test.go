package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/fieldterm/fieldterm/internal/protocol"
	"github.com/fieldterm/fieldterm/internal/testing/fakes/fakeclock"
	"github.com/fieldterm/fieldterm/internal/testing/fakes/faketransport"
)

type pageEvent struct {
	offset, total uint32
	data          []byte
}

type recorder struct {
	terminal  chan []byte
	pages     chan pageEvent
	states    chan State
	reconnect chan struct{}
	waiting   chan bool
}

func newRecorder() *recorder {
	return &recorder{
		terminal:  make(chan []byte, 32),
		pages:     make(chan pageEvent, 32),
		states:    make(chan State, 32),
		reconnect: make(chan struct{}, 32),
		waiting:   make(chan bool, 32),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		TerminalData: func(data []byte) {
			r.terminal <- append([]byte(nil), data...)
		},
		ScrollbackPage: func(offset, total uint32, data []byte) {
			r.pages <- pageEvent{offset, total, append([]byte(nil), data...)}
		},
		StateChanged:   func(st State) { r.states <- st },
		NeedsReconnect: func() { r.reconnect <- struct{}{} },
		WaitingChanged: func(w bool) { r.waiting <- w },
	}
}

func waitTerminal(t *testing.T, r *recorder) []byte {
	t.Helper()
	select {
	case data := <-r.terminal:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal data")
		return nil
	}
}

func waitState(t *testing.T, r *recorder) State {
	t.Helper()
	select {
	case st := <-r.states:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state change")
		return StateDisconnected
	}
}

func waitPage(t *testing.T, r *recorder) pageEvent {
	t.Helper()
	select {
	case p := <-r.pages:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scrollback page")
		return pageEvent{}
	}
}

func waitWaiting(t *testing.T, r *recorder) bool {
	t.Helper()
	select {
	case w := <-r.waiting:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for waiting-changed")
		return false
	}
}

func newTestSession(t *testing.T, r *recorder) (*Session, *fakeclock.Clock) {
	t.Helper()
	clk := fakeclock.New(time.Unix(1000, 0))
	s := New(
		WithClock(clk),
		WithCallbacks(r.callbacks()),
	)
	return s, clk
}

func TestSession_AttachFramed(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, true); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if got := waitState(t, r); got != StateConnecting {
		t.Errorf("first state = %v, want connecting", got)
	}
	if got := waitState(t, r); got != StateConnected {
		t.Errorf("second state = %v, want connected", got)
	}

	tr.Deliver(protocol.Handshake)
	tr.Deliver(protocol.Encode(protocol.TypeTerminalData, []byte("hello")))

	if got := waitTerminal(t, r); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("terminal data = %q, want %q", got, "hello")
	}
	if s.Mode() != protocol.ModeFramed {
		t.Errorf("mode = %v, want framed", s.Mode())
	}
	if !bytes.Equal(s.RecentOutput(), []byte("hello")) {
		t.Errorf("ring = %q, want %q", s.RecentOutput(), "hello")
	}
}

func TestSession_AttachRawFallback(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, true); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)

	tr.Deliver([]byte("$ ls\n"))

	if got := waitTerminal(t, r); !bytes.Equal(got, []byte("$ ls\n")) {
		t.Errorf("terminal data = %q, want %q", got, "$ ls\n")
	}
	if s.Mode() != protocol.ModeRaw {
		t.Errorf("mode = %v, want raw", s.Mode())
	}
}

func TestSession_RawIdleTimer(t *testing.T) {
	r := newRecorder()
	s, clk := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, false); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)

	tr.Deliver([]byte("building...\n"))
	waitTerminal(t, r)

	// Silence below the threshold does not flip the flag.
	clk.Advance(1400 * time.Millisecond)
	if s.WaitingForInput() {
		t.Fatal("waiting flag set before threshold")
	}

	clk.Advance(200 * time.Millisecond)
	if got := waitWaiting(t, r); !got {
		t.Error("expected waiting=true after silence threshold")
	}
	if !s.WaitingForInput() {
		t.Error("WaitingForInput() = false after threshold")
	}

	// New output clears the flag and rearms.
	tr.Deliver([]byte("more\n"))
	waitTerminal(t, r)
	if got := waitWaiting(t, r); got {
		t.Error("expected waiting=false on new output")
	}
}

func TestSession_DetachCancelsIdleTimer(t *testing.T) {
	r := newRecorder()
	s, clk := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, false); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)

	tr.Deliver([]byte("output")) // arms the silence timer
	waitTerminal(t, r)

	s.Detach()
	if got := waitState(t, r); got != StateDisconnected {
		t.Errorf("state after detach = %v, want disconnected", got)
	}

	clk.Advance(5 * time.Second)
	select {
	case w := <-r.waiting:
		t.Errorf("stale idle timer fired after detach: waiting=%v", w)
	default:
	}
}

func TestSession_RingPersistsAcrossAttaches(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)

	tr1 := faketransport.New()
	if err := s.Attach(tr1, false); err != nil {
		t.Fatalf("first Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)
	tr1.Deliver([]byte("first "))
	waitTerminal(t, r)
	s.Detach()
	waitState(t, r)

	tr2 := faketransport.New()
	if err := s.Attach(tr2, false); err != nil {
		t.Fatalf("second Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)
	tr2.Deliver([]byte("second"))
	waitTerminal(t, r)

	if got := s.RecentOutput(); !bytes.Equal(got, []byte("first second")) {
		t.Errorf("ring = %q, want %q", got, "first second")
	}
}

func TestSession_SendDataFramedWrapsPacket(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, true); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)
	tr.Deliver(protocol.Handshake)
	tr.Deliver(protocol.Encode(protocol.TypeTerminalData, nil))
	waitTerminal(t, r)

	if err := s.SendData([]byte("ls\n")); err != nil {
		t.Fatalf("SendData failed: %v", err)
	}

	want := protocol.Encode(protocol.TypeKeyboardInput, []byte("ls\n"))
	if got := tr.Written(); !bytes.Equal(got, want) {
		t.Errorf("written = %x, want %x", got, want)
	}
}

func TestSession_SendDataRawPassthrough(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, false); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)

	if err := s.SendData([]byte("ls\n")); err != nil {
		t.Fatalf("SendData failed: %v", err)
	}
	if got := tr.Written(); !bytes.Equal(got, []byte("ls\n")) {
		t.Errorf("written = %q, want raw bytes", got)
	}
}

func TestSession_SendWithoutTransportSignalsReconnect(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, false); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)

	// Simulate a silently dead connection: the transport vanishes without a
	// read error having surfaced yet.
	tr.Close()
	// Drain the transport-closed transition.
	if got := waitState(t, r); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}

	if err := s.SendData([]byte("x")); err == nil {
		t.Error("SendData succeeded with no transport")
	}
	select {
	case <-r.reconnect:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect signal")
	}
}

func TestSession_SendWindowChange(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, true); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)
	tr.Deliver(protocol.Handshake)
	tr.Deliver(protocol.Encode(protocol.TypeTerminalData, nil))
	waitTerminal(t, r)

	if err := s.SendWindowChange(50, 132); err != nil {
		t.Fatalf("SendWindowChange failed: %v", err)
	}

	resizes := tr.Resizes()
	if len(resizes) != 1 || resizes[0].Rows != 50 || resizes[0].Cols != 132 {
		t.Errorf("resizes = %+v, want one 50x132", resizes)
	}
	want := protocol.EncodeWindowSize(50, 132)
	if got := tr.Written(); !bytes.Equal(got, want) {
		t.Errorf("written = %x, want window-size packet %x", got, want)
	}
}

func TestSession_ScrollbackPaging(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, true); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)
	tr.Deliver(protocol.Handshake)
	tr.Deliver(protocol.Encode(protocol.TypeTerminalData, nil))
	waitTerminal(t, r)

	if err := s.RequestNextScrollbackPage(); err != nil {
		t.Fatalf("RequestNextScrollbackPage failed: %v", err)
	}
	want := protocol.EncodePageRequest(0, 16384)
	if got := tr.Written(); !bytes.Equal(got, want) {
		t.Fatalf("request bytes = %x, want %x", got, want)
	}

	// A second request while one is in flight sends nothing.
	if err := s.RequestNextScrollbackPage(); err != nil {
		t.Fatalf("second RequestNextScrollbackPage failed: %v", err)
	}
	if got := tr.Written(); !bytes.Equal(got, want) {
		t.Error("duplicate page request sent while one was pending")
	}

	page := make([]byte, 16384)
	tr.Deliver(protocol.EncodePage(protocol.PageMeta{Offset: 0, Total: 20000}, page))
	ev := waitPage(t, r)
	if ev.offset != 0 || ev.total != 20000 || len(ev.data) != 16384 {
		t.Errorf("page = offset %d total %d len %d", ev.offset, ev.total, len(ev.data))
	}
	if s.ScrollbackFullyLoaded() {
		t.Error("fully loaded after partial history")
	}

	if err := s.RequestNextScrollbackPage(); err != nil {
		t.Fatalf("third RequestNextScrollbackPage failed: %v", err)
	}
	tr.Deliver(protocol.EncodePage(protocol.PageMeta{Offset: 16384, Total: 20000}, make([]byte, 3616)))
	waitPage(t, r)
	if !s.ScrollbackFullyLoaded() {
		t.Error("not fully loaded after final page")
	}
}

func TestSession_PageRequestBeforeFramedIsNoop(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, true); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)

	if err := s.RequestNextScrollbackPage(); err != nil {
		t.Fatalf("RequestNextScrollbackPage failed: %v", err)
	}
	if got := tr.Written(); len(got) != 0 {
		t.Errorf("bytes written before framed confirmation: %x", got)
	}
}

func TestSession_PauseBeforeConfirmationDeferred(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, true); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)

	s.PauseOutput()
	if got := tr.Written(); len(got) != 0 {
		t.Fatalf("pause sent before framed confirmation: %x", got)
	}

	tr.Deliver(protocol.Handshake)
	tr.Deliver(protocol.Encode(protocol.TypeTerminalData, nil))
	waitTerminal(t, r)

	want := protocol.Encode(protocol.TypePause, nil)
	if got := tr.Written(); !bytes.Equal(got, want) {
		t.Errorf("written after confirmation = %x, want %x", got, want)
	}
	if !s.OutputPaused() {
		t.Error("OutputPaused() = false after deferred pause")
	}
}

func TestSession_RemoteCommandDispatch(t *testing.T) {
	r := newRecorder()
	clk := fakeclock.New(time.Unix(1000, 0))
	urls := make(chan string, 1)
	s := New(
		WithClock(clk),
		WithCallbacks(r.callbacks()),
		WithURLHandler(func(url string) error {
			urls <- url
			return nil
		}),
	)
	tr := faketransport.New()

	if err := s.Attach(tr, true); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)
	tr.Deliver(protocol.Handshake)
	tr.Deliver(protocol.Encode(protocol.TypeCommand, []byte("browser;https://example.com")))

	select {
	case url := <-urls:
		if url != "https://example.com" {
			t.Errorf("url = %q", url)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command dispatch")
	}
}

func TestSession_RemoteExit(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, true); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)
	tr.Deliver(protocol.Handshake)
	tr.Deliver(protocol.Encode(protocol.TypeSessionExit, nil))

	if got := waitState(t, r); got != StateRemotelyDeleted {
		t.Fatalf("state = %v, want remotely-deleted", got)
	}

	s.Detach()
	if err := s.Attach(faketransport.New(), true); err == nil {
		t.Error("Attach succeeded on remotely deleted session")
	}
}

func TestSession_TransportCloseDisconnects(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, false); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)

	tr.Close()
	if got := waitState(t, r); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestSession_AttachWhileAttachedFails(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)

	if err := s.Attach(faketransport.New(), false); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := s.Attach(faketransport.New(), false); err == nil {
		t.Error("second Attach succeeded while attached")
	}
}

func TestSession_FramedIdlePushExactlyOnce(t *testing.T) {
	r := newRecorder()
	s, _ := newTestSession(t, r)
	tr := faketransport.New()

	if err := s.Attach(tr, true); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	waitState(t, r)
	waitState(t, r)
	tr.Deliver(protocol.Handshake)
	tr.Deliver(protocol.Encode(protocol.TypeIdle, nil))

	if got := waitWaiting(t, r); !got {
		t.Fatal("expected waiting=true on remote idle push")
	}

	// A repeated idle push while already waiting is absorbed.
	tr.Deliver(protocol.Encode(protocol.TypeIdle, nil))
	tr.Deliver(protocol.Encode(protocol.TypeTerminalData, []byte("x")))
	waitTerminal(t, r)
	if got := waitWaiting(t, r); got {
		t.Error("expected waiting=false on output, got duplicate waiting=true")
	}
	if s.State() != StateConnected {
		t.Errorf("state = %v, want connected", s.State())
	}
}
