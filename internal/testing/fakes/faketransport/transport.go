// Package faketransport provides a scripted Transport implementation for testing.
package faketransport

import (
	"fmt"
	"io"
	"sync"

	"github.com/fieldterm/fieldterm/internal/ports"
)

// Resize records one Resize call.
type Resize struct {
	Rows, Cols uint16
}

// Transport is an in-memory ports.Transport. Tests queue inbound chunks with
// Deliver and inspect outbound bytes with Written.
type Transport struct {
	mu      sync.Mutex
	pending []byte // partially consumed inbound chunk
	inbound chan []byte
	done    chan struct{}
	closed  bool

	written []byte
	writes  [][]byte
	resizes []Resize

	writeErr error
}

// New creates an open fake transport.
func New() *Transport {
	return &Transport{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

// Deliver queues one inbound chunk. Chunks are surfaced by Read in delivery
// order, preserving their boundaries when the read buffer is large enough.
func (t *Transport) Deliver(chunk []byte) {
	cp := append([]byte(nil), chunk...)
	t.inbound <- cp
}

// Read returns queued inbound bytes, blocking until a chunk is delivered or
// the transport is closed.
func (t *Transport) Read(p []byte) (int, error) {
	t.mu.Lock()
	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[n:]
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	select {
	case chunk := <-t.inbound:
		n := copy(p, chunk)
		if n < len(chunk) {
			t.mu.Lock()
			t.pending = chunk[n:]
			t.mu.Unlock()
		}
		return n, nil
	case <-t.done:
		return 0, io.EOF
	}
}

// Write records outbound bytes.
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, fmt.Errorf("faketransport: write on closed transport")
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	cp := append([]byte(nil), p...)
	t.written = append(t.written, cp...)
	t.writes = append(t.writes, cp)
	return len(p), nil
}

// Resize records the requested terminal size.
func (t *Transport) Resize(rows, cols uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resizes = append(t.resizes, Resize{Rows: rows, Cols: cols})
	return nil
}

// Close unblocks pending Reads with io.EOF.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// SetWriteError makes subsequent Writes fail with err.
func (t *Transport) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Written returns all outbound bytes concatenated.
func (t *Transport) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.written...)
}

// Writes returns the individual Write payloads.
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

// Resizes returns recorded Resize calls.
func (t *Transport) Resizes() []Resize {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Resize, len(t.resizes))
	copy(out, t.resizes)
	return out
}

// Ensure Transport implements ports.Transport.
var _ ports.Transport = (*Transport)(nil)
