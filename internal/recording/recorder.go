// Package recording captures a terminal session in asciicast v2 format.
// See: https://docs.asciinema.org/manual/asciicast/v2/
package recording

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fieldterm/fieldterm/internal/adapters/realclock"
	"github.com/fieldterm/fieldterm/internal/ports"
)

// Header is the asciicast v2 header line.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event, serialized as [time, type, data].
type Event struct {
	Time float64 `json:"-"`
	Type string  `json:"-"`
	Data string  `json:"-"`
}

// MarshalJSON renders the event as the three-element array the format requires.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Time, e.Type, e.Data})
}

// Recorder appends asciicast events to one destination. Event timestamps
// are seconds since the recorder was created.
type Recorder struct {
	mu     sync.Mutex
	w      io.WriteCloser
	start  time.Time
	clock  ports.Clock
	closed bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock substitutes the time source.
func WithClock(clock ports.Clock) Option {
	return func(r *Recorder) {
		r.clock = clock
	}
}

// New writes the header and returns a recorder appending to w. The header's
// Version and Timestamp are filled in; Width, Height, Title and Env are the
// caller's.
func New(w io.WriteCloser, header Header, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		w:     w,
		clock: realclock.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.clock.Now()

	header.Version = 2
	header.Timestamp = r.start.Unix()

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := w.Write(append(headerJSON, '\n')); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	return r, nil
}

// RecordOutput records terminal output.
func (r *Recorder) RecordOutput(data string) error {
	return r.record("o", data)
}

// RecordInput records user input. Use RecordMaskedInput when the input may
// be a secret.
func (r *Recorder) RecordInput(data string) error {
	return r.record("i", data)
}

// RecordMaskedInput records input as asterisks of the same length.
func (r *Recorder) RecordMaskedInput(length int) error {
	masked := make([]byte, length)
	for i := range masked {
		masked[i] = '*'
	}
	return r.record("i", string(masked))
}

func (r *Recorder) record(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	event := Event{
		Time: r.clock.Now().Sub(r.start).Seconds(),
		Type: eventType,
		Data: data,
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.w.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close flushes and closes the destination. Further records are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.w.Close()
}
