// Package idle infers whether the remote process is waiting for user input.
//
// Two strategies exist, selected by the session's framing mode: in framed
// mode the remote multiplexer pushes an authoritative idle notification; in
// raw mode a local inactivity timer is rearmed on every output chunk and
// fires after a fixed silence threshold.
package idle

import (
	"sync"
	"time"

	"github.com/fieldterm/fieldterm/internal/ports"
)

// DefaultRawThreshold is the raw-mode output-silence threshold.
const DefaultRawThreshold = 1500 * time.Millisecond

type mode int

const (
	modeUnknown mode = iota
	modeFramed
	modeRaw
)

// Detector tracks the waiting-for-input flag for one session. The false→true
// transition is reported exactly once per transition via the onChange
// callback; repeated idle signals while already waiting are absorbed.
type Detector struct {
	clock     ports.Clock
	threshold time.Duration
	onChange  func(waiting bool)

	mu      sync.Mutex
	mode    mode
	waiting bool
	timer   ports.Timer
	epoch   uint64 // invalidates timer callbacks armed before a Stop
}

// NewDetector creates a detector. onChange may be nil. A non-positive
// threshold falls back to DefaultRawThreshold.
func NewDetector(clock ports.Clock, threshold time.Duration, onChange func(bool)) *Detector {
	if threshold <= 0 {
		threshold = DefaultRawThreshold
	}
	return &Detector{
		clock:     clock,
		threshold: threshold,
		onChange:  onChange,
	}
}

// SetFramed selects the push-notification strategy. Any armed raw timer is
// cancelled.
func (d *Detector) SetFramed() {
	d.mu.Lock()
	d.mode = modeFramed
	d.stopTimerLocked()
	d.mu.Unlock()
}

// SetRaw selects the local-silence-timer strategy.
func (d *Detector) SetRaw() {
	d.mu.Lock()
	d.mode = modeRaw
	d.mu.Unlock()
}

// OnRemoteIdle handles a framed-mode idle notification.
func (d *Detector) OnRemoteIdle() {
	d.mu.Lock()
	if d.mode != modeFramed {
		d.mu.Unlock()
		return
	}
	notify := d.setWaitingLocked(true)
	d.mu.Unlock()
	notify()
}

// OnOutput handles a chunk of terminal output: the remote is evidently not
// waiting on us. In raw mode the silence timer is rearmed.
func (d *Detector) OnOutput() {
	d.mu.Lock()
	notify := d.setWaitingLocked(false)
	if d.mode == modeRaw {
		d.armTimerLocked()
	}
	d.mu.Unlock()
	notify()
}

// Stop cancels timers synchronously. A raw timer that already fired but has
// not yet run is invalidated; it can no longer flip the flag for a stale
// attach. The waiting flag is cleared without a transition event.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.stopTimerLocked()
	d.mode = modeUnknown
	d.waiting = false
	d.mu.Unlock()
}

// Waiting reports whether the remote currently appears to wait on input.
func (d *Detector) Waiting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiting
}

func (d *Detector) armTimerLocked() {
	epoch := d.epoch
	if d.timer != nil {
		d.timer.Reset(d.threshold)
		return
	}
	d.timer = d.clock.AfterFunc(d.threshold, func() {
		d.timerFired(epoch)
	})
}

func (d *Detector) stopTimerLocked() {
	d.epoch++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Detector) timerFired(epoch uint64) {
	d.mu.Lock()
	if epoch != d.epoch || d.mode != modeRaw {
		d.mu.Unlock()
		return
	}
	notify := d.setWaitingLocked(true)
	d.mu.Unlock()
	notify()
}

// setWaitingLocked updates the flag and returns the notification to run
// after the lock is released (no-op when nothing changed).
func (d *Detector) setWaitingLocked(waiting bool) func() {
	if d.waiting == waiting || d.onChange == nil {
		d.waiting = waiting
		return func() {}
	}
	d.waiting = waiting
	cb := d.onChange
	return func() { cb(waiting) }
}
