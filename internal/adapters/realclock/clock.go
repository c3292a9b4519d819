// Package realclock provides a real implementation of the Clock port using the time package.
package realclock

import (
	"time"

	"github.com/fieldterm/fieldterm/internal/ports"
)

// Clock implements ports.Clock using the standard time package.
type Clock struct{}

// New returns a new real Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now()
}

// Sleep blocks for the given duration.
func (c *Clock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// After returns a channel that receives the current time after duration d.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTicker returns a new Ticker that sends the current time on its channel.
func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

// AfterFunc schedules f to run after d using time.AfterFunc.
func (c *Clock) AfterFunc(d time.Duration, f func()) ports.Timer {
	return &realTimer{timer: time.AfterFunc(d, f)}
}

// realTicker wraps time.Ticker to implement ports.Ticker.
type realTicker struct {
	ticker *time.Ticker
}

// C returns the channel on which ticks are delivered.
func (t *realTicker) C() <-chan time.Time {
	return t.ticker.C
}

// Stop turns off the ticker.
func (t *realTicker) Stop() {
	t.ticker.Stop()
}

// realTimer wraps time.Timer to implement ports.Timer.
type realTimer struct {
	timer *time.Timer
}

// Stop prevents the timer from firing.
func (t *realTimer) Stop() bool {
	return t.timer.Stop()
}

// Reset rearms the timer to fire after duration d.
func (t *realTimer) Reset(d time.Duration) bool {
	return t.timer.Reset(d)
}

// Ensure Clock implements ports.Clock.
var _ ports.Clock = (*Clock)(nil)
