// Package flow implements output pause/resume for backgrounded sessions:
// deferred intents before framed-mode confirmation, the active-client claim,
// and the pre-fetch-on-idle cycle that drains buffered output while paused.
package flow

import (
	"log/slog"

	"github.com/fieldterm/fieldterm/internal/protocol"
)

// Sender writes one encoded packet to the transport. Calls are made in
// intent order and must be forwarded to the wire without reordering.
type Sender func(pkt []byte) error

// intent is the deferred pause/resume state recorded before framed mode is
// confirmed. Opposite calls cancel out, so only the net intent survives.
type intent int

const (
	intentNone intent = iota
	intentPause
	intentResume
)

// Controller owns the paused/prefetching flags for one session. It is not
// safe for concurrent use; the session serializes all calls.
//
// Nothing is sent before framed mode is confirmed: a pause packet written to
// a bare shell would be read as keystrokes, and one written to an
// unestablished framed session would be lost.
type Controller struct {
	send Sender

	confirmed bool // framed mode confirmed this attach
	rawMode   bool // mode settled raw: pause/resume have no protocol effect

	paused      bool // intended state as seen by the caller
	prefetching bool // transiently resumed to drain buffered output

	pending      intent
	pendingClaim bool
}

// NewController creates a controller sending through send.
func NewController(send Sender) *Controller {
	return &Controller{send: send}
}

// Pause stops remote output push. Before confirmation the intent is
// recorded; an earlier unapplied resume is cancelled instead.
func (c *Controller) Pause() {
	if c.rawMode {
		return // bare shells have no buffering agent to pause
	}
	if !c.confirmed {
		if c.pending == intentResume {
			c.pending = intentNone
		} else {
			c.pending = intentPause
		}
		return
	}
	if c.paused {
		return
	}
	c.paused = true
	c.prefetching = false
	c.sendPacket(protocol.TypePause)
}

// Resume restarts remote output push and asks full-screen applications to
// repaint. Before confirmation the intent is recorded; an earlier unapplied
// pause is cancelled instead.
func (c *Controller) Resume() {
	if c.rawMode {
		return
	}
	if !c.confirmed {
		if c.pending == intentPause {
			c.pending = intentNone
		} else {
			c.pending = intentResume
		}
		return
	}
	if !c.paused {
		return
	}
	c.paused = false
	c.prefetching = false
	c.sendPacket(protocol.TypeResume)
	c.sendPacket(protocol.TypeRedrawRequest)
}

// ClaimActive tells the remote to route window-size and input to this
// client. Deferred until framed mode is confirmed, like pause/resume.
func (c *Controller) ClaimActive() {
	if c.rawMode {
		return
	}
	if !c.confirmed {
		c.pendingClaim = true
		return
	}
	c.sendPacket(protocol.TypeClaimActive)
}

// ConfirmFramed marks framed mode established and applies everything that
// was deferred while the mode was unknown.
func (c *Controller) ConfirmFramed() {
	if c.confirmed {
		return
	}
	c.confirmed = true
	c.rawMode = false

	if c.pendingClaim {
		c.pendingClaim = false
		c.sendPacket(protocol.TypeClaimActive)
	}

	switch c.pending {
	case intentPause:
		c.pending = intentNone
		c.Pause()
	case intentResume:
		c.pending = intentNone
		// The paused flag is false on a fresh attach; force the resume and
		// redraw through so a catching-up client repaints.
		c.paused = true
		c.Resume()
	}
}

// ConfirmRaw marks the mode settled raw. Deferred intents are dropped:
// calls are accepted but have no protocol effect on a raw session.
func (c *Controller) ConfirmRaw() {
	c.rawMode = true
	c.confirmed = false
	c.pending = intentNone
	c.pendingClaim = false
	c.prefetching = false
}

// OnIdle reacts to a remote idle notification. While paused, the remote may
// be sitting on buffered output; optimistically resume to pull it. If a
// previous pre-fetch produced no data, restore the pause now instead of
// leaving the session incorrectly resumed.
func (c *Controller) OnIdle() {
	if !c.confirmed || !c.paused {
		return
	}
	if c.prefetching {
		// Idle again with no intervening data: remote had nothing buffered.
		c.prefetching = false
		c.sendPacket(protocol.TypePause)
		return
	}
	c.prefetching = true
	c.sendPacket(protocol.TypeResume)
}

// OnTerminalData finishes a pre-fetch: data arrived, so re-establish the
// pause immediately. The caller never observes the transient resume.
func (c *Controller) OnTerminalData() {
	if !c.prefetching {
		return
	}
	c.prefetching = false
	c.sendPacket(protocol.TypePause)
}

// Reset prepares for a new attach. Confirmation state is cleared; an
// intended pause is carried over as a deferred intent so a backgrounded
// session stays paused across reconnects.
func (c *Controller) Reset() {
	c.confirmed = false
	c.rawMode = false
	c.prefetching = false
	if c.paused {
		c.paused = false
		c.pending = intentPause
	}
}

// Paused reports the caller-intended paused state.
func (c *Controller) Paused() bool {
	return c.paused
}

func (c *Controller) sendPacket(t protocol.Type) {
	if err := c.send(protocol.Encode(t, nil)); err != nil {
		slog.Warn("flow packet send failed",
			slog.String("type", t.String()),
			slog.String("error", err.Error()),
		)
	}
}
