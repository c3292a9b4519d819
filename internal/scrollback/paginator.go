package scrollback

import (
	"fmt"

	"github.com/fieldterm/fieldterm/internal/protocol"
)

// DefaultPageSize is the history chunk requested per page (16 KiB).
const DefaultPageSize = 16 * 1024

// Paginator tracks paginated historical scrollback for one session attach.
// The protocol is strictly serial request/response: at most one page request
// is in flight, responses match the outstanding request by order alone.
//
// The paginator is a pure state machine; the session owns it on its single
// mutation context and performs the actual sends.
type Paginator struct {
	pageSize       uint32
	loadedOffset   uint32
	totalSize      uint32
	totalKnown     bool
	fullyLoaded    bool
	requestPending bool
}

// NewPaginator creates a paginator requesting pageSize bytes per page.
// Non-positive sizes fall back to DefaultPageSize.
func NewPaginator(pageSize uint32) *Paginator {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{pageSize: pageSize}
}

// BeginRequest reserves the next page request. It returns the offset and
// limit to put on the wire, or ok=false when a request is already pending or
// history is exhausted, so repeated "load more" calls are idempotent no-ops.
func (p *Paginator) BeginRequest() (offset, limit uint32, ok bool) {
	if p.requestPending || p.fullyLoaded {
		return 0, 0, false
	}
	p.requestPending = true
	return p.loadedOffset, p.pageSize, true
}

// AbortRequest releases the reservation when the send itself failed, so the
// next caller may retry.
func (p *Paginator) AbortRequest() {
	p.requestPending = false
}

// HandlePage applies one scrollback-page response. It returns an error for a
// response arriving with no request pending (protocol violation: logged by
// the caller, state untouched).
func (p *Paginator) HandlePage(meta protocol.PageMeta, payloadLen int) error {
	if !p.requestPending {
		return fmt.Errorf("scrollback page with no request pending (offset=%d)", meta.Offset)
	}
	p.requestPending = false

	p.totalSize = meta.Total
	p.totalKnown = true

	// loadedOffset only increases.
	if advanced := meta.Offset + uint32(payloadLen); advanced > p.loadedOffset {
		p.loadedOffset = advanced
	}

	if p.loadedOffset >= p.totalSize {
		// Covers the no-history case too: empty payload with total 0.
		p.fullyLoaded = true
	}
	return nil
}

// Reset clears per-attach state; each attach may land on a remote session
// with entirely different history.
func (p *Paginator) Reset() {
	p.loadedOffset = 0
	p.totalSize = 0
	p.totalKnown = false
	p.fullyLoaded = false
	p.requestPending = false
}

// LoadedOffset returns the number of history bytes loaded so far.
func (p *Paginator) LoadedOffset() uint32 { return p.loadedOffset }

// TotalSize returns the remote history length, if a response has reported it.
func (p *Paginator) TotalSize() (uint32, bool) { return p.totalSize, p.totalKnown }

// FullyLoaded reports whether all remote history has been retrieved.
func (p *Paginator) FullyLoaded() bool { return p.fullyLoaded }

// RequestPending reports whether a page request is in flight.
func (p *Paginator) RequestPending() bool { return p.requestPending }
