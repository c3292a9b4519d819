package protocol

import (
	"bytes"
	"encoding/binary"
	"log/slog"

	"github.com/fieldterm/fieldterm/internal/logging"
)

// Mode is the discovered framing mode of the inbound stream.
type Mode int

const (
	// ModeDetecting means no byte has settled the framing question yet.
	ModeDetecting Mode = iota
	// ModeRaw means the stream is bare shell output with no packet framing.
	ModeRaw
	// ModeFramed means the remote multiplexer speaks the packet protocol.
	ModeFramed
)

// String returns the mode name for logging.
func (m Mode) String() string {
	switch m {
	case ModeDetecting:
		return "detecting"
	case ModeRaw:
		return "raw"
	case ModeFramed:
		return "framed"
	default:
		return "invalid"
	}
}

// Delegate receives decoded stream events from a Framer. Callbacks fire
// synchronously from OnBytes in wire order; payload slices are only valid
// for the duration of the call.
type Delegate interface {
	// TerminalData delivers live shell output (raw mode bytes or a decoded
	// terminal-data packet).
	TerminalData(data []byte)

	// ScrollbackData delivers a legacy single-shot scrollback payload.
	ScrollbackData(data []byte)

	// ScrollbackPage delivers one page of historical output.
	ScrollbackPage(meta PageMeta, data []byte)

	// Command delivers a side-channel command payload (UTF-8 "name;arg").
	Command(payload []byte)

	// Idle signals that the remote reports its output has gone silent.
	Idle()

	// SessionExit signals that the remote killed the session.
	SessionExit()

	// EnteredFramedMode fires once per attach, before any other framed
	// callback, when the handshake marker is recognized.
	EnteredFramedMode()
}

// Framer turns an ordered stream of inbound byte chunks into delegate
// callbacks. It first decides whether the stream is framed or raw, then, in
// framed mode, reassembles packets that may be split across transport
// reads. Reassembly is byte-exact: no framing byte is dropped, duplicated,
// or reordered, regardless of chunk boundaries.
//
// Framer is not safe for concurrent use; the session's single inbound
// delivery path owns it.
type Framer struct {
	mode     Mode
	delegate Delegate

	// Detection state: bytes held while they still prefix the handshake.
	detectBuf []byte

	// Framed-mode reassembly state.
	headerBuf []byte // partial header, < HeaderSize bytes
	inPacket  bool   // header complete, payload accumulating
	pktType   Type
	remaining uint32
	payload   []byte
}

// NewFramer creates a framer in detection state.
func NewFramer(delegate Delegate) *Framer {
	return &Framer{
		mode:      ModeDetecting,
		delegate:  delegate,
		headerBuf: make([]byte, 0, HeaderSize),
	}
}

// Mode returns the current framing mode.
func (f *Framer) Mode() Mode {
	return f.mode
}

// Reset returns the framer to its per-attach initial state. With
// expectFramed false the detection step is skipped and the stream is pinned
// to raw mode (pause/scrollback requests would otherwise be read by a bare
// shell as input).
func (f *Framer) Reset(expectFramed bool) {
	if expectFramed {
		f.mode = ModeDetecting
	} else {
		f.mode = ModeRaw
	}
	f.detectBuf = nil
	f.headerBuf = f.headerBuf[:0]
	f.inPacket = false
	f.pktType = 0
	f.remaining = 0
	f.payload = nil
}

// OnBytes processes newly arrived transport bytes, invoking zero or more
// delegate callbacks. Chunks must be delivered in arrival order.
func (f *Framer) OnBytes(data []byte) {
	if len(data) == 0 {
		return
	}

	switch f.mode {
	case ModeRaw:
		f.delegate.TerminalData(data)
	case ModeDetecting:
		f.detect(data)
	case ModeFramed:
		f.decode(data)
	}
}

// WrapInput prepares outbound user input for the wire: a keyboard-input
// packet in framed mode, the bytes unmodified otherwise.
func (f *Framer) WrapInput(data []byte) []byte {
	if f.mode == ModeFramed {
		return Encode(TypeKeyboardInput, data)
	}
	return data
}

// detect matches the stream prefix against the handshake marker. Mode is
// sticky once decided: a raw stream never re-enters detection this attach.
func (f *Framer) detect(data []byte) {
	f.detectBuf = append(f.detectBuf, data...)

	if len(f.detectBuf) < len(Handshake) {
		if bytes.HasPrefix(Handshake, f.detectBuf) {
			return // still a plausible marker prefix, wait for more bytes
		}
		f.enterRaw()
		return
	}

	if bytes.HasPrefix(f.detectBuf, Handshake) {
		rest := f.detectBuf[len(Handshake):]
		f.detectBuf = nil
		f.mode = ModeFramed
		f.delegate.EnteredFramedMode()
		if len(rest) > 0 {
			f.decode(rest)
		}
		return
	}

	f.enterRaw()
}

// enterRaw pins raw mode and flushes everything held during detection as
// plain terminal data.
func (f *Framer) enterRaw() {
	held := f.detectBuf
	f.detectBuf = nil
	f.mode = ModeRaw
	if len(held) > 0 {
		f.delegate.TerminalData(held)
	}
}

// decode consumes framed-mode bytes from a cursor, accumulating split
// headers and payloads until complete packets can be dispatched.
func (f *Framer) decode(data []byte) {
	for len(data) > 0 {
		if !f.inPacket {
			need := HeaderSize - len(f.headerBuf)
			take := need
			if take > len(data) {
				take = len(data)
			}
			f.headerBuf = append(f.headerBuf, data[:take]...)
			data = data[take:]
			if len(f.headerBuf) < HeaderSize {
				return // header still split across reads
			}

			t := Type(f.headerBuf[0])
			length := binary.LittleEndian.Uint32(f.headerBuf[1:HeaderSize])

			if !t.Valid() || length > MaxPayload {
				// Malformed header. Drop it and resume accumulation; framing
				// is self-healing because each packet carries its own length.
				slog.Warn("dropping malformed packet header",
					slog.String("type", t.String()),
					slog.Uint64("length", uint64(length)),
					slog.String("header", logging.HexDump(f.headerBuf, HeaderSize)),
				)
				f.headerBuf = f.headerBuf[:0]
				continue
			}
			f.headerBuf = f.headerBuf[:0]

			if length == 0 {
				f.dispatch(t, nil)
				continue
			}

			f.inPacket = true
			f.pktType = t
			f.remaining = length
			f.payload = make([]byte, 0, length)
			continue
		}

		take := len(data)
		if uint32(take) > f.remaining {
			take = int(f.remaining)
		}
		f.payload = append(f.payload, data[:take]...)
		f.remaining -= uint32(take)
		data = data[take:]

		if f.remaining == 0 {
			pkt := f.payload
			f.inPacket = false
			f.payload = nil
			f.dispatch(f.pktType, pkt)
		}
	}
}

// dispatch routes one complete packet to the delegate.
func (f *Framer) dispatch(t Type, payload []byte) {
	switch t {
	case TypeTerminalData:
		f.delegate.TerminalData(payload)
	case TypeScrollback:
		f.delegate.ScrollbackData(payload)
	case TypeScrollbackPage:
		meta, data, err := DecodePage(payload)
		if err != nil {
			slog.Warn("dropping unparsable scrollback page", slog.String("error", err.Error()))
			return
		}
		f.delegate.ScrollbackPage(meta, data)
	case TypeCommand:
		f.delegate.Command(payload)
	case TypeIdle:
		f.delegate.Idle()
	case TypeSessionExit:
		f.delegate.SessionExit()
	default:
		// Valid tag, but a direction the client never receives
		// (keyboard-input, pause, ...). Ignore rather than kill the stream.
		slog.Debug("ignoring unexpected inbound packet", slog.String("type", t.String()))
	}
}
