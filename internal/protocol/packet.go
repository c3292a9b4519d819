// Package protocol implements the framed session protocol spoken by the
// remote shell multiplexer: packet model, wire encoding, and the stream
// framer with raw/framed mode detection.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Type identifies a framed protocol packet.
type Type byte

// Wire packet types. The values are a deployment contract shared with the
// remote multiplexer build and must stay stable.
const (
	TypeTerminalData          Type = 0x01 // remote → client: live shell output
	TypeKeyboardInput         Type = 0x02 // client → remote: user input
	TypeWindowSize            Type = 0x03 // client → remote: rows/cols change
	TypeScrollback            Type = 0x04 // remote → client: legacy single-shot scrollback
	TypePause                 Type = 0x05 // client → remote: stop pushing output
	TypeResume                Type = 0x06 // client → remote: resume pushing output
	TypeClaimActive           Type = 0x07 // client → remote: route input/size to this client
	TypeIdle                  Type = 0x08 // remote → client: output has gone silent
	TypeCommand               Type = 0x09 // remote → client: side-channel command text
	TypeRedrawRequest         Type = 0x0a // client → remote: ask full-screen apps to repaint
	TypeScrollbackPageRequest Type = 0x0b // client → remote: fetch history page
	TypeScrollbackPage        Type = 0x0c // remote → client: history page with metadata
	TypeSessionExit           Type = 0x0d // remote → client: session was killed remotely
)

// HeaderSize is the packet header length: 1-byte type + 4-byte LE length.
const HeaderSize = 5

// MaxPayload bounds a single packet payload. A length field above this is
// treated as a malformed header.
const MaxPayload = 1 << 20

// Handshake is the marker the remote multiplexer emits at stream start to
// announce framed mode. It is an APC escape sequence ("ESC _ f t m 1 BEL")
// that ordinary shell output never contains; the value is agreed with the
// remote-side build.
var Handshake = []byte{0x1b, '_', 'f', 't', 'm', '1', 0x07}

// PageMetaSize is the fixed metadata prefix of a scrollback-page payload:
// offset (u32 LE) followed by total history length (u32 LE).
const PageMetaSize = 8

// PageMeta is the metadata carried by scrollback-page packets.
type PageMeta struct {
	Offset uint32 // byte offset of this page within remote history
	Total  uint32 // total history length in bytes
}

// Valid reports whether t is a known wire type.
func (t Type) Valid() bool {
	return t >= TypeTerminalData && t <= TypeSessionExit
}

// String returns a human-readable type name for logging.
func (t Type) String() string {
	switch t {
	case TypeTerminalData:
		return "terminal-data"
	case TypeKeyboardInput:
		return "keyboard-input"
	case TypeWindowSize:
		return "window-size"
	case TypeScrollback:
		return "scrollback"
	case TypePause:
		return "pause"
	case TypeResume:
		return "resume"
	case TypeClaimActive:
		return "claim-active"
	case TypeIdle:
		return "idle"
	case TypeCommand:
		return "command"
	case TypeRedrawRequest:
		return "redraw-request"
	case TypeScrollbackPageRequest:
		return "scrollback-page-request"
	case TypeScrollbackPage:
		return "scrollback-page"
	case TypeSessionExit:
		return "session-exit"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Encode builds a complete wire packet: header followed by payload.
func Encode(t Type, payload []byte) []byte {
	pkt := make([]byte, HeaderSize+len(payload))
	pkt[0] = byte(t)
	binary.LittleEndian.PutUint32(pkt[1:HeaderSize], uint32(len(payload)))
	copy(pkt[HeaderSize:], payload)
	return pkt
}

// EncodeWindowSize builds a window-size packet. The payload is rows (u16 LE)
// followed by cols (u16 LE).
func EncodeWindowSize(rows, cols uint16) []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], rows)
	binary.LittleEndian.PutUint16(payload[2:4], cols)
	return Encode(TypeWindowSize, payload)
}

// EncodePageRequest builds a request-scrollback-page packet asking for up to
// limit bytes of history starting at offset.
func EncodePageRequest(offset, limit uint32) []byte {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], offset)
	binary.LittleEndian.PutUint32(payload[4:8], limit)
	return Encode(TypeScrollbackPageRequest, payload)
}

// EncodePage builds a scrollback-page packet: metadata prefix plus raw
// history bytes. Used by tests and loopback fixtures.
func EncodePage(meta PageMeta, data []byte) []byte {
	payload := make([]byte, PageMetaSize+len(data))
	binary.LittleEndian.PutUint32(payload[0:4], meta.Offset)
	binary.LittleEndian.PutUint32(payload[4:8], meta.Total)
	copy(payload[PageMetaSize:], data)
	return Encode(TypeScrollbackPage, payload)
}

// DecodePage splits a scrollback-page payload into its metadata prefix and
// the raw history bytes.
func DecodePage(payload []byte) (PageMeta, []byte, error) {
	if len(payload) < PageMetaSize {
		return PageMeta{}, nil, fmt.Errorf("scrollback page payload too short: %d bytes", len(payload))
	}
	meta := PageMeta{
		Offset: binary.LittleEndian.Uint32(payload[0:4]),
		Total:  binary.LittleEndian.Uint32(payload[4:8]),
	}
	return meta, payload[PageMetaSize:], nil
}
