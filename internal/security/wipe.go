package security

import (
	"crypto/rand"
)

// WipeBytes overwrites a credential buffer in place, alternating random
// fill and zeroing so the plaintext does not linger in memory.
func WipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	for pass := 0; pass < 2; pass++ {
		rand.Read(data)
		for i := range data {
			data[i] = 0
		}
	}
}

// SecureBytes holds a private copy of a credential that can be wiped when
// the caller is done with it.
type SecureBytes struct {
	data []byte
}

// NewSecureBytes copies data into a new SecureBytes.
func NewSecureBytes(data []byte) *SecureBytes {
	d := make([]byte, len(data))
	copy(d, data)
	return &SecureBytes{data: d}
}

// Data returns the underlying byte slice.
func (sb *SecureBytes) Data() []byte {
	return sb.data
}

// String returns the data as a string.
func (sb *SecureBytes) String() string {
	return string(sb.data)
}

// Wipe destroys the data. The SecureBytes is empty afterwards.
func (sb *SecureBytes) Wipe() {
	WipeBytes(sb.data)
	sb.data = nil
}

// Len returns the length of the data.
func (sb *SecureBytes) Len() int {
	return len(sb.data)
}
