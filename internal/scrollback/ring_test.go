package scrollback

import (
	"bytes"
	"testing"
)

func TestRing_KeepsMostRecentBytes(t *testing.T) {
	r := NewRing(8)

	r.Write([]byte("abcd"))
	r.Write([]byte("efgh"))
	if got := r.Bytes(); string(got) != "abcdefgh" {
		t.Fatalf("bytes = %q, want %q", got, "abcdefgh")
	}

	// Overflow discards the oldest bytes only.
	r.Write([]byte("ij"))
	if got := r.Bytes(); string(got) != "cdefghij" {
		t.Errorf("bytes = %q, want %q", got, "cdefghij")
	}
}

func TestRing_OversizedWrite(t *testing.T) {
	r := NewRing(4)

	r.Write(bytes.Repeat([]byte{'x'}, 3))
	r.Write([]byte("0123456789"))

	if got := r.Bytes(); string(got) != "6789" {
		t.Errorf("bytes = %q, want tail of oversized write", got)
	}
}

func TestRing_Clear(t *testing.T) {
	r := NewRing(16)
	r.Write([]byte("hello"))
	r.Clear()

	if r.Len() != 0 || r.Bytes() != nil {
		t.Errorf("len = %d after clear", r.Len())
	}

	// Still usable after clear.
	r.Write([]byte("again"))
	if got := r.Bytes(); string(got) != "again" {
		t.Errorf("bytes = %q, want %q", got, "again")
	}
}

func TestRing_DefaultCapacity(t *testing.T) {
	r := NewRing(0)
	if r.Cap() != DefaultRingCapacity {
		t.Errorf("cap = %d, want %d", r.Cap(), DefaultRingCapacity)
	}
}
