package ports

// Transport is an ordered, reliable byte channel carrying a remote shell's
// stdio. Reads return bytes strictly in arrival order; a closed channel is
// signalled by a Read error (io.EOF or transport-specific). Writes are
// delivered in call order.
//
// Resize is the transport's native terminal-size side channel (e.g. an SSH
// window-change request). It is best-effort and independent of any in-band
// window-size packet the protocol layer may also send.
type Transport interface {
	// Read reads the next chunk of inbound bytes.
	Read(p []byte) (int, error)

	// Write sends bytes to the remote end.
	Write(p []byte) (int, error)

	// Resize reports a new terminal size through the transport side channel.
	Resize(rows, cols uint16) error

	// Close tears down the channel. Blocked Reads are unblocked with an error.
	Close() error
}
