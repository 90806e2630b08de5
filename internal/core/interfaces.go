package core

// Frame is a serialized outbound payload.
type Frame []byte

// SignalConnection abstracts the duplex messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
