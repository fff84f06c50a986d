package elm327

import "time"

// ByteTransport is the abstract full-duplex byte channel the
// AdapterController drives. Concrete implementations (elm327/ble.Transport,
// elm327/elmtest.MockTransport) own whatever OS handle or GATT client
// backs the channel.
type ByteTransport interface {
	// Open establishes the channel. It is idempotent when already open
	// and must fail with a *Error{Kind: KindTransportOpen} on an
	// unreachable endpoint.
	Open() error

	// Close releases all resources. It must be idempotent and safe to
	// call after a partial Open failure.
	Close() error

	// Write delivers bytes, failing with KindTransportWrite on a media
	// error or KindTransportTimeout on a write deadline.
	Write(data []byte) (int, error)

	// Read delivers up to len(buf) bytes, blocking until at least one
	// byte is available or the deadline elapses.
	Read(buf []byte) (int, error)

	// ReadUntil delivers bytes up to and including the first occurrence
	// of terminator, failing with KindTransportTimeout if the
	// terminator is not seen before deadline.
	ReadUntil(terminator byte, deadline time.Duration) ([]byte, error)

	// FlushInput discards buffered inbound bytes.
	FlushInput() error

	// FlushOutput forces pending outbound bytes to be sent (or is a
	// no-op where the transport has no outbound buffering).
	FlushOutput() error

	// NeedsDelays hints whether the controller should insert ELM327
	// settling delays around writes. True for hardware transports,
	// false for mocks.
	NeedsDelays() bool
}
