package canbus

import "errors"

var (
	// ErrBusRead marks a malformed read from the bus driver. Frames that fail
	// this way are discarded by the capture task, never queued.
	ErrBusRead = errors.New("canbus: malformed frame read")

	// ErrClosed indicates the bus has been closed.
	ErrClosed = errors.New("canbus: closed")
)

// Bus is the receive side of a CAN interface.
//
// Implementations must be safe for use from a single capture goroutine; they
// are not required to support concurrent readers.
type Bus interface {
	// HasPending reports whether a frame is available to read without
	// blocking.
	HasPending() bool

	// Read retrieves the next frame. A malformed read returns an error
	// wrapping ErrBusRead; the caller discards and continues.
	Read() (Frame, error)

	// Close releases the underlying interface. Further calls return ErrClosed.
	Close() error
}
