package canbus

import "errors"

// Identifier limits for classical CAN.
const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("canbus: invalid identifier")
	ErrInvalidLen = errors.New("canbus: invalid data length")
)

// Frame is a classical CAN (2.0A/2.0B) frame as read from the bus.
//
// Only the first Len bytes of Data are meaningful. CAN FD is out of scope.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // true for a 29-bit identifier
	Len      uint8  // 0..8
	Data     [8]byte
}

// Validate returns an error if the frame violates classical CAN limits.
func (f Frame) Validate() error {
	if f.Len > 8 {
		return ErrInvalidLen
	}
	max := uint32(maxStdID)
	if f.Extended {
		max = maxExtID
	}
	if f.ID > max {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the meaningful portion of Data.
func (f *Frame) Payload() []byte {
	return f.Data[:f.Len]
}

// Captured pairs a frame with its capture timestamp.
//
// The timestamp is fractional seconds since the Unix epoch, assigned by the
// capture task at the moment of read. Captured values move through the frame
// queue by value and are never aliased between tasks.
type Captured struct {
	Frame     Frame
	Timestamp float64
}
