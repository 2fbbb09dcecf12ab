//go:build linux

package canbus

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// canFrameSize is the fixed size of the Linux SocketCAN can_frame layout:
// 4 bytes id+flags (little-endian), 1 byte dlc, 3 bytes padding, 8 data bytes.
const canFrameSize = 16

// SocketCAN reads classical CAN frames from a Linux SocketCAN interface
// (e.g. can0, vcan0) through a raw AF_CAN socket.
type SocketCAN struct {
	iface string

	mu     sync.Mutex
	fd     int
	closed bool
}

// DialSocketCAN opens a raw CAN socket bound to the named interface.
func DialSocketCAN(iface string) (*SocketCAN, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("canbus: lookup interface %s: %w", iface, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("canbus: open raw socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("canbus: bind %s: %w", iface, err)
	}

	return &SocketCAN{iface: iface, fd: fd}, nil
}

// HasPending polls the socket with a zero timeout.
func (s *SocketCAN) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	return err == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0
}

// Read blocks until one frame arrives and decodes it from the can_frame
// layout. Short reads, error frames and over-length DLCs report ErrBusRead.
func (s *SocketCAN) Read() (Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, ErrClosed
	}
	fd := s.fd
	s.mu.Unlock()

	var buf [canFrameSize]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return Frame{}, fmt.Errorf("canbus: read %s: %w", s.iface, err)
	}
	if n < canFrameSize {
		return Frame{}, fmt.Errorf("%w: short read (%d bytes)", ErrBusRead, n)
	}

	id := binary.LittleEndian.Uint32(buf[0:4])
	if id&unix.CAN_ERR_FLAG != 0 {
		return Frame{}, fmt.Errorf("%w: error frame 0x%X", ErrBusRead, id)
	}

	var f Frame
	f.Extended = id&unix.CAN_EFF_FLAG != 0
	if f.Extended {
		f.ID = id & unix.CAN_EFF_MASK
	} else {
		f.ID = id & unix.CAN_SFF_MASK
	}
	f.Len = buf[4]
	if f.Len > 8 {
		return Frame{}, fmt.Errorf("%w: dlc %d", ErrBusRead, f.Len)
	}
	copy(f.Data[:], buf[8:16])
	return f, nil
}

// Close shuts the socket down. Idempotent.
func (s *SocketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

// Name returns the bound interface name.
func (s *SocketCAN) Name() string { return s.iface }
