//go:build !linux

package canbus

import "errors"

// SocketCAN capture needs the Linux AF_CAN socket family.
func DialSocketCAN(iface string) (Bus, error) {
	return nil, errors.New("canbus: socketcan requires linux")
}
