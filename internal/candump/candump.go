// Package candump renders captured frames to the candump text format and
// parses it back:
//
//	(<seconds>.<micros>) can <hex-id>#<payload-hex>\n
//	(1699999999.123456) can 1A2#0102030405060708
//
// The fraction carries exactly six digits, the identifier is uppercase hex
// without leading zeros, and each payload byte is exactly two uppercase hex
// digits, concatenated.
package candump

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/visiona/canlogd/internal/canbus"
)

const upperhex = "0123456789ABCDEF"

// ErrBadLine is returned by ParseLine for input that is not a candump line.
var ErrBadLine = errors.New("candump: malformed line")

// AppendLine appends the rendered line for f, including the trailing
// newline, and returns the extended slice. The format task renders into a
// task-local scratch slice and uses len() of the result as the exact byte
// count for the buffer fit check.
func AppendLine(dst []byte, f canbus.Frame, ts float64) []byte {
	dst = append(dst, '(')
	dst = strconv.AppendFloat(dst, ts, 'f', 6, 64)
	dst = append(dst, ") can "...)
	dst = appendUpperHex(dst, uint64(f.ID))
	dst = append(dst, '#')
	for _, b := range f.Data[:f.Len] {
		dst = append(dst, upperhex[b>>4], upperhex[b&0x0F])
	}
	return append(dst, '\n')
}

// RenderLine is AppendLine into a fresh slice.
func RenderLine(f canbus.Frame, ts float64) []byte {
	return AppendLine(make([]byte, 0, 64), f, ts)
}

// appendUpperHex writes v as uppercase hex without leading zeros.
func appendUpperHex(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	var tmp [16]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = upperhex[v&0x0F]
		v >>= 4
	}
	return append(dst, tmp[i:]...)
}

// Line is one parsed candump record.
type Line struct {
	Timestamp float64
	Interface string
	Frame     canbus.Frame
}

// ParseLine parses a single candump line (without requiring the trailing
// newline). Payloads longer than eight bytes and identifiers above the
// 29-bit limit are rejected.
func ParseLine(s string) (Line, error) {
	s = strings.TrimSuffix(s, "\n")

	if !strings.HasPrefix(s, "(") {
		return Line{}, fmt.Errorf("%w: missing timestamp", ErrBadLine)
	}
	end := strings.IndexByte(s, ')')
	if end < 0 {
		return Line{}, fmt.Errorf("%w: unterminated timestamp", ErrBadLine)
	}
	ts, err := strconv.ParseFloat(s[1:end], 64)
	if err != nil {
		return Line{}, fmt.Errorf("%w: timestamp %q", ErrBadLine, s[1:end])
	}

	rest := strings.TrimSpace(s[end+1:])
	iface, rest, ok := strings.Cut(rest, " ")
	if !ok {
		return Line{}, fmt.Errorf("%w: missing interface", ErrBadLine)
	}

	idPart, payloadPart, ok := strings.Cut(rest, "#")
	if !ok {
		return Line{}, fmt.Errorf("%w: missing # separator", ErrBadLine)
	}
	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil || id > 0x1FFFFFFF {
		return Line{}, fmt.Errorf("%w: identifier %q", ErrBadLine, idPart)
	}
	if len(payloadPart)%2 != 0 || len(payloadPart) > 16 {
		return Line{}, fmt.Errorf("%w: payload %q", ErrBadLine, payloadPart)
	}

	ln := Line{
		Timestamp: ts,
		Interface: iface,
		Frame: canbus.Frame{
			ID:       uint32(id),
			Extended: id > 0x7FF || len(idPart) > 3,
			Len:      uint8(len(payloadPart) / 2),
		},
	}
	for i := 0; i < len(payloadPart); i += 2 {
		b, err := strconv.ParseUint(payloadPart[i:i+2], 16, 8)
		if err != nil {
			return Line{}, fmt.Errorf("%w: payload %q", ErrBadLine, payloadPart)
		}
		ln.Frame.Data[i/2] = byte(b)
	}
	return ln, nil
}
