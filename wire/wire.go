// Package wire implements the Wayland wire format: message framing,
// argument encoding and file descriptor passing over unix sockets.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

const (
	// HeaderSize is the size of the object id plus the size/opcode word.
	HeaderSize = 8
	// MaxMessageSize matches libwayland's limit for a single message.
	MaxMessageSize = 4096
	// maxFDsPerMessage bounds the control message buffer used when reading.
	maxFDsPerMessage = 28
)

var (
	ErrShortMessage   = errors.New("message shorter than its arguments")
	ErrMalformed      = errors.New("malformed message header")
	ErrMissingFD      = errors.New("file descriptor expected but none received")
	ErrInvalidString  = errors.New("string argument is not nul terminated")
	ErrMessageTooLong = errors.New("message exceeds maximum size")
)

// byteOrder is the host byte order, the protocol always uses it.
var byteOrder = binary.NativeEndian

// Fixed is the signed 24.8 fixed point number used for coordinates.
type Fixed int32

func FixedFromInt(v int) Fixed {
	return Fixed(v << 8)
}

func FixedFromFloat(v float64) Fixed {
	return Fixed(math.Round(v * 256))
}

func (f Fixed) Int() int {
	return int(f >> 8)
}

func (f Fixed) Float() float64 {
	return float64(f) / 256
}

func pad4(n int) int {
	return (n + 3) &^ 3
}
