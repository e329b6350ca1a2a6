// Package bitio implements the bit-level wire framing shared by every
// serializable type in this module: a Writer, Reader and Measurer that
// agree byte-for-byte on field layout. A 64-bit scratch word
// accumulates bits until a full 32-bit word is ready, at which point
// it is flushed big-endian into the destination buffer.
package bitio

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// MaxBitsPerField is the largest single SerializeBits call this
// package supports.
const MaxBitsPerField = 32

// CheckMismatchError is returned by Reader.Check when the sentinel
// word read from the stream does not match the expected magic value.
// This is always treated as a fatal, unrecoverable framing error.
type CheckMismatchError struct {
	Expected uint32
	Got      uint32
}

func (e *CheckMismatchError) Error() string {
	return fmt.Sprintf("bitio: check marker mismatch: expected %#08x, got %#08x", e.Expected, e.Got)
}

// BitsRequired returns ceil(log2(values)) for a range of the given
// size, the encoding width SerializeIntRange uses.
func BitsRequired(values uint32) int {
	if values == 0 {
		return 0
	}
	return bits.Len32(values - 1)
}

// rangeBits returns the number of bits used to encode a value in
// [min, max] inclusive via int_range.
func rangeBits(min, max int64) int {
	if max < min {
		panic("bitio: int_range max < min")
	}
	return BitsRequired(uint32(max-min) + 1)
}

// Stream is implemented identically by Writer, Reader and Measurer so
// that a single Serialize method on a message type can write, read or
// measure itself depending on which concrete Stream it is handed: all
// three modes walk the same serialization code in lock-step.
//
// Values are passed by pointer so the one call-site works for all three
// modes: a Writer reads *value and encodes it, a Reader decodes and
// stores into *value, a Measurer only accounts for the bits.
type Stream interface {
	SerializeBits(value *uint32, bits int)
	SerializeIntRange(value *int64, min, max int64)
	SerializeAlign()
	SerializeBytes(data []byte)
	SerializeCheck(magic uint32) error
	IsWriting() bool
	IsReading() bool
	IsOverflow() bool
}
