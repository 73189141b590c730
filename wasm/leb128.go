package wasm

import (
	"errors"

	"github.com/wippyai/wasmonkey/wasm/internal/binary"
)

// LEB128 helpers for callers assembling code bodies by hand.

// ErrOverflow is returned when a LEB128 value exceeds the maximum bit width.
var ErrOverflow = binary.ErrOverflow

var errTruncated = errors.New("leb128: truncated")

// AppendLEB128u appends the unsigned LEB128 encoding of v to dst.
func AppendLEB128u(dst []byte, v uint32) []byte {
	return binary.AppendU32(dst, v)
}

// AppendLEB128s appends the signed LEB128 encoding of v to dst.
func AppendLEB128s(dst []byte, v int64) []byte {
	return binary.AppendS64(dst, v)
}

// ReadLEB128u decodes an unsigned LEB128 value from the start of data and
// returns it with the number of bytes consumed.
func ReadLEB128u(data []byte) (uint32, int, error) {
	var result uint32
	var shift uint
	for i, b := range data {
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, 0, ErrOverflow
		}
	}
	return 0, 0, errTruncated
}
