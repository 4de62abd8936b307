package txn

import (
	"errors"
	"io"
)

// ErrShortVecOverflow is returned when a compact-u16 length does not fit in 16 bits.
var ErrShortVecOverflow = errors.New("shortvec: length overflow")

// appendShortVec appends n as a compact-u16 (1-3 bytes, 7 bits per byte,
// high bit set on every byte but the last).
func appendShortVec(buf []byte, n int) []byte {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// readShortVec decodes a compact-u16 from data and returns the value and
// the number of bytes consumed.
func readShortVec(data []byte) (int, int, error) {
	var v uint32
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, io.ErrUnexpectedEOF
		}
		b := data[i]
		v |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if v > 0xffff {
				return 0, 0, ErrShortVecOverflow
			}
			return int(v), i + 1, nil
		}
	}
	return 0, 0, ErrShortVecOverflow
}
