package txn

import (
	"errors"
	"fmt"
)

var errShortVec = errors.New("txn: malformed compact length")

// encodeLength writes the compact-u16 length prefix used throughout the
// wire format.
func encodeLength(n int) []byte {
	out := make([]byte, 0, 3)
	rem := uint16(n) //nolint:gosec // lengths are bounded by packet size
	for {
		b := byte(rem & 0x7f)
		rem >>= 7
		if rem == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// decodeLength reads a compact-u16 prefix and returns the value and the
// number of bytes consumed.
func decodeLength(b []byte) (int, int, error) {
	var (
		val   int
		shift uint
	)
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, errShortVec
		}
		elem := int(b[i])
		val |= (elem & 0x7f) << shift
		if elem&0x80 == 0 {
			if i > 0 && elem == 0 {
				return 0, 0, fmt.Errorf("%w: non-canonical encoding", errShortVec)
			}
			if val > 0xffff {
				return 0, 0, fmt.Errorf("%w: overflow", errShortVec)
			}
			return val, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("%w: too long", errShortVec)
}
