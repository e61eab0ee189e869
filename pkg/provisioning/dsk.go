package provisioning

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// DSK format constants.
const (
	// DSKSize is the length of a device specific key in bytes.
	DSKSize = 16

	dskBlocks      = DSKSize / 2
	dskBlockDigits = 5
)

// DSKToString formats a 16-byte DSK as eight dash-separated blocks of five
// decimal digits, for example "34028-23669-20938-46346-33746-07431-56821-14553".
func DSKToString(dsk []byte) (string, error) {
	if len(dsk) != DSKSize {
		return "", fmt.Errorf("%w: DSK must be %d bytes, got %d", ErrInvalidDSK, DSKSize, len(dsk))
	}

	blocks := make([]string, dskBlocks)
	for i := range blocks {
		blocks[i] = padLeft(strconv.Itoa(int(binary.BigEndian.Uint16(dsk[2*i:]))), dskBlockDigits)
	}
	return strings.Join(blocks, "-"), nil
}

// DSKFromString parses the dash-separated DSK representation.
func DSKFromString(s string) ([]byte, error) {
	blocks := strings.Split(s, "-")
	if len(blocks) != dskBlocks {
		return nil, fmt.Errorf("%w: expected %d blocks in %q", ErrInvalidDSK, dskBlocks, s)
	}

	dsk := make([]byte, DSKSize)
	for i, block := range blocks {
		if len(block) != dskBlockDigits {
			return nil, fmt.Errorf("%w: block %q must have %d digits", ErrInvalidDSK, block, dskBlockDigits)
		}
		v, err := strconv.ParseUint(block, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: block %q out of range", ErrInvalidDSK, block)
		}
		binary.BigEndian.PutUint16(dsk[2*i:], uint16(v))
	}
	return dsk, nil
}

// padLeft pads s with leading zeros to length.
func padLeft(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return strings.Repeat("0", length-len(s)) + s
}
