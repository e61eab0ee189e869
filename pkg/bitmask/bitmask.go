// Package bitmask encodes sets of small integers as little-endian bit masks,
// the representation Z-Wave uses for node lists, supported values and
// requested security classes.
//
// Bit 0 of byte 0 corresponds to the start value, bit 7 of byte 0 to
// start+7, bit 0 of byte 1 to start+8 and so on.
package bitmask

import "slices"

// Node mask sizes.
const (
	// MaxClassicNodeID is the highest node ID of a classic Z-Wave network.
	MaxClassicNodeID = 232

	// NodeMaskSize is the length of a classic node bit mask in bytes.
	NodeMaskSize = MaxClassicNodeID / 8
)

// Encode returns the bit mask for values in [start, maxValue]. Values
// outside that range are ignored. The mask is ceil((maxValue-start+1)/8)
// bytes long; an empty range yields a single zero byte.
func Encode(values []int, maxValue, start int) []byte {
	if maxValue < start {
		return []byte{0}
	}

	mask := make([]byte, (maxValue-start+8)/8)
	for _, v := range values {
		if v < start || v > maxValue {
			continue
		}
		offset := v - start
		mask[offset/8] |= 1 << (offset % 8)
	}
	return mask
}

// EncodeAuto encodes values using the largest value as the upper bound.
func EncodeAuto(values []int, start int) []byte {
	if len(values) == 0 {
		return []byte{0}
	}
	return Encode(values, slices.Max(values), start)
}

// Parse returns the sorted values whose bits are set in mask.
func Parse(mask []byte, start int) []int {
	var values []int
	for i, b := range mask {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				values = append(values, start+i*8+bit)
			}
		}
	}
	return values
}

// EncodeNodes encodes node IDs into a node bit mask starting at node 1. The
// mask is the classic 29 bytes unless a Long Range node ID above 232 is
// present, in which case it is widened to cover the highest ID.
func EncodeNodes(nodeIDs []int) []byte {
	maxValue := MaxClassicNodeID
	if len(nodeIDs) > 0 {
		maxValue = max(maxValue, slices.Max(nodeIDs))
	}
	return Encode(nodeIDs, maxValue, 1)
}

// ParseNodes returns the node IDs contained in a node bit mask.
func ParseNodes(mask []byte) []int {
	return Parse(mask, 1)
}
