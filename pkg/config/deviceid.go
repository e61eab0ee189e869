// Package config holds the pieces shared by the device configuration
// packages: the error kinds, the identity of a device and firmware version
// handling.
//
// Subpackages:
//   - logic: condition expressions used in "$if"
//   - conditional: collapsing conditional values for a device
//   - template: "$import" resolution across JSON documents
//   - devices: device config documents and the lookup index
package config

import (
	"fmt"
	"regexp"
	"strconv"
)

// hexIDRegex matches the 4-digit lowercase hex IDs used throughout the
// device configuration files.
var hexIDRegex = regexp.MustCompile(`^0x[0-9a-f]{4}$`)

// DeviceID identifies a concrete device for condition evaluation.
type DeviceID struct {
	ManufacturerID uint16
	ProductType    uint16
	ProductID      uint16

	// FirmwareVersion is a dotted version such as "1.10". Empty when unknown.
	FirmwareVersion string
}

// String formats the device ID for log messages.
func (d DeviceID) String() string {
	s := fmt.Sprintf("%s:%s:%s", FormatID(d.ManufacturerID), FormatID(d.ProductType), FormatID(d.ProductID))
	if d.FirmwareVersion != "" {
		s += " v" + d.FirmwareVersion
	}
	return s
}

// FormatID formats an ID as a 0x-prefixed, 4-digit lowercase hex string.
func FormatID(id uint16) string {
	return fmt.Sprintf("0x%04x", id)
}

// ParseID parses a 0x-prefixed, 4-digit lowercase hex ID.
func ParseID(s string) (uint16, error) {
	if !hexIDRegex.MatchString(s) {
		return 0, Invalidf("%q is not a valid 4-digit hex ID", s)
	}
	v, err := strconv.ParseUint(s[2:], 16, 16)
	if err != nil {
		return 0, Invalidf("%q is not a valid 4-digit hex ID", s)
	}
	return uint16(v), nil
}
