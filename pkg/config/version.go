package config

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/blang/semver/v4"
)

// Firmware version bounds used when a config file does not restrict them.
const (
	MinFirmwareVersion = "0.0"
	MaxFirmwareVersion = "255.255"
)

var firmwareVersionRegex = regexp.MustCompile(`^\d{1,3}\.\d{1,3}(\.\d{1,3})?$`)

// PadVersion pads a dotted version with ".0" components up to three parts.
func PadVersion(version string) string {
	parts := strings.Split(version, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return strings.Join(parts, ".")
}

// ParseVersion parses a dotted version with up to three components into a
// semantic version. Components are compared numerically, so "1.10" is newer
// than "1.2".
func ParseVersion(version string) (semver.Version, error) {
	v, err := semver.ParseTolerant(PadVersion(strings.TrimSpace(version)))
	if err != nil {
		return semver.Version{}, Invalidf("invalid version %q: %v", version, err)
	}
	return v, nil
}

// CompareVersions returns -1, 0 or 1 as a is older than, equal to or newer
// than b.
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// ValidateFirmwareVersion checks the "major.minor[.patch]" format with each
// component in 0-255.
func ValidateFirmwareVersion(version string) error {
	if !firmwareVersionRegex.MatchString(version) {
		return Invalidf("firmware version %q must have the format major.minor[.patch]", version)
	}
	for _, part := range strings.Split(version, ".") {
		n, _ := strconv.Atoi(part)
		if n > 255 {
			return Invalidf("firmware version %q has a component above 255", version)
		}
	}
	return nil
}

// FirmwareVersionRange is an inclusive range of firmware versions.
type FirmwareVersionRange struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// DefaultFirmwareVersionRange matches every firmware version.
func DefaultFirmwareVersionRange() FirmwareVersionRange {
	return FirmwareVersionRange{Min: MinFirmwareVersion, Max: MaxFirmwareVersion}
}

// Validate checks both bounds.
func (r FirmwareVersionRange) Validate() error {
	if err := ValidateFirmwareVersion(r.Min); err != nil {
		return err
	}
	return ValidateFirmwareVersion(r.Max)
}

// Contains reports whether version lies within the range. An empty version
// matches any range. Unparseable versions never match.
func (r FirmwareVersionRange) Contains(version string) bool {
	if version == "" {
		return true
	}
	v, err := ParseVersion(version)
	if err != nil {
		return false
	}
	lo, err := ParseVersion(r.Min)
	if err != nil {
		return false
	}
	hi, err := ParseVersion(r.Max)
	if err != nil {
		return false
	}
	return v.GTE(lo) && v.LTE(hi)
}
