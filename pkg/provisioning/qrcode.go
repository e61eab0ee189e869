// Package provisioning parses and encodes Z-Wave SmartStart / S2 QR code
// provisioning strings and device specific keys (DSK).
//
// A QR code is a string of decimal digits:
//
//	"90" | version (2) | checksum (5) | requested keys (3) | DSK (40) | TLV blocks
//
// The checksum is the first two bytes of the SHA-1 digest of everything
// after the checksum field. Each TLV block is
// type<<1|critical (2) | length (2) | value (length digits).
package provisioning

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/backkem/zwave/pkg/bitmask"
	"github.com/backkem/zwave/pkg/crypto"
	"github.com/backkem/zwave/pkg/security"
)

// QR code layout constants.
const (
	// QRCodePrefix is the lead-in of every Z-Wave QR code.
	QRCodePrefix = "90"

	// MinQRCodeLength is the length of the fixed fields.
	MinQRCodeLength = 52

	checksumOffset = 4
	bodyOffset     = 9
)

// Version distinguishes S2-only QR codes from SmartStart capable ones.
type Version uint8

const (
	VersionS2         Version = 0
	VersionSmartStart Version = 1
)

// String returns a human-readable name for the version.
func (v Version) String() string {
	switch v {
	case VersionS2:
		return "S2"
	case VersionSmartStart:
		return "SmartStart"
	default:
		return fmt.Sprintf("Version(%d)", uint8(v))
	}
}

// Protocol is a radio protocol a node can be included with.
type Protocol uint8

const (
	ProtocolZWave          Protocol = 0
	ProtocolZWaveLongRange Protocol = 1
)

func (p Protocol) String() string {
	switch p {
	case ProtocolZWave:
		return "Z-Wave"
	case ProtocolZWaveLongRange:
		return "Z-Wave Long Range"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// TLV block types.
const (
	TLVProductType                 = 0
	TLVProductID                   = 1
	TLVMaxInclusionRequestInterval = 2
	TLVUUID16                      = 3
	TLVSupportedProtocols          = 4
)

// UUID16 presentation formats.
const (
	uuidFormatHex     = 0
	uuidFormatSNHex   = 1
	uuidFormatUUIDHex = 2
)

// ProvisioningInfo is the content of a QR code.
type ProvisioningInfo struct {
	Version                  Version
	RequestedSecurityClasses []security.SecurityClass

	// DSK in its dash-separated string form.
	DSK string

	GenericDeviceClass  uint8
	SpecificDeviceClass uint8
	InstallerIconType   uint16

	ManufacturerID     uint16
	ProductType        uint16
	ProductID          uint16
	ApplicationVersion string

	// MaxInclusionRequestInterval in seconds, zero if absent.
	MaxInclusionRequestInterval int

	// UUID16 is the lowercase hex UUID with its presentation prefix
	// ("sn:" or "UUID:"), empty if absent.
	UUID16 string

	SupportedProtocols []Protocol
}

// digitReader reads fixed-width decimal fields from a QR code.
type digitReader struct {
	s   string
	pos int
}

func (r *digitReader) remaining() int {
	return len(r.s) - r.pos
}

func (r *digitReader) readString(n int) (string, error) {
	if r.remaining() < n {
		return "", qrError("unexpected end at offset %d", r.pos)
	}
	s := r.s[r.pos : r.pos+n]
	r.pos += n
	return s, nil
}

func (r *digitReader) readNumber(n int) (int, error) {
	s, err := r.readString(n)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, qrError("invalid digits %q", s)
	}
	return v, nil
}

func (r *digitReader) readUint8() (uint8, error) {
	v, err := r.readNumber(3)
	if err != nil {
		return 0, err
	}
	if v > 0xff {
		return 0, qrError("value %d exceeds 8 bits", v)
	}
	return uint8(v), nil
}

func (r *digitReader) readUint16() (uint16, error) {
	v, err := r.readNumber(5)
	if err != nil {
		return 0, err
	}
	if v > 0xffff {
		return 0, qrError("value %d exceeds 16 bits", v)
	}
	return uint16(v), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// qrChecksum computes the checksum over the QR code body.
func qrChecksum(body string) uint16 {
	sum := crypto.SHA1([]byte(body))
	return binary.BigEndian.Uint16(sum[:2])
}

// ParseQRCode decodes a Z-Wave QR code string.
func ParseQRCode(qr string) (*ProvisioningInfo, error) {
	if !isDigits(qr) {
		return nil, qrError("must consist of digits only")
	}
	if len(qr) < MinQRCodeLength {
		return nil, qrError("too short")
	}
	if !strings.HasPrefix(qr, QRCodePrefix) {
		return nil, qrError("must start with %q", QRCodePrefix)
	}

	r := &digitReader{s: qr, pos: len(QRCodePrefix)}
	version, _ := r.readNumber(2)
	checksum, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	if want := qrChecksum(qr[bodyOffset:]); checksum != want {
		return nil, qrError("checksum mismatch")
	}

	info := &ProvisioningInfo{Version: Version(version)}

	keys, err := r.readUint8()
	if err != nil {
		return nil, err
	}
	for _, v := range bitmask.Parse([]byte{keys}, 0) {
		class := security.SecurityClass(v)
		if !class.IsValid() {
			return nil, qrError("invalid requested security class %d", v)
		}
		info.RequestedSecurityClasses = append(info.RequestedSecurityClasses, class)
	}

	dsk := make([]string, dskBlocks)
	for i := range dsk {
		if dsk[i], err = r.readString(dskBlockDigits); err != nil {
			return nil, err
		}
	}
	info.DSK = strings.Join(dsk, "-")
	if _, err := DSKFromString(info.DSK); err != nil {
		return nil, qrError("%v", err)
	}

	var hasProductType, hasProductID bool
	for r.remaining() > 0 {
		typeCritical, err := r.readNumber(2)
		if err != nil {
			return nil, err
		}
		length, err := r.readNumber(2)
		if err != nil {
			return nil, err
		}
		value, err := r.readString(length)
		if err != nil {
			return nil, qrError("incomplete TLV block")
		}

		typ, critical := typeCritical>>1, typeCritical&1 == 1
		switch typ {
		case TLVProductType:
			err = info.parseProductType(value)
			hasProductType = true
		case TLVProductID:
			err = info.parseProductID(value)
			hasProductID = true
		case TLVMaxInclusionRequestInterval:
			err = info.parseMaxInclusionRequestInterval(value)
		case TLVUUID16:
			err = info.parseUUID16(value)
		case TLVSupportedProtocols:
			err = info.parseSupportedProtocols(value)
		default:
			if critical {
				return nil, qrError("unsupported critical TLV block type %d", typ)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	if !hasProductType || !hasProductID {
		return nil, qrError("missing required fields")
	}
	return info, nil
}

func (info *ProvisioningInfo) parseProductType(value string) error {
	if len(value) != 10 {
		return qrError("product type block must have 10 digits")
	}
	r := &digitReader{s: value}
	deviceClass, err := r.readUint16()
	if err != nil {
		return err
	}
	icon, err := r.readUint16()
	if err != nil {
		return err
	}
	info.GenericDeviceClass = uint8(deviceClass >> 8)
	info.SpecificDeviceClass = uint8(deviceClass)
	info.InstallerIconType = icon
	return nil
}

func (info *ProvisioningInfo) parseProductID(value string) error {
	if len(value) != 20 {
		return qrError("product ID block must have 20 digits")
	}
	r := &digitReader{s: value}
	fields := make([]uint16, 4)
	for i := range fields {
		v, err := r.readUint16()
		if err != nil {
			return err
		}
		fields[i] = v
	}
	info.ManufacturerID = fields[0]
	info.ProductType = fields[1]
	info.ProductID = fields[2]
	info.ApplicationVersion = fmt.Sprintf("%d.%d", fields[3]>>8, fields[3]&0xff)
	return nil
}

func (info *ProvisioningInfo) parseMaxInclusionRequestInterval(value string) error {
	if len(value) != 3 {
		return qrError("max inclusion request interval block must have 3 digits")
	}
	r := &digitReader{s: value}
	v, err := r.readNumber(3)
	if err != nil {
		return err
	}
	if v < 5 || v > 99 {
		return qrError("max inclusion request interval %d out of range", v)
	}
	info.MaxInclusionRequestInterval = v * 128
	return nil
}

func (info *ProvisioningInfo) parseUUID16(value string) error {
	if len(value) != 42 {
		return qrError("UUID16 block must have 42 digits")
	}
	r := &digitReader{s: value}
	format, err := r.readNumber(2)
	if err != nil {
		return err
	}
	raw := make([]byte, 16)
	for i := 0; i < 8; i++ {
		v, err := r.readUint16()
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(raw[2*i:], v)
	}

	uuid := hex.EncodeToString(raw)
	switch format {
	case uuidFormatHex:
		info.UUID16 = uuid
	case uuidFormatSNHex:
		info.UUID16 = "sn:" + uuid
	case uuidFormatUUIDHex:
		info.UUID16 = "UUID:" + uuid
	default:
		return qrError("unsupported UUID16 presentation format %d", format)
	}
	return nil
}

func (info *ProvisioningInfo) parseSupportedProtocols(value string) error {
	if len(value) == 0 || len(value)%3 != 0 {
		return qrError("supported protocols block must be a multiple of 3 digits")
	}
	r := &digitReader{s: value}
	mask := make([]byte, 0, len(value)/3)
	for r.remaining() > 0 {
		b, err := r.readUint8()
		if err != nil {
			return err
		}
		mask = append(mask, b)
	}
	for _, v := range bitmask.Parse(mask, 0) {
		info.SupportedProtocols = append(info.SupportedProtocols, Protocol(v))
	}
	return nil
}

// EncodeQRCode builds the QR code string for info.
func EncodeQRCode(info *ProvisioningInfo) (string, error) {
	if info.Version > 99 {
		return "", qrError("version %d out of range", info.Version)
	}

	classes := make([]int, 0, len(info.RequestedSecurityClasses))
	for _, c := range info.RequestedSecurityClasses {
		if !c.IsValid() {
			return "", qrError("invalid requested security class %s", c)
		}
		classes = append(classes, int(c))
	}
	keys := bitmask.Encode(classes, 7, 0)[0]

	if _, err := DSKFromString(info.DSK); err != nil {
		return "", err
	}

	var body strings.Builder
	body.WriteString(padLeft(strconv.Itoa(int(keys)), 3))
	body.WriteString(strings.ReplaceAll(info.DSK, "-", ""))

	writeTLV(&body, TLVProductType, false,
		padLeft(strconv.Itoa(int(info.GenericDeviceClass)<<8|int(info.SpecificDeviceClass)), 5)+
			padLeft(strconv.Itoa(int(info.InstallerIconType)), 5))

	appVersion, err := parseApplicationVersion(info.ApplicationVersion)
	if err != nil {
		return "", err
	}
	writeTLV(&body, TLVProductID, false, digits16(info.ManufacturerID, info.ProductType, info.ProductID, appVersion))

	if info.MaxInclusionRequestInterval != 0 {
		steps := info.MaxInclusionRequestInterval / 128
		if steps < 5 || steps > 99 || info.MaxInclusionRequestInterval%128 != 0 {
			return "", qrError("max inclusion request interval %d not encodable", info.MaxInclusionRequestInterval)
		}
		writeTLV(&body, TLVMaxInclusionRequestInterval, false, padLeft(strconv.Itoa(steps), 3))
	}

	if info.UUID16 != "" {
		value, err := encodeUUID16(info.UUID16)
		if err != nil {
			return "", err
		}
		writeTLV(&body, TLVUUID16, false, value)
	}

	if len(info.SupportedProtocols) > 0 {
		protocols := make([]int, len(info.SupportedProtocols))
		for i, p := range info.SupportedProtocols {
			protocols[i] = int(p)
		}
		var value strings.Builder
		for _, b := range bitmask.EncodeAuto(protocols, 0) {
			value.WriteString(padLeft(strconv.Itoa(int(b)), 3))
		}
		writeTLV(&body, TLVSupportedProtocols, false, value.String())
	}

	b := body.String()
	return QRCodePrefix +
		padLeft(strconv.Itoa(int(info.Version)), 2) +
		padLeft(strconv.Itoa(int(qrChecksum(b))), 5) +
		b, nil
}

func writeTLV(sb *strings.Builder, typ int, critical bool, value string) {
	tc := typ << 1
	if critical {
		tc |= 1
	}
	sb.WriteString(padLeft(strconv.Itoa(tc), 2))
	sb.WriteString(padLeft(strconv.Itoa(len(value)), 2))
	sb.WriteString(value)
}

func digits16(values ...uint16) string {
	var sb strings.Builder
	for _, v := range values {
		sb.WriteString(padLeft(strconv.Itoa(int(v)), 5))
	}
	return sb.String()
}

func parseApplicationVersion(v string) (uint16, error) {
	if v == "" {
		return 0, nil
	}
	major, minor, ok := strings.Cut(v, ".")
	if !ok {
		minor = "0"
	}
	hi, err1 := strconv.ParseUint(major, 10, 8)
	lo, err2 := strconv.ParseUint(minor, 10, 8)
	if err1 != nil || err2 != nil {
		return 0, qrError("invalid application version %q", v)
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

func encodeUUID16(uuid string) (string, error) {
	format := uuidFormatHex
	switch {
	case strings.HasPrefix(uuid, "sn:"):
		format, uuid = uuidFormatSNHex, uuid[3:]
	case strings.HasPrefix(uuid, "UUID:"):
		format, uuid = uuidFormatUUIDHex, uuid[5:]
	}
	raw, err := hex.DecodeString(uuid)
	if err != nil || len(raw) != 16 {
		return "", qrError("UUID16 must be 16 hex encoded bytes")
	}

	values := make([]uint16, 8)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	return padLeft(strconv.Itoa(format), 2) + digits16(values...), nil
}

// HighestRequestedClass returns the most trusted requested security class,
// or security.SecurityClassNone when no class is requested.
func (info *ProvisioningInfo) HighestRequestedClass() security.SecurityClass {
	best := security.SecurityClassNone
	for _, c := range info.RequestedSecurityClasses {
		if c.Trust() > best.Trust() {
			best = c
		}
	}
	return best
}

// SupportsLongRange reports whether the node can be included via Z-Wave
// Long Range.
func (info *ProvisioningInfo) SupportsLongRange() bool {
	return slices.Contains(info.SupportedProtocols, ProtocolZWaveLongRange)
}
