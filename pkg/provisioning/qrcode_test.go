package provisioning

import (
	"encoding/binary"
	"errors"
	"slices"
	"strconv"
	"testing"

	"github.com/backkem/zwave/pkg/crypto"
	"github.com/backkem/zwave/pkg/security"
)

const testDSK = "34028-23669-20938-46346-33746-07431-56821-14553"
const testDSKDigits = "3402823669209384634633746074315682114553"

// buildQR assembles a QR code around body with a valid checksum.
func buildQR(version string, body string) string {
	sum := crypto.SHA1([]byte(body))
	return "90" + version + padLeft(strconv.Itoa(int(binary.BigEndian.Uint16(sum[:2]))), 5) + body
}

func TestParseQRCode(t *testing.T) {
	// Keys 135 = S2 Unauthenticated, S2 Authenticated, S2 AccessControl, S0.
	body := "135" + testDSKDigits +
		"0010" + "01025" + "00768" + // product type: 0x0401, icon 0x0300
		"0220" + "00134" + "00003" + "00103" + "00258" + // product ID, app version 1.2
		"0403" + "010" // max inclusion request interval 10*128
	qr := buildQR("01", body)

	info, err := ParseQRCode(qr)
	if err != nil {
		t.Fatalf("ParseQRCode failed: %v", err)
	}

	if info.Version != VersionSmartStart {
		t.Errorf("Version = %s", info.Version)
	}
	wantClasses := []security.SecurityClass{
		security.SecurityClassS2Unauthenticated,
		security.SecurityClassS2Authenticated,
		security.SecurityClassS2AccessControl,
		security.SecurityClassS0Legacy,
	}
	if !slices.Equal(info.RequestedSecurityClasses, wantClasses) {
		t.Errorf("RequestedSecurityClasses = %v", info.RequestedSecurityClasses)
	}
	if info.HighestRequestedClass() != security.SecurityClassS2AccessControl {
		t.Errorf("HighestRequestedClass = %s", info.HighestRequestedClass())
	}
	if info.DSK != testDSK {
		t.Errorf("DSK = %q", info.DSK)
	}
	if info.GenericDeviceClass != 0x04 || info.SpecificDeviceClass != 0x01 || info.InstallerIconType != 0x0300 {
		t.Errorf("product type fields = %#x %#x %#x", info.GenericDeviceClass, info.SpecificDeviceClass, info.InstallerIconType)
	}
	if info.ManufacturerID != 134 || info.ProductType != 3 || info.ProductID != 103 || info.ApplicationVersion != "1.2" {
		t.Errorf("product ID fields = %+v", info)
	}
	if info.MaxInclusionRequestInterval != 1280 {
		t.Errorf("MaxInclusionRequestInterval = %d", info.MaxInclusionRequestInterval)
	}
}

func TestParseQRCodeErrors(t *testing.T) {
	productTLVs := "0010" + "01025" + "00768" + "0220" + "00134" + "00003" + "00103" + "00258"
	valid := buildQR("00", "003"+testDSKDigits+productTLVs)

	tampered := []byte(valid)
	tampered[len(tampered)-1] = '9'

	tests := []struct {
		name string
		qr   string
	}{
		{"non digits", "90ab" + valid[4:]},
		{"too short", valid[:51]},
		{"wrong prefix", "91" + valid[2:]},
		{"checksum", string(tampered)},
		{"missing product ID", buildQR("00", "003"+testDSKDigits+"0010"+"01025"+"00768")},
		{"unknown critical TLV", buildQR("00", "003"+testDSKDigits+productTLVs+"6302"+"12")},
		{"incomplete TLV", buildQR("00", "003"+testDSKDigits+productTLVs+"0405"+"12")},
		{"invalid class", buildQR("00", "008"+testDSKDigits+productTLVs)},
		{"DSK block overflow", buildQR("00", "003"+"99999"+testDSKDigits[5:]+productTLVs)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseQRCode(tc.qr)
			if !errors.Is(err, ErrInvalidQRCode) {
				t.Errorf("got %v, want ErrInvalidQRCode", err)
			}
		})
	}

	// Unknown non-critical blocks are skipped.
	if _, err := ParseQRCode(buildQR("00", "003"+testDSKDigits+productTLVs+"6202"+"12")); err != nil {
		t.Errorf("non-critical unknown TLV: %v", err)
	}
}

func TestEncodeQRCodeRoundTrip(t *testing.T) {
	info := &ProvisioningInfo{
		Version: VersionSmartStart,
		RequestedSecurityClasses: []security.SecurityClass{
			security.SecurityClassS2Unauthenticated,
			security.SecurityClassS2Authenticated,
		},
		DSK:                         testDSK,
		GenericDeviceClass:          0x10,
		SpecificDeviceClass:         0x01,
		InstallerIconType:           0x0700,
		ManufacturerID:              0x0086,
		ProductType:                 0x0103,
		ProductID:                   0x008d,
		ApplicationVersion:          "4.84",
		MaxInclusionRequestInterval: 640,
		UUID16:                      "sn:00112233445566778899aabbccddeeff",
		SupportedProtocols:          []Protocol{ProtocolZWave, ProtocolZWaveLongRange},
	}

	qr, err := EncodeQRCode(info)
	if err != nil {
		t.Fatalf("EncodeQRCode failed: %v", err)
	}
	if qr[:2] != QRCodePrefix || len(qr) < MinQRCodeLength {
		t.Fatalf("unexpected QR code %q", qr)
	}

	got, err := ParseQRCode(qr)
	if err != nil {
		t.Fatalf("ParseQRCode(%q) failed: %v", qr, err)
	}
	if !slices.Equal(got.RequestedSecurityClasses, info.RequestedSecurityClasses) ||
		got.DSK != info.DSK ||
		got.GenericDeviceClass != info.GenericDeviceClass ||
		got.SpecificDeviceClass != info.SpecificDeviceClass ||
		got.InstallerIconType != info.InstallerIconType ||
		got.ManufacturerID != info.ManufacturerID ||
		got.ProductType != info.ProductType ||
		got.ProductID != info.ProductID ||
		got.ApplicationVersion != info.ApplicationVersion ||
		got.MaxInclusionRequestInterval != info.MaxInclusionRequestInterval ||
		got.UUID16 != info.UUID16 ||
		!slices.Equal(got.SupportedProtocols, info.SupportedProtocols) {
		t.Errorf("round trip mismatch\ngot:  %+v\nwant: %+v", got, info)
	}
	if !got.SupportsLongRange() {
		t.Error("SupportsLongRange = false")
	}
}

func TestEncodeQRCodeErrors(t *testing.T) {
	base := ProvisioningInfo{DSK: testDSK, ApplicationVersion: "1.0"}

	bad := []func(*ProvisioningInfo){
		func(i *ProvisioningInfo) { i.DSK = "1-2-3" },
		func(i *ProvisioningInfo) { i.RequestedSecurityClasses = []security.SecurityClass{security.SecurityClassTemporary} },
		func(i *ProvisioningInfo) { i.ApplicationVersion = "300.1" },
		func(i *ProvisioningInfo) { i.MaxInclusionRequestInterval = 100 },
		func(i *ProvisioningInfo) { i.UUID16 = "UUID:xyz" },
	}
	for i, mutate := range bad {
		info := base
		mutate(&info)
		if _, err := EncodeQRCode(&info); !errors.Is(err, security.ErrInvalidArgument) {
			t.Errorf("case %d: got %v, want an invalid argument error", i, err)
		}
	}
}
