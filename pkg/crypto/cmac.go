package crypto

import (
	"crypto/subtle"

	"github.com/aead/cmac"
)

// CMACSize is the AES-CMAC output length in bytes.
const CMACSize = 16

// ComputeCMAC computes the AES-128-CMAC (RFC 4493) of message under key.
// All S2 key derivations are built from this primitive.
func ComputeCMAC(message, key []byte) ([]byte, error) {
	block, err := newAES128(key)
	if err != nil {
		return nil, err
	}

	mac, err := cmac.New(block)
	if err != nil {
		return nil, err
	}
	mac.Write(message)
	return mac.Sum(nil), nil
}

// CMACEqual compares two MACs in constant time.
func CMACEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
