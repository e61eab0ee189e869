// Package crypto provides the cryptographic primitives of Z-Wave Security 0
// and Security 2: AES-128 in ECB, OFB, CBC-MAC, CCM and CMAC modes, the S0
// and S2 key derivation functions, X25519 key agreement and the AES-128
// CTR_DRBG that produces S2 nonces.
package crypto

import (
	"crypto/sha1"
)

// SHA1Size is the SHA-1 digest length in bytes.
const SHA1Size = sha1.Size

// SHA1 computes the SHA-1 digest of message. It is only used for the
// integrity checksum of provisioning QR codes.
func SHA1(message []byte) [SHA1Size]byte {
	return sha1.Sum(message)
}
