package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// S0 block constants.
const (
	// AESBlockSize is the AES block size in bytes.
	AESBlockSize = aesBlockSize

	// S0MACSize is the length of the S0 message authentication code.
	S0MACSize = 8
)

// Errors
var (
	ErrInvalidKeySize = errors.New("crypto: invalid key size, must be 16 bytes")
	ErrInvalidIVSize  = errors.New("crypto: invalid IV size, must be 16 bytes")
)

func newAES128(key []byte) (cipher.Block, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrInvalidKeySize
	}
	return aes.NewCipher(key)
}

// EncryptAES128ECB encrypts plaintext block by block with AES-128 in ECB
// mode. The input is zero-padded to a multiple of the block size.
//
// S0 derives its authentication and encryption keys this way, and S2 uses a
// single-block ECB encryption of the inner MPAN state to produce multicast
// nonces.
func EncryptAES128ECB(plaintext, key []byte) ([]byte, error) {
	block, err := newAES128(key)
	if err != nil {
		return nil, err
	}

	out := zeroPad(plaintext)
	for i := 0; i < len(out); i += aesBlockSize {
		block.Encrypt(out[i:i+aesBlockSize], out[i:i+aesBlockSize])
	}
	return out, nil
}

// EncryptAES128OFB encrypts data with AES-128 in OFB mode (S0 payload
// encryption). The IV is the concatenation of the sender and receiver nonces.
func EncryptAES128OFB(plaintext, key, iv []byte) ([]byte, error) {
	return aes128OFB(plaintext, key, iv)
}

// DecryptAES128OFB decrypts data with AES-128 in OFB mode.
func DecryptAES128OFB(ciphertext, key, iv []byte) ([]byte, error) {
	return aes128OFB(ciphertext, key, iv)
}

func aes128OFB(data, key, iv []byte) ([]byte, error) {
	block, err := newAES128(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aesBlockSize {
		return nil, ErrInvalidIVSize
	}

	out := make([]byte, len(data))
	cipher.NewOFB(block, iv).XORKeyStream(out, data)
	return out, nil
}

// ComputeCBCMAC computes the S0 message authentication code: the data is
// zero-padded, encrypted with AES-128-CBC under a zero IV, and the first
// 8 bytes of the last ciphertext block are returned.
func ComputeCBCMAC(data, key []byte) ([]byte, error) {
	block, err := newAES128(key)
	if err != nil {
		return nil, err
	}

	padded := zeroPad(data)
	if len(padded) == 0 {
		padded = make([]byte, aesBlockSize)
	}

	mac := make([]byte, aesBlockSize)
	for i := 0; i < len(padded); i += aesBlockSize {
		for j := 0; j < aesBlockSize; j++ {
			mac[j] ^= padded[i+j]
		}
		block.Encrypt(mac, mac)
	}
	return mac[:S0MACSize], nil
}

// zeroPad returns a copy of data padded with zeros to a block multiple.
func zeroPad(data []byte) []byte {
	n := len(data)
	if rem := n % aesBlockSize; rem != 0 {
		n += aesBlockSize - rem
	}
	out := make([]byte, n)
	copy(out, data)
	return out
}

// IncrementBigEndian increments buf in place as a big-endian unsigned
// integer, wrapping to zero on overflow.
func IncrementBigEndian(buf []byte) {
	for i := len(buf) - 1; i >= 0; i-- {
		buf[i]++
		if buf[i] != 0 {
			return
		}
	}
}
