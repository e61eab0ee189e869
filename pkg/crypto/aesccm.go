// AES-CCM for Z-Wave Security 2 encapsulation.
// S2 uses AES-128-CCM (NIST 800-38C, RFC 3610) with:
//   - Key length: 128 bits (KeyCCM of the security class or the temporary key)
//   - Authentication tag: 8 bytes
//   - Nonce length: 13 bytes (the SPAN or MPAN)
//   - q = 2 (length field size)

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// AES-CCM parameters used by S2.
const (
	// AESCCMKeySize is the AES-128 key size in bytes.
	AESCCMKeySize = 16

	// AESCCMTagSize is the S2 authentication tag size in bytes.
	AESCCMTagSize = 8

	// AESCCMNonceSize is the S2 CCM nonce size in bytes.
	AESCCMNonceSize = 13

	aesBlockSize = 16
)

// Errors
var (
	ErrAESCCMInvalidKeySize     = errors.New("aesccm: invalid key size, must be 16 bytes")
	ErrAESCCMInvalidNonceSize   = errors.New("aesccm: invalid nonce size")
	ErrAESCCMInvalidTagSize     = errors.New("aesccm: invalid tag size, must be 4, 6, 8, 10, 12, 14, or 16")
	ErrAESCCMPlaintextTooLong   = errors.New("aesccm: plaintext too long")
	ErrAESCCMCiphertextTooShort = errors.New("aesccm: ciphertext too short")
	ErrAESCCMAuthFailed         = errors.New("aesccm: message authentication failed")
)

// AESCCM is an AES-128-CCM cipher instance.
type AESCCM struct {
	block   cipher.Block
	tagSize int // M
	lenSize int // L = 15 - nonceSize
}

// NewAESCCM creates an AES-128-CCM cipher with the S2 parameters
// (13-byte nonce, 8-byte tag).
func NewAESCCM(key []byte) (*AESCCM, error) {
	return NewAESCCMWithParams(key, AESCCMNonceSize, AESCCMTagSize)
}

// NewAESCCMWithParams creates an AES-128-CCM cipher with explicit nonce and
// tag sizes. Nonces may be 7-13 bytes, tags 4-16 bytes (even).
func NewAESCCMWithParams(key []byte, nonceSize, tagSize int) (*AESCCM, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrAESCCMInvalidKeySize
	}

	lenSize := 15 - nonceSize
	if lenSize < 2 || lenSize > 8 {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if tagSize < 4 || tagSize > 16 || tagSize%2 != 0 {
		return nil, ErrAESCCMInvalidTagSize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return &AESCCM{
		block:   block,
		tagSize: tagSize,
		lenSize: lenSize,
	}, nil
}

// NonceSize returns the required nonce size for this cipher.
func (c *AESCCM) NonceSize() int {
	return 15 - c.lenSize
}

// TagSize returns the authentication tag size for this cipher.
func (c *AESCCM) TagSize() int {
	return c.tagSize
}

// Seal encrypts and authenticates plaintext. The additional data is the S2
// AAD (sender, destination, home ID, message length, sequence number and
// unencrypted extensions). Returns ciphertext || tag.
func (c *AESCCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if len(plaintext) > (1<<(8*c.lenSize))-1 {
		return nil, ErrAESCCMPlaintextTooLong
	}

	tag := c.cbcMAC(nonce, plaintext, aad)

	out := make([]byte, len(plaintext)+c.tagSize)
	s0 := c.keystreamBlock(nonce, 0)
	subtle.XORBytes(out[len(plaintext):], tag[:c.tagSize], s0[:c.tagSize])
	c.ctr(nonce, out[:len(plaintext)], plaintext)

	return out, nil
}

// Open verifies and decrypts ciphertext || tag produced by Seal.
func (c *AESCCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != c.NonceSize() {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if len(ciphertext) < c.tagSize {
		return nil, ErrAESCCMCiphertextTooShort
	}

	body := ciphertext[:len(ciphertext)-c.tagSize]
	sealedTag := ciphertext[len(ciphertext)-c.tagSize:]

	s0 := c.keystreamBlock(nonce, 0)
	receivedTag := make([]byte, c.tagSize)
	subtle.XORBytes(receivedTag, sealedTag, s0[:c.tagSize])

	plaintext := make([]byte, len(body))
	c.ctr(nonce, plaintext, body)

	expected := c.cbcMAC(nonce, plaintext, aad)
	if subtle.ConstantTimeCompare(receivedTag, expected[:c.tagSize]) != 1 {
		return nil, ErrAESCCMAuthFailed
	}

	return plaintext, nil
}

// cbcMAC computes the CCM authentication value T over B_0, the encoded AAD
// and the plaintext (RFC 3610 Section 2.2).
func (c *AESCCM) cbcMAC(nonce, plaintext, aad []byte) []byte {
	var b0 [aesBlockSize]byte
	if len(aad) > 0 {
		b0[0] |= 1 << 6
	}
	b0[0] |= byte((c.tagSize-2)/2) << 3
	b0[0] |= byte(c.lenSize - 1)
	n := copy(b0[1:], nonce)
	putBigEndian(b0[1+n:], uint64(len(plaintext)))

	mac := make([]byte, aesBlockSize)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		var header []byte
		switch l := len(aad); {
		case l < (1<<16)-(1<<8):
			header = binary.BigEndian.AppendUint16(nil, uint16(l))
		case uint64(l) < 1<<32:
			header = binary.BigEndian.AppendUint32([]byte{0xFF, 0xFE}, uint32(l))
		default:
			header = binary.BigEndian.AppendUint64([]byte{0xFF, 0xFF}, uint64(l))
		}
		c.macBlocks(mac, append(header, aad...))
	}
	c.macBlocks(mac, plaintext)

	return mac
}

// macBlocks CBC-chains data into mac, zero-padding the final block.
func (c *AESCCM) macBlocks(mac, data []byte) {
	for len(data) > 0 {
		var block [aesBlockSize]byte
		n := copy(block[:], data)
		data = data[n:]
		subtle.XORBytes(mac, mac, block[:])
		c.block.Encrypt(mac, mac)
	}
}

// keystreamBlock returns E(K, A_i).
func (c *AESCCM) keystreamBlock(nonce []byte, counter uint64) []byte {
	var a [aesBlockSize]byte
	a[0] = byte(c.lenSize - 1)
	n := copy(a[1:], nonce)
	putBigEndian(a[1+n:], counter)

	s := make([]byte, aesBlockSize)
	c.block.Encrypt(s, a[:])
	return s
}

// ctr encrypts src into dst starting at counter 1.
func (c *AESCCM) ctr(nonce []byte, dst, src []byte) {
	for i, counter := 0, uint64(1); i < len(src); i, counter = i+aesBlockSize, counter+1 {
		ks := c.keystreamBlock(nonce, counter)
		end := min(i+aesBlockSize, len(src))
		subtle.XORBytes(dst[i:end], src[i:end], ks)
	}
}

// putBigEndian writes v into dst (big-endian, len(dst) bytes).
func putBigEndian(dst []byte, v uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

// AESCCM128Encrypt seals plaintext with the S2 CCM parameters.
func AESCCM128Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	ccm, err := NewAESCCM(key)
	if err != nil {
		return nil, err
	}
	return ccm.Seal(nonce, plaintext, aad)
}

// AESCCM128Decrypt opens ciphertext || tag with the S2 CCM parameters.
func AESCCM128Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	ccm, err := NewAESCCM(key)
	if err != nil {
		return nil, err
	}
	return ccm.Open(nonce, ciphertext, aad)
}
