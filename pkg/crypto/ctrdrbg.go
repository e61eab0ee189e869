// CTR_DRBG as defined in NIST SP 800-90A Rev. 1, Section 10.2, instantiated
// with AES-128 (keylen 16, outlen 16, seedlen 32).
//
// S2 seeds one instance per peer with the MEI and the personalization string
// of the security class; its output stream provides the SPAN nonces.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
)

// CTR_DRBG parameters for AES-128.
const (
	// DRBGKeySize is the AES key length (keylen).
	DRBGKeySize = 16

	// DRBGSeedSize is the seed length (seedlen = keylen + outlen).
	DRBGSeedSize = DRBGKeySize + aesBlockSize
)

// Errors
var (
	ErrDRBGNotInstantiated = errors.New("ctrdrbg: not instantiated")
	ErrDRBGEntropySize     = errors.New("ctrdrbg: entropy must be 32 bytes without derivation function")
	ErrDRBGInputTooLong    = errors.New("ctrdrbg: input longer than seed length")
)

// CtrDRBG is an AES-128 CTR_DRBG. It is not safe for concurrent use.
type CtrDRBG struct {
	derivation bool
	block      cipher.Block
	key        [DRBGKeySize]byte
	v          [aesBlockSize]byte
	ready      bool
}

// NewCtrDRBG creates an uninstantiated generator. When derivation is set,
// all seed material is condensed with Block_Cipher_df; otherwise the entropy
// must be exactly seedlen bytes.
func NewCtrDRBG(derivation bool) *CtrDRBG {
	return &CtrDRBG{derivation: derivation}
}

// Init instantiates the generator (CTR_DRBG_Instantiate).
func (d *CtrDRBG) Init(entropy, nonce, personalization []byte) error {
	var seed []byte
	if d.derivation {
		seed = d.derive(entropy, nonce, personalization)
	} else {
		if len(entropy)+len(nonce) != DRBGSeedSize {
			return ErrDRBGEntropySize
		}
		if len(personalization) > DRBGSeedSize {
			return ErrDRBGInputTooLong
		}
		seed = make([]byte, 0, DRBGSeedSize)
		seed = append(seed, entropy...)
		seed = append(seed, nonce...)
		for i, b := range personalization {
			seed[i] ^= b
		}
	}

	d.key = [DRBGKeySize]byte{}
	d.v = [aesBlockSize]byte{}
	d.rekey()
	d.update(seed)
	d.ready = true
	return nil
}

// Reseed mixes fresh entropy into the state (CTR_DRBG_Reseed).
func (d *CtrDRBG) Reseed(entropy, additionalInput []byte) error {
	if !d.ready {
		return ErrDRBGNotInstantiated
	}

	var seed []byte
	if d.derivation {
		seed = d.derive(entropy, additionalInput)
	} else {
		if len(entropy) != DRBGSeedSize {
			return ErrDRBGEntropySize
		}
		if len(additionalInput) > DRBGSeedSize {
			return ErrDRBGInputTooLong
		}
		seed = append([]byte(nil), entropy...)
		for i, b := range additionalInput {
			seed[i] ^= b
		}
	}

	d.update(seed)
	return nil
}

// Generate returns n pseudo-random bytes (CTR_DRBG_Generate). Every call
// advances V and finishes with an update, so output is never repeated.
func (d *CtrDRBG) Generate(n int, additionalInput []byte) ([]byte, error) {
	if !d.ready {
		return nil, ErrDRBGNotInstantiated
	}

	if len(additionalInput) > 0 {
		if d.derivation {
			additionalInput = d.derive(additionalInput)
		} else if len(additionalInput) > DRBGSeedSize {
			return nil, ErrDRBGInputTooLong
		}
		d.update(additionalInput)
	}

	blocks := (n + aesBlockSize - 1) / aesBlockSize
	out := make([]byte, blocks*aesBlockSize)
	for i := 0; i < len(out); i += aesBlockSize {
		IncrementBigEndian(d.v[:])
		d.block.Encrypt(out[i:i+aesBlockSize], d.v[:])
	}

	d.update(additionalInput)
	return out[:n], nil
}

// update is CTR_DRBG_Update. provided may be shorter than seedlen, in which
// case it is treated as zero-padded.
func (d *CtrDRBG) update(provided []byte) {
	var temp [DRBGSeedSize]byte
	for i := 0; i < DRBGSeedSize; i += aesBlockSize {
		IncrementBigEndian(d.v[:])
		d.block.Encrypt(temp[i:i+aesBlockSize], d.v[:])
	}
	for i, b := range provided {
		temp[i] ^= b
	}

	copy(d.key[:], temp[:DRBGKeySize])
	copy(d.v[:], temp[DRBGKeySize:])
	d.rekey()
}

func (d *CtrDRBG) rekey() {
	// The key is always 16 bytes, so NewCipher cannot fail.
	d.block, _ = aes.NewCipher(d.key[:])
}

// derive is Block_Cipher_df returning seedlen bytes.
func (d *CtrDRBG) derive(inputs ...[]byte) []byte {
	total := 0
	for _, in := range inputs {
		total += len(in)
	}

	// S = L || N || input || 0x80, zero-padded to the block size.
	s := make([]byte, 8, 8+total+1+aesBlockSize)
	binary.BigEndian.PutUint32(s[0:4], uint32(total))
	binary.BigEndian.PutUint32(s[4:8], DRBGSeedSize)
	for _, in := range inputs {
		s = append(s, in...)
	}
	s = append(s, 0x80)
	s = zeroPad(s)

	var dfKey [DRBGKeySize]byte
	for i := range dfKey {
		dfKey[i] = byte(i)
	}
	block, _ := aes.NewCipher(dfKey[:])

	temp := make([]byte, 0, DRBGSeedSize)
	for i := uint32(0); len(temp) < DRBGSeedSize; i++ {
		iv := make([]byte, aesBlockSize, aesBlockSize+len(s))
		binary.BigEndian.PutUint32(iv[0:4], i)
		temp = append(temp, bcc(block, append(iv, s...))...)
	}

	block, _ = aes.NewCipher(temp[:DRBGKeySize])
	x := append([]byte(nil), temp[DRBGKeySize:DRBGSeedSize]...)

	out := make([]byte, 0, DRBGSeedSize)
	for len(out) < DRBGSeedSize {
		block.Encrypt(x, x)
		out = append(out, x...)
	}
	return out[:DRBGSeedSize]
}

// bcc is the CBC-MAC chaining function of Block_Cipher_df.
func bcc(block cipher.Block, data []byte) []byte {
	chain := make([]byte, aesBlockSize)
	for i := 0; i < len(data); i += aesBlockSize {
		for j := 0; j < aesBlockSize; j++ {
			chain[j] ^= data[i+j]
		}
		block.Encrypt(chain, chain)
	}
	return chain
}
