package crypto

import (
	"bytes"
	"errors"
)

// Key derivation sizes.
const (
	// NetworkKeySize is the size of an S0 network key or an S2 PNK.
	NetworkKeySize = 16

	// EntropyInputSize is the size of a sender or receiver entropy input.
	EntropyInputSize = 16

	// MEISize is the size of the mixed entropy input seeding a SPAN.
	MEISize = 32

	// PersonalizationStringSize is the size of an S2 personalization string.
	PersonalizationStringSize = 32
)

// Constant fill bytes of the S0 and S2 key derivation functions.
var (
	s0AuthKeyConstant = bytes.Repeat([]byte{0x55}, 16)
	s0EncKeyConstant  = bytes.Repeat([]byte{0xAA}, 16)

	constantNonce = bytes.Repeat([]byte{0x26}, 16) // CKDF-NonceExtract key
	constantPRK   = bytes.Repeat([]byte{0x33}, 16) // CKDF-TempExtract key
	constantNK    = bytes.Repeat([]byte{0x55}, 15) // CKDF-NetworkKeyExpand label
	constantTE    = bytes.Repeat([]byte{0x88}, 15) // CKDF-TempExpand label
	constantEI    = bytes.Repeat([]byte{0x88}, 15) // CKDF-MEI-Expand label
)

// Errors
var (
	ErrInvalidEntropyInput = errors.New("crypto: entropy input must be 16 bytes")
)

// NetworkKeys holds the key material derived from an S2 permanent network
// key (PNK).
type NetworkKeys struct {
	PNK                   []byte
	KeyCCM                []byte
	KeyMPAN               []byte
	PersonalizationString []byte
}

// TempKeys holds the temporary key material used while bootstrapping a
// node with S2.
type TempKeys struct {
	KeyCCM                []byte
	PersonalizationString []byte
}

// GenerateS0AuthKey derives the S0 authentication key from the network key.
func GenerateS0AuthKey(networkKey []byte) ([]byte, error) {
	return EncryptAES128ECB(s0AuthKeyConstant, networkKey)
}

// GenerateS0EncryptionKey derives the S0 encryption key from the network key.
func GenerateS0EncryptionKey(networkKey []byte) ([]byte, error) {
	return EncryptAES128ECB(s0EncKeyConstant, networkKey)
}

// ckdfExpand computes n chained blocks T_i = CMAC(key, T_{i-1} || label || i)
// with T_0 empty.
func ckdfExpand(key, label []byte, n int) ([][]byte, error) {
	out := make([][]byte, 0, n)
	var prev []byte
	for i := 1; i <= n; i++ {
		msg := make([]byte, 0, len(prev)+len(label)+1)
		msg = append(msg, prev...)
		msg = append(msg, label...)
		msg = append(msg, byte(i))

		t, err := ComputeCMAC(msg, key)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		prev = t
	}
	return out, nil
}

// DeriveNetworkKeys expands a PNK into the CCM key, the MPAN key and the
// personalization string of its security class.
func DeriveNetworkKeys(pnk []byte) (*NetworkKeys, error) {
	t, err := ckdfExpand(pnk, constantNK, 4)
	if err != nil {
		return nil, err
	}
	return &NetworkKeys{
		PNK:                   bytes.Clone(pnk),
		KeyCCM:                t[0],
		KeyMPAN:               t[3],
		PersonalizationString: append(t[1], t[2]...),
	}, nil
}

// ComputeNoncePRK extracts the nonce pseudo-random key from the sender and
// receiver entropy inputs. The order of the inputs matters.
func ComputeNoncePRK(senderEI, receiverEI []byte) ([]byte, error) {
	if len(senderEI) != EntropyInputSize || len(receiverEI) != EntropyInputSize {
		return nil, ErrInvalidEntropyInput
	}
	msg := make([]byte, 0, 2*EntropyInputSize)
	msg = append(msg, senderEI...)
	msg = append(msg, receiverEI...)
	return ComputeCMAC(msg, constantNonce)
}

// DeriveMEI expands the nonce PRK into the 32-byte mixed entropy input.
func DeriveMEI(noncePRK []byte) ([]byte, error) {
	first := make([]byte, 0, 2*len(constantEI)+2)
	first = append(first, constantEI...)
	first = append(first, 0x00)
	first = append(first, constantEI...)
	first = append(first, 0x01)

	t1, err := ComputeCMAC(first, noncePRK)
	if err != nil {
		return nil, err
	}

	second := make([]byte, 0, len(t1)+len(constantEI)+1)
	second = append(second, t1...)
	second = append(second, constantEI...)
	second = append(second, 0x02)

	t2, err := ComputeCMAC(second, noncePRK)
	if err != nil {
		return nil, err
	}
	return append(t1, t2...), nil
}

// ComputePRK extracts the bootstrapping PRK from the ECDH shared secret and
// both public keys (including node's key first, joining node's key second).
func ComputePRK(sharedSecret, publicKeyA, publicKeyB []byte) ([]byte, error) {
	msg := make([]byte, 0, len(sharedSecret)+len(publicKeyA)+len(publicKeyB))
	msg = append(msg, sharedSecret...)
	msg = append(msg, publicKeyA...)
	msg = append(msg, publicKeyB...)
	return ComputeCMAC(msg, constantPRK)
}

// DeriveTempKeys expands the bootstrapping PRK into the temporary CCM key
// and personalization string.
func DeriveTempKeys(prk []byte) (*TempKeys, error) {
	t, err := ckdfExpand(prk, constantTE, 3)
	if err != nil {
		return nil, err
	}
	return &TempKeys{
		KeyCCM:                t[0],
		PersonalizationString: append(t[1], t[2]...),
	}, nil
}
