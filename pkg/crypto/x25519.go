package crypto

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

// X25519 sizes used by S2 key exchange.
const (
	// X25519KeySize is the size of an X25519 private or public key.
	X25519KeySize = curve25519.ScalarSize

	// DSKSize is the length of the device specific key, the first 16 bytes
	// of a node's public key.
	DSKSize = 16
)

// Errors
var (
	ErrInvalidPrivateKey = errors.New("x25519: invalid private key size")
	ErrInvalidPublicKey  = errors.New("x25519: invalid public key")
)

// X25519KeyPair is a Curve25519 key pair used for S2 bootstrapping.
type X25519KeyPair struct {
	private [X25519KeySize]byte
	public  [X25519KeySize]byte
}

// GenerateX25519KeyPair generates a new key pair from crypto/rand.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	return GenerateX25519KeyPairFrom(rand.Reader)
}

// GenerateX25519KeyPairFrom generates a new key pair reading the private
// scalar from r.
func GenerateX25519KeyPairFrom(r io.Reader) (*X25519KeyPair, error) {
	priv := make([]byte, X25519KeySize)
	if _, err := io.ReadFull(r, priv); err != nil {
		return nil, err
	}
	return X25519KeyPairFromPrivateKey(priv)
}

// X25519KeyPairFromPrivateKey reconstructs a key pair from a 32-byte
// private key.
func X25519KeyPairFromPrivateKey(privateKey []byte) (*X25519KeyPair, error) {
	if len(privateKey) != X25519KeySize {
		return nil, ErrInvalidPrivateKey
	}
	pub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	kp := &X25519KeyPair{}
	copy(kp.private[:], privateKey)
	copy(kp.public[:], pub)
	return kp, nil
}

// PublicKey returns the 32-byte public key.
func (kp *X25519KeyPair) PublicKey() []byte {
	out := make([]byte, X25519KeySize)
	copy(out, kp.public[:])
	return out
}

// PrivateKey returns the 32-byte private key.
func (kp *X25519KeyPair) PrivateKey() []byte {
	out := make([]byte, X25519KeySize)
	copy(out, kp.private[:])
	return out
}

// DSK returns the device specific key derived from the public key.
func (kp *X25519KeyPair) DSK() []byte {
	out := make([]byte, DSKSize)
	copy(out, kp.public[:DSKSize])
	return out
}

// SharedSecret computes the ECDH shared secret with the peer's public key.
func (kp *X25519KeyPair) SharedSecret(peerPublicKey []byte) ([]byte, error) {
	if len(peerPublicKey) != X25519KeySize {
		return nil, ErrInvalidPublicKey
	}
	secret, err := curve25519.X25519(kp.private[:], peerPublicKey)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return secret, nil
}
