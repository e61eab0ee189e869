package crypto

import (
	"bytes"
	"testing"
)

// RFC 7748 Section 6.1.
const (
	rfc7748AlicePrivate = "77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a"
	rfc7748AlicePublic  = "8520f0098930a754748b7ddcb43ef75a0dbf3a0d26381af4eba4a98eaa9b4e6a"
	rfc7748BobPrivate   = "5dab087e624a8a4b79e17f8b83800ee66f3bb1292618b6fd1c2f8b27ff88e0eb"
	rfc7748BobPublic    = "de9edb7d7b7dc1b4d35b61c2ece435373f8343c85b78674dadfc7e146f882b4f"
	rfc7748Shared       = "4a5d9d5ba4ce2de1728e3bf480350f25e07e21c947d19e3376f09b3c1e161742"
)

func TestX25519RFC7748(t *testing.T) {
	alice, err := X25519KeyPairFromPrivateKey(mustHex(t, rfc7748AlicePrivate))
	if err != nil {
		t.Fatalf("X25519KeyPairFromPrivateKey failed: %v", err)
	}
	bob, err := X25519KeyPairFromPrivateKey(mustHex(t, rfc7748BobPrivate))
	if err != nil {
		t.Fatalf("X25519KeyPairFromPrivateKey failed: %v", err)
	}

	if got := alice.PublicKey(); !bytes.Equal(got, mustHex(t, rfc7748AlicePublic)) {
		t.Errorf("alice public = %x", got)
	}
	if got := bob.PublicKey(); !bytes.Equal(got, mustHex(t, rfc7748BobPublic)) {
		t.Errorf("bob public = %x", got)
	}
	if got := alice.DSK(); !bytes.Equal(got, mustHex(t, rfc7748AlicePublic)[:DSKSize]) {
		t.Errorf("alice DSK = %x", got)
	}

	s1, err := alice.SharedSecret(bob.PublicKey())
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}
	s2, err := bob.SharedSecret(alice.PublicKey())
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}
	want := mustHex(t, rfc7748Shared)
	if !bytes.Equal(s1, want) || !bytes.Equal(s2, want) {
		t.Errorf("shared secrets = %x / %x, want %x", s1, s2, want)
	}
}

func TestX25519InvalidInput(t *testing.T) {
	if _, err := X25519KeyPairFromPrivateKey(make([]byte, 31)); err != ErrInvalidPrivateKey {
		t.Errorf("got %v, want ErrInvalidPrivateKey", err)
	}

	kp, err := GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair failed: %v", err)
	}
	if _, err := kp.SharedSecret(make([]byte, 16)); err != ErrInvalidPublicKey {
		t.Errorf("short key: got %v, want ErrInvalidPublicKey", err)
	}
	// The all-zero point yields a low-order result and is rejected.
	if _, err := kp.SharedSecret(make([]byte, 32)); err != ErrInvalidPublicKey {
		t.Errorf("zero point: got %v, want ErrInvalidPublicKey", err)
	}
}
