package security

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
)

var testNetworkKey = []byte{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
}

func newTestS0Manager(t *testing.T, config S0Config) *S0Manager {
	t.Helper()
	m, err := NewS0Manager(config)
	if err != nil {
		t.Fatalf("NewS0Manager failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestS0Keys(t *testing.T) {
	m := newTestS0Manager(t, S0Config{OwnNodeID: 1})

	if _, err := m.AuthKey(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("AuthKey before key set: got %v, want ErrNotInitialized", err)
	}
	if err := m.SetNetworkKey(testNetworkKey[:8]); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("short key: got %v, want ErrInvalidArgument", err)
	}
	if err := m.SetNetworkKey(testNetworkKey); err != nil {
		t.Fatalf("SetNetworkKey failed: %v", err)
	}

	auth, err := m.AuthKey()
	if err != nil {
		t.Fatalf("AuthKey failed: %v", err)
	}
	enc, err := m.EncryptionKey()
	if err != nil {
		t.Fatalf("EncryptionKey failed: %v", err)
	}
	if len(auth) != 16 || len(enc) != 16 || bytes.Equal(auth, enc) {
		t.Errorf("unexpected derived keys %x / %x", auth, enc)
	}
	if nk, _ := m.NetworkKey(); !bytes.Equal(nk, testNetworkKey) {
		t.Errorf("NetworkKey = %x", nk)
	}
}

func TestS0GenerateNonce(t *testing.T) {
	// The second draw repeats ID 0x01 and has to be redrawn.
	script := []byte{
		0x01, 1, 1, 1, 1, 1, 1, 1,
		0x01, 2, 2, 2, 2, 2, 2, 2,
		0x02, 3, 3, 3, 3, 3, 3, 3,
	}
	m := newTestS0Manager(t, S0Config{OwnNodeID: 1, Rand: bytes.NewReader(script)})

	first, err := m.GenerateNonce(5, S0NonceSize)
	if err != nil {
		t.Fatalf("GenerateNonce failed: %v", err)
	}
	second, err := m.GenerateNonce(6, S0NonceSize)
	if err != nil {
		t.Fatalf("GenerateNonce failed: %v", err)
	}

	if NonceID(first) != 0x01 || NonceID(second) != 0x02 {
		t.Fatalf("nonce IDs = %#x, %#x, want 0x01, 0x02", NonceID(first), NonceID(second))
	}
	if !bytes.Equal(second, script[16:]) {
		t.Errorf("second nonce = %x, want %x", second, script[16:])
	}

	got, ok := m.GetNonce(m.OwnKey(0x02))
	if !ok || !bytes.Equal(got, second) {
		t.Errorf("GetNonce = %x, %v", got, ok)
	}
	// Own nonces are not free.
	if _, ok := m.GetFreeNonce(1); ok {
		t.Error("generated nonce must not be free")
	}

	if _, err := m.GenerateNonce(5, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero length: got %v, want ErrInvalidArgument", err)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestS0GenerateNonceLowestFreeID(t *testing.T) {
	m := newTestS0Manager(t, S0Config{OwnNodeID: 1, Rand: zeroReader{}})

	for want := uint8(0); want < 3; want++ {
		nonce, err := m.GenerateNonce(NodeID(want)+2, S0NonceSize)
		if err != nil {
			t.Fatalf("GenerateNonce failed: %v", err)
		}
		if NonceID(nonce) != want {
			t.Errorf("nonce ID = %#x, want %#x", NonceID(nonce), want)
		}
	}
}

func TestS0NonceIDsExhausted(t *testing.T) {
	defer test.CheckRoutines(t)()

	m := newTestS0Manager(t, S0Config{OwnNodeID: 1, NonceTimeout: 100 * time.Millisecond})
	for i := 0; i < 256; i++ {
		if _, err := m.GenerateNonce(NodeID(i+2), S0NonceSize); err != nil {
			t.Fatalf("GenerateNonce #%d failed: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.GenerateNonce(300, S0NonceSize)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrNonceIDsExhausted) {
			t.Fatalf("got %v, want ErrNonceIDsExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GenerateNonce blocked with all IDs in use")
	}

	// expiry frees the IDs again
	deadline := time.Now().Add(2 * time.Second)
	for m.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d nonces did not expire", m.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := m.GenerateNonce(300, S0NonceSize); err != nil {
		t.Errorf("GenerateNonce after expiry: %v", err)
	}
	m.Close()
}

func TestS0FreeNonces(t *testing.T) {
	m := newTestS0Manager(t, S0Config{OwnNodeID: 1})

	a := NonceEntry{Nonce: []byte{0xa0, 1, 2, 3, 4, 5, 6, 7}, Receiver: 1}
	b := NonceEntry{Nonce: []byte{0xb0, 1, 2, 3, 4, 5, 6, 7}, Receiver: 1}
	c := NonceEntry{Nonce: []byte{0xc0, 1, 2, 3, 4, 5, 6, 7}, Receiver: 1}
	m.SetNonce(NonceKey{Issuer: 7, NonceID: 0xa0}, a, true)
	m.SetNonce(NonceKey{Issuer: 8, NonceID: 0xb0}, b, true)
	m.SetNonce(NonceKey{Issuer: 7, NonceID: 0xc0}, c, true)

	got, ok := m.GetFreeNonce(7)
	if !ok || !bytes.Equal(got, a.Nonce) {
		t.Fatalf("first free nonce = %x, %v, want %x", got, ok, a.Nonce)
	}
	got, ok = m.GetFreeNonce(7)
	if !ok || !bytes.Equal(got, c.Nonce) {
		t.Fatalf("second free nonce = %x, %v, want %x", got, ok, c.Nonce)
	}
	if _, ok := m.GetFreeNonce(7); ok {
		t.Error("free nonces of issuer 7 should be exhausted")
	}
	// Claimed nonces are still stored.
	if !m.HasNonce(NonceKey{Issuer: 7, NonceID: 0xa0}) {
		t.Error("claimed nonce should still be stored")
	}
}

func TestS0DeleteNonceDeletesReceiver(t *testing.T) {
	m := newTestS0Manager(t, S0Config{OwnNodeID: 1})

	k1 := NonceKey{Issuer: 1, NonceID: 0x11}
	k2 := NonceKey{Issuer: 1, NonceID: 0x22}
	k3 := NonceKey{Issuer: 1, NonceID: 0x33}
	m.SetNonce(k1, NonceEntry{Nonce: []byte{0x11}, Receiver: 4}, false)
	m.SetNonce(k2, NonceEntry{Nonce: []byte{0x22}, Receiver: 4}, false)
	m.SetNonce(k3, NonceEntry{Nonce: []byte{0x33}, Receiver: 5}, false)

	m.DeleteNonce(k1)
	if m.HasNonce(k1) || m.HasNonce(k2) {
		t.Error("nonces of receiver 4 should be deleted")
	}
	if !m.HasNonce(k3) {
		t.Error("nonce of receiver 5 should be kept")
	}

	m.DeleteAllNoncesForReceiver(5)
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}

	// Deleting an unknown key is a no-op.
	m.DeleteNonce(NonceKey{Issuer: 9, NonceID: 9})
}

func TestS0NonceExpiry(t *testing.T) {
	defer test.CheckRoutines(t)()

	m := newTestS0Manager(t, S0Config{OwnNodeID: 1, NonceTimeout: 20 * time.Millisecond})
	key := NonceKey{Issuer: 2, NonceID: 0x42}
	m.SetNonce(key, NonceEntry{Nonce: []byte{0x42}, Receiver: 1}, true)

	deadline := time.Now().Add(time.Second)
	for m.HasNonce(key) {
		if time.Now().After(deadline) {
			t.Fatal("nonce did not expire")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := m.GetFreeNonce(2); ok {
		t.Error("expired nonce must not be free")
	}
}

func TestS0StaleTimerKeepsNewerEntry(t *testing.T) {
	m := newTestS0Manager(t, S0Config{OwnNodeID: 1, NonceTimeout: time.Hour})
	key := NonceKey{Issuer: 2, NonceID: 0x42}

	m.SetNonce(key, NonceEntry{Nonce: []byte{0x42, 0x01}, Receiver: 1}, false)
	m.mu.Lock()
	old := m.nonces[key]
	m.mu.Unlock()

	m.SetNonce(key, NonceEntry{Nonce: []byte{0x42, 0x02}, Receiver: 1}, false)

	// A callback of the replaced entry must not remove the new one.
	m.expire(key, old)
	got, ok := m.GetNonce(key)
	if !ok || !bytes.Equal(got, []byte{0x42, 0x02}) {
		t.Errorf("GetNonce = %x, %v, want newer entry", got, ok)
	}
	if old.timer.Stop() {
		t.Error("timer of replaced entry should already be stopped")
	}
}
