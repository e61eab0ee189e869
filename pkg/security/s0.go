package security

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/backkem/zwave/pkg/crypto"
	"github.com/pion/logging"
)

// S0 nonce constants.
const (
	// DefaultS0NonceTimeout is how long an unused S0 nonce stays valid.
	DefaultS0NonceTimeout = 5 * time.Second

	// S0NonceSize is the length of an S0 nonce (half of the OFB IV).
	S0NonceSize = 8

	// maxNonceDraws bounds the random draws for an unused nonce ID. After
	// that the lowest free ID is taken.
	maxNonceDraws = 32
)

// NonceKey identifies an S0 nonce by the node that issued it and its ID,
// which is the first byte of the nonce.
type NonceKey struct {
	Issuer  NodeID
	NonceID uint8
}

// NonceEntry is a stored S0 nonce and the node it was handed to.
type NonceEntry struct {
	Nonce    []byte
	Receiver NodeID
}

// S0Config configures an S0Manager.
type S0Config struct {
	// OwnNodeID is the issuer of nonces created by GenerateNonce.
	OwnNodeID NodeID

	// NetworkKey is the optional initial S0 network key.
	NetworkKey []byte

	// NonceTimeout is the lifetime of a stored nonce.
	// Default: DefaultS0NonceTimeout (5s)
	NonceTimeout time.Duration

	// Rand is the source of nonce bytes.
	// Default: crypto/rand.Reader
	Rand io.Reader

	// LoggerFactory creates the "s0" logger. Logging is disabled when nil.
	LoggerFactory logging.LoggerFactory
}

type s0Nonce struct {
	NonceEntry
	timer *time.Timer
}

// S0Manager stores single-use Security 0 nonces, both the ones we issued
// and the ones peers issued to us. Every nonce expires after the configured
// timeout. It is safe for concurrent use.
type S0Manager struct {
	mu sync.Mutex

	ownNodeID NodeID
	timeout   time.Duration
	rand      io.Reader
	log       logging.LeveledLogger

	networkKey    []byte
	authKey       []byte
	encryptionKey []byte

	nonces map[NonceKey]*s0Nonce
	// free lists the keys of nonces not yet used, oldest first.
	free []NonceKey
}

// NewS0Manager creates an S0 nonce manager.
func NewS0Manager(config S0Config) (*S0Manager, error) {
	if config.NonceTimeout <= 0 {
		config.NonceTimeout = DefaultS0NonceTimeout
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}

	m := &S0Manager{
		ownNodeID: config.OwnNodeID,
		timeout:   config.NonceTimeout,
		rand:      config.Rand,
		nonces:    make(map[NonceKey]*s0Nonce),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("s0")
	}
	if config.NetworkKey != nil {
		if err := m.SetNetworkKey(config.NetworkKey); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetNetworkKey sets the S0 network key and derives the authentication and
// encryption keys from it.
func (m *S0Manager) SetNetworkKey(key []byte) error {
	if len(key) != crypto.NetworkKeySize {
		return fmt.Errorf("%w: network key must be %d bytes, got %d", ErrInvalidArgument, crypto.NetworkKeySize, len(key))
	}
	authKey, err := crypto.GenerateS0AuthKey(key)
	if err != nil {
		return err
	}
	encKey, err := crypto.GenerateS0EncryptionKey(key)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.networkKey = bytes.Clone(key)
	m.authKey = authKey
	m.encryptionKey = encKey
	return nil
}

// NetworkKey returns the S0 network key.
func (m *S0Manager) NetworkKey() ([]byte, error) {
	return m.key(func() []byte { return m.networkKey })
}

// AuthKey returns the key for S0 message authentication codes.
func (m *S0Manager) AuthKey() ([]byte, error) {
	return m.key(func() []byte { return m.authKey })
}

// EncryptionKey returns the key for S0 payload encryption.
func (m *S0Manager) EncryptionKey() ([]byte, error) {
	return m.key(func() []byte { return m.encryptionKey })
}

func (m *S0Manager) key(get func() []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := get()
	if k == nil {
		return nil, fmt.Errorf("%w: the S0 network key has not been set", ErrNotInitialized)
	}
	return bytes.Clone(k), nil
}

// NonceID returns the ID of a nonce, its first byte.
func NonceID(nonce []byte) uint8 {
	if len(nonce) == 0 {
		return 0
	}
	return nonce[0]
}

// OwnKey returns the key of a nonce issued by the local node.
func (m *S0Manager) OwnKey(nonceID uint8) NonceKey {
	return NonceKey{Issuer: m.ownNodeID, NonceID: nonceID}
}

// GenerateNonce creates a random nonce for receiver whose ID is not in use
// by another of our nonces, and stores it as not free. It fails with
// ErrNonceIDsExhausted while all 256 IDs are taken.
func (m *S0Manager) GenerateNonce(receiver NodeID, length int) ([]byte, error) {
	if length < 1 {
		return nil, fmt.Errorf("%w: nonce length must be positive", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inUse := make(map[uint8]bool)
	for key := range m.nonces {
		if key.Issuer == m.ownNodeID {
			inUse[key.NonceID] = true
		}
	}
	if len(inUse) > 0xff {
		return nil, fmt.Errorf("%w: %d nonces outstanding", ErrNonceIDsExhausted, len(inUse))
	}

	nonce := make([]byte, length)
	for draw := 0; ; draw++ {
		if _, err := io.ReadFull(m.rand, nonce); err != nil {
			return nil, fmt.Errorf("security: generating S0 nonce: %w", err)
		}
		if !inUse[NonceID(nonce)] {
			break
		}
		if draw == maxNonceDraws {
			nonce[0] = lowestFreeID(inUse)
			break
		}
	}

	m.setNonce(m.OwnKey(NonceID(nonce)), NonceEntry{Nonce: nonce, Receiver: receiver}, false)
	if m.log != nil {
		m.log.Tracef("generated S0 nonce %#02x for node %d", nonce[0], receiver)
	}
	return bytes.Clone(nonce), nil
}

func lowestFreeID(inUse map[uint8]bool) uint8 {
	for id := 0; id <= 0xff; id++ {
		if !inUse[uint8(id)] {
			return uint8(id)
		}
	}
	return 0
}

// SetNonce stores a nonce under key, replacing and un-timing any previous
// entry. A free nonce can later be claimed with GetFreeNonce.
func (m *S0Manager) SetNonce(key NonceKey, entry NonceEntry, free bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setNonce(key, NonceEntry{Nonce: bytes.Clone(entry.Nonce), Receiver: entry.Receiver}, free)
}

func (m *S0Manager) setNonce(key NonceKey, entry NonceEntry, free bool) {
	if old, ok := m.nonces[key]; ok {
		old.timer.Stop()
	}

	n := &s0Nonce{NonceEntry: entry}
	n.timer = time.AfterFunc(m.timeout, func() { m.expire(key, n) })
	m.nonces[key] = n

	if free {
		if !slices.Contains(m.free, key) {
			m.free = append(m.free, key)
		}
	} else {
		m.removeFree(key)
	}
}

// expire removes n if it is still the entry stored under key.
func (m *S0Manager) expire(key NonceKey, n *s0Nonce) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nonces[key] != n {
		return
	}
	m.deleteNonce(key)
	if m.log != nil {
		m.log.Tracef("S0 nonce %#02x of node %d expired", key.NonceID, key.Issuer)
	}
}

// GetNonce returns the nonce stored under key.
func (m *S0Manager) GetNonce(key NonceKey) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nonces[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(n.Nonce), true
}

// HasNonce reports whether a nonce is stored under key.
func (m *S0Manager) HasNonce(key NonceKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nonces[key]
	return ok
}

// GetFreeNonce claims the oldest free nonce issued by issuer. The nonce
// stays stored but can not be claimed again.
func (m *S0Manager) GetFreeNonce(issuer NodeID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, key := range m.free {
		if key.Issuer != issuer {
			continue
		}
		m.free = slices.Delete(m.free, i, i+1)
		if n, ok := m.nonces[key]; ok {
			return bytes.Clone(n.Nonce), true
		}
		return nil, false
	}
	return nil, false
}

// DeleteNonce deletes the nonce stored under key together with every other
// nonce handed to the same receiver. S0 allows only one outstanding nonce
// relationship per receiver.
func (m *S0Manager) DeleteNonce(key NonceKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.nonces[key]; ok {
		m.deleteAllNoncesForReceiver(n.Receiver)
	}
	m.deleteNonce(key)
}

// DeleteAllNoncesForReceiver deletes every nonce handed to receiver.
func (m *S0Manager) DeleteAllNoncesForReceiver(receiver NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteAllNoncesForReceiver(receiver)
}

func (m *S0Manager) deleteAllNoncesForReceiver(receiver NodeID) {
	for key, n := range m.nonces {
		if n.Receiver == receiver {
			m.deleteNonce(key)
		}
	}
}

func (m *S0Manager) deleteNonce(key NonceKey) {
	n, ok := m.nonces[key]
	if !ok {
		return
	}
	n.timer.Stop()
	delete(m.nonces, key)
	m.removeFree(key)
}

func (m *S0Manager) removeFree(key NonceKey) {
	if i := slices.Index(m.free, key); i >= 0 {
		m.free = slices.Delete(m.free, i, i+1)
	}
}

// Len returns the number of stored nonces.
func (m *S0Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nonces)
}

// Close stops all expiry timers and forgets every nonce.
func (m *S0Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.nonces {
		n.timer.Stop()
	}
	m.nonces = make(map[NonceKey]*s0Nonce)
	m.free = nil
}
