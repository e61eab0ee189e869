package security

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/backkem/zwave/pkg/crypto"
	"github.com/pion/logging"
)

// S2 session constants.
const (
	// SPANExpiry is how long a stored SPAN stays usable for correlating a
	// sent frame with the following response.
	SPANExpiry = 500 * time.Millisecond

	// NonceSize is the size of a SPAN or MPAN as used for AES-CCM.
	NonceSize = crypto.AESCCMNonceSize

	// EntropyInputSize is the size of a sender or receiver entropy input.
	EntropyInputSize = crypto.EntropyInputSize

	// MPANStateSize is the size of the inner MPAN state.
	MPANStateSize = 16
)

// S2Config configures an S2Manager.
type S2Config struct {
	// Rand provides the seed of the top-level nonce generator and the random
	// start values of sequence numbers.
	// Default: crypto/rand.Reader
	Rand io.Reader

	// Now returns the current time and is used for SPAN expiry.
	// Default: time.Now
	Now func() time.Time

	// LoggerFactory creates the "s2" logger. Logging is disabled when nil.
	LoggerFactory logging.LoggerFactory
}

// SPANEntry is a snapshot of the SPAN table entry of one peer.
type SPANEntry struct {
	State SPANState

	// ReceiverEI is set in the RemoteEI and LocalEI states.
	ReceiverEI []byte

	// SecurityClass is set in the SPAN state. It is SecurityClassTemporary
	// for a SPAN established during bootstrapping.
	SecurityClass SecurityClass
}

type spanNonce struct {
	nonce   []byte
	expires time.Time
}

type spanEntry struct {
	SPANEntry
	rng     *crypto.CtrDRBG
	current *spanNonce
}

// S2Manager holds the Security 2 state of the local node: network keys per
// security class, the SPAN table, own and peer MPANs, multicast groups and
// sequence numbers.
//
// All methods are safe for concurrent use. A single mutex serializes every
// operation; note that handshakes span several calls
// (GenerateNonceFor, StoreRemoteEI, InitializeSPAN) which are not atomic
// as a whole.
type S2Manager struct {
	mu sync.Mutex

	rand io.Reader
	now  func() time.Time
	log  logging.LeveledLogger

	// rng is the top-level generator for entropy inputs and MPAN states.
	rng *crypto.CtrDRBG

	networkKeys map[SecurityClass]*crypto.NetworkKeys
	tempKeys    map[NodeID]*crypto.TempKeys
	spanTable   map[NodeID]*spanEntry

	ownSequenceNumbers  map[NodeID]uint8
	peerSequenceNumbers map[NodeID]*receptionHistory

	groupIDCounter       uint8
	multicastGroups      map[uint8]*MulticastGroup
	multicastGroupLookup map[string]uint8
	mpanStates           map[uint8][]byte
	peerMPANs            map[NodeID]map[uint8]*MPANEntry
}

// NewS2Manager creates a manager and seeds its top-level CTR_DRBG with 32
// random bytes and an all-zero personalization string.
func NewS2Manager(config S2Config) (*S2Manager, error) {
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	entropy := make([]byte, crypto.DRBGSeedSize)
	if _, err := io.ReadFull(config.Rand, entropy); err != nil {
		return nil, fmt.Errorf("security: seeding S2 generator: %w", err)
	}
	rng := crypto.NewCtrDRBG(false)
	if err := rng.Init(entropy, nil, make([]byte, crypto.PersonalizationStringSize)); err != nil {
		return nil, err
	}

	m := &S2Manager{
		rand:                 config.Rand,
		now:                  config.Now,
		rng:                  rng,
		networkKeys:          make(map[SecurityClass]*crypto.NetworkKeys),
		tempKeys:             make(map[NodeID]*crypto.TempKeys),
		spanTable:            make(map[NodeID]*spanEntry),
		ownSequenceNumbers:   make(map[NodeID]uint8),
		peerSequenceNumbers:  make(map[NodeID]*receptionHistory),
		multicastGroups:      make(map[uint8]*MulticastGroup),
		multicastGroupLookup: make(map[string]uint8),
		mpanStates:           make(map[uint8][]byte),
		peerMPANs:            make(map[NodeID]map[uint8]*MPANEntry),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("s2")
	}
	return m, nil
}

// SetKey sets the permanent network key of a security class and derives
// the CCM key, MPAN key and personalization string from it.
func (m *S2Manager) SetKey(class SecurityClass, key []byte) error {
	if len(key) != crypto.NetworkKeySize {
		return fmt.Errorf("%w: network key must be %d bytes, got %d", ErrInvalidArgument, crypto.NetworkKeySize, len(key))
	}
	if !class.IsValid() {
		return fmt.Errorf("%w: invalid security class %s", ErrInvalidArgument, class)
	}

	keys, err := crypto.DeriveNetworkKeys(key)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.networkKeys[class] = keys
	if m.log != nil {
		m.log.Debugf("network key set for %s", class)
	}
	return nil
}

// HasKeysForSecurityClass reports whether a network key is set for class.
func (m *S2Manager) HasKeysForSecurityClass(class SecurityClass) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.networkKeys[class]
	return ok
}

// KeysForSecurityClass returns the keys derived for class.
func (m *S2Manager) KeysForSecurityClass(class SecurityClass) (*crypto.NetworkKeys, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keysForSecurityClass(class)
}

func (m *S2Manager) keysForSecurityClass(class SecurityClass) (*crypto.NetworkKeys, error) {
	if !class.IsValid() {
		return nil, fmt.Errorf("%w: invalid security class %s", ErrInvalidArgument, class)
	}
	keys, ok := m.networkKeys[class]
	if !ok {
		return nil, fmt.Errorf("%w: the network key for %s has not been set up yet", ErrNotInitialized, class)
	}
	return keys, nil
}

// KeysForNode returns the keys used with peer according to its SPAN. For a
// temporary SPAN established during bootstrapping the temporary keys are
// returned; their KeyMPAN and PNK are nil.
func (m *S2Manager) KeysForNode(peer NodeID) (*crypto.NetworkKeys, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keysForNode(peer)
}

func (m *S2Manager) keysForNode(peer NodeID) (*crypto.NetworkKeys, error) {
	entry, ok := m.spanTable[peer]
	if !ok || entry.State != SPANStateSPAN {
		return nil, fmt.Errorf("%w: security class for node %d is not yet known", ErrNotInitialized, peer)
	}

	if entry.SecurityClass == SecurityClassTemporary {
		temp, ok := m.tempKeys[peer]
		if !ok {
			return nil, fmt.Errorf("%w: temporary network keys for node %d are not set up", ErrNotInitialized, peer)
		}
		return &crypto.NetworkKeys{
			KeyCCM:                temp.KeyCCM,
			PersonalizationString: temp.PersonalizationString,
		}, nil
	}
	return m.keysForSecurityClass(entry.SecurityClass)
}

// SetTempKeys stores the temporary keys negotiated with peer during
// bootstrapping.
func (m *S2Manager) SetTempKeys(peer NodeID, keys *crypto.TempKeys) error {
	if keys == nil || len(keys.KeyCCM) != crypto.AESCCMKeySize ||
		len(keys.PersonalizationString) != crypto.PersonalizationStringSize {
		return fmt.Errorf("%w: incomplete temporary keys", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempKeys[peer] = keys
	return nil
}

// DeleteTempKeys forgets the temporary keys of peer.
func (m *S2Manager) DeleteTempKeys(peer NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tempKeys, peer)
}

// GenerateNonce returns a fresh 16-byte entropy input without recording it.
func (m *S2Manager) GenerateNonce() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Generate(EntropyInputSize, nil)
}

// GenerateNonceFor returns a fresh receiver entropy input for receiver and
// moves its SPAN to LocalEI, replacing any previous state. Starting a new
// handshake invalidates the old one.
func (m *S2Manager) GenerateNonceFor(receiver NodeID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ei, err := m.rng.Generate(EntropyInputSize, nil)
	if err != nil {
		return nil, err
	}
	m.spanTable[receiver] = &spanEntry{SPANEntry: SPANEntry{
		State:      SPANStateLocalEI,
		ReceiverEI: bytes.Clone(ei),
	}}
	if m.log != nil {
		m.log.Tracef("generated receiver EI for node %d", receiver)
	}
	return ei, nil
}

// StoreRemoteEI records the entropy input received from peer and moves its
// SPAN to RemoteEI.
func (m *S2Manager) StoreRemoteEI(peer NodeID, remoteEI []byte) error {
	if len(remoteEI) != EntropyInputSize {
		return fmt.Errorf("%w: entropy input must be %d bytes, got %d", ErrInvalidArgument, EntropyInputSize, len(remoteEI))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.spanTable[peer] = &spanEntry{SPANEntry: SPANEntry{
		State:      SPANStateRemoteEI,
		ReceiverEI: bytes.Clone(remoteEI),
	}}
	return nil
}

// InitializeSPAN establishes the singlecast nonce generator with peer from
// both entropy inputs, using the personalization string of class.
func (m *S2Manager) InitializeSPAN(peer NodeID, class SecurityClass, senderEI, receiverEI []byte) error {
	if err := checkEntropyInputs(senderEI, receiverEI); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	keys, err := m.keysForSecurityClass(class)
	if err != nil {
		return err
	}
	return m.initializeSPAN(peer, class, keys.PersonalizationString, senderEI, receiverEI)
}

// InitializeTempSPAN establishes a SPAN with peer using the temporary keys
// set with SetTempKeys.
func (m *S2Manager) InitializeTempSPAN(peer NodeID, senderEI, receiverEI []byte) error {
	if err := checkEntropyInputs(senderEI, receiverEI); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	temp, ok := m.tempKeys[peer]
	if !ok {
		return fmt.Errorf("%w: temporary network keys for node %d are not set up", ErrNotInitialized, peer)
	}
	return m.initializeSPAN(peer, SecurityClassTemporary, temp.PersonalizationString, senderEI, receiverEI)
}

func (m *S2Manager) initializeSPAN(peer NodeID, class SecurityClass, personalization, senderEI, receiverEI []byte) error {
	prk, err := crypto.ComputeNoncePRK(senderEI, receiverEI)
	if err != nil {
		return err
	}
	mei, err := crypto.DeriveMEI(prk)
	if err != nil {
		return err
	}

	rng := crypto.NewCtrDRBG(false)
	if err := rng.Init(mei, nil, personalization); err != nil {
		return err
	}

	m.spanTable[peer] = &spanEntry{
		SPANEntry: SPANEntry{State: SPANStateSPAN, SecurityClass: class},
		rng:       rng,
	}
	if m.log != nil {
		m.log.Debugf("SPAN established with node %d (%s)", peer, class)
	}
	return nil
}

func checkEntropyInputs(senderEI, receiverEI []byte) error {
	if len(senderEI) != EntropyInputSize {
		return fmt.Errorf("%w: sender EI must be %d bytes, got %d", ErrInvalidArgument, EntropyInputSize, len(senderEI))
	}
	if len(receiverEI) != EntropyInputSize {
		return fmt.Errorf("%w: receiver EI must be %d bytes, got %d", ErrInvalidArgument, EntropyInputSize, len(receiverEI))
	}
	return nil
}

// SPANState returns a snapshot of the SPAN table entry of peer.
func (m *S2Manager) SPANState(peer NodeID) SPANEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.spanTable[peer]
	if !ok {
		return SPANEntry{State: SPANStateNone}
	}
	snapshot := entry.SPANEntry
	snapshot.ReceiverEI = bytes.Clone(entry.ReceiverEI)
	return snapshot
}

// DeleteNonce resets the SPAN of receiver and forgets the sequence numbers
// received from it.
func (m *S2Manager) DeleteNonce(receiver NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.spanTable, receiver)
	delete(m.peerSequenceNumbers, receiver)
	if m.log != nil {
		m.log.Tracef("SPAN with node %d deleted", receiver)
	}
}

// NextNonce draws the next 13-byte SPAN for peer. When store is set the
// nonce is also kept for SPANExpiry so that CurrentSPAN can return it;
// otherwise any stored nonce is discarded.
func (m *S2Manager) NextNonce(peer NodeID, store bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.spanTable[peer]
	if !ok || entry.State != SPANStateSPAN {
		return nil, fmt.Errorf("%w: the singlecast PAN has not been initialized for node %d", ErrNotInitialized, peer)
	}

	out, err := entry.rng.Generate(crypto.AESCCMKeySize, nil)
	if err != nil {
		return nil, err
	}
	nonce := out[:NonceSize]

	entry.current = nil
	if store {
		entry.current = &spanNonce{
			nonce:   bytes.Clone(nonce),
			expires: m.now().Add(SPANExpiry),
		}
	}
	return nonce, nil
}

// CurrentSPAN returns the nonce stored by the last NextNonce(peer, true)
// call if it has not expired. An expired nonce is discarded.
func (m *S2Manager) CurrentSPAN(peer NodeID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.spanTable[peer]
	if !ok || entry.current == nil {
		return nil, false
	}
	if !m.now().Before(entry.current.expires) {
		entry.current = nil
		return nil, false
	}
	return bytes.Clone(entry.current.nonce), true
}

// randomByte returns a uniformly random byte from the configured source,
// falling back to the top-level generator.
func (m *S2Manager) randomByte() uint8 {
	var b [1]byte
	if _, err := io.ReadFull(m.rand, b[:]); err == nil {
		return b[0]
	}
	// rng is instantiated by NewS2Manager and gets no additional input, so
	// Generate cannot fail.
	out, _ := m.rng.Generate(1, nil)
	return out[0]
}
