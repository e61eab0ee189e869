package security

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/backkem/zwave/pkg/bitmask"
	"github.com/backkem/zwave/pkg/crypto"
)

// MulticastGroup is a set of nodes addressed with S2 multicast.
type MulticastGroup struct {
	// NodeIDs is sorted and free of duplicates.
	NodeIDs        []NodeID
	SecurityClass  SecurityClass
	SequenceNumber uint8
}

// MPANEntry is the multicast nonce state of a peer for one group.
type MPANEntry struct {
	State MPANState

	// CurrentMPAN is the 16-byte inner MPAN state in the MPAN state.
	CurrentMPAN []byte
}

func errGroupMissing(groupID uint8) error {
	return fmt.Errorf("%w: multicast group %d does not exist", ErrNotInitialized, groupID)
}

// groupHash identifies a set of nodes by the hex form of its node bit mask.
func groupHash(nodeIDs []NodeID) string {
	ids := make([]int, len(nodeIDs))
	for i, id := range nodeIDs {
		ids[i] = int(id)
	}
	return hex.EncodeToString(bitmask.EncodeNodes(ids))
}

// CreateMulticastGroup returns the ID of the multicast group for nodeIDs.
// A group with the same members is reused. Otherwise the next ID of a
// wrapping 8-bit counter is assigned; if that ID still belongs to an older
// group, the old group, its lookup entry and its MPAN state are replaced in
// one step.
func (m *S2Manager) CreateMulticastGroup(nodeIDs []NodeID, class SecurityClass) (uint8, error) {
	if len(nodeIDs) == 0 {
		return 0, fmt.Errorf("%w: multicast group without nodes", ErrInvalidArgument)
	}
	if !class.IsS2() {
		return 0, fmt.Errorf("%w: multicast requires an S2 security class, got %s", ErrInvalidArgument, class)
	}

	members := slices.Clone(nodeIDs)
	slices.Sort(members)
	members = slices.Compact(members)
	hash := groupHash(members)

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.multicastGroupLookup[hash]; ok {
		return id, nil
	}

	m.groupIDCounter++
	id := m.groupIDCounter
	m.replaceGroup(id, hash, &MulticastGroup{
		NodeIDs:        members,
		SecurityClass:  class,
		SequenceNumber: m.randomByte(),
	})
	return id, nil
}

// replaceGroup installs group under id and drops every piece of state
// belonging to a previous occupant of id.
func (m *S2Manager) replaceGroup(id uint8, hash string, group *MulticastGroup) {
	if old, ok := m.multicastGroups[id]; ok {
		delete(m.multicastGroupLookup, groupHash(old.NodeIDs))
		if m.log != nil {
			m.log.Debugf("multicast group %d reassigned", id)
		}
	}
	delete(m.mpanStates, id)

	m.multicastGroups[id] = group
	m.multicastGroupLookup[hash] = id
}

// MulticastGroup returns a copy of the group with the given ID.
func (m *S2Manager) MulticastGroup(groupID uint8) (MulticastGroup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.multicastGroups[groupID]
	if !ok {
		return MulticastGroup{}, false
	}
	g := *group
	g.NodeIDs = slices.Clone(group.NodeIDs)
	return g, true
}

// InnerMPANState returns a copy of our own MPAN state for a group, creating
// it from 16 random bytes on first use.
func (m *S2Manager) InnerMPANState(groupID uint8) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.innerMPANState(groupID)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(state), nil
}

func (m *S2Manager) innerMPANState(groupID uint8) ([]byte, error) {
	if state, ok := m.mpanStates[groupID]; ok {
		return state, nil
	}
	if _, ok := m.multicastGroups[groupID]; !ok {
		return nil, errGroupMissing(groupID)
	}

	state, err := m.rng.Generate(MPANStateSize, nil)
	if err != nil {
		return nil, err
	}
	m.mpanStates[groupID] = state
	return state, nil
}

// MulticastKeyAndIV returns the CCM key of the group's security class and
// the next MPAN. The MPAN is the inner state encrypted with KeyMPAN,
// truncated to 13 bytes; the inner state is incremented afterwards.
func (m *S2Manager) MulticastKeyAndIV(groupID uint8) (key, iv []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.multicastGroups[groupID]
	if !ok {
		return nil, nil, errGroupMissing(groupID)
	}
	keys, err := m.keysForSecurityClass(group.SecurityClass)
	if err != nil {
		return nil, nil, err
	}
	state, err := m.innerMPANState(groupID)
	if err != nil {
		return nil, nil, err
	}

	iv, err = nextMPAN(state, keys.KeyMPAN)
	if err != nil {
		return nil, nil, err
	}
	return bytes.Clone(keys.KeyCCM), iv, nil
}

// nextMPAN derives the MPAN from state and then increments state in place.
func nextMPAN(state, keyMPAN []byte) ([]byte, error) {
	enc, err := crypto.EncryptAES128ECB(state, keyMPAN)
	if err != nil {
		return nil, err
	}
	crypto.IncrementBigEndian(state)
	return enc[:NonceSize], nil
}

// PeerMPAN returns the multicast nonce state of peer for a group.
func (m *S2Manager) PeerMPAN(peer NodeID, groupID uint8) MPANEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.peerMPANs[peer][groupID]
	if !ok {
		return MPANEntry{State: MPANStateNone}
	}
	return MPANEntry{State: entry.State, CurrentMPAN: bytes.Clone(entry.CurrentMPAN)}
}

// StorePeerMPAN records the multicast nonce state of peer for a group.
func (m *S2Manager) StorePeerMPAN(peer NodeID, groupID uint8, entry MPANEntry) error {
	if entry.State == MPANStateMPAN && len(entry.CurrentMPAN) != MPANStateSize {
		return fmt.Errorf("%w: MPAN state must be %d bytes, got %d", ErrInvalidArgument, MPANStateSize, len(entry.CurrentMPAN))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	groups, ok := m.peerMPANs[peer]
	if !ok {
		groups = make(map[uint8]*MPANEntry)
		m.peerMPANs[peer] = groups
	}
	groups[groupID] = &MPANEntry{State: entry.State, CurrentMPAN: bytes.Clone(entry.CurrentMPAN)}
	return nil
}

// ResetOutOfSyncMPANs forgets every out-of-sync MPAN of peer. Established
// MPANs are kept.
func (m *S2Manager) ResetOutOfSyncMPANs(peer NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for groupID, entry := range m.peerMPANs[peer] {
		if entry.State == MPANStateOutOfSync {
			delete(m.peerMPANs[peer], groupID)
		}
	}
}

// NextPeerMPAN derives the next MPAN of a group as sent by peer, using the
// MPAN key of the peer's security class.
func (m *S2Manager) NextPeerMPAN(peer NodeID, groupID uint8) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.peerMPANs[peer][groupID]
	if !ok || entry.State != MPANStateMPAN {
		return nil, fmt.Errorf("%w: no peer multicast PAN exists for node %d, group %d", ErrNotInitialized, peer, groupID)
	}
	keys, err := m.keysForNode(peer)
	if err != nil {
		return nil, err
	}
	if keys.KeyMPAN == nil {
		return nil, fmt.Errorf("%w: the network keys for the security class of node %d have not been set up yet", ErrNotInitialized, peer)
	}
	return nextMPAN(entry.CurrentMPAN, keys.KeyMPAN)
}
