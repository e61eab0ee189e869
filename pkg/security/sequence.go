package security

import "slices"

// SinglecastSequenceWindow is the number of received sequence numbers
// remembered per peer for duplicate detection.
const SinglecastSequenceWindow = 10

// receptionHistory is the FIFO of the last sequence numbers received from
// one peer.
type receptionHistory struct {
	seqs []uint8
}

// contains reports whether seq is among the remembered sequence numbers.
func (h *receptionHistory) contains(seq uint8) bool {
	return slices.Contains(h.seqs, seq)
}

// push remembers seq, evicting the oldest entry once the window is full.
// It returns the previously newest sequence number.
func (h *receptionHistory) push(seq uint8) (prev uint8, ok bool) {
	if n := len(h.seqs); n > 0 {
		prev, ok = h.seqs[n-1], true
	}
	h.seqs = append(h.seqs, seq)
	if len(h.seqs) > SinglecastSequenceWindow {
		h.seqs = slices.Delete(h.seqs, 0, 1)
	}
	return prev, ok
}

// NextSequenceNumber returns the next outgoing singlecast sequence number
// for peer. The first value per peer is random, later values increment
// modulo 256.
func (m *S2Manager) NextSequenceNumber(peer NodeID) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.ownSequenceNumbers[peer]
	if ok {
		seq++
	} else {
		seq = m.randomByte()
	}
	m.ownSequenceNumbers[peer] = seq
	return seq
}

// NextMulticastSequenceNumber returns the next outgoing sequence number of
// a multicast group.
func (m *S2Manager) NextMulticastSequenceNumber(groupID uint8) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.multicastGroups[groupID]
	if !ok {
		return 0, errGroupMissing(groupID)
	}
	group.SequenceNumber++
	return group.SequenceNumber, nil
}

// IsDuplicateSinglecast reports whether seq is among the last
// SinglecastSequenceWindow sequence numbers stored for peer.
func (m *S2Manager) IsDuplicateSinglecast(peer NodeID, seq uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.peerSequenceNumbers[peer]
	return ok && h.contains(seq)
}

// StoreSequenceNumber records a sequence number received from peer and
// returns the previously stored one, if any.
func (m *S2Manager) StoreSequenceNumber(peer NodeID, seq uint8) (prev uint8, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, exists := m.peerSequenceNumbers[peer]
	if !exists {
		h = &receptionHistory{}
		m.peerSequenceNumbers[peer] = h
	}
	return h.push(seq)
}
