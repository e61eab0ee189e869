// Package security manages Z-Wave Security 0 and Security 2 session state.
//
// The package keeps the per-peer nonce tables, key material and multicast
// bookkeeping that sit between the command class encoders and the raw
// transport. It does not encrypt frames itself; callers take the keys and
// nonces produced here and feed them to pkg/crypto.
//
// Two managers are provided:
//   - S0Manager: single-use S0 nonces with timer based expiry
//   - S2Manager: SPAN/MPAN nonce generation, per-class network keys,
//     multicast groups and sequence number replay detection
package security

import "fmt"

// NodeID identifies a node in a Z-Wave network. Long Range node IDs exceed
// the classic range of 1-232.
type NodeID uint16

// SecurityClass identifies the key a node was granted. S2 classes are
// ordered by trust: AccessControl > Authenticated > Unauthenticated, with
// S0Legacy below all of them.
type SecurityClass int8

const (
	// SecurityClassTemporary is only used while bootstrapping a node.
	SecurityClassTemporary SecurityClass = -2

	// SecurityClassNone means the node communicates without encapsulation.
	SecurityClassNone SecurityClass = -1

	SecurityClassS2Unauthenticated SecurityClass = 0
	SecurityClassS2Authenticated   SecurityClass = 1
	SecurityClassS2AccessControl   SecurityClass = 2
	SecurityClassS0Legacy          SecurityClass = 7
)

// SecurityClassesByTrust lists the grantable classes from highest to lowest
// trust.
var SecurityClassesByTrust = []SecurityClass{
	SecurityClassS2AccessControl,
	SecurityClassS2Authenticated,
	SecurityClassS2Unauthenticated,
	SecurityClassS0Legacy,
}

// String returns a human-readable name for the security class.
func (c SecurityClass) String() string {
	switch c {
	case SecurityClassTemporary:
		return "Temporary"
	case SecurityClassNone:
		return "None"
	case SecurityClassS2Unauthenticated:
		return "S2_Unauthenticated"
	case SecurityClassS2Authenticated:
		return "S2_Authenticated"
	case SecurityClassS2AccessControl:
		return "S2_AccessControl"
	case SecurityClassS0Legacy:
		return "S0_Legacy"
	default:
		return fmt.Sprintf("SecurityClass(%d)", int8(c))
	}
}

// IsValid returns true for the classes a network key can be set for.
func (c SecurityClass) IsValid() bool {
	return c.IsS2() || c == SecurityClassS0Legacy
}

// IsS2 returns true for the three S2 security classes.
func (c SecurityClass) IsS2() bool {
	return c >= SecurityClassS2Unauthenticated && c <= SecurityClassS2AccessControl
}

// Trust returns the rank of the class: higher values are more trusted,
// sentinels rank below every grantable class.
func (c SecurityClass) Trust() int {
	switch c {
	case SecurityClassS2AccessControl:
		return 4
	case SecurityClassS2Authenticated:
		return 3
	case SecurityClassS2Unauthenticated:
		return 2
	case SecurityClassS0Legacy:
		return 1
	default:
		return 0
	}
}

// SPANState is the state of the singlecast nonce session with a peer.
type SPANState int

const (
	// SPANStateNone means no nonce exchange has happened.
	SPANStateNone SPANState = iota

	// SPANStateRemoteEI means the peer's entropy input was received and ours
	// has not been sent yet.
	SPANStateRemoteEI

	// SPANStateLocalEI means our entropy input was sent and the peer's has
	// not been received yet.
	SPANStateLocalEI

	// SPANStateSPAN means a nonce generator is established.
	SPANStateSPAN
)

// String returns a human-readable name for the SPAN state.
func (s SPANState) String() string {
	switch s {
	case SPANStateNone:
		return "None"
	case SPANStateRemoteEI:
		return "RemoteEI"
	case SPANStateLocalEI:
		return "LocalEI"
	case SPANStateSPAN:
		return "SPAN"
	default:
		return "Unknown"
	}
}

// MPANState is the state of a peer's multicast nonce for one group.
type MPANState int

const (
	MPANStateNone MPANState = iota
	MPANStateOutOfSync
	MPANStateMPAN
)

// String returns a human-readable name for the MPAN state.
func (s MPANState) String() string {
	switch s {
	case MPANStateNone:
		return "None"
	case MPANStateOutOfSync:
		return "OutOfSync"
	case MPANStateMPAN:
		return "MPAN"
	default:
		return "Unknown"
	}
}
