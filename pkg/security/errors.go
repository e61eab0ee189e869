package security

import "errors"

// Security package errors. Every failure is wrapped around one of these so
// that callers can tell a missing handshake from bad input with errors.Is.
var (
	// ErrNotInitialized is returned when an operation needs state that has
	// not been established yet: a network key, a SPAN, an MPAN or a
	// multicast group.
	ErrNotInitialized = errors.New("security: not initialized")

	// ErrInvalidArgument is returned for wrong buffer lengths and
	// out-of-range security classes.
	ErrInvalidArgument = errors.New("security: invalid argument")

	// ErrNonceIDsExhausted is returned by S0Manager.GenerateNonce while
	// every nonce ID of the local node is handed out.
	ErrNonceIDsExhausted = errors.New("security: all S0 nonce IDs in use")
)
