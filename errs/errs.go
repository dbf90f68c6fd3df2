// Package errs defines the fatal and recoverable error kinds shared across
// the transport, codec, and peer-engine packages, following a sentinel +
// %w-wrapping idiom: callers match with errors.Is, and packages wrap these
// with fmt.Errorf to attach context.
package errs

import "errors"

// Sentinel error kinds. Callers match on these with errors.Is; packages wrap
// them with fmt.Errorf("...: %w", ErrX) to attach context.
var (
	// ErrAuthenticationFailure is returned when an AEAD tag fails to
	// verify, during the Noise handshake or on the encrypted transport.
	// Always fatal to the connection.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrTransportClosed is returned when the underlying stream has
	// reached EOF or been closed locally. Always fatal to the
	// connection.
	ErrTransportClosed = errors.New("transport closed")

	// ErrProtocolViolation covers invariant mismatches found during
	// dispatch or channel reestablishment: an unexpected message for a
	// pending-exchange key, a commitment-number mismatch, or a
	// per-commitment-point mismatch.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrSignatureInvalid is returned when an ECDSA signature over an
	// announcement or commitment digest fails to verify.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrHtlcFailure is returned by the pay flow when the remote party
	// failed the HTLC; it is a recoverable, user-visible error.
	ErrHtlcFailure = errors.New("htlc failure")
)
