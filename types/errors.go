package types

import "errors"

// SendError kinds surfaced from the public API (spec.md §4.11, §7).
var (
	ErrPoweredOff      = errors.New("mesh: powered off")
	ErrNoRoute         = errors.New("mesh: no route to destination")
	ErrNotPaired       = errors.New("mesh: peer not paired")
	ErrPayloadTooLarge = errors.New("mesh: payload exceeds max_payload_bytes")
	ErrBackpressure    = errors.New("mesh: queue full")

	// ErrAuthFailed is returned by decrypt on AEAD authentication failure;
	// callers must drop, never escalate (spec.md invariant 4).
	ErrAuthFailed = errors.New("mesh: aead authentication failed")

	// ErrFatal wraps an unrecoverable host-service failure (clock, RNG).
	ErrFatal = errors.New("mesh: fatal host service failure")

	ErrUnknownMagic      = errors.New("wire: unknown magic")
	ErrVersionMismatch   = errors.New("wire: version mismatch")
	ErrTraceTooLong      = errors.New("wire: trace_len exceeds max hops")
	ErrPayloadOversize   = errors.New("wire: payload_len exceeds max payload")
	ErrBadCRC            = errors.New("wire: crc32 mismatch")
	ErrTruncated         = errors.New("wire: buffer truncated")
)
