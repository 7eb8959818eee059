// Package rudp implements the wire format of a reliable, ordered, one-way
// byte-stream transport layered on an unreliable datagram substrate.
//
// A segment is a fixed 48-byte header followed by up to 1452 payload bytes.
// All multi-byte fields are big-endian. The last 32 header bytes carry a
// SHA-256 digest computed over the header (digest field zeroed) concatenated
// with the payload; endpoints drop any segment whose digest does not verify.
//
// The package contains only wire-level concerns: the zero-copy [Frame] codec,
// the [Flags] bitfield, sequence number arithmetic modulo 2³² and the
// [Validator] admission helper. The endpoint state machines live in the
// endpoint package.
package rudp

import "errors"

const (
	// SizeHeader is the fixed segment header size in bytes.
	SizeHeader = 48
	// SizeDatagram is the target datagram size. A segment never exceeds it.
	SizeDatagram = 1500
	// MaxPayload is the largest payload a single segment can carry.
	MaxPayload = SizeDatagram - SizeHeader
	// HeaderLengthWords is the value carried on the wire in the header length
	// nibble. Fixed by the protocol; receivers do not derive offsets from it.
	HeaderLengthWords = 4
)

var (
	// ErrShortFrame is returned when a buffer cannot hold a full header.
	ErrShortFrame = errors.New("rudp: buffer shorter than 48 byte header")

	errBadFlagCombo  = errors.New("rudp: flag combination not on wire whitelist")
	errDigestInvalid = errors.New("rudp: digest mismatch")
)
