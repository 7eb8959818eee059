package rudp

import (
	"bytes"
	"crypto/sha256"
)

// SizeDigest is the size of the wire digest in bytes.
const SizeDigest = sha256.Size

// HashHeader computes the SHA-256 digest of the header alone with the digest
// field treated as thirty-two zero bytes. Used for control segments.
func (frm Frame) HashHeader() [SizeDigest]byte {
	return frm.HashHeaderPayload(nil)
}

// HashHeaderPayload computes the SHA-256 digest over the header (digest field
// zeroed) concatenated with payload.
func (frm Frame) HashHeaderPayload(payload []byte) [SizeDigest]byte {
	var hdr [SizeHeader]byte
	copy(hdr[:16], frm.buf[:16])
	// hdr[16:48] stays zero: the digest field is excluded from its own hash.
	h := sha256.New()
	h.Write(hdr[:])
	h.Write(payload)
	var sum [SizeDigest]byte
	h.Sum(sum[:0])
	return sum
}

// SealDigest computes the digest over the header and payload and writes the
// final value back into the digest field.
func (frm Frame) SealDigest(payload []byte) {
	frm.SetDigest(frm.HashHeaderPayload(payload))
}

// VerifyDigest recomputes the digest with the digest field zeroed and compares
// it byte-for-byte against the value carried by the header. For control
// segments payload is empty; for data segments it is the payload bytes
// actually carried, after [TrimPayload].
func (frm Frame) VerifyDigest(payload []byte) bool {
	want := frm.Digest()
	got := frm.HashHeaderPayload(payload)
	return want == got
}

// TrimPayload materializes a received payload under the NUL-terminated
// contract: the bytes up to but not including the first zero byte. Binary
// payloads containing embedded NULs are truncated; the transport carries text.
func TrimPayload(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}
