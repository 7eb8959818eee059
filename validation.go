package rudp

import "errors"

// Validator accumulates admission errors found while inspecting an incoming
// segment. Endpoints drop a segment silently when the validator holds any
// error; the accumulated causes feed diagnostic traces only.
type Validator struct {
	allowMultiErrs bool
	accum          []error
}

// ResetErr discards any accumulated errors.
func (v *Validator) ResetErr() {
	v.accum = v.accum[:0]
}

// Err returns the accumulated error, joining multiple causes if present.
func (v *Validator) Err() error {
	if len(v.accum) == 1 {
		return v.accum[0]
	} else if len(v.accum) == 0 {
		return nil
	}
	return errors.Join(v.accum...)
}

// ErrPop returns the accumulated error and resets the validator.
func (v *Validator) ErrPop() error {
	err := v.Err()
	v.ResetErr()
	return err
}

func (v *Validator) gotErr(err error) {
	if len(v.accum) != 0 && !v.allowMultiErrs {
		return
	}
	v.accum = append(v.accum, err)
}

// ValidateSize checks that the datagram is large enough to hold a full header.
func ValidateSize(v *Validator, datagram []byte) {
	if len(datagram) < SizeHeader {
		v.gotErr(ErrShortFrame)
	}
}

// ValidateWire checks segment fields against the wire contract: the flag
// field must be one of the six admitted combinations and the digest must
// verify over the (trimmed) payload.
func (frm Frame) ValidateWire(v *Validator, payload []byte) {
	if !frm.Flags().WireLegal() {
		v.gotErr(errBadFlagCombo)
	}
	if !frm.VerifyDigest(payload) {
		v.gotErr(errDigestInvalid)
	}
}
