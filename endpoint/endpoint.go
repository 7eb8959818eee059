// Package endpoint implements the two engines of the transport: the [Sender],
// which segments an input byte stream and drives it reliably to its peer, and
// the [Receiver], which reassembles the stream in order and acknowledges
// progress. Both are single-threaded event loops over one non-blocking
// datagram socket, reached through the [Transport] capability.
package endpoint

import (
	"log/slog"

	"github.com/seqio/rudp"
)

// admitSegment applies the wire admission checks to an incoming datagram:
// minimum size, flag combination whitelist and digest verification over the
// trimmed payload. Segments failing any check are dropped silently; the cause
// is surfaced only on the trace log.
func admitSegment(v *rudp.Validator, l logger, dgram []byte) (rudp.Frame, []byte, bool) {
	rudp.ValidateSize(v, dgram)
	if err := v.ErrPop(); err != nil {
		l.trace("drop:short", slog.Int("len", len(dgram)))
		return rudp.Frame{}, nil, false
	}
	frm, err := rudp.NewFrame(dgram)
	if err != nil {
		return rudp.Frame{}, nil, false
	}
	payload := rudp.TrimPayload(frm.Payload())
	frm.ValidateWire(v, payload)
	if err := v.ErrPop(); err != nil {
		l.trace("drop:invalid", slog.String("err", err.Error()), slog.Uint64("seq", uint64(frm.Seq())))
		return rudp.Frame{}, nil, false
	}
	return frm, payload, true
}
