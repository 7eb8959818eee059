package endpoint

import (
	"time"

	"github.com/seqio/rudp"
)

// flightSegment is one transmitted, not yet acknowledged segment.
type flightSegment struct {
	// raw is the serialized datagram, header and payload, resent verbatim.
	raw []byte
	// seq is the sequence number of the first octet of the segment.
	seq rudp.Value
	// confirmAck is the acknowledgement value that retires this segment:
	// seq advanced by the logical length.
	confirmAck rudp.Value
	// logicalLen is the payload length, or 1 for control segments which
	// occupy one octet of sequence space.
	logicalLen rudp.Size
	// sentAt is reset on every (re)transmission.
	sentAt time.Time
	// retries counts retransmissions of this segment.
	retries int
}

// flightQueue is the ordered retransmission queue. Segments are appended in
// send order, which equals ascending sequence order modulo wrap, and are only
// ever removed as a prefix: a cumulative acknowledgement retires everything
// up to and including its match.
type flightQueue struct {
	segs []flightSegment
}

func (q *flightQueue) Len() int { return len(q.segs) }

// Head returns the oldest unacknowledged segment, or nil when empty.
func (q *flightQueue) Head() *flightSegment {
	if len(q.segs) == 0 {
		return nil
	}
	return &q.segs[0]
}

// At returns the i-th segment in send order. The pointer is valid until the
// next Register or PopThrough call.
func (q *flightQueue) At(i int) *flightSegment { return &q.segs[i] }

// Register appends a freshly serialized segment to the queue.
func (q *flightQueue) Register(raw []byte, seq rudp.Value, logical rudp.Size, now time.Time) *flightSegment {
	q.segs = append(q.segs, flightSegment{
		raw:        raw,
		seq:        seq,
		confirmAck: rudp.Add(seq, logical),
		logicalLen: logical,
		sentAt:     now,
	})
	return &q.segs[len(q.segs)-1]
}

// FindConfirm returns the index of the segment retired exactly by ack, or -1.
func (q *flightQueue) FindConfirm(ack rudp.Value) int {
	for i := range q.segs {
		if q.segs[i].confirmAck == ack {
			return i
		}
	}
	return -1
}

// PopThrough removes and returns segments 0..i inclusive.
func (q *flightQueue) PopThrough(i int) []flightSegment {
	retired := append([]flightSegment(nil), q.segs[:i+1]...)
	n := copy(q.segs, q.segs[i+1:])
	q.segs = q.segs[:n]
	return retired
}

// Bytes returns the sum of logical lengths in flight.
func (q *flightQueue) Bytes() rudp.Size {
	var total rudp.Size
	for i := range q.segs {
		total += q.segs[i].logicalLen
	}
	return total
}
