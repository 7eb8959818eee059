package endpoint

import (
	"bufio"
	"io"
	"log/slog"
	"net/netip"
	"time"

	"github.com/seqio/rudp"
	"github.com/seqio/rudp/internal"
)

// Receiver accepts one byte stream from a remote sender and emits it, in
// order, on its output channel.
//
// Incoming data segments are admitted only when their digest verifies. A
// segment at the expected sequence is delivered immediately and may chain
// further deliveries out of the reorder buffer; anything else is stashed and
// answered with a duplicate cumulative acknowledgement.
type Receiver struct {
	tr  Transport
	out *bufio.Writer
	tun Tunables

	status Status
	remote netip.AddrPort
	iss    rudp.Value
	seq    rudp.Value
	// irs is the peer's initial sequence number captured from its SYN.
	irs rudp.Value
	// ack names the next byte not yet delivered in order. It advances only
	// when the gap-free prefix grows.
	ack rudp.Value

	// seen records every data sequence number already observed, delivered or
	// stashed, so duplicates are not buffered twice.
	seen map[rudp.Value]bool
	// reorder maps out-of-order sequence numbers to their payloads until the
	// gap before them closes.
	reorder map[rudp.Value][]byte

	// control holds the SYN|ACK for re-send until the handshake completes.
	control *controlPacket
	// finAck is the serialized FIN|ACK re-sent periodically once finished.
	finAck []byte

	validator rudp.Validator
	poll      internal.Backoff
	rbuf      [rudp.SizeDatagram]byte
	logger
}

type controlPacket struct {
	raw    []byte
	sentAt time.Time
}

// NewReceiver returns a receiver that writes the reconstructed stream to out.
// The peer is learned from the source address of the opening SYN.
func NewReceiver(tr Transport, out io.Writer, tun Tunables, log *slog.Logger) *Receiver {
	iss := rudp.Value(internal.ISN(tr.LocalAddrPort(), netip.AddrPort{}))
	return &Receiver{
		tr:      tr,
		out:     bufio.NewWriter(out),
		tun:     tun,
		status:  StatusStandby,
		iss:     iss,
		seq:     iss,
		seen:    make(map[rudp.Value]bool),
		reorder: make(map[rudp.Value][]byte),
		poll:    internal.NewPollBackoff(),
		logger:  logger{log: log},
	}
}

// Status returns the current state of the engine.
func (r *Receiver) Status() Status { return r.status }

// Run drives the state machine. Once the sender's FIN is acknowledged the
// receiver keeps re-sending its FIN|ACK every FinAckPeriod; it returns only
// when a TimeWait bound is configured, or on an output write failure.
func (r *Receiver) Run() error {
	for {
		switch r.status {
		case StatusStandby:
			r.standby()
		case StatusHandshake:
			r.handshake()
		case StatusSending:
			if err := r.serve(); err != nil {
				return err
			}
		case StatusFinished:
			return r.linger()
		}
	}
}

func (r *Receiver) setStatus(next Status) {
	r.info("receiver:status", slog.String("old", r.status.String()), slog.String("new", next.String()))
	r.status = next
}

// standby waits for a verified SYN, captures the peer address from the
// datagram source, and answers with a SYN|ACK.
func (r *Receiver) standby() {
	for {
		n, from, ok := r.tr.Recv(r.rbuf[:])
		if !ok {
			r.poll.Miss()
			continue
		}
		r.poll.Hit()
		frm, _, admitted := admitSegment(&r.validator, r.logger, r.rbuf[:n])
		if !admitted || frm.Flags() != rudp.FlagSYN {
			continue
		}
		r.remote = from
		r.irs = frm.Seq()
		// The ack advances to irs+1 inside sendAck.
		r.ack = frm.Seq()
		r.info("receiver:syn",
			slog.String("peer", from.String()),
			slog.Uint64("irs", uint64(r.irs)))
		raw := r.sendAck(rudp.FlagSYNACK, 1)
		r.control = &controlPacket{raw: raw, sentAt: time.Now()}
		r.setStatus(StatusHandshake)
		return
	}
}

// handshake waits for the peer's bare ACK at the expected sequence,
// re-sending the SYN|ACK on its control timeout, then replies with a bare ACK
// of its own to complete the exchange.
func (r *Receiver) handshake() {
	for {
		if c := r.control; c != nil && time.Since(c.sentAt) >= r.tun.ControlRTO {
			r.debug("receiver:synack-retransmit")
			r.tr.Send(c.raw, r.remote)
			c.sentAt = time.Now()
		}
		n, _, ok := r.tr.Recv(r.rbuf[:])
		if !ok {
			r.poll.Miss()
			continue
		}
		r.poll.Hit()
		frm, _, admitted := admitSegment(&r.validator, r.logger, r.rbuf[:n])
		if !admitted {
			continue
		}
		if frm.Flags() != rudp.FlagACK || frm.Seq() != r.ack {
			r.trace("receiver:handshake-skip", slog.String("flags", frm.Flags().String()), slog.Uint64("seq", uint64(frm.Seq())))
			continue
		}
		r.control = nil
		r.sendAck(rudp.FlagACK, 1)
		r.setStatus(StatusSending)
		return
	}
}

// serve is the data phase loop: admit data segments, deliver or stash them,
// and acknowledge progress until the peer's FIN arrives in order.
func (r *Receiver) serve() error {
	for {
		n, _, ok := r.tr.Recv(r.rbuf[:])
		if !ok {
			r.poll.Miss()
			continue
		}
		r.poll.Hit()
		frm, payload, admitted := admitSegment(&r.validator, r.logger, r.rbuf[:n])
		if !admitted {
			continue
		}
		switch frm.Flags() {
		case rudp.FlagPSHACK:
			if err := r.data(frm.Seq(), payload); err != nil {
				return err
			}
		case rudp.FlagACK:
			// A retransmit of the peer's handshake acknowledgement. Answer
			// with the cumulative position so it retires on the other side.
			r.trace("receiver:stale-ack", slog.Uint64("seq", uint64(frm.Seq())))
			r.sendAck(rudp.FlagACK, 0)
		case rudp.FlagFIN:
			if frm.Seq() != r.ack {
				// FIN ahead of missing data: answer with the current
				// cumulative position like any out-of-order arrival.
				r.sendAck(rudp.FlagACK, 0)
				continue
			}
			r.finAck = r.sendAck(rudp.FlagFINACK, 0)
			r.setStatus(StatusFinished)
			return nil
		default:
			r.trace("receiver:drop-flags", slog.String("flags", frm.Flags().String()))
		}
	}
}

// data handles one verified data segment.
func (r *Receiver) data(seqn rudp.Value, payload []byte) error {
	if seqn != r.ack {
		if !r.seen[seqn] {
			r.seen[seqn] = true
			r.reorder[seqn] = append([]byte(nil), payload...)
			r.debug("receiver:stash",
				slog.Uint64("seq", uint64(seqn)),
				slog.Uint64("want", uint64(r.ack)),
				slog.Int("len", len(payload)))
		}
		// Out of order: duplicate cumulative ACK, no delivery.
		r.sendAck(rudp.FlagACK, 0)
		return nil
	}
	r.seen[seqn] = true
	if err := r.emit(payload); err != nil {
		return err
	}
	total := rudp.Size(len(payload))
	// Chain deliveries out of the reorder buffer while the prefix is gap-free.
	for {
		next := rudp.Add(r.ack, total)
		stashed, ok := r.reorder[next]
		if !ok {
			break
		}
		if err := r.emit(stashed); err != nil {
			return err
		}
		total += rudp.Size(len(stashed))
		delete(r.reorder, next)
	}
	r.trace("receiver:deliver", slog.Uint64("seq", uint64(seqn)), slog.Uint64("total", uint64(total)))
	r.sendAck(rudp.FlagACK, total)
	return nil
}

func (r *Receiver) emit(b []byte) error {
	if _, err := r.out.Write(b); err != nil {
		return err
	}
	return r.out.Flush()
}

// linger re-sends the FIN|ACK every FinAckPeriod so the peer's final FIN
// retransmits also receive acknowledgement. With a zero TimeWait it never
// returns.
func (r *Receiver) linger() error {
	r.info("receiver:linger", slog.Duration("timewait", r.tun.TimeWait))
	var deadline time.Time
	if r.tun.TimeWait > 0 {
		deadline = time.Now().Add(r.tun.TimeWait)
	}
	for {
		time.Sleep(r.tun.FinAckPeriod)
		r.tr.Send(r.finAck, r.remote)
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}
	}
}

// sendAck transmits a control acknowledgement carrying the cumulative
// position. The stored ack is advanced by the logical length before the
// header is built; the FIN|ACK is the exception: its header carries ack+1 so
// the peer's FIN retires, while the stored value stays put so retransmitted
// FINs keep matching the expected sequence. Every transmission consumes one
// local sequence number.
func (r *Receiver) sendAck(flags rudp.Flags, logical rudp.Size) []byte {
	carried := rudp.Add(r.ack, logical)
	if flags == rudp.FlagFINACK {
		carried = rudp.Add(r.ack, 1)
	} else {
		r.ack = carried
	}
	raw := make([]byte, rudp.SizeHeader)
	frm, _ := rudp.NewFrame(raw)
	frm.SetSourcePort(r.tr.LocalAddrPort().Port())
	frm.SetDestinationPort(r.remote.Port())
	frm.SetSegment(rudp.Segment{
		SEQ:   r.seq,
		ACK:   carried,
		WND:   rudp.Size(r.tun.LocalWindow),
		Flags: flags,
	})
	frm.SealDigest(nil)
	r.seq.UpdateForward(1)
	r.tr.Send(raw, r.remote)
	return raw
}
