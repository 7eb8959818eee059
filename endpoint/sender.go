package endpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"time"

	"github.com/seqio/rudp"
	"github.com/seqio/rudp/internal"
)

var errRetransmitLimit = errors.New("endpoint: segment retransmission limit exceeded")

// Sender drives one byte stream from an input channel to a remote receiver.
//
// The engine is a four-state machine over a single non-blocking socket:
// standby chunks the input, handshake synchronizes sequence numbers, sending
// interleaves acknowledgement processing, window-gated transmission and the
// retransmission sweep, and finished exchanges the closing FIN.
type Sender struct {
	tr     Transport
	remote netip.AddrPort
	input  *bufio.Reader
	tun    Tunables

	status Status
	iss    rudp.Value
	seq    rudp.Value
	ack    rudp.Value

	// pending holds the chunked input awaiting first transmission.
	pending [][]byte
	flight  flightQueue
	cwnd    renoWindow
	rtt     rttEstimator

	// advWnd is min(local window, peer advertisement), fixed at handshake.
	advWnd int
	// curWnd is the effective congestion window in bytes.
	curWnd int
	// curBuf is the number of logical octets in flight.
	curBuf int
	// preAck is the last cumulative acknowledgement observed.
	preAck  rudp.Value
	dupAcks int

	validator rudp.Validator
	poll      internal.Backoff
	rbuf      [rudp.SizeDatagram]byte
	logger
}

// NewSender returns a sender that will read one line from input and deliver
// it to remote through tr.
func NewSender(tr Transport, remote netip.AddrPort, input io.Reader, tun Tunables, log *slog.Logger) *Sender {
	iss := rudp.Value(internal.ISN(tr.LocalAddrPort(), remote))
	return &Sender{
		tr:     tr,
		remote: remote,
		input:  bufio.NewReaderSize(input, rudp.SizeDatagram),
		tun:    tun,
		status: StatusStandby,
		iss:    iss,
		seq:    iss,
		cwnd:   newRenoWindow(tun),
		rtt:    newRTTEstimator(tun),
		poll:   internal.NewPollBackoff(),
		logger: logger{log: log},
	}
}

// Status returns the current state of the engine.
func (s *Sender) Status() Status { return s.status }

// Run drives the state machine to completion. It returns once the closing
// FIN has been acknowledged, or with an error when the input cannot be read
// or the configured retransmission bound is exceeded.
func (s *Sender) Run() error {
	for {
		switch s.status {
		case StatusStandby:
			if err := s.standby(); err != nil {
				return err
			}
		case StatusHandshake:
			if err := s.handshake(); err != nil {
				return err
			}
		case StatusSending:
			if err := s.transfer(); err != nil {
				return err
			}
		case StatusFinished:
			return s.shutdown()
		}
	}
}

func (s *Sender) setStatus(next Status) {
	s.info("sender:status", slog.String("old", s.status.String()), slog.String("new", next.String()))
	s.status = next
}

// standby reads one line from the input channel and splits it into ordered
// chunks of at most one maximum segment size each.
func (s *Sender) standby() error {
	line, err := s.input.ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("read input: %w", err)
	}
	data := []byte(line)
	s.info("sender:read-input", slog.Int("bytes", len(data)))
	for len(data) > 0 {
		n := min(s.tun.MSS, len(data))
		s.pending = append(s.pending, data[:n])
		data = data[n:]
	}
	s.setStatus(StatusHandshake)
	return nil
}

// handshake transmits the SYN and waits for a matching SYN|ACK, running the
// retransmission check on every poll. On success it fixes the advertised
// window and slow-start threshold, acknowledges the peer's initial sequence
// and enters the sending state.
func (s *Sender) handshake() error {
	syn := s.makeSegment(rudp.FlagSYN, nil)
	if err := s.register(syn, 0); err != nil {
		return err
	}
	synConfirm := rudp.Add(s.iss, 1)
	for {
		if err := s.checkRetransmission(time.Now()); err != nil {
			return err
		}
		n, _, ok := s.tr.Recv(s.rbuf[:])
		if !ok {
			s.poll.Miss()
			continue
		}
		s.poll.Hit()
		frm, _, ok := admitSegment(&s.validator, s.logger, s.rbuf[:n])
		if !ok {
			continue
		}
		if frm.Flags() != rudp.FlagSYNACK || frm.Ack() != synConfirm {
			s.trace("sender:handshake-skip", slog.String("flags", frm.Flags().String()), slog.Uint64("ack", uint64(frm.Ack())))
			continue
		}
		s.advWnd = min(int(s.tun.LocalWindow), int(frm.WindowSize()))
		s.cwnd.setThreshold(s.advWnd)
		s.curWnd = s.cwnd.effective()
		if i := s.flight.FindConfirm(frm.Ack()); i >= 0 {
			s.retire(i)
		}
		s.ack = rudp.Add(frm.Seq(), 1)
		s.preAck = synConfirm
		s.info("sender:established",
			slog.Uint64("peer.seq", uint64(frm.Seq())),
			slog.Int("advwnd", s.advWnd),
			slog.Int("ssthresh", s.cwnd.ssthresh))
		ack := s.makeSegment(rudp.FlagACK, nil)
		if err := s.register(ack, 0); err != nil {
			return err
		}
		s.setStatus(StatusSending)
		return nil
	}
}

// transfer loops until both the pending queue and the in-flight queue drain:
// sweep expired segments, process one incoming acknowledgement, then transmit
// as many pending chunks as the effective window allows.
func (s *Sender) transfer() error {
	for s.flight.Len() > 0 || len(s.pending) > 0 {
		if err := s.checkRetransmission(time.Now()); err != nil {
			return err
		}
		n, _, ok := s.tr.Recv(s.rbuf[:])
		if ok {
			s.poll.Hit()
			frm, _, admitted := admitSegment(&s.validator, s.logger, s.rbuf[:n])
			if admitted && frm.Flags() == rudp.FlagACK {
				s.handleAck(frm.Ack(), time.Now())
			}
		} else {
			s.poll.Miss()
		}
		for len(s.pending) > 0 && s.curWnd-s.curBuf > len(s.pending[0]) {
			chunk := s.pending[0]
			s.pending = s.pending[1:]
			raw := s.makeSegment(rudp.FlagPSHACK, chunk)
			if err := s.register(raw, len(chunk)); err != nil {
				return err
			}
		}
	}
	s.setStatus(StatusFinished)
	return nil
}

// shutdown sends the FIN and polls, retransmitting as needed, until a
// verified acknowledgement retires it.
func (s *Sender) shutdown() error {
	fin := s.makeSegment(rudp.FlagFIN, nil)
	if err := s.register(fin, 0); err != nil {
		return err
	}
	for s.flight.Len() > 0 {
		if err := s.checkRetransmission(time.Now()); err != nil {
			return err
		}
		n, _, ok := s.tr.Recv(s.rbuf[:])
		if !ok {
			s.poll.Miss()
			continue
		}
		s.poll.Hit()
		frm, _, admitted := admitSegment(&s.validator, s.logger, s.rbuf[:n])
		if !admitted {
			continue
		}
		if flags := frm.Flags(); flags != rudp.FlagACK && flags != rudp.FlagFINACK {
			continue
		}
		if i := s.flight.FindConfirm(frm.Ack()); i >= 0 {
			s.retire(i)
		}
	}
	s.info("sender:finished", slog.Uint64("seq", uint64(s.seq)))
	return nil
}

// handleAck processes one verified acknowledgement during the data phase.
func (s *Sender) handleAck(ackn rudp.Value, now time.Time) {
	if ackn == s.preAck {
		s.dupAcks++
		s.trace("sender:ack-dup", slog.Uint64("ack", uint64(ackn)), slog.Int("count", s.dupAcks))
		if s.dupAcks >= 3 {
			if head := s.flight.Head(); head != nil {
				s.debug("sender:fast-retransmit", slog.Uint64("seq", uint64(head.seq)))
				s.tr.Send(head.raw, s.remote)
				head.sentAt = now
				head.retries++
			}
			s.cwnd.onFastRetransmit()
			s.curWnd = s.cwnd.effective()
			s.dupAcks = 0
		}
		return
	}
	s.dupAcks = 0
	s.cwnd.onNewAck()
	s.curWnd = s.cwnd.effective()
	if i := s.flight.FindConfirm(ackn); i >= 0 {
		sample := now.Sub(s.retire(i))
		s.rtt.observe(sample)
		s.trace("sender:ack",
			slog.Uint64("ack", uint64(ackn)),
			slog.Int("cwnd", s.cwnd.cwnd),
			slog.Int("inflight", s.curBuf),
			slog.Duration("srtt", s.rtt.srtt))
	}
	s.preAck = ackn
}

// retire pops flight segments 0..i inclusive, releasing their logical bytes
// from the in-flight count, and returns the send timestamp of the matched
// segment for round-trip sampling.
func (s *Sender) retire(i int) time.Time {
	retired := s.flight.PopThrough(i)
	for j := range retired {
		s.curBuf -= int(retired[j].logicalLen)
	}
	return retired[len(retired)-1].sentAt
}

// checkRetransmission scans the in-flight queue from the head and retransmits
// every segment older than the current timeout, stopping at the first young
// segment. The first retransmission of a sweep sets the slow-start threshold
// to half the congestion window, which then bounds the number of
// retransmissions the sweep may issue; the congestion window bounds it as well.
func (s *Sender) checkRetransmission(now time.Time) error {
	rto := s.rtt.rto()
	retransmitted := 0
	for i := 0; i < s.flight.Len(); i++ {
		p := s.flight.At(i)
		if now.Sub(p.sentAt) < rto {
			break
		}
		if retransmitted == 0 {
			s.cwnd.onLoss()
		}
		s.debug("sender:retransmit",
			slog.Uint64("seq", uint64(p.seq)),
			slog.Int("retries", p.retries+1),
			slog.Duration("rto", rto))
		s.tr.Send(p.raw, s.remote)
		p.sentAt = now
		p.retries++
		if s.tun.MaxRetransmits > 0 && p.retries > s.tun.MaxRetransmits {
			return fmt.Errorf("%w: seq %d", errRetransmitLimit, p.seq)
		}
		retransmitted++
		if retransmitted >= s.cwnd.ssthresh || retransmitted >= s.cwnd.cwnd {
			break
		}
	}
	return nil
}

// makeSegment serializes a segment carrying the current sequence and
// acknowledgement numbers and seals its digest.
func (s *Sender) makeSegment(flags rudp.Flags, payload []byte) []byte {
	raw := make([]byte, rudp.SizeHeader+len(payload))
	frm, _ := rudp.NewFrame(raw)
	frm.SetSourcePort(s.tr.LocalAddrPort().Port())
	frm.SetDestinationPort(s.remote.Port())
	frm.SetSegment(rudp.Segment{
		SEQ:     s.seq,
		ACK:     s.ack,
		WND:     rudp.Size(s.tun.LocalWindow),
		DATALEN: rudp.Size(len(payload)),
		Flags:   flags,
	})
	copy(frm.Payload(), payload)
	frm.SealDigest(payload)
	return raw
}

// register appends the segment to the in-flight queue, transmits it and
// advances seq and the in-flight count by the logical length. Control
// segments occupy one octet of sequence space.
func (s *Sender) register(raw []byte, payloadLen int) error {
	logical := rudp.Size(1)
	if payloadLen > 0 {
		logical = rudp.Size(payloadLen)
	}
	s.flight.Register(raw, s.seq, logical, time.Now())
	s.curBuf += int(logical)
	err := s.tr.Send(raw, s.remote)
	s.seq.UpdateForward(logical)
	return err
}
