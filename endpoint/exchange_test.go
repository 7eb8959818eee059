package endpoint

import (
	"bytes"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seqio/rudp"
)

// The exchange tests run a real Sender against a real Receiver over an
// in-memory datagram network with scripted faults: drops, reorder,
// duplication and corruption injected on the wire.

type dgram struct {
	b    []byte
	from netip.AddrPort
}

type testNet struct {
	mu    sync.Mutex
	links map[uint16]*testTransport
}

func newTestNet() *testNet { return &testNet{links: make(map[uint16]*testTransport)} }

func (tn *testNet) transport(port uint16) *testTransport {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tr := &testTransport{
		net:   tn,
		addr:  netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port),
		inbox: make(chan dgram, 4096),
	}
	tn.links[port] = tr
	return tr
}

// testTransport delivers datagrams through in-memory channels. The fault hook
// runs on every Send and returns the datagrams actually put on the wire:
// nil drops, repeated entries duplicate, held segments model reorder. Hooks
// run on the owning engine's goroutine only.
type testTransport struct {
	net   *testNet
	addr  netip.AddrPort
	inbox chan dgram
	fault func(b []byte) [][]byte
}

func (t *testTransport) Send(b []byte, to netip.AddrPort) error {
	t.net.mu.Lock()
	peer := t.net.links[to.Port()]
	t.net.mu.Unlock()
	if peer == nil {
		return nil
	}
	out := [][]byte{append([]byte(nil), b...)}
	if t.fault != nil {
		out = t.fault(out[0])
	}
	for _, o := range out {
		select {
		case peer.inbox <- dgram{b: o, from: t.addr}:
		default:
		}
	}
	return nil
}

func (t *testTransport) Recv(b []byte) (int, netip.AddrPort, bool) {
	select {
	case d := <-t.inbox:
		return copy(b, d.b), d.from, true
	default:
		return 0, netip.AddrPort{}, false
	}
}

func (t *testTransport) LocalAddrPort() netip.AddrPort { return t.addr }
func (t *testTransport) Close() error                  { return nil }

func frameOf(b []byte) rudp.Frame {
	frm, err := rudp.NewFrame(b)
	if err != nil {
		panic(err)
	}
	return frm
}

// testTunables scales the timers down so loss recovery happens in
// milliseconds instead of seconds.
func testTunables() Tunables {
	tun := DefaultTunables()
	tun.InitialRTT = 20 * time.Millisecond
	tun.MinRTT = time.Millisecond
	tun.ControlRTO = 50 * time.Millisecond
	tun.FinAckPeriod = 5 * time.Millisecond
	tun.TimeWait = 30 * time.Millisecond
	return tun
}

// runExchange wires a sender and receiver together, applies prep to install
// faults or tweak initial state, runs both to completion and returns the
// receiver's output.
func runExchange(t *testing.T, input string, tun Tunables, prep func(s *Sender, str, rtr *testTransport)) string {
	t.Helper()
	if err := tun.Validate(); err != nil {
		t.Fatal(err)
	}
	tn := newTestNet()
	rtr := tn.transport(9001)
	str := tn.transport(9002)
	var out bytes.Buffer
	recv := NewReceiver(rtr, &out, tun, nil)
	send := NewSender(str, rtr.LocalAddrPort(), strings.NewReader(input), tun, nil)
	if prep != nil {
		prep(send, str, rtr)
	}
	sendErr := make(chan error, 1)
	recvErr := make(chan error, 1)
	go func() { recvErr <- recv.Run() }()
	go func() { sendErr <- send.Run() }()
	waitDone(t, sendErr, "sender")
	waitDone(t, recvErr, "receiver")
	if got := send.Status(); got != StatusFinished {
		t.Errorf("sender ended in %s", got)
	}
	if got := recv.Status(); got != StatusFinished {
		t.Errorf("receiver ended in %s", got)
	}
	return out.String()
}

func waitDone(t *testing.T, c chan error, who string) {
	t.Helper()
	select {
	case err := <-c:
		if err != nil {
			t.Fatalf("%s: %v", who, err)
		}
	case <-time.After(20 * time.Second):
		t.Fatalf("%s did not terminate", who)
	}
}

func TestExchangeShortLossless(t *testing.T) {
	const input = "hello world\n"
	var mu sync.Mutex
	var acks []rudp.Value
	got := runExchange(t, input, testTunables(), func(s *Sender, str, rtr *testTransport) {
		// Record every acknowledgement the receiver emits.
		rtr.fault = func(b []byte) [][]byte {
			frm := frameOf(b)
			if frm.Flags().HasAny(rudp.FlagACK) {
				mu.Lock()
				acks = append(acks, frm.Ack())
				mu.Unlock()
			}
			return [][]byte{b}
		}
	})
	if got != input {
		t.Fatalf("output %q want %q", got, input)
	}
	// Acknowledgements never retreat modulo 2³² across the session.
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(acks); i++ {
		if !acks[i-1].LessThanEq(acks[i]) {
			t.Errorf("ack retreated: %d then %d", acks[i-1], acks[i])
		}
	}
}

func TestExchangeEmptyInput(t *testing.T) {
	got := runExchange(t, "", testTunables(), nil)
	if got != "" {
		t.Fatalf("output %q want empty", got)
	}
}

func TestExchangeReorder(t *testing.T) {
	// 3000 bytes segment into 1440/1440/120; the network delivers [2,1,3].
	input := strings.Repeat("a", 1440) + strings.Repeat("b", 1440) + strings.Repeat("c", 119) + "\n"
	tun := testTunables()
	tun.CwndFloor = 4 // all three chunks leave in one window burst
	var held []byte
	datacount := 0
	got := runExchange(t, input, tun, func(s *Sender, str, rtr *testTransport) {
		str.fault = func(b []byte) [][]byte {
			if frameOf(b).Flags() != rudp.FlagPSHACK {
				return [][]byte{b}
			}
			datacount++
			switch datacount {
			case 1:
				held = b
				return nil
			case 2:
				return [][]byte{b, held}
			}
			return [][]byte{b}
		}
	})
	if got != input {
		t.Fatalf("reordered delivery corrupted stream: got %d bytes want %d", len(got), len(input))
	}
	if datacount < 3 {
		t.Errorf("expected 3 data segments, saw %d", datacount)
	}
}

func TestExchangeLossFastRetransmit(t *testing.T) {
	// Ten full segments; the 4th is dropped once. The receiver's duplicate
	// acknowledgements must trigger a fast retransmit well before the
	// retransmission timeout expires.
	input := strings.Repeat("x", 10*1440-1) + "\n"
	tun := testTunables()
	firstSeen := make(map[rudp.Value]bool)
	var (
		mu          sync.Mutex
		dataIndex   int
		droppedSeq  rudp.Value
		droppedAt   time.Time
		recoveredAt time.Time
	)
	got := runExchange(t, input, tun, func(s *Sender, str, rtr *testTransport) {
		str.fault = func(b []byte) [][]byte {
			frm := frameOf(b)
			if frm.Flags() != rudp.FlagPSHACK {
				return [][]byte{b}
			}
			mu.Lock()
			defer mu.Unlock()
			seq := frm.Seq()
			if !firstSeen[seq] {
				firstSeen[seq] = true
				dataIndex++
				if dataIndex == 4 {
					droppedSeq = seq
					droppedAt = time.Now()
					return nil
				}
			} else if seq == droppedSeq && recoveredAt.IsZero() {
				recoveredAt = time.Now()
			}
			return [][]byte{b}
		}
	})
	if got != input {
		t.Fatalf("stream corrupted after loss: got %d bytes want %d", len(got), len(input))
	}
	mu.Lock()
	defer mu.Unlock()
	if recoveredAt.IsZero() {
		t.Fatal("dropped segment was never retransmitted")
	}
	// Fast retransmit fires on the third duplicate ACK, far inside one RTO.
	if lag := recoveredAt.Sub(droppedAt); lag >= tun.InitialRTT {
		t.Errorf("retransmit took %v, expected fast retransmit before %v", lag, tun.InitialRTT)
	}
}

func TestExchangeCorruption(t *testing.T) {
	// One bit of one data payload is flipped on the wire. The digest check
	// must discard it silently; retransmission completes the stream.
	input := strings.Repeat("p", 2*1440) + strings.Repeat("q", 99) + "\n"
	tun := testTunables()
	corrupted := false
	got := runExchange(t, input, tun, func(s *Sender, str, rtr *testTransport) {
		str.fault = func(b []byte) [][]byte {
			frm := frameOf(b)
			if frm.Flags() == rudp.FlagPSHACK && !corrupted {
				corrupted = true
				b[rudp.SizeHeader+5] ^= 0x04
			}
			return [][]byte{b}
		}
	})
	if !corrupted {
		t.Fatal("fault never fired")
	}
	if got != input {
		t.Fatalf("stream corrupted: got %d bytes want %d", len(got), len(input))
	}
}

func TestExchangeHandshakeLoss(t *testing.T) {
	// The first SYN is dropped; the sender must retransmit it no sooner than
	// one RTO and the connection establishes on the second attempt.
	const input = "handshake survives loss\n"
	tun := testTunables()
	var (
		mu       sync.Mutex
		synTimes []time.Time
	)
	got := runExchange(t, input, tun, func(s *Sender, str, rtr *testTransport) {
		str.fault = func(b []byte) [][]byte {
			if frameOf(b).Flags() != rudp.FlagSYN {
				return [][]byte{b}
			}
			mu.Lock()
			defer mu.Unlock()
			synTimes = append(synTimes, time.Now())
			if len(synTimes) == 1 {
				return nil
			}
			return [][]byte{b}
		}
	})
	if got != input {
		t.Fatalf("output %q want %q", got, input)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(synTimes) < 2 {
		t.Fatal("SYN was not retransmitted")
	}
	rto := 2 * tun.InitialRTT
	if gap := synTimes[1].Sub(synTimes[0]); gap < rto-5*time.Millisecond {
		t.Errorf("SYN retransmitted after %v, no sooner than %v expected", gap, rto)
	}
}

func TestExchangeSequenceWrap(t *testing.T) {
	// Initial sequence close to 2³²: every sequence and acknowledgement
	// computation wraps during the transfer.
	input := strings.Repeat("w", 1499) + "\n"
	got := runExchange(t, input, testTunables(), func(s *Sender, str, rtr *testTransport) {
		s.iss = rudp.Value(1<<32 - 500)
		s.seq = s.iss
	})
	if got != input {
		t.Fatalf("wrapped stream corrupted: got %d bytes want %d", len(got), len(input))
	}
}

func TestExchangeDuplicationAndSwap(t *testing.T) {
	// Every data segment is duplicated and adjacent pairs are swapped on the
	// wire. The receiver must still emit the stream exactly once, in order.
	input := strings.Repeat("d", 5*1440-1) + "\n"
	tun := testTunables()
	tun.CwndFloor = 8
	var held []byte
	got := runExchange(t, input, tun, func(s *Sender, str, rtr *testTransport) {
		str.fault = func(b []byte) [][]byte {
			if frameOf(b).Flags() != rudp.FlagPSHACK {
				return [][]byte{b}
			}
			if held == nil {
				held = b
				return nil
			}
			out := [][]byte{b, b, held, held}
			held = nil
			return out
		}
	})
	if got != input {
		t.Fatalf("stream corrupted: got %d bytes want %d", len(got), len(input))
	}
}
