package endpoint

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

// Transport is the capability through which an engine reaches the unreliable
// datagram substrate. The send path reads only immutable configuration and
// the socket handle, so a Transport may be passed to helpers independently of
// the engine's mutable state.
//
// Recv must be non-blocking: it reports ok=false immediately when no datagram
// is pending. Send treats the local interface as reliable and retries
// transient failures internally.
type Transport interface {
	Send(b []byte, to netip.AddrPort) error
	Recv(b []byte) (n int, from netip.AddrPort, ok bool)
	LocalAddrPort() netip.AddrPort
	Close() error
}

// UDPTransport implements [Transport] over a UDP socket in non-blocking mode.
type UDPTransport struct {
	conn *net.UDPConn
	logger
}

// ListenUDP binds a UDP socket on host with an OS-chosen port and returns a
// transport over it.
func ListenUDP(host string, log *slog.Logger) (*UDPTransport, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("udp: invalid bind host %q", host)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip})
	if err != nil {
		return nil, fmt.Errorf("udp: bind %s: %w", host, err)
	}
	return &UDPTransport{conn: conn, logger: logger{log: log}}, nil
}

// LocalAddrPort returns the bound address of the socket.
func (t *UDPTransport) LocalAddrPort() netip.AddrPort {
	return t.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Send transmits one datagram to the peer, retrying transient failures until
// the socket accepts it.
func (t *UDPTransport) Send(b []byte, to netip.AddrPort) error {
	for {
		_, err := t.conn.WriteToUDPAddrPort(b, to)
		if err == nil {
			return nil
		}
		t.logerr("udp:send-retry", slog.String("err", err.Error()))
		time.Sleep(50 * time.Microsecond)
	}
}

// Recv polls the socket for one datagram. It returns immediately with
// ok=false when nothing is pending or the read fails.
func (t *UDPTransport) Recv(b []byte) (int, netip.AddrPort, bool) {
	t.conn.SetReadDeadline(time.Now())
	n, from, err := t.conn.ReadFromUDPAddrPort(b)
	if err != nil {
		return 0, netip.AddrPort{}, false
	}
	return n, from, true
}

// Close releases the socket.
func (t *UDPTransport) Close() error { return t.conn.Close() }
