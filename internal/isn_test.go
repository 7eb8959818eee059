package internal

import (
	"net/netip"
	"testing"
)

func TestISN(t *testing.T) {
	lo := netip.AddrFrom4([4]byte{127, 0, 0, 1})
	a := ISN(netip.AddrPortFrom(lo, 40000), netip.AddrPortFrom(lo, 50000))
	b := ISN(netip.AddrPortFrom(lo, 40001), netip.AddrPortFrom(lo, 50000))
	if a == b {
		t.Error("distinct tuples produced identical initial sequence numbers")
	}
	// Passive endpoints derive from the local address alone.
	c := ISN(netip.AddrPortFrom(lo, 40000), netip.AddrPort{})
	d := ISN(netip.AddrPortFrom(lo, 40001), netip.AddrPort{})
	if c == d {
		t.Error("distinct passive tuples produced identical initial sequence numbers")
	}
}
