package internal

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

var (
	isnOnce   sync.Once
	isnSecret [blake2b.Size256]byte
)

// ISN derives an initial sequence number in the manner of RFC 6528: a keyed
// BLAKE2b hash of the connection endpoints plus a 4 microsecond clock
// component. The secret key is drawn once per process. The remote may be the
// zero AddrPort for passive endpoints that do not yet know their peer.
func ISN(local, remote netip.AddrPort) uint32 {
	isnOnce.Do(func() {
		if _, err := rand.Read(isnSecret[:]); err != nil {
			// crypto/rand does not fail on supported platforms; a key seeded
			// from the clock still yields valid, merely predictable, sequence
			// numbers.
			binary.BigEndian.PutUint64(isnSecret[:8], uint64(time.Now().UnixNano()))
		}
	})
	h, err := blake2b.New256(isnSecret[:])
	if err != nil {
		panic("isn: bad blake2b key length")
	}
	var ports [4]byte
	binary.BigEndian.PutUint16(ports[0:2], local.Port())
	binary.BigEndian.PutUint16(ports[2:4], remote.Port())
	la := local.Addr().As16()
	ra := remote.Addr().As16()
	h.Write(la[:])
	h.Write(ra[:])
	h.Write(ports[:])
	var sum [blake2b.Size256]byte
	h.Sum(sum[:0])
	base := binary.BigEndian.Uint32(sum[:4])
	tick := uint32(time.Now().UnixMicro() / 4)
	return base + tick
}
