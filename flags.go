package rudp

import "math/bits"

// Flags is the 6-bit segment flag field. Unlike classic TCP the flag field is
// interpreted as an exact value, not a mask: endpoints admit only the six
// combinations enumerated in [Flags.WireLegal] and drop everything else.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota // FlagFIN - No more data from sender.
	FlagSYN                   // FlagSYN - Synchronize sequence numbers.
	FlagRST                   // FlagRST - Reset the connection.
	FlagPSH                   // FlagPSH - Push function.
	FlagACK                   // FlagACK - Acknowledgment field significant.
	FlagURG                   // FlagURG - Urgent pointer field significant.
)

const flagMask = 0x3f

// The flag unions that are legal on the wire, shorthand for the admission
// checks scattered through the endpoint state machines.
const (
	FlagSYNACK = FlagSYN | FlagACK
	FlagFINACK = FlagFIN | FlagACK
	FlagPSHACK = FlagPSH | FlagACK
)

// Mask returns the flags with non-flag bits unset.
func (flags Flags) Mask() Flags { return flags & flagMask }

// HasAll checks if mask bits are all set in the receiver flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny checks if one or more mask bits are set in receiver flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// WireLegal reports whether flags is one of the exact combinations the
// protocol admits: SYN, SYN|ACK, ACK, PSH|ACK, FIN, FIN|ACK.
func (flags Flags) WireLegal() bool {
	switch flags {
	case FlagSYN, FlagSYNACK, FlagACK, FlagPSHACK, FlagFIN, FlagFINACK:
		return true
	}
	return false
}

// String returns a human readable flag string. i.e:
//
//	"[SYN,ACK]"
func (flags Flags) String() string {
	// Cover the legal wire combinations without heap allocating.
	switch flags {
	case 0:
		return "[]"
	case FlagSYNACK:
		return "[SYN,ACK]"
	case FlagFINACK:
		return "[FIN,ACK]"
	case FlagPSHACK:
		return "[PSH,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagSYN:
		return "[SYN]"
	case FlagFIN:
		return "[FIN]"
	}
	buf := make([]byte, 0, 2+4*bits.OnesCount8(uint8(flags)))
	buf = append(buf, '[')
	buf = flags.AppendFormat(buf)
	buf = append(buf, ']')
	return string(buf)
}

// AppendFormat appends a human readable flag string to b returning the extended buffer.
// Flags are printed in order from LSB (FIN) to MSB (URG).
func (flags Flags) AppendFormat(b []byte) []byte {
	if flags == 0 {
		return b
	}
	const flaglen = 3
	const strflags = "FINSYNRSTPSHACKURG"
	var addcommas bool
	for flags != 0 {
		i := bits.TrailingZeros8(uint8(flags))
		if addcommas {
			b = append(b, ',')
		} else {
			addcommas = true
		}
		b = append(b, strflags[i*flaglen:i*flaglen+flaglen]...)
		flags &= ^(1 << i)
	}
	return b
}
