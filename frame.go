package rudp

import (
	"encoding/binary"
	"fmt"
)

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than 48.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < SizeHeader {
		return Frame{buf: nil}, ErrShortFrame
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a segment and provides methods for
// manipulating, validating and retrieving fields and payload data.
//
// Layout of the 48-byte header:
//
//	0       2       4           8           12  13    14      16              48
//	| src   | dst   | seq       | ack       |hl |flags| window| digest (32B)  |
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (frm Frame) RawData() []byte { return frm.buf }

// SourcePort identifies the sending endpoint's ephemeral port.
func (frm Frame) SourcePort() uint16 {
	return binary.BigEndian.Uint16(frm.buf[0:2])
}

// SetSourcePort sets the source port field. See [Frame.SourcePort].
func (frm Frame) SetSourcePort(src uint16) {
	binary.BigEndian.PutUint16(frm.buf[0:2], src)
}

// DestinationPort identifies the intended peer port.
func (frm Frame) DestinationPort() uint16 {
	return binary.BigEndian.Uint16(frm.buf[2:4])
}

// SetDestinationPort sets the destination port field. See [Frame.DestinationPort].
func (frm Frame) SetDestinationPort(dst uint16) {
	binary.BigEndian.PutUint16(frm.buf[2:4], dst)
}

// Seq returns the index of the first payload byte of this segment, or the
// synthetic index for control segments which occupy one octet of sequence space.
func (frm Frame) Seq() Value {
	return Value(binary.BigEndian.Uint32(frm.buf[4:8]))
}

// SetSeq sets the sequence number field. See [Frame.Seq].
func (frm Frame) SetSeq(v Value) {
	binary.BigEndian.PutUint32(frm.buf[4:8], uint32(v))
}

// Ack is the next sequence number the sender of this segment expects to
// receive. An Ack of X indicates all octets up to but not including X arrived.
func (frm Frame) Ack() Value {
	return Value(binary.BigEndian.Uint32(frm.buf[8:12]))
}

// SetAck sets the acknowledgement number field. See [Frame.Ack].
func (frm Frame) SetAck(v Value) {
	binary.BigEndian.PutUint32(frm.buf[8:12], uint32(v))
}

// HeaderLength returns the value of the header length nibble. The protocol
// fixes it at [HeaderLengthWords]; the payload offset is always 48.
func (frm Frame) HeaderLength() uint8 {
	return frm.buf[12] >> 4
}

// SetHeaderLength sets the header length nibble and zeroes the reserved bits.
func (frm Frame) SetHeaderLength(words uint8) {
	frm.buf[12] = words << 4
}

// Flags returns the 6-bit flag field of the segment.
func (frm Frame) Flags() Flags {
	return Flags(frm.buf[13]).Mask()
}

// SetFlags sets the flag field. See [Flags].
func (frm Frame) SetFlags(flags Flags) {
	frm.buf[13] = uint8(flags.Mask())
}

// WindowSize is the advertised receive window in bytes.
func (frm Frame) WindowSize() uint16 { return binary.BigEndian.Uint16(frm.buf[14:16]) }

// SetWindowSize sets the advertised window field. See [Frame.WindowSize].
func (frm Frame) SetWindowSize(v uint16) {
	binary.BigEndian.PutUint16(frm.buf[14:16], v)
}

// Digest returns the 32-byte SHA-256 digest carried by the header.
func (frm Frame) Digest() (d [SizeDigest]byte) {
	copy(d[:], frm.buf[16:48])
	return d
}

// SetDigest writes d into the digest field of the header.
func (frm Frame) SetDigest(d [SizeDigest]byte) {
	copy(frm.buf[16:48], d[:])
}

// Payload returns the payload section of the segment buffer.
func (frm Frame) Payload() []byte {
	return frm.buf[SizeHeader:]
}

// ClearHeader zeros out the header contents.
func (frm Frame) ClearHeader() {
	for i := range frm.buf[:SizeHeader] {
		frm.buf[i] = 0
	}
}

// Segment returns the [Segment] representation of the header and data length.
func (frm Frame) Segment(payloadSize int) Segment {
	return Segment{
		SEQ:     frm.Seq(),
		ACK:     frm.Ack(),
		WND:     Size(frm.WindowSize()),
		DATALEN: Size(payloadSize),
		Flags:   frm.Flags(),
	}
}

// SetSegment sets the sequence, acknowledgment, flag, window and header
// length fields of the header from seg.
func (frm Frame) SetSegment(seg Segment) {
	frm.SetSeq(seg.SEQ)
	frm.SetAck(seg.ACK)
	frm.SetHeaderLength(HeaderLengthWords)
	frm.SetFlags(seg.Flags)
	frm.SetWindowSize(uint16(seg.WND))
}

func (frm Frame) String() string {
	src := frm.SourcePort()
	dst := frm.DestinationPort()
	seg := frm.Segment(len(frm.Payload()))
	return fmt.Sprintf("RUDP :%d -> :%d %s", src, dst, seg.String())
}

// Segment represents an incoming/outgoing segment in the sequence space.
type Segment struct {
	SEQ     Value // sequence number of first octet of segment, or synthetic index for control segments.
	ACK     Value // acknowledgment number: first octet the sender of the segment expects next.
	DATALEN Size  // number of octets occupied by the payload.
	WND     Size  // advertised window.
	Flags   Flags // segment flags.
}

// LEN returns the length of the segment in octets of sequence space.
// Control segments occupy one octet even though they carry no payload.
func (seg *Segment) LEN() Size {
	if seg.DATALEN == 0 {
		return 1
	}
	return seg.DATALEN
}

// Last returns the sequence number of the last octet of the segment.
func (seg *Segment) Last() Value {
	return Add(seg.SEQ, seg.LEN()) - 1
}

func (seg Segment) String() string {
	return fmt.Sprintf("<SEQ=%d><ACK=%d><DATA=%d><WND=%d>%s",
		seg.SEQ, seg.ACK, seg.DATALEN, seg.WND, seg.Flags.String())
}
