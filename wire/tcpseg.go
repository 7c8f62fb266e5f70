package wire

import (
	"net/netip"

	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"

	"tcpipstack/tcpseg"
	"tcpipstack/wrap32"
)

// TCPHeaderLen is the fixed (no-options) TCP header length in bytes.
const TCPHeaderLen = header.TCPMinimumSize

// EncodeSegment serializes a tcpseg.SenderMessage into TCP header +
// payload bytes, computing the checksum over the IPv4 pseudo-header
// the same way the teacher's sendTCP/ComputeTCPChecksum did.
func EncodeSegment(msg tcpseg.SenderMessage, srcPort, dstPort uint16, ackno *wrap32.Wrap32, windowSize uint16, srcIP, dstIP netip.Addr) []byte {
	var flags uint8
	if msg.SYN {
		flags |= header.TCPFlagSyn
	}
	if msg.FIN {
		flags |= header.TCPFlagFin
	}
	if msg.RST {
		flags |= header.TCPFlagRst
	}
	var ackNum uint32
	if ackno != nil {
		flags |= header.TCPFlagAck
		ackNum = ackno.Raw()
	}

	fields := header.TCPFields{
		SrcPort:       srcPort,
		DstPort:       dstPort,
		SeqNum:        msg.Seqno.Raw(),
		AckNum:        ackNum,
		DataOffset:    TCPHeaderLen,
		Flags:         flags,
		WindowSize:    windowSize,
		Checksum:      0,
		UrgentPointer: 0,
	}

	hdrBytes := make(header.TCP, TCPHeaderLen)
	hdrBytes.Encode(&fields)

	checksum := computeTCPChecksum(hdrBytes, srcIP, dstIP, msg.Payload)
	hdrBytes.SetChecksum(checksum)

	out := make([]byte, 0, len(hdrBytes)+len(msg.Payload))
	out = append(out, hdrBytes...)
	out = append(out, msg.Payload...)
	return out
}

// DecodedSegment bundles a parsed segment's outbound-facing fields
// (SenderMessage) with the ack/window it piggybacks (ReceiverMessage),
// the two logical messages spec.md §6 keeps separate but every real TCP
// segment carries together on the wire.
type DecodedSegment struct {
	Msg     tcpseg.SenderMessage
	Ack     tcpseg.ReceiverMessage
	SrcPort uint16
	DstPort uint16
}

// DecodeSegment parses TCP header + payload bytes into a DecodedSegment,
// verifying the checksum.
func DecodeSegment(b []byte, srcIP, dstIP netip.Addr) (DecodedSegment, error) {
	if len(b) < TCPHeaderLen {
		return DecodedSegment{}, errors.Errorf("tcp: short segment (%d bytes)", len(b))
	}
	hdr := header.TCP(b)
	dataOffset := int(hdr.DataOffset())
	if dataOffset < TCPHeaderLen || dataOffset > len(b) {
		return DecodedSegment{}, errors.Errorf("tcp: invalid data offset %d", dataOffset)
	}
	payload := b[dataOffset:]

	want := hdr.Checksum()
	gotHdr := make(header.TCP, len(b))
	copy(gotHdr, b)
	gotHdr.SetChecksum(0)
	got := computeTCPChecksum(gotHdr[:dataOffset], srcIP, dstIP, payload)
	if got != want {
		return DecodedSegment{}, errors.New("tcp: checksum mismatch")
	}

	flags := hdr.Flags()
	msg := tcpseg.SenderMessage{
		Seqno:   wrapFromRaw(hdr.SequenceNumber()),
		SYN:     flags&header.TCPFlagSyn != 0,
		Payload: payload,
		FIN:     flags&header.TCPFlagFin != 0,
		RST:     flags&header.TCPFlagRst != 0,
	}

	var ack tcpseg.ReceiverMessage
	if flags&header.TCPFlagAck != 0 {
		w := wrapFromRaw(hdr.AckNumber())
		ack.Ackno = &w
	}
	ack.WindowSize = hdr.WindowSize()
	ack.RST = flags&header.TCPFlagRst != 0

	return DecodedSegment{
		Msg:     msg,
		Ack:     ack,
		SrcPort: hdr.SourcePort(),
		DstPort: hdr.DestinationPort(),
	}, nil
}

func wrapFromRaw(raw uint32) wrap32.Wrap32 {
	return wrap32.Wrap(uint64(raw), wrap32.Wrap32{})
}

func computeTCPChecksum(headerAndPayloadPrefix []byte, srcIP, dstIP netip.Addr, payload []byte) uint16 {
	totalLen := uint16(len(headerAndPayloadPrefix) + len(payload))
	xsum := header.PseudoHeaderChecksum(header.TCPProtocolNumber, tcpipAddr(srcIP), tcpipAddr(dstIP), totalLen)
	xsum = header.Checksum(headerAndPayloadPrefix, xsum)
	xsum = header.Checksum(payload, xsum)
	return ^xsum
}

func tcpipAddr(addr netip.Addr) tcpip.Address {
	a4 := addr.As4()
	return tcpip.Address(a4[:])
}
