package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ARP opcodes and hardware/protocol type constants, per spec.md §6.
const (
	ARPHardwareEthernet uint16 = 1
	ARPProtocolIPv4     uint16 = 0x0800

	ARPOpRequest uint16 = 1
	ARPOpReply   uint16 = 2
)

// ARPMessage is the structured record the core's NetworkInterface
// consumes; wire encode/decode lives entirely in this package so the
// core never touches raw bytes, per spec.md §1's scope note.
type ARPMessage struct {
	HardwareType uint16
	ProtocolType uint16
	Opcode       uint16
	SenderMAC    EthernetAddress
	SenderIP     uint32
	TargetMAC    EthernetAddress
	TargetIP     uint32
}

const arpWireLen = 2 + 2 + 2 + 6 + 4 + 6 + 4

// MarshalARP encodes an ARPMessage to wire bytes.
func MarshalARP(m ARPMessage) []byte {
	buf := make([]byte, arpWireLen)
	binary.BigEndian.PutUint16(buf[0:2], m.HardwareType)
	binary.BigEndian.PutUint16(buf[2:4], m.ProtocolType)
	binary.BigEndian.PutUint16(buf[4:6], m.Opcode)
	copy(buf[6:12], m.SenderMAC[:])
	binary.BigEndian.PutUint32(buf[12:16], m.SenderIP)
	copy(buf[16:22], m.TargetMAC[:])
	binary.BigEndian.PutUint32(buf[22:26], m.TargetIP)
	return buf
}

// ParseARP decodes wire bytes into an ARPMessage, reporting a parse
// error rather than panicking on truncated input.
func ParseARP(b []byte) (ARPMessage, error) {
	if len(b) < arpWireLen {
		return ARPMessage{}, errors.Errorf("arp: short message (%d bytes)", len(b))
	}
	var m ARPMessage
	m.HardwareType = binary.BigEndian.Uint16(b[0:2])
	m.ProtocolType = binary.BigEndian.Uint16(b[2:4])
	m.Opcode = binary.BigEndian.Uint16(b[4:6])
	copy(m.SenderMAC[:], b[6:12])
	m.SenderIP = binary.BigEndian.Uint32(b[12:16])
	copy(m.TargetMAC[:], b[16:22])
	m.TargetIP = binary.BigEndian.Uint32(b[22:26])
	return m, nil
}
