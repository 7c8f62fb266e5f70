package wire

import (
	"net/netip"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

// IPv4Datagram is the structured record the Router and NetworkInterface
// operate on. Header (de)serialization is delegated to the same
// iptcp-headers package the teacher's SendIP used.
type IPv4Datagram struct {
	Header  ipv4header.IPv4Header
	Payload []byte
}

// NewIPv4Datagram builds a datagram with sane defaults for the fields
// this module's core never needs to set explicitly.
func NewIPv4Datagram(src, dst netip.Addr, protocol int, ttl uint8, payload []byte) IPv4Datagram {
	hdr := ipv4header.IPv4Header{
		Version:  4,
		Len:      ipv4header.HeaderLen,
		TOS:      0,
		TotalLen: ipv4header.HeaderLen + len(payload),
		ID:       0,
		Flags:    0,
		FragOff:  0,
		TTL:      int(ttl),
		Protocol: protocol,
		Checksum: 0,
		Src:      src,
		Dst:      dst,
		Options:  []byte{},
	}
	d := IPv4Datagram{Header: hdr, Payload: payload}
	d.RecomputeChecksum()
	return d
}

// RecomputeChecksum recomputes and sets the IPv4 header checksum,
// matching the teacher's SendIP pattern of marshal -> checksum -> remarshal,
// using netstack's header.Checksum the same way the teacher's
// ComputeChecksum did.
func (d *IPv4Datagram) RecomputeChecksum() {
	d.Header.Checksum = 0
	raw, err := d.Header.Marshal()
	if err != nil {
		return
	}
	d.Header.Checksum = int(^header.Checksum(raw, 0))
}

// Marshal serializes the datagram (header + payload) to wire bytes.
func (d IPv4Datagram) Marshal() ([]byte, error) {
	headerBytes, err := d.Header.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ipv4 header")
	}
	out := make([]byte, 0, len(headerBytes)+len(d.Payload))
	out = append(out, headerBytes...)
	out = append(out, d.Payload...)
	return out, nil
}

// ParseIPv4Datagram decodes wire bytes into a structured IPv4Datagram,
// reporting a parse error on truncated or malformed input rather than
// panicking, per spec.md §7.
func ParseIPv4Datagram(b []byte) (IPv4Datagram, error) {
	hdr, err := ipv4header.ParseHeader(b)
	if err != nil {
		return IPv4Datagram{}, errors.Wrap(err, "parse ipv4 header")
	}
	if hdr.Len < 0 || hdr.Len > len(b) {
		return IPv4Datagram{}, errors.Errorf("ipv4: invalid header length %d", hdr.Len)
	}
	return IPv4Datagram{Header: *hdr, Payload: b[hdr.Len:]}, nil
}
