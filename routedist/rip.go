package routedist

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// RIP command values, per the teacher's rip/rip.go.
const (
	RIPCommandRequest  uint16 = 1
	RIPCommandResponse uint16 = 2

	// InfinityCost marks a route as unreachable (RIP's "poison").
	InfinityCost uint32 = 16
)

// RIPEntry is one route advertised in a RIP packet: a destination,
// its mask, and the advertiser's cost to reach it.
type RIPEntry struct {
	Cost    uint32
	Address uint32
	Mask    uint32
}

// RIPPacket is a full RIP message: a request (asking for the whole
// table) or a response (carrying entries).
type RIPPacket struct {
	Command uint16
	Entries []RIPEntry
}

// MarshalRIP encodes a RIPPacket to wire bytes, following the
// teacher's MarshalRIP layout (command, count, then flat entries).
func MarshalRIP(p RIPPacket) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, p.Command); err != nil {
		return nil, errors.Wrap(err, "write rip command")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(p.Entries))); err != nil {
		return nil, errors.Wrap(err, "write rip entry count")
	}
	if err := binary.Write(buf, binary.BigEndian, p.Entries); err != nil {
		return nil, errors.Wrap(err, "write rip entries")
	}
	return buf.Bytes(), nil
}

// UnmarshalRIP decodes wire bytes into a RIPPacket, reporting a parse
// error on truncated or malformed input.
func UnmarshalRIP(b []byte) (RIPPacket, error) {
	r := bytes.NewReader(b)
	var p RIPPacket
	if err := binary.Read(r, binary.BigEndian, &p.Command); err != nil {
		return RIPPacket{}, errors.Wrap(err, "read rip command")
	}
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return RIPPacket{}, errors.Wrap(err, "read rip entry count")
	}
	p.Entries = make([]RIPEntry, count)
	if err := binary.Read(r, binary.BigEndian, &p.Entries); err != nil {
		return RIPPacket{}, errors.Wrap(err, "read rip entries")
	}
	return p, nil
}
