package router

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"tcpipstack/netiface"
	"tcpipstack/wire"
)

func mkIface(t *testing.T, name, ip string) *netiface.Interface {
	t.Helper()
	return netiface.New(name, wire.EthernetAddress{}, netip.MustParseAddr(ip))
}

// TestLongestPrefixMatch is spec.md §8 scenario 8: three routes with
// overlapping prefixes; the most specific one wins, a directly
// attached route forwards to the datagram's own destination, and a
// datagram with TTL=1 is dropped before any forwarding is attempted.
// Both next hops are resolved over ARP first, so forwarding emits IPv4
// frames rather than ARP requests.
func TestLongestPrefixMatch(t *testing.T) {
	if0 := mkIface(t, "if0", "192.0.0.1")
	if1 := mkIface(t, "if1", "10.0.0.1")
	if2 := mkIface(t, "if2", "10.1.0.1")
	r := New([]*netiface.Interface{if0, if1, if2})

	r0 := netip.MustParseAddr("192.0.0.2")
	r1 := netip.MustParseAddr("10.1.0.2")
	r.AddRoute(netip.MustParsePrefix("0.0.0.0/0"), &r0, 0)
	r.AddRoute(netip.MustParsePrefix("10.0.0.0/8"), nil, 1)
	r.AddRoute(netip.MustParsePrefix("10.1.0.0/16"), &r1, 2)

	learnARP(t, if2, r1, wire.EthernetAddress{2})
	learnARP(t, if1, netip.MustParseAddr("10.2.0.5"), wire.EthernetAddress{3})

	type forwarded struct {
		ifaceIdx int
		dst      netip.Addr
		ttl      int
	}
	var got []forwarded
	transmit := func(ifaceIdx int, frame wire.EthernetFrame) {
		dgram, err := wire.ParseIPv4Datagram(frame.Payload)
		if err != nil {
			t.Fatalf("ParseIPv4Datagram: %v", err)
		}
		got = append(got, forwarded{ifaceIdx: ifaceIdx, dst: dgram.Header.Dst, ttl: dgram.Header.TTL})
	}

	d1 := wire.NewIPv4Datagram(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.1.2.3"), 6, 2, []byte("a"))
	if1.RecvFrame(mustIPv4Frame(t, if1, d1), func(wire.EthernetFrame) {})
	d2 := wire.NewIPv4Datagram(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.2.0.5"), 6, 5, []byte("b"))
	if1.RecvFrame(mustIPv4Frame(t, if1, d2), func(wire.EthernetFrame) {})
	d3 := wire.NewIPv4Datagram(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.1.2.3"), 6, 1, []byte("c"))
	if1.RecvFrame(mustIPv4Frame(t, if1, d3), func(wire.EthernetFrame) {})

	r.RouteOnce(transmit, func(wire.IPv4Datagram) {})

	if len(got) != 2 {
		t.Fatalf("expected 2 forwarded datagrams (TTL=1 one dropped), got %d: %+v", len(got), got)
	}
	if got[0].ifaceIdx != 2 || got[0].ttl != 1 {
		t.Fatalf("expected first datagram out if2 with TTL=1, got %+v", got[0])
	}
	if got[1].ifaceIdx != 1 || got[1].ttl != 4 {
		t.Fatalf("expected second datagram out if1 with TTL=4, got %+v", got[1])
	}
}

// learnARP feeds iface an ARP reply mapping ip to mac, so its ARP cache
// resolves ip without a request.
func learnARP(t *testing.T, iface *netiface.Interface, ip netip.Addr, mac wire.EthernetAddress) {
	t.Helper()
	a := ip.As4()
	reply := wire.ARPMessage{
		HardwareType: wire.ARPHardwareEthernet,
		ProtocolType: wire.ARPProtocolIPv4,
		Opcode:       wire.ARPOpReply,
		SenderMAC:    mac,
		SenderIP:     binary.BigEndian.Uint32(a[:]),
		TargetMAC:    iface.MAC,
	}
	iface.RecvFrame(wire.EthernetFrame{
		Header:  wire.EthernetHeader{Dst: iface.MAC, Src: mac, Type: wire.TypeARP},
		Payload: wire.MarshalARP(reply),
	}, func(wire.EthernetFrame) {})
}

func mustIPv4Frame(t *testing.T, iface *netiface.Interface, dgram wire.IPv4Datagram) wire.EthernetFrame {
	t.Helper()
	payload, err := dgram.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return wire.EthernetFrame{
		Header:  wire.EthernetHeader{Dst: iface.MAC, Src: wire.EthernetAddress{1}, Type: wire.TypeIPv4},
		Payload: payload,
	}
}
