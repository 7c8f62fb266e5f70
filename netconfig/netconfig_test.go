package netconfig

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tcpipstack/wire"
)

var addrCmp = cmp.Comparer(func(a, b netip.Addr) bool { return a == b })
var prefixCmp = cmp.Comparer(func(a, b netip.Prefix) bool { return a == b })
var addrPortCmp = cmp.Comparer(func(a, b netip.AddrPort) bool { return a == b })

const sampleYAML = `
routing_mode: rip
interfaces:
  - name: eth0
    mac: "aa:bb:cc:dd:ee:ff"
    ip: 10.0.0.1
    prefix: 10.0.0.0/24
    peer_udp: 127.0.0.1:5000
routes:
  - prefix: 0.0.0.0/0
    next_hop: 10.0.0.254
    interface: eth0
rip_neighbors:
  - 10.0.0.2
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	nextHop := netip.MustParseAddr("10.0.0.254")
	want := Config{
		RoutingMode: RoutingRIP,
		Interfaces: []InterfaceConfig{{
			Name:    "eth0",
			MAC:     wire.EthernetAddress{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
			IP:      netip.MustParseAddr("10.0.0.1"),
			Prefix:  netip.MustParsePrefix("10.0.0.0/24"),
			PeerUDP: netip.MustParseAddrPort("127.0.0.1:5000"),
		}},
		Routes: []RouteConfig{{
			Prefix:    netip.MustParsePrefix("0.0.0.0/0"),
			NextHop:   &nextHop,
			Interface: "eth0",
		}},
		RIPNeighbors: []netip.Addr{netip.MustParseAddr("10.0.0.2")},
	}

	if diff := cmp.Diff(want, cfg, addrCmp, prefixCmp, addrPortCmp); diff != "" {
		t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsBadMAC(t *testing.T) {
	bad := `
interfaces:
  - name: eth0
    mac: "not-a-mac"
    ip: 10.0.0.1
    prefix: 10.0.0.0/24
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatalf("expected an error for a malformed mac address")
	}
}

func TestDefaultRoutingModeIsStatic(t *testing.T) {
	cfg, err := Parse([]byte("interfaces: []\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.RoutingMode != RoutingStatic {
		t.Fatalf("expected default routing mode static, got %q", cfg.RoutingMode)
	}
}
