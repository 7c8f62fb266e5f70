// Package netiface implements the network-access-layer boundary between
// IP and Ethernet: ARP resolution and caching, pending-datagram queues
// for unresolved next hops, and Ethernet frame send/receive. It is
// grounded on original_source/src/network_interface.cc, reworked from
// the original's wall-clock-free tick(ms) model into the same virtual
// clock tcpseg.Sender uses, and on the teacher's pkg/protocol.go for
// the surrounding Go idiom (struct-held state, map-keyed lookups).
package netiface

import (
	"net/netip"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"tcpipstack/wire"
)

// ARPCacheTTLms and ARPRequestIntervalMs are the timing constants
// spec.md §4.6/§9 fixes.
const (
	ARPCacheTTLms        = 30000
	ARPRequestIntervalMs = 5000
	arpCacheCapacity     = 1024
)

// TransmitFunc hands a completed Ethernet frame to the physical port,
// the "external collaborator" spec.md §1 assumes.
type TransmitFunc func(wire.EthernetFrame)

type arpCacheEntry struct {
	mac         wire.EthernetAddress
	learnedAtMs uint64
}

// Interface is one network-access-layer endpoint: one Ethernet address,
// one IP address, an ARP cache, and per-destination pending queues.
type Interface struct {
	Name string
	MAC  wire.EthernetAddress
	IP   netip.Addr

	cache *lru.Cache // netip.Addr -> arpCacheEntry

	pending       map[netip.Addr][]wire.IPv4Datagram
	lastRequestMs map[netip.Addr]uint64
	nowMs         uint64

	// Received holds IPv4 datagrams delivered to this interface,
	// awaiting pickup by the host (a TCP stack or Router), mirroring
	// the original's datagrams_received_ queue.
	Received []wire.IPv4Datagram

	log *logrus.Entry
}

// New constructs an Interface. name is used only for logging.
func New(name string, mac wire.EthernetAddress, ip netip.Addr) *Interface {
	cache, err := lru.New(arpCacheCapacity)
	if err != nil {
		panic("netiface: lru.New with fixed positive size cannot fail: " + err.Error())
	}
	return &Interface{
		Name:          name,
		MAC:           mac,
		IP:            ip,
		cache:         cache,
		pending:       make(map[netip.Addr][]wire.IPv4Datagram),
		lastRequestMs: make(map[netip.Addr]uint64),
		log:           logrus.WithField("iface", name),
	}
}

// SendDatagram sends dgram toward nextHop, resolving its Ethernet
// address via the ARP cache or queueing it and issuing an ARP request,
// per spec.md §4.6.
func (n *Interface) SendDatagram(dgram wire.IPv4Datagram, nextHop netip.Addr, transmit TransmitFunc) {
	if entry, ok := n.lookupCache(nextHop); ok {
		n.transmitIPv4(dgram, entry.mac, transmit)
		return
	}

	n.pending[nextHop] = append(n.pending[nextHop], dgram)

	last, sentBefore := n.lastRequestMs[nextHop]
	if sentBefore && n.nowMs-last < ARPRequestIntervalMs {
		return
	}
	if !sentBefore {
		n.lastRequestMs[nextHop] = n.nowMs
	}

	req := wire.ARPMessage{
		HardwareType: wire.ARPHardwareEthernet,
		ProtocolType: wire.ARPProtocolIPv4,
		Opcode:       wire.ARPOpRequest,
		SenderMAC:    n.MAC,
		SenderIP:     addrToUint32(n.IP),
		TargetMAC:    wire.EthernetAddress{},
		TargetIP:     addrToUint32(nextHop),
	}
	transmit(wire.EthernetFrame{
		Header: wire.EthernetHeader{
			Dst:  wire.Broadcast,
			Src:  n.MAC,
			Type: wire.TypeARP,
		},
		Payload: wire.MarshalARP(req),
	})
}

func (n *Interface) lookupCache(ip netip.Addr) (arpCacheEntry, bool) {
	v, ok := n.cache.Get(ip)
	if !ok {
		return arpCacheEntry{}, false
	}
	entry := v.(arpCacheEntry)
	if n.nowMs-entry.learnedAtMs >= ARPCacheTTLms {
		n.cache.Remove(ip)
		return arpCacheEntry{}, false
	}
	return entry, true
}

// RecvFrame processes an incoming Ethernet frame: IPv4 datagrams are
// queued on Received; ARP requests/replies learn a cache entry and
// flush any pending datagrams for the sender, per spec.md §4.6.
func (n *Interface) RecvFrame(frame wire.EthernetFrame, transmit TransmitFunc) {
	if frame.Header.Dst != n.MAC && frame.Header.Dst != wire.Broadcast {
		return
	}

	switch frame.Header.Type {
	case wire.TypeIPv4:
		dgram, err := wire.ParseIPv4Datagram(frame.Payload)
		if err != nil {
			n.log.WithError(err).Debug("dropping malformed ipv4 datagram")
			return
		}
		n.Received = append(n.Received, dgram)

	case wire.TypeARP:
		msg, err := wire.ParseARP(frame.Payload)
		if err != nil {
			n.log.WithError(err).Debug("dropping malformed arp message")
			return
		}

		if msg.Opcode == wire.ARPOpRequest && msg.TargetIP == addrToUint32(n.IP) {
			reply := wire.ARPMessage{
				HardwareType: wire.ARPHardwareEthernet,
				ProtocolType: wire.ARPProtocolIPv4,
				Opcode:       wire.ARPOpReply,
				SenderMAC:    n.MAC,
				SenderIP:     addrToUint32(n.IP),
				TargetMAC:    msg.SenderMAC,
				TargetIP:     msg.SenderIP,
			}
			transmit(wire.EthernetFrame{
				Header: wire.EthernetHeader{
					Dst:  msg.SenderMAC,
					Src:  n.MAC,
					Type: wire.TypeARP,
				},
				Payload: wire.MarshalARP(reply),
			})
		}

		senderIP := uint32ToAddr(msg.SenderIP)
		n.cache.Add(senderIP, arpCacheEntry{mac: msg.SenderMAC, learnedAtMs: n.nowMs})
		n.flushPending(senderIP, msg.SenderMAC, transmit)

	default:
		n.log.WithField("type", frame.Header.Type).Debug("dropping frame of unknown ethertype")
	}
}

func (n *Interface) flushPending(ip netip.Addr, mac wire.EthernetAddress, transmit TransmitFunc) {
	queued := n.pending[ip]
	delete(n.pending, ip)
	delete(n.lastRequestMs, ip)
	for _, dgram := range queued {
		n.transmitIPv4(dgram, mac, transmit)
	}
}

func (n *Interface) transmitIPv4(dgram wire.IPv4Datagram, dst wire.EthernetAddress, transmit TransmitFunc) {
	payload, err := dgram.Marshal()
	if err != nil {
		n.log.WithError(err).Warn("failed to marshal outgoing ipv4 datagram")
		return
	}
	transmit(wire.EthernetFrame{
		Header: wire.EthernetHeader{
			Dst:  dst,
			Src:  n.MAC,
			Type: wire.TypeIPv4,
		},
		Payload: payload,
	})
}

// Tick advances the interface's virtual clock. ARP cache expiry is
// evaluated lazily on lookup, so there is nothing else to do here.
func (n *Interface) Tick(msSinceLastTick uint64) {
	n.nowMs += msSinceLastTick
}

// PopReceived drains and returns all datagrams queued by RecvFrame.
func (n *Interface) PopReceived() []wire.IPv4Datagram {
	out := n.Received
	n.Received = nil
	return out
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func uint32ToAddr(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
