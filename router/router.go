// Package router composes multiple netiface.Interface values into a
// multi-interface IPv4 forwarder: longest-prefix-match route lookup,
// TTL decrement, and drop-on-expiry. Grounded on
// original_source/src/router.cc's add_route/route/routeHelperFunc and
// the teacher's findPrefixMatch (pkg/protocol.go).
package router

import (
	"net/netip"

	"github.com/sirupsen/logrus"

	"tcpipstack/netiface"
	"tcpipstack/wire"
)

// Route is one forwarding table entry: a destination prefix, an
// optional next hop (absent means the network is directly attached —
// the next hop equals the datagram's destination), and the outgoing
// interface's index.
type Route struct {
	Prefix       netip.Prefix
	NextHop      *netip.Addr
	InterfaceIdx int
}

// Router holds shared ownership of its interfaces, per spec.md §4.5's
// ownership note — they may be polled externally as well as routed
// through.
type Router struct {
	Interfaces []*netiface.Interface
	routes     []Route
	log        *logrus.Entry
}

// New constructs a Router over the given interfaces, indexed in the
// order given; AddRoute's interfaceIdx refers to this order.
func New(interfaces []*netiface.Interface) *Router {
	return &Router{
		Interfaces: interfaces,
		log:        logrus.WithField("component", "router"),
	}
}

// AddRoute registers a forwarding table entry, per spec.md §9's
// "Router configuration" contract. An existing entry for the same
// prefix is replaced, so dynamic route distribution (routedist) can
// refresh or correct a route without accumulating duplicates.
func (r *Router) AddRoute(prefix netip.Prefix, nextHop *netip.Addr, interfaceIdx int) {
	for i := range r.routes {
		if r.routes[i].Prefix == prefix {
			r.routes[i] = Route{Prefix: prefix, NextHop: nextHop, InterfaceIdx: interfaceIdx}
			return
		}
	}
	r.routes = append(r.routes, Route{Prefix: prefix, NextHop: nextHop, InterfaceIdx: interfaceIdx})
	r.log.WithFields(logrus.Fields{
		"prefix":    prefix,
		"next_hop":  nextHop,
		"interface": interfaceIdx,
	}).Debug("added route")
}

// RemoveRoute deletes the forwarding table entry for prefix, if any.
func (r *Router) RemoveRoute(prefix netip.Prefix) {
	for i := range r.routes {
		if r.routes[i].Prefix == prefix {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return
		}
	}
}

// RouteOnce drains every interface's received-datagram queue once. A
// datagram addressed to one of the router's own interfaces is handed to
// deliverLocal (RIP and other self-addressed traffic) instead of being
// forwarded; everything else has its TTL decremented and is forwarded
// out the longest-prefix-matching interface, per spec.md §4.7. Datagrams
// that arrive with TTL <= 1, or that match no route, are dropped.
func (r *Router) RouteOnce(transmit func(ifaceIdx int, frame wire.EthernetFrame), deliverLocal func(dgram wire.IPv4Datagram)) {
	for _, iface := range r.Interfaces {
		for _, dgram := range iface.PopReceived() {
			if r.isLocal(dgram.Header.Dst) {
				deliverLocal(dgram)
				continue
			}
			r.forward(dgram, transmit)
		}
	}
}

func (r *Router) isLocal(dst netip.Addr) bool {
	for _, iface := range r.Interfaces {
		if iface.IP == dst {
			return true
		}
	}
	return false
}

func (r *Router) forward(dgram wire.IPv4Datagram, transmit func(ifaceIdx int, frame wire.EthernetFrame)) {
	if dgram.Header.TTL <= 1 {
		return
	}
	dgram.Header.TTL--
	dgram.RecomputeChecksum()

	idx, nextHop, ok := r.match(dgram.Header.Dst)
	if !ok {
		return
	}

	out := r.Interfaces[idx]
	out.SendDatagram(dgram, nextHop, func(f wire.EthernetFrame) { transmit(idx, f) })
}

// match finds the longest-prefix-matching route for dst, returning the
// outgoing interface index and next-hop IP (the datagram's own
// destination, for directly attached routes).
func (r *Router) match(dst netip.Addr) (int, netip.Addr, bool) {
	bestLen := -1
	bestIdx := -1
	var bestNextHop netip.Addr
	for _, route := range r.routes {
		if !route.Prefix.Contains(dst) {
			continue
		}
		if route.Prefix.Bits() < bestLen {
			continue
		}
		bestLen = route.Prefix.Bits()
		bestIdx = route.InterfaceIdx
		if route.NextHop != nil {
			bestNextHop = *route.NextHop
		} else {
			bestNextHop = dst
		}
	}
	if bestIdx < 0 || bestIdx >= len(r.Interfaces) {
		return 0, netip.Addr{}, false
	}
	return bestIdx, bestNextHop, true
}
