// Package routedist implements RIP-style distance-vector route
// distribution between directly-connected routers: periodic and
// triggered updates, split-horizon, and route aging. It is additive to
// router.Router — it changes the table only through the public
// Router.AddRoute (the call a static config file makes) and
// Router.RemoveRoute. Grounded on the teacher's rip/rip.go and
// pkg/handlers.go for the protocol shape, and priorityQueue/pq.go
// (adapted from a segment-reorder queue to a route-aging queue) for
// the min-heap expiry structure.
package routedist

import (
	"container/heap"
	"net/netip"

	"github.com/sirupsen/logrus"

	"tcpipstack/router"
)

// Timing constants, in the same virtual-clock milliseconds every other
// package in this module uses; the teacher's rip/rip.go used seconds
// (ENTRY_TIME=5, ROUTE_TIME=12) for the same two knobs.
const (
	UpdateIntervalMs = 5000
	RouteTimeoutMs   = 12000
)

// TransmitFunc hands a RIP packet to a specific neighbor.
type TransmitFunc func(neighbor netip.Addr, packet RIPPacket)

type learnedRoute struct {
	prefix        netip.Prefix
	cost          uint32
	learnedFrom   netip.Addr
	lastRefreshMs uint64
	heapIndex     int
}

// agingHeap is a min-heap of learnedRoute ordered by lastRefreshMs,
// the same container/heap shape as the teacher's PriorityQueue but
// ordered by refresh time instead of sequence number.
type agingHeap []*learnedRoute

func (h agingHeap) Len() int           { return len(h) }
func (h agingHeap) Less(i, j int) bool { return h[i].lastRefreshMs < h[j].lastRefreshMs }
func (h agingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *agingHeap) Push(x any) {
	r := x.(*learnedRoute)
	r.heapIndex = len(*h)
	*h = append(*h, r)
}
func (h *agingHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.heapIndex = -1
	*h = old[:n-1]
	return r
}

// Distributor runs RIP over a Router's interfaces, learning routes
// from neighbor advertisements and installing them via Router.AddRoute.
type Distributor struct {
	myAddr       netip.Addr
	interfaceIdx int
	neighbors    []netip.Addr
	router       *router.Router

	routes map[netip.Prefix]*learnedRoute
	aging  agingHeap

	nowMs             uint64
	msSinceLastUpdate uint64

	log *logrus.Entry
}

// New constructs a Distributor advertising from myAddr out interfaceIdx
// of r, to the given directly-connected neighbors.
func New(r *router.Router, myAddr netip.Addr, interfaceIdx int, neighbors []netip.Addr) *Distributor {
	return &Distributor{
		myAddr:       myAddr,
		interfaceIdx: interfaceIdx,
		neighbors:    neighbors,
		router:       r,
		routes:       make(map[netip.Prefix]*learnedRoute),
		log:          logrus.WithField("component", "routedist"),
	}
}

// SendRequest asks every neighbor for its full table, per spec.md's
// RIP request/response model as grounded in the teacher's
// sendRipRequest.
func (d *Distributor) SendRequest(transmit TransmitFunc) {
	for _, n := range d.neighbors {
		transmit(n, RIPPacket{Command: RIPCommandRequest})
	}
}

// HandleIncoming processes a RIP packet received from a neighbor.
// Requests get a full-table response; responses update the learned
// route table and trigger an immediate update of any changed routes
// (triggered update), split-horizon suppressing advertisement of a
// route back toward the neighbor it was learned from.
func (d *Distributor) HandleIncoming(from netip.Addr, packet RIPPacket, transmit TransmitFunc) {
	switch packet.Command {
	case RIPCommandRequest:
		transmit(from, RIPPacket{Command: RIPCommandResponse, Entries: d.fullTable(netip.Addr{})})

	case RIPCommandResponse:
		var changed []*learnedRoute
		for _, entry := range packet.Entries {
			if r := d.learn(from, entry); r != nil {
				changed = append(changed, r)
			}
		}
		if len(changed) > 0 {
			d.advertiseChanged(changed, transmit)
		}
	}
}

func (d *Distributor) learn(from netip.Addr, entry RIPEntry) *learnedRoute {
	prefix, ok := entryPrefix(entry)
	if !ok {
		return nil
	}
	cost := entry.Cost + 1
	if cost > InfinityCost {
		cost = InfinityCost
	}

	existing, known := d.routes[prefix]
	switch {
	case !known && cost < InfinityCost:
		r := &learnedRoute{prefix: prefix, cost: cost, learnedFrom: from, lastRefreshMs: d.nowMs}
		d.routes[prefix] = r
		heap.Push(&d.aging, r)
		d.installRoute(r)
		return r

	case known && from == existing.learnedFrom:
		existing.lastRefreshMs = d.nowMs
		heap.Fix(&d.aging, existing.heapIndex)
		if cost != existing.cost {
			existing.cost = cost
			if cost >= InfinityCost {
				d.withdraw(existing)
				return nil
			}
			d.installRoute(existing)
			return existing
		}
		return nil

	case known && cost < existing.cost:
		existing.cost = cost
		existing.learnedFrom = from
		existing.lastRefreshMs = d.nowMs
		heap.Fix(&d.aging, existing.heapIndex)
		d.installRoute(existing)
		return existing
	}
	return nil
}

func (d *Distributor) installRoute(r *learnedRoute) {
	nextHop := r.learnedFrom
	d.router.AddRoute(r.prefix, &nextHop, d.interfaceIdx)
}

func (d *Distributor) withdraw(r *learnedRoute) {
	d.router.RemoveRoute(r.prefix)
	delete(d.routes, r.prefix)
	if r.heapIndex >= 0 {
		heap.Remove(&d.aging, r.heapIndex)
	}
}

// fullTable builds a RIP entry list for every known route, omitting
// (split-horizon) any route learned from excludeNeighbor.
func (d *Distributor) fullTable(excludeNeighbor netip.Addr) []RIPEntry {
	entries := make([]RIPEntry, 0, len(d.routes))
	for prefix, r := range d.routes {
		if excludeNeighbor.IsValid() && r.learnedFrom == excludeNeighbor {
			continue
		}
		entries = append(entries, RIPEntry{
			Cost:    r.cost,
			Address: prefixAddress(prefix),
			Mask:    prefixMask(prefix),
		})
	}
	return entries
}

func (d *Distributor) advertiseChanged(changed []*learnedRoute, transmit TransmitFunc) {
	for _, n := range d.neighbors {
		entries := make([]RIPEntry, 0, len(changed))
		for _, r := range changed {
			if r.learnedFrom == n {
				continue
			}
			entries = append(entries, RIPEntry{Cost: r.cost, Address: prefixAddress(r.prefix), Mask: prefixMask(r.prefix)})
		}
		if len(entries) > 0 {
			transmit(n, RIPPacket{Command: RIPCommandResponse, Entries: entries})
		}
	}
}

// Tick advances the virtual clock, issuing a periodic full-table
// update every UpdateIntervalMs and expiring routes that have not been
// refreshed within RouteTimeoutMs.
func (d *Distributor) Tick(msSinceLastTick uint64, transmit TransmitFunc) {
	d.nowMs += msSinceLastTick
	d.msSinceLastUpdate += msSinceLastTick

	if d.msSinceLastUpdate >= UpdateIntervalMs {
		d.msSinceLastUpdate = 0
		for _, n := range d.neighbors {
			if entries := d.fullTable(n); len(entries) > 0 {
				transmit(n, RIPPacket{Command: RIPCommandResponse, Entries: entries})
			}
		}
	}

	for len(d.aging) > 0 {
		oldest := d.aging[0]
		if d.nowMs-oldest.lastRefreshMs < RouteTimeoutMs {
			break
		}
		d.log.WithField("prefix", oldest.prefix).Debug("expiring stale route")
		d.withdraw(oldest)
	}
}

func entryPrefix(e RIPEntry) (netip.Prefix, bool) {
	addr := netip.AddrFrom4([4]byte{byte(e.Address >> 24), byte(e.Address >> 16), byte(e.Address >> 8), byte(e.Address)})
	bits := maskBits(e.Mask)
	p := netip.PrefixFrom(addr, bits)
	if !p.IsValid() {
		return netip.Prefix{}, false
	}
	return p.Masked(), true
}

func maskBits(mask uint32) int {
	bits := 0
	for i := 31; i >= 0; i-- {
		if mask&(1<<uint(i)) == 0 {
			break
		}
		bits++
	}
	return bits
}

func prefixAddress(p netip.Prefix) uint32 {
	b := p.Addr().As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func prefixMask(p netip.Prefix) uint32 {
	if p.Bits() == 0 {
		return 0
	}
	return ^uint32(0) << uint(32-p.Bits())
}
