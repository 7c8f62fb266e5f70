// Command vrouter runs a multi-interface IPv4 router: it loads a YAML
// config (netconfig), brings up one netiface.Interface per configured
// port, wires them into a router.Router, optionally runs RIP route
// distribution, and drives the same REPL command surface as the
// teacher's cmd/vrouter/vrouter.go.
package main

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tcpipstack/netconfig"
	"tcpipstack/netiface"
	"tcpipstack/router"
	"tcpipstack/routedist"
	"tcpipstack/wire"
)

type node struct {
	cfg  netconfig.Config
	r    *router.Router
	dist *routedist.Distributor

	conns []*net.UDPConn // one UDP socket per interface, index-aligned with cfg.Interfaces
	log   *logrus.Entry
}

func newNode(cfg netconfig.Config) (*node, error) {
	ifaces := make([]*netiface.Interface, 0, len(cfg.Interfaces))
	conns := make([]*net.UDPConn, 0, len(cfg.Interfaces))

	for _, ic := range cfg.Interfaces {
		conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(netip.AddrPortFrom(netip.IPv4Unspecified(), ic.PeerUDP.Port())))
		if err != nil {
			return nil, fmt.Errorf("vrouter: listen udp for %s: %w", ic.Name, err)
		}
		ifaces = append(ifaces, netiface.New(ic.Name, ic.MAC, ic.IP))
		conns = append(conns, conn)
	}

	n := &node{
		cfg:   cfg,
		r:     router.New(ifaces),
		conns: conns,
		log:   logrus.WithField("component", "vrouter"),
	}

	for _, rt := range cfg.Routes {
		idx := n.interfaceIndex(rt.Interface)
		if idx < 0 {
			continue
		}
		n.r.AddRoute(rt.Prefix, rt.NextHop, idx)
	}

	if cfg.RoutingMode == netconfig.RoutingRIP && len(cfg.Interfaces) > 0 {
		n.dist = routedist.New(n.r, cfg.Interfaces[0].IP, 0, cfg.RIPNeighbors)
	}

	return n, nil
}

func (n *node) interfaceIndex(name string) int {
	for i, ic := range n.cfg.Interfaces {
		if ic.Name == name {
			return i
		}
	}
	return -1
}

func (n *node) transmitFrame(idx int, f wire.EthernetFrame) {
	peer := net.UDPAddrFromAddrPort(n.cfg.Interfaces[idx].PeerUDP)
	if _, err := n.conns[idx].WriteToUDP(wire.MarshalEthernet(f), peer); err != nil {
		n.log.WithError(err).Warn("failed to write frame to udp")
	}
}

func (n *node) listenOn(idx int) {
	buf := make([]byte, 65536)
	for {
		nb, _, err := n.conns[idx].ReadFromUDP(buf)
		if err != nil {
			n.log.WithError(err).Warn("udp read error")
			continue
		}
		frame, err := wire.ParseEthernet(buf[:nb])
		if err != nil {
			n.log.WithError(err).Debug("dropping malformed frame")
			continue
		}
		n.r.Interfaces[idx].RecvFrame(frame, func(out wire.EthernetFrame) { n.transmitFrame(idx, out) })
	}
}

func (n *node) ripTransmit(neighbor netip.Addr, packet routedist.RIPPacket) {
	payload, err := routedist.MarshalRIP(packet)
	if err != nil {
		n.log.WithError(err).Warn("failed to marshal rip packet")
		return
	}
	for idx, ic := range n.cfg.Interfaces {
		if !ic.Prefix.Contains(neighbor) {
			continue
		}
		dgram := wire.NewIPv4Datagram(ic.IP, neighbor, 200, 1, payload)
		n.r.Interfaces[idx].SendDatagram(dgram, neighbor, func(f wire.EthernetFrame) { n.transmitFrame(idx, f) })
		return
	}
}

func (n *node) deliverLocal(dgram wire.IPv4Datagram) {
	if dgram.Header.Protocol != 200 || n.dist == nil {
		return
	}
	packet, err := routedist.UnmarshalRIP(dgram.Payload)
	if err != nil {
		n.log.WithError(err).Debug("dropping malformed rip packet")
		return
	}
	n.dist.HandleIncoming(dgram.Header.Src, packet, n.ripTransmit)
}

func (n *node) routeLoop() {
	for {
		time.Sleep(10 * time.Millisecond)
		n.r.RouteOnce(n.transmitFrame, n.deliverLocal)
	}
}

func (n *node) tickLoop() {
	const tick = 100 * time.Millisecond
	for {
		time.Sleep(tick)
		ms := uint64(tick / time.Millisecond)
		for _, iface := range n.r.Interfaces {
			iface.Tick(ms)
		}
		if n.dist != nil {
			n.dist.Tick(ms, n.ripTransmit)
		}
	}
}

func main() {
	if len(os.Args) != 3 || os.Args[1] != "--config" {
		fmt.Println("Usage: ./vrouter --config <yaml file>")
		return
	}

	cfg, err := netconfig.Load(os.Args[2])
	if err != nil {
		fmt.Println("error parsing config file:", err)
		return
	}

	n, err := newNode(cfg)
	if err != nil {
		fmt.Println(err)
		return
	}

	for idx := range n.cfg.Interfaces {
		go n.listenOn(idx)
	}
	go n.routeLoop()
	go n.tickLoop()

	if n.dist != nil {
		n.dist.SendRequest(n.ripTransmit)
	}

	runREPL(n)
}

func runREPL(n *node) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Enter command:")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "li":
			for _, ic := range n.cfg.Interfaces {
				fmt.Printf("%s  %s  %s\n", ic.Name, ic.IP, ic.Prefix)
			}

		case "ln":
			fmt.Println("(no ARP cache inspection command wired up)")

		case "lr":
			for _, rt := range n.cfg.Routes {
				fmt.Printf("%s via %v on %s\n", rt.Prefix, rt.NextHop, rt.Interface)
			}
			if n.dist != nil {
				fmt.Println("(dynamic RIP routes are installed directly into the router's table)")
			}

		case "up", "down":
			fmt.Println("interface up/down is not modeled for this router")

		case "send":
			if len(fields) < 3 {
				fmt.Println("usage: send <ip> <message>")
				continue
			}
			dst, err := netip.ParseAddr(fields[1])
			if err != nil {
				fmt.Println("please enter a valid IP address after send")
				continue
			}
			if len(n.cfg.Interfaces) == 0 {
				continue
			}
			msg := strings.Join(fields[2:], " ")
			dgram := wire.NewIPv4Datagram(n.cfg.Interfaces[0].IP, dst, 0, 64, []byte(msg))
			n.r.Interfaces[0].SendDatagram(dgram, dst, func(f wire.EthernetFrame) { n.transmitFrame(0, f) })

		default:
			fmt.Println("invalid command")
		}
	}
}
