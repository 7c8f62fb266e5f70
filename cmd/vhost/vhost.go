// Command vhost runs a single-interface TCP/IP host: it loads a YAML
// config (netconfig), brings up its NetworkInterface, and drives a
// line-oriented REPL with the same command surface as the teacher's
// cmd/vhost/vhost.go, now backed by this module's tcpconn/netiface/wire
// packages instead of the teacher's own protocol/socket code.
package main

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tcpipstack/netconfig"
	"tcpipstack/netiface"
	"tcpipstack/tcpconn"
	"tcpipstack/tcpseg"
	"tcpipstack/wire"
)

const initialRTOms = 1000

type host struct {
	cfg   netconfig.Config
	iface *netiface.Interface
	conn  *net.UDPConn
	peer  *net.UDPAddr
	stack *tcpconn.Stack
	log   *logrus.Entry
}

func newHost(cfg netconfig.Config) (*host, error) {
	if len(cfg.Interfaces) == 0 {
		return nil, fmt.Errorf("vhost: config defines no interfaces")
	}
	ic := cfg.Interfaces[0]

	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(netip.AddrPortFrom(netip.IPv4Unspecified(), ic.PeerUDP.Port())))
	if err != nil {
		return nil, fmt.Errorf("vhost: listen udp: %w", err)
	}

	h := &host{
		cfg:   cfg,
		iface: netiface.New(ic.Name, ic.MAC, ic.IP),
		conn:  conn,
		peer:  net.UDPAddrFromAddrPort(ic.PeerUDP),
		log:   logrus.WithField("node", ic.Name),
	}
	h.stack = tcpconn.New(ic.IP, initialRTOms, h.sendSegment)
	return h, nil
}

func (h *host) sendSegment(tuple tcpconn.FourTuple, msg tcpseg.SenderMessage, ack tcpseg.ReceiverMessage) {
	payload := wire.EncodeSegment(msg, tuple.LocalPort, tuple.RemotePort, ack.Ackno, ack.WindowSize, tuple.LocalAddr, tuple.RemoteAddr)
	dgram := wire.NewIPv4Datagram(tuple.LocalAddr, tuple.RemoteAddr, 6, 64, payload)
	h.iface.SendDatagram(dgram, h.nextHop(tuple.RemoteAddr), h.transmitFrame)
}

func (h *host) nextHop(dst netip.Addr) netip.Addr {
	ic := h.cfg.Interfaces[0]
	if ic.Prefix.Contains(dst) {
		return dst
	}
	for _, r := range h.cfg.Routes {
		if r.Prefix.Contains(dst) && r.NextHop != nil {
			return *r.NextHop
		}
	}
	return dst
}

func (h *host) transmitFrame(f wire.EthernetFrame) {
	if _, err := h.conn.WriteToUDP(wire.MarshalEthernet(f), h.peer); err != nil {
		h.log.WithError(err).Warn("failed to write frame to udp")
	}
}

func (h *host) listen() {
	buf := make([]byte, 65536)
	for {
		n, _, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			h.log.WithError(err).Warn("udp read error")
			continue
		}
		frame, err := wire.ParseEthernet(buf[:n])
		if err != nil {
			h.log.WithError(err).Debug("dropping malformed frame")
			continue
		}
		h.iface.RecvFrame(frame, h.transmitFrame)
		for _, dgram := range h.iface.PopReceived() {
			h.deliverDatagram(dgram)
		}
	}
}

func (h *host) deliverDatagram(dgram wire.IPv4Datagram) {
	seg, err := wire.DecodeSegment(dgram.Payload, dgram.Header.Src, dgram.Header.Dst)
	if err != nil {
		h.log.WithError(err).Debug("dropping malformed tcp segment")
		return
	}
	h.stack.DeliverSegment(dgram.Header.Src, seg.SrcPort, seg.DstPort, seg.Msg, seg.Ack)
}

func (h *host) tickLoop() {
	const tick = 100 * time.Millisecond
	for {
		time.Sleep(tick)
		h.iface.Tick(uint64(tick / time.Millisecond))
		h.stack.Tick(uint64(tick / time.Millisecond))
	}
}

func main() {
	if len(os.Args) != 3 || os.Args[1] != "--config" {
		fmt.Println("Usage: ./vhost --config <yaml file>")
		return
	}

	cfg, err := netconfig.Load(os.Args[2])
	if err != nil {
		fmt.Println("error parsing config file:", err)
		return
	}

	h, err := newHost(cfg)
	if err != nil {
		fmt.Println(err)
		return
	}
	go h.listen()
	go h.tickLoop()

	runREPL(h)
}

func runREPL(h *host) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Enter command:")
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "li":
			ic := h.cfg.Interfaces[0]
			fmt.Printf("%s  %s  %s\n", ic.Name, ic.IP, ic.Prefix)

		case "ln":
			fmt.Println("(no ARP cache inspection command wired up)")

		case "lr":
			for _, r := range h.cfg.Routes {
				fmt.Printf("%s via %v\n", r.Prefix, r.NextHop)
			}

		case "up", "down":
			fmt.Println("interface up/down is not modeled for a single-interface host")

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
			msg := strings.Join(fields[2:], " ")
			dgram := wire.NewIPv4Datagram(h.cfg.Interfaces[0].IP, dst, 0, 64, []byte(msg))
			h.iface.SendDatagram(dgram, h.nextHop(dst), h.transmitFrame)

		case "ls":
			for _, s := range h.stack.ListSockets() {
				fmt.Printf("%d  %s:%d  %s:%d  %s\n", s.ID, s.Tuple.LocalAddr, s.Tuple.LocalPort, s.Tuple.RemoteAddr, s.Tuple.RemotePort, s.Status)
			}

		case "a":
			if len(fields) < 2 {
				fmt.Println("usage: a <port>")
				continue
			}
			port, err := strconv.ParseUint(fields[1], 10, 16)
			if err != nil {
				fmt.Println(err)
				continue
			}
			l, err := h.stack.Listen(uint16(port))
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("created listen socket")
			go func() {
				for {
					if _, err := l.Accept(); err != nil {
						return
					}
					fmt.Println("listen conn created")
				}
			}()

		case "c":
			if len(fields) < 3 {
				fmt.Println("usage: c <ip> <port>")
				continue
			}
			ip, err := netip.ParseAddr(fields[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			port, err := strconv.ParseUint(fields[2], 10, 16)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if _, err := h.stack.Connect(ip, uint16(port)); err != nil {
				fmt.Println(err)
			}

		case "s":
			if len(fields) < 3 {
				fmt.Println("usage: s <socket id> <data>")
				continue
			}
			id, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				fmt.Println(err)
				continue
			}
			c, ok := h.stack.Conn(uint32(id))
			if !ok {
				fmt.Println("error: socket not found")
				continue
			}
			n, err := c.Write([]byte(strings.Join(fields[2:], " ")))
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("sent %d bytes\n", n)

		case "r":
			if len(fields) < 3 {
				fmt.Println("usage: r <socket id> <n bytes>")
				continue
			}
			id, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				fmt.Println(err)
				continue
			}
			n, err := strconv.ParseUint(fields[2], 10, 32)
			if err != nil {
				fmt.Println(err)
				continue
			}
			c, ok := h.stack.Conn(uint32(id))
			if !ok {
				fmt.Println("error: socket not found")
				continue
			}
			buf := make([]byte, n)
			got, err := c.Read(buf)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("read %d bytes: %s\n", got, string(buf[:got]))

		case "cl":
			if len(fields) < 2 {
				fmt.Println("usage: cl <socket id>")
				continue
			}
			id, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				fmt.Println(err)
				continue
			}
			c, ok := h.stack.Conn(uint32(id))
			if !ok {
				fmt.Println("error: socket not found")
				continue
			}
			if err := c.Close(); err != nil {
				fmt.Println(err)
			}

		default:
			fmt.Println("invalid command")
		}
	}
}
