// Package netconfig loads the YAML configuration files cmd/vhost and
// cmd/vrouter start from: interfaces, static routes, and RIP
// neighbors. It plays the role the teacher's lnxconfig package played
// for ".lnx" files, rebuilt around a YAML document instead (per
// SPEC_FULL.md's domain-stack note) via gopkg.in/yaml.v3.
package netconfig

import (
	"net/netip"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"tcpipstack/wire"
)

// RoutingMode selects how a node's Router table is populated.
type RoutingMode string

const (
	RoutingStatic RoutingMode = "static"
	RoutingRIP    RoutingMode = "rip"
)

// rawConfig is the literal YAML document shape; every address-shaped
// field is a plain string here and gets parsed into its typed form by
// Load, the same "parse after unmarshal" split the teacher's
// lnxconfig presumably used for its own custom file format.
type rawConfig struct {
	RoutingMode string `yaml:"routing_mode"`

	Interfaces []struct {
		Name   string `yaml:"name"`
		MAC    string `yaml:"mac"`
		IP     string `yaml:"ip"`
		Prefix string `yaml:"prefix"`
		Peer   string `yaml:"peer_udp"`
	} `yaml:"interfaces"`

	Routes []struct {
		Prefix    string `yaml:"prefix"`
		NextHop   string `yaml:"next_hop"`
		Interface string `yaml:"interface"`
	} `yaml:"routes"`

	RIPNeighbors []string `yaml:"rip_neighbors"`
}

// InterfaceConfig is one parsed network interface definition.
type InterfaceConfig struct {
	Name    string
	MAC     wire.EthernetAddress
	IP      netip.Addr
	Prefix  netip.Prefix
	PeerUDP netip.AddrPort // the UDP endpoint simulating the physical link, per the teacher's Udp field
}

// RouteConfig is one parsed static route.
type RouteConfig struct {
	Prefix    netip.Prefix
	NextHop   *netip.Addr
	Interface string
}

// Config is the fully parsed, typed configuration for one node.
type Config struct {
	RoutingMode  RoutingMode
	Interfaces   []InterfaceConfig
	Routes       []RouteConfig
	RIPNeighbors []netip.Addr
}

// Load reads and parses a YAML configuration file from path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

// Parse parses a YAML configuration document already in memory.
func Parse(data []byte) (Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, errors.Wrap(err, "parse yaml config")
	}

	cfg := Config{RoutingMode: RoutingMode(raw.RoutingMode)}
	if cfg.RoutingMode == "" {
		cfg.RoutingMode = RoutingStatic
	}

	for _, ri := range raw.Interfaces {
		mac, err := parseMAC(ri.MAC)
		if err != nil {
			return Config{}, errors.Wrapf(err, "interface %q mac", ri.Name)
		}
		ip, err := netip.ParseAddr(ri.IP)
		if err != nil {
			return Config{}, errors.Wrapf(err, "interface %q ip", ri.Name)
		}
		prefix, err := netip.ParsePrefix(ri.Prefix)
		if err != nil {
			return Config{}, errors.Wrapf(err, "interface %q prefix", ri.Name)
		}
		var peer netip.AddrPort
		if ri.Peer != "" {
			peer, err = netip.ParseAddrPort(ri.Peer)
			if err != nil {
				return Config{}, errors.Wrapf(err, "interface %q peer_udp", ri.Name)
			}
		}
		cfg.Interfaces = append(cfg.Interfaces, InterfaceConfig{
			Name: ri.Name, MAC: mac, IP: ip, Prefix: prefix, PeerUDP: peer,
		})
	}

	for _, rr := range raw.Routes {
		prefix, err := netip.ParsePrefix(rr.Prefix)
		if err != nil {
			return Config{}, errors.Wrap(err, "route prefix")
		}
		var nextHop *netip.Addr
		if rr.NextHop != "" {
			addr, err := netip.ParseAddr(rr.NextHop)
			if err != nil {
				return Config{}, errors.Wrap(err, "route next_hop")
			}
			nextHop = &addr
		}
		cfg.Routes = append(cfg.Routes, RouteConfig{Prefix: prefix, NextHop: nextHop, Interface: rr.Interface})
	}

	for _, n := range raw.RIPNeighbors {
		addr, err := netip.ParseAddr(n)
		if err != nil {
			return Config{}, errors.Wrap(err, "rip_neighbors")
		}
		cfg.RIPNeighbors = append(cfg.RIPNeighbors, addr)
	}

	return cfg, nil
}

func parseMAC(s string) (wire.EthernetAddress, error) {
	var mac wire.EthernetAddress
	if s == "" {
		return mac, nil
	}
	n, err := parseHexColonBytes(s, mac[:])
	if err != nil || n != len(mac) {
		return wire.EthernetAddress{}, errors.Errorf("invalid mac address %q", s)
	}
	return mac, nil
}

func parseHexColonBytes(s string, out []byte) (int, error) {
	i := 0
	for i < len(out) {
		if len(s) < 2 {
			return i, errors.New("short mac component")
		}
		var hi, lo byte
		var err error
		if hi, err = hexDigit(s[0]); err != nil {
			return i, err
		}
		if lo, err = hexDigit(s[1]); err != nil {
			return i, err
		}
		out[i] = hi<<4 | lo
		i++
		s = s[2:]
		if i < len(out) {
			if len(s) == 0 || s[0] != ':' {
				return i, errors.New("expected ':' between mac components")
			}
			s = s[1:]
		}
	}
	return i, nil
}

func hexDigit(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, errors.Errorf("invalid hex digit %q", c)
	}
}
