package socket

import (
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"
)

// AddrInfo mirrors the POSIX addrinfo for the subset the stack serves.
type AddrInfo struct {
	Family   int
	SockType int
	Protocol int
	Addr     netip.AddrPort
}

// GetAddrInfo parses a literal IPv4 address plus numeric port for
// (AF_INET, SOCK_STREAM, TCP) hints. Anything it does not recognize falls
// through to the host resolver.
func GetAddrInfo(node, service string, hints *AddrInfo) ([]AddrInfo, error) {
	valid := true

	var addr netip.Addr
	if node != "" {
		a, err := netip.ParseAddr(node)
		if err != nil || !a.Is4() {
			valid = false
		} else {
			addr = a
		}
	}

	var port uint16
	if valid {
		switch {
		case service != "":
			p, err := strconv.Atoi(service)
			if err != nil || p < 0 || p > 0xffff {
				valid = false
			} else {
				port = uint16(p)
			}
		case node == "":
			valid = false
		}
	}

	if valid && hints != nil {
		if (hints.Family != 0 && hints.Family != unix.AF_INET) ||
			(hints.SockType != 0 && hints.SockType != unix.SOCK_STREAM) ||
			(hints.Protocol != 0 && hints.Protocol != unix.IPPROTO_TCP) {
			valid = false
		}
	}

	if !valid {
		return hostGetAddrInfo(node, service, hints)
	}

	if node == "" {
		addr = netip.AddrFrom4([4]byte{})
	}
	out := AddrInfo{
		Family:   unix.AF_INET,
		SockType: unix.SOCK_STREAM,
		Protocol: unix.IPPROTO_TCP,
		Addr:     netip.AddrPortFrom(addr, port),
	}
	if hints != nil {
		if hints.Family != 0 {
			out.Family = hints.Family
		}
		if hints.SockType != 0 {
			out.SockType = hints.SockType
		}
		if hints.Protocol != 0 {
			out.Protocol = hints.Protocol
		}
	}
	return []AddrInfo{out}, nil
}

// hostGetAddrInfo resolves through the host's resolver for inputs the stack
// does not serve itself.
func hostGetAddrInfo(node, service string, hints *AddrInfo) ([]AddrInfo, error) {
	port := 0
	if service != "" {
		p, err := net.LookupPort("tcp", service)
		if err != nil {
			return nil, err
		}
		port = p
	}
	host := node
	if host == "" {
		host = "0.0.0.0"
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	var out []AddrInfo
	for _, ip := range ips {
		ip4 := ip.To4()
		if ip4 == nil {
			continue
		}
		out = append(out, AddrInfo{
			Family:   unix.AF_INET,
			SockType: unix.SOCK_STREAM,
			Protocol: unix.IPPROTO_TCP,
			Addr:     netip.AddrPortFrom(netip.AddrFrom4([4]byte(ip4)), uint16(port)),
		})
	}
	if len(out) == 0 {
		return nil, unix.EADDRNOTAVAIL
	}
	return out, nil
}
