package core

import (
	"encoding/binary"
	"net/netip"
)

// HardwareAddr is a 6-octet Ethernet address. It is an array so it can be
// compared and used as a map key.
type HardwareAddr [6]byte

// Broadcast is the all-ones Ethernet address.
var Broadcast = HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (a HardwareAddr) String() string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 0, 17)
	for i, b := range a {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, hex[b>>4], hex[b&0xf])
	}
	return string(buf)
}

// AddrToUint32 converts a 4-byte address to host-order uint32 keeping the
// network byte significance (first octet is most significant).
func AddrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

// Uint32ToAddr is the inverse of AddrToUint32.
func Uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// ContiguousMask reports whether v is a mask whose set bits are contiguous
// from the high end, e.g. 0xffffff00. The complement of such a mask is one
// less than a power of two.
func ContiguousMask(v uint32) bool {
	inv := ^v
	return inv&(inv+1) == 0
}
