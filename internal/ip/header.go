package ip

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/anser/internal/core"
)

// HeaderLen is the length of the fixed IPv4 header this stack emits; it
// never sends options.
const HeaderLen = 20

// IP protocol numbers spoken by the stack.
const (
	ProtoTCP       = 6
	ProtoHello     = 253
	ProtoLinkState = 254
)

const (
	version4        = 4
	defaultIHL      = 5
	defaultTTL      = 255
	flagDontFrag    = 0x4000
	flagReservedBit = 0x8000
)

// Header is the decoded fixed part of an IPv4 header.
type Header struct {
	Version     uint8
	IHL         uint8
	TOS         uint8
	TotalLen    uint16
	ID          uint16
	FlagsOffset uint16
	TTL         uint8
	Protocol    uint8
	Checksum    uint16
	Src         netip.Addr
	Dst         netip.Addr
}

// marshalHeader writes a 20-byte header for a payload of length payloadLen
// into b, computing the checksum last. b must be at least HeaderLen long.
func marshalHeader(b []byte, src, dst netip.Addr, proto uint8, payloadLen int) {
	b[0] = version4<<4 | defaultIHL
	b[1] = 0 // type of service
	binary.BigEndian.PutUint16(b[2:4], uint16(HeaderLen+payloadLen))
	binary.BigEndian.PutUint16(b[4:6], 0) // identification
	binary.BigEndian.PutUint16(b[6:8], flagDontFrag)
	b[8] = defaultTTL
	b[9] = proto
	binary.BigEndian.PutUint16(b[10:12], 0) // checksum placeholder
	s := src.As4()
	copy(b[12:16], s[:])
	d := dst.As4()
	copy(b[16:20], d[:])
	binary.BigEndian.PutUint16(b[10:12], Checksum(b[:HeaderLen]))
}

// parseHeader decodes the fixed header fields. It does not police them; the
// receive path applies the policy checks in order.
func parseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, core.ErrPacketTooShort
	}
	h := Header{
		Version:     b[0] >> 4,
		IHL:         b[0] & 0x0f,
		TOS:         b[1],
		TotalLen:    binary.BigEndian.Uint16(b[2:4]),
		ID:          binary.BigEndian.Uint16(b[4:6]),
		FlagsOffset: binary.BigEndian.Uint16(b[6:8]),
		TTL:         b[8],
		Protocol:    b[9],
		Checksum:    binary.BigEndian.Uint16(b[10:12]),
		Src:         netip.AddrFrom4([4]byte(b[12:16])),
		Dst:         netip.AddrFrom4([4]byte(b[16:20])),
	}
	return h, nil
}
