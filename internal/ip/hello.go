package ip

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/anser/internal/core"
)

// helloLen is the fixed size of a hello payload: originator address, age,
// is-request flag.
const helloLen = 8

type helloPacket struct {
	Origin    netip.Addr
	Age       uint16
	IsRequest bool
}

func (p helloPacket) marshal() []byte {
	b := make([]byte, helloLen)
	o := p.Origin.As4()
	copy(b[0:4], o[:])
	binary.BigEndian.PutUint16(b[4:6], p.Age)
	if p.IsRequest {
		binary.BigEndian.PutUint16(b[6:8], 1)
	}
	return b
}

func parseHello(b []byte) (helloPacket, error) {
	if len(b) < helloLen {
		return helloPacket{}, core.ErrPacketTooShort
	}
	return helloPacket{
		Origin:    netip.AddrFrom4([4]byte(b[0:4])),
		Age:       binary.BigEndian.Uint16(b[4:6]),
		IsRequest: binary.BigEndian.Uint16(b[6:8]) != 0,
	}, nil
}
