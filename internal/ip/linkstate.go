package ip

import (
	"encoding/binary"

	"firestige.xyz/anser/internal/core"
	"firestige.xyz/anser/internal/route"
)

// Link-state payload layout: sequence(4) age(4) naddr(2) nneigh(2),
// then naddr address words, naddr mask words, and nneigh (address, cost)
// pairs. The originator is the source address of the carrying datagram.
const linkStateFixedLen = 12

func marshalLinkState(seq, age uint32, prefixes []route.Prefix, neighbors []route.Neighbor) []byte {
	b := make([]byte, linkStateFixedLen+8*len(prefixes)+8*len(neighbors))
	binary.BigEndian.PutUint32(b[0:4], seq)
	binary.BigEndian.PutUint32(b[4:8], age)
	binary.BigEndian.PutUint16(b[8:10], uint16(len(prefixes)))
	binary.BigEndian.PutUint16(b[10:12], uint16(len(neighbors)))
	off := linkStateFixedLen
	for _, p := range prefixes {
		binary.BigEndian.PutUint32(b[off:off+4], p.Addr)
		off += 4
	}
	for _, p := range prefixes {
		binary.BigEndian.PutUint32(b[off:off+4], p.Mask)
		off += 4
	}
	for _, nb := range neighbors {
		binary.BigEndian.PutUint32(b[off:off+4], nb.Addr)
		binary.BigEndian.PutUint32(b[off+4:off+8], nb.Cost)
		off += 8
	}
	return b
}

func parseLinkState(origin uint32, b []byte) (route.LinkState, error) {
	if len(b) < linkStateFixedLen {
		return route.LinkState{}, core.ErrPacketTooShort
	}
	rec := route.LinkState{
		Origin: origin,
		Seq:    binary.BigEndian.Uint32(b[0:4]),
		Age:    binary.BigEndian.Uint32(b[4:8]),
	}
	naddr := int(binary.BigEndian.Uint16(b[8:10]))
	nneigh := int(binary.BigEndian.Uint16(b[10:12]))
	need := linkStateFixedLen + 8*naddr + 8*nneigh
	if len(b) < need {
		return route.LinkState{}, core.ErrPacketTooShort
	}
	off := linkStateFixedLen
	rec.Prefixes = make([]route.Prefix, naddr)
	for i := 0; i < naddr; i++ {
		rec.Prefixes[i].Addr = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
	}
	for i := 0; i < naddr; i++ {
		rec.Prefixes[i].Mask = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
	}
	rec.Neighbors = make([]route.Neighbor, nneigh)
	for i := 0; i < nneigh; i++ {
		rec.Neighbors[i].Addr = binary.BigEndian.Uint32(b[off : off+4])
		rec.Neighbors[i].Cost = binary.BigEndian.Uint32(b[off+4 : off+8])
		off += 8
	}
	return rec, nil
}
