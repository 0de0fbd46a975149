package tcp

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/anser/internal/core"
	"firestige.xyz/anser/internal/ip"
)

const (
	// headerLen is the TCP header without options; this stack emits none.
	headerLen = 20
	// pseudoLen is the checksum pseudo header prepended to every segment.
	pseudoLen = 12
)

// Control bits.
const (
	flagFIN = 0x01
	flagSYN = 0x02
	flagRST = 0x04
	flagPSH = 0x08
	flagACK = 0x10
	flagURG = 0x20
)

// Option kinds. Only maximum segment size is interpreted.
const (
	optEnd = 0
	optNop = 1
	optMSS = 2
)

// segment is the decoded form of a TCP segment.
type segment struct {
	srcPort, dstPort uint16
	seq, ack         uint32
	dataOff          int // header length in bytes
	flags            uint8
	window           uint16
	checksum         uint16
	urgent           uint16
	mss              uint16 // 0 when the option is absent
	payload          []byte
}

// marshalSegment serializes a segment and computes its checksum over the
// pseudo header.
func marshalSegment(src, dst netip.Addr, srcPort, dstPort uint16,
	seq, ack uint32, flags uint8, window uint16, payload []byte) []byte {

	buf := make([]byte, pseudoLen+headerLen+len(payload))
	writePseudo(buf, src, dst, headerLen+len(payload))

	h := buf[pseudoLen:]
	binary.BigEndian.PutUint16(h[0:2], srcPort)
	binary.BigEndian.PutUint16(h[2:4], dstPort)
	binary.BigEndian.PutUint32(h[4:8], seq)
	binary.BigEndian.PutUint32(h[8:12], ack)
	h[12] = (headerLen / 4) << 4
	h[13] = flags
	binary.BigEndian.PutUint16(h[14:16], window)
	binary.BigEndian.PutUint16(h[16:18], 0) // checksum placeholder
	binary.BigEndian.PutUint16(h[18:20], 0) // urgent pointer, never set
	copy(h[headerLen:], payload)

	binary.BigEndian.PutUint16(h[16:18], ip.Checksum(buf))
	return h
}

// writePseudo fills the 12-byte pseudo header: source address, destination
// address, zero, protocol, TCP length.
func writePseudo(buf []byte, src, dst netip.Addr, tcpLen int) {
	s := src.As4()
	copy(buf[0:4], s[:])
	d := dst.As4()
	copy(buf[4:8], d[:])
	buf[8] = 0
	buf[9] = ip.ProtoTCP
	binary.BigEndian.PutUint16(buf[10:12], uint16(tcpLen))
}

// verifySegment checks the segment checksum against the carrying datagram's
// addresses.
func verifySegment(seg []byte, src, dst netip.Addr) bool {
	buf := make([]byte, pseudoLen+len(seg))
	writePseudo(buf, src, dst, len(seg))
	copy(buf[pseudoLen:], seg)
	return ip.Checksum(buf) == 0
}

// parseSegment decodes a segment, capturing the maximum-segment-size option
// and skipping all others.
func parseSegment(b []byte) (segment, error) {
	if len(b) < headerLen {
		return segment{}, core.ErrPacketTooShort
	}
	s := segment{
		srcPort:  binary.BigEndian.Uint16(b[0:2]),
		dstPort:  binary.BigEndian.Uint16(b[2:4]),
		seq:      binary.BigEndian.Uint32(b[4:8]),
		ack:      binary.BigEndian.Uint32(b[8:12]),
		dataOff:  int(b[12]>>4) * 4,
		flags:    b[13] & 0x3f,
		window:   binary.BigEndian.Uint16(b[14:16]),
		checksum: binary.BigEndian.Uint16(b[16:18]),
		urgent:   binary.BigEndian.Uint16(b[18:20]),
	}
	if s.dataOff < headerLen || s.dataOff > len(b) {
		return segment{}, core.ErrBadHeaderLength
	}

	opts := b[headerLen:s.dataOff]
	for len(opts) > 0 {
		switch opts[0] {
		case optEnd:
			opts = nil
		case optNop:
			opts = opts[1:]
		case optMSS:
			if len(opts) >= 4 && opts[1] == 4 {
				s.mss = binary.BigEndian.Uint16(opts[2:4])
			}
			opts = skipOption(opts)
		default:
			opts = skipOption(opts)
		}
	}

	s.payload = b[s.dataOff:]
	return s, nil
}

func skipOption(opts []byte) []byte {
	if len(opts) < 2 || int(opts[1]) < 2 || int(opts[1]) > len(opts) {
		return nil
	}
	return opts[opts[1]:]
}

// seqLT compares sequence numbers in modular arithmetic.
func seqLT(a, b uint32) bool {
	return int32(a-b) < 0
}
