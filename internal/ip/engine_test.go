package ip

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"firestige.xyz/anser/internal/config"
	"firestige.xyz/anser/internal/ethernet"
)

// newBareEngine builds an engine over a manager with no devices. Interface
// enumeration works unprivileged; actually opening endpoints does not, so
// these tests exercise only the receive-path policing and the send-path
// failures that occur before any endpoint is used.
func newBareEngine(t *testing.T) *Engine {
	t.Helper()
	pump, err := ethernet.NewPump()
	if err != nil {
		t.Skipf("no epoll: %v", err)
	}
	t.Cleanup(func() { pump.Close() })
	mgr, err := ethernet.NewManager(pump)
	if err != nil {
		t.Skipf("no capture devices visible: %v", err)
	}
	return NewEngine(mgr, config.RoutingConfig{
		CycleInterval: 1, HelloAge: 60, LinkStateAge: 60, AgingStep: 10,
	})
}

func validDatagram(proto uint8, body []byte) []byte {
	pkt := make([]byte, HeaderLen+len(body))
	copy(pkt[HeaderLen:], body)
	marshalHeader(pkt, netip.MustParseAddr("10.100.1.1"), netip.MustParseAddr("10.100.2.3"),
		proto, len(body))
	return pkt
}

func TestDeliverPolicing(t *testing.T) {
	e := newBareEngine(t)
	dispatched := false
	e.SetTransport(func([]byte, netip.Addr, netip.Addr) { dispatched = true })

	// None of these may panic or dispatch.
	e.deliver(0, nil)
	e.deliver(0, make([]byte, 10))

	bad := validDatagram(ProtoTCP, make([]byte, 20))
	bad[0] = 0x65 // version 6
	e.deliver(0, bad)

	bad = validDatagram(ProtoTCP, make([]byte, 20))
	bad[0] = 0x44 // IHL 4
	e.deliver(0, bad)

	bad = validDatagram(ProtoTCP, make([]byte, 20))
	bad[6] |= 0x80 // reserved flag bit
	e.deliver(0, bad)

	bad = validDatagram(ProtoTCP, make([]byte, 20))
	bad[15] ^= 0xff // corrupt an address byte, breaking the checksum
	e.deliver(0, bad)

	// TTL already zero: silent drop.
	bad = validDatagram(ProtoTCP, make([]byte, 20))
	bad[8] = 0
	binary.BigEndian.PutUint16(bad[10:12], 0)
	binary.BigEndian.PutUint16(bad[10:12], Checksum(bad[:HeaderLen]))
	e.deliver(0, bad)

	require.False(t, dispatched)
}

func TestDeliverPaddedFrameUsesHeaderLength(t *testing.T) {
	e := newBareEngine(t)

	// A short hello datagram, zero padded by the link layer up to the
	// Ethernet minimum. The engine must trust the header's total length.
	body := helloPacket{Origin: netip.MustParseAddr("10.100.9.9"), Age: 60}.marshal()
	pkt := validDatagram(ProtoHello, body)
	padded := make([]byte, 60)
	copy(padded, pkt)

	e.deliver(0, padded)
	require.Len(t, e.Table().Adjacencies(), 1, "the padded hello still registers an adjacency")
}

func TestSendDatagramRejectsUnknownProtocol(t *testing.T) {
	e := newBareEngine(t)
	err := e.SendDatagram(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"),
		17, []byte("udp is not spoken here"))
	require.Error(t, err)
}

func TestSendDatagramNoRoute(t *testing.T) {
	e := newBareEngine(t)
	err := e.SendDatagram(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"),
		ProtoTCP, nil)
	require.Error(t, err)
}
