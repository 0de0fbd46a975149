package ethernet

import (
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/anser/internal/core"
)

var (
	hwA = core.HardwareAddr{0xf6, 0x05, 0xd4, 0x2b, 0xdb, 0x5f}
	hwB = core.HardwareAddr{0x4a, 0x5b, 0x71, 0x31, 0x4e, 0x2d}
)

func TestARPCodecRoundTrip(t *testing.T) {
	in := arpPacket{
		op:       arpOpRequest,
		senderHW: hwA,
		senderIP: netip.MustParseAddr("10.100.1.1"),
		targetHW: core.Broadcast,
		targetIP: netip.MustParseAddr("255.255.255.255"),
	}
	out, ok := parseARP(in.marshal())
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestARPAgainstGopacket(t *testing.T) {
	pkt := arpPacket{
		op:       arpOpReply,
		senderHW: hwB,
		senderIP: netip.MustParseAddr("10.100.2.3"),
		targetHW: hwA,
		targetIP: netip.MustParseAddr("10.100.1.1"),
	}
	decoded := gopacket.NewPacket(pkt.marshal(), layers.LayerTypeARP, gopacket.Default)
	arpLayer := decoded.Layer(layers.LayerTypeARP)
	require.NotNil(t, arpLayer)
	a := arpLayer.(*layers.ARP)

	assert.Equal(t, layers.LinkTypeEthernet, a.AddrType)
	assert.Equal(t, layers.EthernetTypeIPv4, a.Protocol)
	assert.Equal(t, uint8(6), a.HwAddressSize)
	assert.Equal(t, uint8(4), a.ProtAddressSize)
	assert.Equal(t, uint16(arpOpReply), a.Operation)
	assert.Equal(t, hwB[:], a.SourceHwAddress)
	assert.Equal(t, []byte{10, 100, 2, 3}, a.SourceProtAddress)
	assert.Equal(t, hwA[:], a.DstHwAddress)
	assert.Equal(t, []byte{10, 100, 1, 1}, a.DstProtAddress)
}

func TestParseARPRejectsMalformed(t *testing.T) {
	_, ok := parseARP(make([]byte, arpLen-1))
	assert.False(t, ok)

	b := (&arpPacket{op: arpOpRequest, senderIP: netip.MustParseAddr("10.0.0.1"),
		targetIP: netip.MustParseAddr("10.0.0.2")}).marshal()
	b[4] = 8 // wrong hardware size
	_, ok = parseARP(b)
	assert.False(t, ok)
}

func TestHardwareAddrString(t *testing.T) {
	assert.Equal(t, "f6:05:d4:2b:db:5f", hwA.String())
	assert.Equal(t, "ff:ff:ff:ff:ff:ff", core.Broadcast.String())
}

func TestContiguousMask(t *testing.T) {
	assert.True(t, core.ContiguousMask(0xffffff00))
	assert.True(t, core.ContiguousMask(0xffffffff))
	assert.True(t, core.ContiguousMask(0x80000000))
	assert.True(t, core.ContiguousMask(0))
	assert.False(t, core.ContiguousMask(0xff00ff00))
	assert.False(t, core.ContiguousMask(0x00ffffff))
}

func TestAddrUint32RoundTrip(t *testing.T) {
	// Byte-order conversion is involutive.
	a := netip.MustParseAddr("10.100.2.3")
	assert.Equal(t, a, core.Uint32ToAddr(core.AddrToUint32(a)))
	assert.Equal(t, uint32(0x0a640203), core.AddrToUint32(a))
}
