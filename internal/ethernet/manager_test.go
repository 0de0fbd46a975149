package ethernet

import (
	"net/netip"
	"testing"

	"github.com/google/gopacket/pcap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/anser/internal/core"
)

// newFakeManager builds a registry around hand-made devices, bypassing the
// raw sockets the open path needs.
func newFakeManager(available ...string) *Manager {
	ifs := make([]pcap.Interface, len(available))
	for i, name := range available {
		ifs[i] = pcap.Interface{Name: name}
	}
	return &Manager{
		nameToID:  make(map[string]int),
		devices:   make(map[int]*Device),
		available: ifs,
	}
}

func (m *Manager) addFake(name string, addr string) *Device {
	d := &Device{id: m.nextID, name: name, fd: -1}
	if addr != "" {
		d.SetAddr(netip.MustParseAddr(addr), netip.MustParseAddr("255.255.255.0"))
	}
	m.nameToID[name] = m.nextID
	m.devices[m.nextID] = d
	m.nextID++
	return d
}

func TestAddDeviceUnknownName(t *testing.T) {
	m := newFakeManager("veth0")
	_, err := m.AddDevice("does-not-exist")
	assert.ErrorIs(t, err, core.ErrNoSuchDevice)
}

func TestAddDeviceTwiceFails(t *testing.T) {
	m := newFakeManager("veth0")
	m.addFake("veth0", "")
	_, err := m.AddDevice("veth0")
	assert.ErrorIs(t, err, core.ErrDeviceExists)
}

func TestFindDevice(t *testing.T) {
	m := newFakeManager("veth0", "veth1")
	m.addFake("veth0", "")
	m.addFake("veth1", "")

	assert.Equal(t, 0, m.FindDevice("veth0"))
	assert.Equal(t, 1, m.FindDevice("veth1"))
	assert.Equal(t, -1, m.FindDevice("veth2"))
}

func TestSetAddressUnknownDevice(t *testing.T) {
	m := newFakeManager()
	err := m.SetAddress(netip.MustParseAddr("10.0.0.1"), "veth9")
	assert.ErrorIs(t, err, core.ErrNoSuchDevice)
}

func TestSendViaWithoutResolvedPeer(t *testing.T) {
	m := newFakeManager("veth0")
	m.addFake("veth0", "10.100.1.1")

	err := m.SendVia(0, []byte("payload"), TypeIPv4, netip.MustParseAddr("10.100.1.2"))
	assert.ErrorIs(t, err, core.ErrUnknownPeer,
		"unicast before ARP discovery must fail")
}

func TestPrimaryAndIsLocal(t *testing.T) {
	m := newFakeManager("veth0", "veth1")
	m.addFake("veth0", "")
	m.addFake("veth1", "10.100.2.3")

	primary, ok := m.Primary()
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.100.2.3"), primary,
		"the lowest-handle endpoint with an address is primary")

	assert.True(t, m.IsLocal(netip.MustParseAddr("10.100.2.3")))
	assert.False(t, m.IsLocal(netip.MustParseAddr("10.100.2.4")))
}

func TestHandleMonotonicity(t *testing.T) {
	m := newFakeManager("a", "b", "c")
	ids := []int{m.addFake("a", "").ID(), m.addFake("b", "").ID(), m.addFake("c", "").ID()}
	assert.Equal(t, []int{0, 1, 2}, ids, "handles are unique and assigned in order")
}
