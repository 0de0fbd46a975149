package ethernet

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/anser/internal/core"
	"firestige.xyz/anser/internal/log"
)

// pcapIfLoopback is libpcap's PCAP_IF_LOOPBACK interface flag.
const pcapIfLoopback = 0x00000001

// DeliverFunc hands an IPv4 payload up to the network engine together with
// the handle of the receiving device.
type DeliverFunc func(devID int, payload []byte)

// Manager owns the set of frame endpoints. Devices never move between
// owners; they are destroyed only when the manager shuts down.
type Manager struct {
	mu       sync.Mutex
	nameToID map[string]int
	devices  map[int]*Device
	nextID   int

	pump      *Pump
	deliver   DeliverFunc
	available []pcap.Interface
}

// NewManager enumerates the host's capturable interfaces and prepares an
// empty registry. The engine refuses to start when no interface can be
// captured.
func NewManager(pump *Pump) (*Manager, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrNoCaptureDevice, err)
	}
	if len(ifs) == 0 {
		return nil, core.ErrNoCaptureDevice
	}
	return &Manager{
		nameToID:  make(map[string]int),
		devices:   make(map[int]*Device),
		pump:      pump,
		available: ifs,
	}, nil
}

// SetDeliver installs the upward dispatch used for received IPv4 payloads.
// Must be called before any device is added.
func (m *Manager) SetDeliver(fn DeliverFunc) {
	m.deliver = fn
}

func (m *Manager) containDevice(name string) (pcap.Interface, bool) {
	for _, ifc := range m.available {
		if ifc.Name == name {
			return ifc, true
		}
	}
	return pcap.Interface{}, false
}

// AddDevice opens the named interface for sending and receiving frames and
// registers it with the readiness pump. Handles are assigned monotonically
// and never reused within a run.
func (m *Manager) AddDevice(name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ifc, ok := m.containDevice(name)
	if !ok {
		return -1, fmt.Errorf("%w: %s", core.ErrNoSuchDevice, name)
	}
	if _, ok := m.nameToID[name]; ok {
		return -1, fmt.Errorf("%w: %s", core.ErrDeviceExists, name)
	}

	id := m.nextID
	dev, err := openDevice(id, name, func(d *Device, payload []byte) {
		if m.deliver != nil {
			m.deliver(d.ID(), payload)
		}
	})
	if err != nil {
		return -1, err
	}
	if addr, mask, ok := firstIPv4(ifc); ok {
		dev.SetAddr(addr, mask)
	}
	if err := m.pump.Register(dev); err != nil {
		dev.Close()
		return -1, err
	}

	m.nextID++
	m.nameToID[name] = id
	m.devices[id] = dev
	log.GetLogger().WithFields(map[string]interface{}{
		"device": name,
		"id":     id,
		"hwaddr": dev.HardwareAddr().String(),
	}).Info("device added")
	return id, nil
}

// AddAll registers every capturable non-loopback interface that carries an
// IPv4 address.
func (m *Manager) AddAll() error {
	added := 0
	for _, ifc := range m.available {
		if ifc.Flags&pcapIfLoopback != 0 {
			continue
		}
		if _, _, ok := firstIPv4(ifc); !ok {
			continue
		}
		if _, err := m.AddDevice(ifc.Name); err != nil {
			log.GetLogger().WithError(err).WithField("device", ifc.Name).Warn("skipping device")
			continue
		}
		added++
	}
	if added == 0 {
		return core.ErrNoCaptureDevice
	}
	return nil
}

// FindDevice returns the handle of a previously added device, or -1.
func (m *Manager) FindDevice(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.nameToID[name]; ok {
		return id
	}
	return -1
}

// Device returns the endpoint for a handle.
func (m *Manager) Device(id int) (*Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	return d, ok
}

// Devices returns a snapshot of all endpoints.
func (m *Manager) Devices() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// SetAddress assigns a network address to the named device.
func (m *Manager) SetAddress(addr netip.Addr, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.nameToID[name]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNoSuchDevice, name)
	}
	m.devices[id].SetAddr(addr, netip.AddrFrom4([4]byte{255, 255, 255, 255}))
	return nil
}

// Broadcast emits the payload on every endpoint.
func (m *Manager) Broadcast(payload []byte, ethType uint16) error {
	var firstErr error
	for _, d := range m.Devices() {
		if err := d.SendFrame(payload, ethType, core.Broadcast); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendVia emits the payload on one endpoint after resolving the peer's
// hardware address. It fails if ARP has not yet discovered a peer.
func (m *Manager) SendVia(id int, payload []byte, ethType uint16, peer netip.Addr) error {
	d, ok := m.Device(id)
	if !ok {
		return fmt.Errorf("no device %d", id)
	}
	hw, ok := d.Peer()
	if !ok {
		return fmt.Errorf("%w: %s via %s", core.ErrUnknownPeer, peer, d.Name())
	}
	return d.SendFrame(payload, ethType, hw)
}

// Addresses returns the network addresses of all endpoints that have one.
func (m *Manager) Addresses() []netip.Addr {
	var out []netip.Addr
	for _, d := range m.Devices() {
		if a := d.Addr(); a.IsValid() {
			out = append(out, a)
		}
	}
	return out
}

// Primary returns the address of the lowest-handle endpoint that has one.
func (m *Manager) Primary() (netip.Addr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := 0; id < m.nextID; id++ {
		if d, ok := m.devices[id]; ok {
			if a := d.Addr(); a.IsValid() {
				return a, true
			}
		}
	}
	return netip.Addr{}, false
}

// IsLocal reports whether addr belongs to one of this host's endpoints.
func (m *Manager) IsLocal(addr netip.Addr) bool {
	for _, a := range m.Addresses() {
		if a == addr {
			return true
		}
	}
	return false
}

// Close shuts down every endpoint.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		d.Close()
	}
}

// firstIPv4 extracts the first IPv4 address and netmask pcap reports for an
// interface. A missing netmask defaults to the host mask.
func firstIPv4(ifc pcap.Interface) (netip.Addr, netip.Addr, bool) {
	for _, a := range ifc.Addresses {
		if ip4 := a.IP.To4(); ip4 != nil {
			mask := netip.AddrFrom4([4]byte{255, 255, 255, 255})
			if m4 := net.IP(a.Netmask).To4(); m4 != nil {
				mask = netip.AddrFrom4([4]byte(m4))
			}
			return netip.AddrFrom4([4]byte(ip4)), mask, true
		}
	}
	return netip.Addr{}, netip.Addr{}, false
}
