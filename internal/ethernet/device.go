// Package ethernet drives raw packet endpoints over AF_PACKET sockets and
// multiplexes them through a single epoll readiness loop.
package ethernet

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/sys/unix"

	"firestige.xyz/anser/internal/core"
	"firestige.xyz/anser/internal/log"
	"firestige.xyz/anser/internal/metrics"
)

// EtherType values carried by this stack.
const (
	TypeIPv4 = 0x0800
	TypeARP  = 0x0806
)

const (
	// Ethernet II header is always exactly 14 bytes.
	headerLen = 14
	// Data length bounds of an Ethernet II frame.
	minPayload = 46
	maxPayload = 1500

	readBufferLen = 1 << 16
)

// deliverFunc hands an IPv4 payload upward. The slice is only valid for the
// duration of the call.
type deliverFunc func(dev *Device, payload []byte)

// Device is one frame endpoint: a raw capture session on a single host
// interface, its hardware address, and its optional network address.
// A device has at most one remembered peer; the stack models a point-to-point
// virtual Ethernet, so each ARP receipt silently replaces the peer.
type Device struct {
	id      int
	name    string
	fd      int
	ifindex int
	mac     core.HardwareAddr

	mu   sync.Mutex // guards addr, mask, peer
	addr netip.Addr
	mask netip.Addr

	peer    core.HardwareAddr
	hasPeer bool

	deliver deliverFunc
	readBuf []byte
}

// openDevice opens a non-blocking AF_PACKET socket bound to the named
// interface and attaches a filter that admits only ARP and IPv4 traffic.
func openDevice(id int, name string, deliver deliverFunc) (*Device, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", name, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC,
		int(hostToNet16(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("raw socket on %s: %w", name, err)
	}

	sll := &unix.SockaddrLinklayer{
		Protocol: hostToNet16(unix.ETH_P_ALL),
		Ifindex:  ifi.Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", name, err)
	}

	if err := attachClassifier(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("attach filter on %s: %w", name, err)
	}

	d := &Device{
		id:      id,
		name:    name,
		fd:      fd,
		ifindex: ifi.Index,
		deliver: deliver,
		readBuf: make([]byte, readBufferLen),
	}
	copy(d.mac[:], ifi.HardwareAddr)
	return d, nil
}

// ID returns the handle assigned at registration.
func (d *Device) ID() int { return d.id }

// Name returns the host interface name.
func (d *Device) Name() string { return d.name }

// FD returns the readable descriptor registered with the pump.
func (d *Device) FD() int { return d.fd }

// HardwareAddr returns the 6-octet interface address.
func (d *Device) HardwareAddr() core.HardwareAddr { return d.mac }

// Addr returns the device network address; the zero Addr means unset.
func (d *Device) Addr() netip.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// SetAddr assigns the device network address and subnet mask.
func (d *Device) SetAddr(addr, mask netip.Addr) {
	d.mu.Lock()
	d.addr = addr
	d.mask = mask
	d.mu.Unlock()
}

// Mask returns the device subnet mask; the zero Addr means unset.
func (d *Device) Mask() netip.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mask
}

// Peer returns the remembered peer hardware address, if ARP has discovered
// one.
func (d *Device) Peer() (core.HardwareAddr, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peer, d.hasPeer
}

func (d *Device) rememberPeer(hw core.HardwareAddr) {
	d.mu.Lock()
	d.peer = hw
	d.hasPeer = true
	d.mu.Unlock()
}

// SendFrame encapsulates payload into an Ethernet II frame and emits it.
// Payloads shorter than the Ethernet minimum are zero padded.
func (d *Device) SendFrame(payload []byte, ethType uint16, dst core.HardwareAddr) error {
	if len(payload) > maxPayload {
		return core.ErrPayloadTooLong
	}
	dataLen := len(payload)
	if dataLen < minPayload {
		dataLen = minPayload
	}
	frame := make([]byte, headerLen+dataLen)
	copy(frame[0:6], dst[:])
	copy(frame[6:12], d.mac[:])
	binary.BigEndian.PutUint16(frame[12:14], ethType)
	copy(frame[headerLen:], payload)

	sll := &unix.SockaddrLinklayer{
		Protocol: hostToNet16(uint16(ethType)),
		Ifindex:  d.ifindex,
		Halen:    6,
	}
	copy(sll.Addr[:], dst[:])
	if err := unix.Sendto(d.fd, frame, 0, sll); err != nil {
		return fmt.Errorf("send on %s: %w", d.name, err)
	}
	metrics.FramesSentTotal.WithLabelValues(d.name).Inc()
	return nil
}

// Drain reads every frame currently available on the descriptor. Called by
// the pump when the descriptor becomes readable; the socket is non-blocking,
// so the loop ends on EAGAIN.
func (d *Device) Drain() {
	for {
		n, _, err := unix.Recvfrom(d.fd, d.readBuf, unix.MSG_TRUNC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				return
			}
			log.GetLogger().WithError(err).WithField("device", d.name).Error("read failed")
			return
		}
		if n > len(d.readBuf) {
			// Reported length exceeds captured length: the kernel truncated
			// the frame, drop it.
			metrics.FramesDroppedTotal.WithLabelValues(d.name, "truncated").Inc()
			continue
		}
		d.handleFrame(d.readBuf[:n])
	}
}

func (d *Device) handleFrame(frame []byte) {
	if len(frame) < headerLen {
		metrics.FramesDroppedTotal.WithLabelValues(d.name, "runt").Inc()
		return
	}
	var dst core.HardwareAddr
	copy(dst[:], frame[0:6])
	ethType := binary.BigEndian.Uint16(frame[12:14])

	switch ethType {
	case TypeARP:
		d.handleARP(frame[headerLen:])
	case TypeIPv4:
		if dst != d.mac && dst != core.Broadcast {
			metrics.FramesDroppedTotal.WithLabelValues(d.name, "foreign").Inc()
			return
		}
		metrics.FramesReceivedTotal.WithLabelValues(d.name).Inc()
		d.deliver(d, frame[headerLen:])
	default:
		metrics.FramesDroppedTotal.WithLabelValues(d.name, "ethertype").Inc()
	}
}

// Close releases the capture descriptor.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}

// hostToNet16 converts a 16-bit value to network byte order as expected by
// AF_PACKET addresses.
func hostToNet16(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}
