package ethernet

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/anser/internal/core"
	"firestige.xyz/anser/internal/log"
)

// ARP over Ethernet/IPv4 is a fixed 28-octet packet.
const arpLen = 28

const (
	arpHardwareEthernet = 1
	arpOpRequest        = 1
	arpOpReply          = 2
)

// arpPacket is the decoded form of an ARP exchange packet.
type arpPacket struct {
	op       uint16
	senderHW core.HardwareAddr
	senderIP netip.Addr
	targetHW core.HardwareAddr
	targetIP netip.Addr
}

func (p *arpPacket) marshal() []byte {
	b := make([]byte, arpLen)
	binary.BigEndian.PutUint16(b[0:2], arpHardwareEthernet)
	binary.BigEndian.PutUint16(b[2:4], TypeIPv4)
	b[4] = 6 // hardware size
	b[5] = 4 // protocol size
	binary.BigEndian.PutUint16(b[6:8], p.op)
	copy(b[8:14], p.senderHW[:])
	sip := addr4(p.senderIP)
	copy(b[14:18], sip[:])
	copy(b[18:24], p.targetHW[:])
	tip := addr4(p.targetIP)
	copy(b[24:28], tip[:])
	return b
}

// addr4 tolerates the unset address an endpoint has before configuration.
func addr4(a netip.Addr) [4]byte {
	if !a.IsValid() {
		return [4]byte{}
	}
	return a.As4()
}

func parseARP(b []byte) (arpPacket, bool) {
	if len(b) < arpLen {
		return arpPacket{}, false
	}
	if binary.BigEndian.Uint16(b[0:2]) != arpHardwareEthernet ||
		binary.BigEndian.Uint16(b[2:4]) != TypeIPv4 ||
		b[4] != 6 || b[5] != 4 {
		return arpPacket{}, false
	}
	var p arpPacket
	p.op = binary.BigEndian.Uint16(b[6:8])
	copy(p.senderHW[:], b[8:14])
	p.senderIP = netip.AddrFrom4([4]byte(b[14:18]))
	copy(p.targetHW[:], b[18:24])
	p.targetIP = netip.AddrFrom4([4]byte(b[24:28]))
	return p, true
}

// handleARP processes one incoming ARP packet on this device. A request
// records the sender as our peer and answers with our pair; a reply aimed at
// our hardware address records the sender as our peer.
func (d *Device) handleARP(payload []byte) {
	pkt, ok := parseARP(payload)
	if !ok {
		log.GetLogger().WithField("device", d.name).Debug("malformed arp packet dropped")
		return
	}

	d.mu.Lock()
	self := d.addr
	d.mu.Unlock()

	switch pkt.op {
	case arpOpRequest:
		d.rememberPeer(pkt.senderHW)
		reply := arpPacket{
			op:       arpOpReply,
			senderHW: d.mac,
			senderIP: self,
			targetHW: pkt.senderHW,
			targetIP: pkt.senderIP,
		}
		if err := d.SendFrame(reply.marshal(), TypeARP, pkt.senderHW); err != nil {
			log.GetLogger().WithError(err).WithField("device", d.name).Error("arp reply failed")
		}
	case arpOpReply:
		if pkt.targetHW == d.mac {
			d.rememberPeer(pkt.senderHW)
		}
	}
}

// SolicitPeer broadcasts an ARP request with all-ones target hardware and
// network addresses. On the point-to-point segments this stack runs over,
// whoever answers becomes the remembered peer.
func (d *Device) SolicitPeer() error {
	d.mu.Lock()
	self := d.addr
	d.mu.Unlock()
	req := arpPacket{
		op:       arpOpRequest,
		senderHW: d.mac,
		senderIP: self,
		targetHW: core.Broadcast,
		targetIP: netip.AddrFrom4([4]byte{0xff, 0xff, 0xff, 0xff}),
	}
	return d.SendFrame(req.marshal(), TypeARP, core.Broadcast)
}
