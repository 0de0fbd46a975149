package ip

import (
	"context"
	"net/netip"
	"time"

	"firestige.xyz/anser/internal/core"
	"firestige.xyz/anser/internal/ethernet"
	"firestige.xyz/anser/internal/log"
	"firestige.xyz/anser/internal/route"
)

// broadcastAddr is the destination used for periodic control datagrams.
var broadcastAddr = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// RunTimer drives the periodic routing schedule until ctx is cancelled. One
// cycle performs: ARP solicitation on all endpoints, hello broadcast,
// link-state broadcast, then age-and-recompute.
func (e *Engine) RunTimer(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cycle()
		}
	}
}

func (e *Engine) cycle() {
	logger := log.GetLogger()
	devs := e.mgr.Devices()

	for _, d := range devs {
		if err := d.SolicitPeer(); err != nil {
			logger.WithError(err).WithField("device", d.Name()).Debug("arp solicitation failed")
		}
	}

	// Each endpoint announces its own address so neighbors key their
	// adjacency on the address facing them.
	for _, d := range devs {
		addr := d.Addr()
		if !addr.IsValid() {
			continue
		}
		hello := helloPacket{Origin: addr, Age: e.cfg.HelloAge, IsRequest: true}
		if err := e.emitOn(d, addr, broadcastAddr, ProtoHello, hello.marshal()); err != nil {
			logger.WithError(err).WithField("device", d.Name()).Debug("hello failed")
		}
	}

	e.floodLinkState()

	e.refreshLocalPrefixes(devs)
	e.table.Age(e.cfg.AgingStep)
}

// floodLinkState announces our prefixes and current adjacencies on every
// endpoint.
func (e *Engine) floodLinkState() {
	primary, ok := e.mgr.Primary()
	if !ok {
		return
	}
	var prefixes []route.Prefix
	for _, d := range e.mgr.Devices() {
		addr, mask := d.Addr(), d.Mask()
		if !addr.IsValid() || !mask.IsValid() {
			continue
		}
		a, m := addrBits(addr), addrBits(mask)
		prefixes = append(prefixes, route.Prefix{Addr: a & m, Mask: m})
	}
	var neighbors []route.Neighbor
	for _, adj := range e.table.Adjacencies() {
		neighbors = append(neighbors, route.Neighbor{Addr: adj.Peer, Cost: 1})
	}

	e.lsSeq++
	body := marshalLinkState(e.lsSeq, e.cfg.LinkStateAge, prefixes, neighbors)
	if err := e.SendDatagram(primary, broadcastAddr, ProtoLinkState, body); err != nil {
		log.GetLogger().WithError(err).Debug("link-state broadcast failed")
	}
}

// refreshLocalPrefixes keeps the table's own-prefix entries in sync with
// the device set.
func (e *Engine) refreshLocalPrefixes(devs []*ethernet.Device) {
	var entries []route.Entry
	for _, d := range devs {
		addr, mask := d.Addr(), d.Mask()
		if !addr.IsValid() || !mask.IsValid() {
			continue
		}
		a, m := addrBits(addr), addrBits(mask)
		entries = append(entries, route.Entry{Addr: a & m, Mask: m, Dev: d.ID()})
	}
	e.table.SetLocalPrefixes(entries)
}

func addrBits(a netip.Addr) uint32 {
	return core.AddrToUint32(a)
}
