package ip

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/anser/internal/config"
	"firestige.xyz/anser/internal/core"
	"firestige.xyz/anser/internal/ethernet"
	"firestige.xyz/anser/internal/log"
	"firestige.xyz/anser/internal/metrics"
	"firestige.xyz/anser/internal/route"
)

// TransportFunc hands a TCP segment (header plus payload) upward together
// with the datagram's addresses.
type TransportFunc func(segment []byte, src, dst netip.Addr)

// Engine validates, delivers and forwards IP datagrams and drives the
// routing control protocols. It borrows the device manager; the manager owns
// the endpoints.
type Engine struct {
	mgr   *ethernet.Manager
	table *route.Table
	cfg   config.RoutingConfig

	transport TransportFunc
	lsSeq     uint32 // guarded by the timer goroutine only
}

// NewEngine wires the engine above the device manager and installs the
// upward dispatch for received frames.
func NewEngine(mgr *ethernet.Manager, cfg config.RoutingConfig) *Engine {
	e := &Engine{
		mgr:   mgr,
		table: route.NewTable(),
		cfg:   cfg,
	}
	mgr.SetDeliver(e.deliver)
	return e
}

// Table exposes the routing table for diagnostics and tests.
func (e *Engine) Table() *route.Table { return e.table }

// Manager returns the borrowed device manager.
func (e *Engine) Manager() *ethernet.Manager { return e.mgr }

// SetTransport installs the TCP hand-off. Must be set before traffic flows.
func (e *Engine) SetTransport(fn TransportFunc) { e.transport = fn }

// SendDatagram emits one datagram. Hello and link-state datagrams are
// broadcast on every endpoint; everything else is routed by longest-prefix
// match on the destination.
func (e *Engine) SendDatagram(src, dst netip.Addr, proto uint8, payload []byte) error {
	switch proto {
	case ProtoTCP, ProtoHello, ProtoLinkState:
	default:
		return fmt.Errorf("%w: %d", core.ErrUnsupportedProto, proto)
	}

	pkt := make([]byte, HeaderLen+len(payload))
	copy(pkt[HeaderLen:], payload)
	marshalHeader(pkt, src, dst, proto, len(payload))

	if proto == ProtoHello || proto == ProtoLinkState {
		return e.mgr.Broadcast(pkt, ethernet.TypeIPv4)
	}

	dev := e.table.Lookup(dst)
	if dev == -1 {
		return fmt.Errorf("%w: %s", core.ErrNoRoute, dst)
	}
	return e.mgr.SendVia(dev, pkt, ethernet.TypeIPv4, dst)
}

// deliver is the receive path: header policing in order, then protocol
// dispatch. Internal faults are logged and the datagram dropped; nothing
// propagates to user code.
func (e *Engine) deliver(devID int, payload []byte) {
	logger := log.GetLogger()

	h, err := parseHeader(payload)
	if err != nil {
		metrics.DatagramsDroppedTotal.WithLabelValues("short").Inc()
		return
	}
	if h.Version != version4 {
		metrics.DatagramsDroppedTotal.WithLabelValues("version").Inc()
		logger.Debugf("not an IPv4 packet: version=%d", h.Version)
		return
	}
	if h.IHL < defaultIHL {
		metrics.DatagramsDroppedTotal.WithLabelValues("ihl").Inc()
		logger.Debugf("bad IHL %d", h.IHL)
		return
	}
	headerLen := int(h.IHL) * 4
	totalLen := int(h.TotalLen)
	// The frame may be zero padded up to the Ethernet minimum; trust the
	// header's total length, not the frame length.
	if totalLen < headerLen || totalLen > len(payload) {
		metrics.DatagramsDroppedTotal.WithLabelValues("length").Inc()
		return
	}
	datagram := payload[:totalLen]

	if h.FlagsOffset&flagReservedBit != 0 {
		metrics.DatagramsDroppedTotal.WithLabelValues("reserved").Inc()
		logger.Debug("reserved flag bit set")
		return
	}
	if !VerifySum(datagram[:headerLen]) {
		metrics.DatagramsDroppedTotal.WithLabelValues("checksum").Inc()
		logger.Debug("header checksum mismatch")
		return
	}
	if h.TTL == 0 {
		metrics.DatagramsDroppedTotal.WithLabelValues("ttl").Inc()
		return
	}
	decrementTTL(datagram, headerLen)

	body := datagram[headerLen:]
	switch h.Protocol {
	case ProtoTCP:
		if e.mgr.IsLocal(h.Dst) {
			if e.transport != nil {
				e.transport(body, h.Src, h.Dst)
			}
			return
		}
		e.forward(datagram, h)
	case ProtoHello:
		e.handleHello(devID, h, body)
	case ProtoLinkState:
		e.handleLinkState(devID, h, body)
	default:
		metrics.DatagramsDroppedTotal.WithLabelValues("protocol").Inc()
		logger.Debugf("protocol %d is not implemented", h.Protocol)
	}
}

// forward re-emits a datagram for a non-local destination through the route
// chosen by longest-prefix match. Lookup failure is a reported drop.
func (e *Engine) forward(datagram []byte, h Header) {
	dev := e.table.Lookup(h.Dst)
	if dev == -1 {
		metrics.DatagramsDroppedTotal.WithLabelValues("noroute").Inc()
		log.GetLogger().Warnf("can't route from %s to %s", h.Src, h.Dst)
		return
	}
	if err := e.mgr.SendVia(dev, datagram, ethernet.TypeIPv4, h.Dst); err != nil {
		log.GetLogger().WithError(err).Warn("forwarding failed")
		return
	}
	metrics.DatagramsForwardedTotal.Inc()
}

// handleHello refreshes the adjacency for the sender and echoes a reply when
// asked to. The reply goes out on the endpoint the request arrived on.
func (e *Engine) handleHello(devID int, h Header, body []byte) {
	pkt, err := parseHello(body)
	if err != nil {
		metrics.DatagramsDroppedTotal.WithLabelValues("decode").Inc()
		return
	}
	if e.mgr.IsLocal(pkt.Origin) {
		return
	}
	e.table.UpsertAdjacency(pkt.Origin, pkt.Age, devID)

	if pkt.IsRequest {
		d, ok := e.mgr.Device(devID)
		if !ok {
			return
		}
		self := d.Addr()
		if !self.IsValid() {
			return
		}
		reply := helloPacket{Origin: self, Age: e.cfg.HelloAge, IsRequest: false}
		if err := e.emitOn(d, self, pkt.Origin, ProtoHello, reply.marshal()); err != nil {
			log.GetLogger().WithError(err).Debug("hello reply failed")
		}
	}
}

// handleLinkState stores a flooded record and re-floods it on every endpoint
// except the one it arrived on. Our own records are ignored.
func (e *Engine) handleLinkState(devID int, h Header, body []byte) {
	if e.mgr.IsLocal(h.Src) {
		return
	}
	rec, err := parseLinkState(core.AddrToUint32(h.Src), body)
	if err != nil {
		metrics.DatagramsDroppedTotal.WithLabelValues("decode").Inc()
		return
	}
	if !e.table.UpdateLinkState(rec) {
		return
	}
	for _, d := range e.mgr.Devices() {
		if d.ID() == devID {
			continue
		}
		pkt := make([]byte, HeaderLen+len(body))
		copy(pkt[HeaderLen:], body)
		marshalHeader(pkt, h.Src, h.Dst, ProtoLinkState, len(body))
		if err := d.SendFrame(pkt, ethernet.TypeIPv4, core.Broadcast); err != nil {
			log.GetLogger().WithError(err).WithField("device", d.Name()).Debug("flood failed")
		}
	}
}

// emitOn builds a datagram and broadcasts the frame on one endpoint,
// bypassing the routing table. Used by the control protocols.
func (e *Engine) emitOn(d *ethernet.Device, src, dst netip.Addr, proto uint8, payload []byte) error {
	pkt := make([]byte, HeaderLen+len(payload))
	copy(pkt[HeaderLen:], payload)
	marshalHeader(pkt, src, dst, proto, len(payload))
	return d.SendFrame(pkt, ethernet.TypeIPv4, core.Broadcast)
}

// decrementTTL rewrites the TTL in place and recomputes the header checksum.
func decrementTTL(datagram []byte, headerLen int) {
	datagram[8]--
	binary.BigEndian.PutUint16(datagram[10:12], 0)
	binary.BigEndian.PutUint16(datagram[10:12], Checksum(datagram[:headerLen]))
}
