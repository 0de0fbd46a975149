package tcp

import (
	"net/netip"

	"firestige.xyz/anser/internal/log"
	"firestige.xyz/anser/internal/metrics"
)

// HandleSegment is the transport receive path, invoked by the network engine
// for every TCP segment addressed to a local address. src and dst are the
// carrying datagram's addresses.
func (e *Engine) HandleSegment(seg []byte, src, dst netip.Addr) {
	logger := log.GetLogger()
	if !verifySegment(seg, src, dst) {
		logger.Debug("tcp checksum mismatch")
		return
	}
	s, err := parseSegment(seg)
	if err != nil {
		logger.WithError(err).Debug("tcp decode failed")
		return
	}

	switch {
	case s.flags&flagRST != 0:
		e.handleRST(s, src, dst)
	case s.flags&flagSYN != 0 && s.flags&flagACK == 0:
		e.handleSYN(s, src, dst)
	case s.flags&flagSYN != 0:
		e.handleSYNACK(s, src, dst)
	case s.flags&flagFIN != 0:
		e.handleFIN(s, src, dst)
	case s.flags&flagACK != 0:
		e.handleACK(s, src, dst)
	default:
		logger.Debugf("segment with flags %#02x ignored", s.flags)
	}
}

// snapshot returns every block reachable from the socket table, including
// half-accepted and pending children of listeners.
func (e *Engine) snapshot() []*tcb {
	e.mu.Lock()
	socks := make([]*tcb, 0, len(e.socks))
	for _, t := range e.socks {
		socks = append(socks, t)
	}
	e.mu.Unlock()

	e.closingMu.Lock()
	for t := range e.closing {
		socks = append(socks, t)
	}
	e.closingMu.Unlock()

	seen := make(map[*tcb]struct{}, len(socks))
	out := make([]*tcb, 0, len(socks))
	add := func(t *tcb) {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, t := range socks {
		add(t)
		t.pendingMu.Lock()
		for _, c := range t.pending {
			add(c)
		}
		for c := range t.halfOpen {
			add(c)
		}
		t.pendingMu.Unlock()
	}
	return out
}

func matchQuad(t *tcb, src netip.Addr, srcPort uint16, dst netip.Addr, dstPort uint16) bool {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()
	return t.localAddr == dst && t.localPort == dstPort &&
		t.remoteAddr == src && t.remotePort == srcPort
}

// findConn locates the block for an established-side segment.
func (e *Engine) findConn(src netip.Addr, srcPort uint16, dst netip.Addr, dstPort uint16) *tcb {
	for _, t := range e.snapshot() {
		t.bindMu.Lock()
		active := t.phase == PhaseActive
		t.bindMu.Unlock()
		if active && matchQuad(t, src, srcPort, dst, dstPort) {
			return t
		}
	}
	return nil
}

// findListener locates the passive block bound to (dst, dstPort).
func (e *Engine) findListener(dst netip.Addr, dstPort uint16) *tcb {
	for _, t := range e.snapshot() {
		t.bindMu.Lock()
		ok := t.phase == PhasePassive && t.localAddr == dst && t.localPort == dstPort
		t.bindMu.Unlock()
		if ok {
			return t
		}
	}
	return nil
}

// handleSYN creates a half-open child for a listening socket and answers
// with SYN-ACK. Arrivals beyond the backlog are dropped; the client's
// retransmission will retry.
func (e *Engine) handleSYN(s segment, src, dst netip.Addr) {
	l := e.findListener(dst, s.dstPort)
	if l == nil {
		log.GetLogger().Debugf("syn for %s:%d with no listener", dst, s.dstPort)
		return
	}
	l.connMu.Lock()
	listening := l.state == StateListen
	l.connMu.Unlock()
	if !listening {
		return
	}

	l.pendingMu.Lock()
	full := len(l.pending)+len(l.halfOpen) >= l.backlog
	l.pendingMu.Unlock()
	if full {
		log.GetLogger().Debugf("backlog full on %s:%d, syn dropped", dst, s.dstPort)
		return
	}

	child := newTCB(e.cfg.WindowSize)
	child.phase = PhaseActive
	child.localAddr = dst
	child.localPort = s.dstPort
	child.remoteAddr = src
	child.remotePort = s.srcPort
	e.ports.ref(s.dstPort)
	metrics.ConnectionsActive.Inc()

	child.connMu.Lock()
	child.rcvNxt = s.seq + 1
	child.peerWnd = s.window
	if s.mss != 0 {
		child.mss = int(s.mss)
	}
	child.state = StateSynRcvd
	if err := e.sendSegment(child, flagSYN|flagACK, nil); err != nil {
		log.GetLogger().WithError(err).Debug("syn-ack transmission failed")
	}
	child.connMu.Unlock()

	l.pendingMu.Lock()
	l.halfOpen[child] = struct{}{}
	l.pendingMu.Unlock()
}

// handleSYNACK completes an active open.
func (e *Engine) handleSYNACK(s segment, src, dst netip.Addr) {
	t := e.findConn(src, s.srcPort, dst, s.dstPort)
	if t == nil {
		return
	}
	t.connMu.Lock()
	if t.state != StateSynSent {
		t.connMu.Unlock()
		return
	}
	t.sndUna = s.ack
	t.rcvNxt = s.seq + 1
	t.peerWnd = s.window
	if s.mss != 0 {
		t.mss = int(s.mss)
	}
	t.state = StateEstablished
	if err := e.sendSegment(t, flagACK, nil); err != nil {
		log.GetLogger().WithError(err).Debug("handshake ack failed")
	}
	t.connMu.Unlock()
	t.post()
}

// handleACK covers the remaining ACK-bearing arrivals: handshake completion
// on the passive side, data delivery, and acknowledgements of FIN.
func (e *Engine) handleACK(s segment, src, dst netip.Addr) {
	// Passive-side handshake completion first: the matching child sits in a
	// listener's half-accepted set.
	if l := e.findListener(dst, s.dstPort); l != nil {
		l.pendingMu.Lock()
		var child *tcb
		for c := range l.halfOpen {
			if matchQuad(c, src, s.srcPort, dst, s.dstPort) {
				child = c
				break
			}
		}
		l.pendingMu.Unlock()

		if child != nil {
			child.connMu.Lock()
			if child.state == StateSynRcvd {
				child.sndUna = s.ack
				child.peerWnd = s.window
				child.state = StateEstablished
				child.connMu.Unlock()

				l.pendingMu.Lock()
				delete(l.halfOpen, child)
				l.pending = append(l.pending, child)
				l.pendingMu.Unlock()
				l.post()
			} else {
				child.connMu.Unlock()
			}
			return
		}
	}

	t := e.findConn(src, s.srcPort, dst, s.dstPort)
	if t == nil {
		return
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()

	// The peer window is stored from every inbound segment.
	t.peerWnd = s.window
	if seqLT(t.sndUna, s.ack) && !seqLT(t.sndNxt, s.ack) {
		t.sndUna = s.ack
	}

	switch t.state {
	case StateEstablished, StateCloseWait:
		if len(s.payload) == 0 {
			return
		}
		// Out-of-order arrivals are silently discarded; the peer's
		// retransmission closes the gap.
		if s.seq != t.rcvNxt {
			return
		}
		t.rcvNxt += uint32(len(s.payload))
		t.wnd.write(s.payload, s.flags&flagPSH != 0)
		if err := e.sendSegment(t, flagACK, nil); err != nil {
			log.GetLogger().WithError(err).Debug("data ack failed")
		}

	case StateFinWait1:
		if s.ack == t.sndNxt {
			t.state = StateFinWait2
		}

	case StateClosing:
		if s.ack == t.sndNxt {
			t.state = StateTimedWait
			e.startTimedWait(t)
		}

	case StateLastAck:
		if s.ack == t.sndNxt {
			t.state = StateClosed
			e.disposeLocked(t)
		}
	}
}

// handleFIN processes the peer's half-close, which may simultaneously
// acknowledge our own FIN.
func (e *Engine) handleFIN(s segment, src, dst netip.Addr) {
	t := e.findConn(src, s.srcPort, dst, s.dstPort)
	if t == nil {
		return
	}
	t.connMu.Lock()
	defer t.connMu.Unlock()

	t.peerWnd = s.window
	if s.flags&flagACK != 0 && seqLT(t.sndUna, s.ack) && !seqLT(t.sndNxt, s.ack) {
		t.sndUna = s.ack
	}

	switch t.state {
	case StateEstablished:
		// Out-of-order FINs are dropped like out-of-order data.
		if s.seq != t.rcvNxt {
			return
		}
		if len(s.payload) > 0 {
			t.wnd.write(s.payload, true)
		}
		t.rcvNxt = s.seq + uint32(len(s.payload)) + 1
		t.peerClosed = true
		t.state = StateCloseWait
		if err := e.sendSegment(t, flagACK, nil); err != nil {
			log.GetLogger().WithError(err).Debug("fin ack failed")
		}

	case StateFinWait1:
		t.rcvNxt = s.seq + 1
		t.peerClosed = true
		if s.flags&flagACK != 0 && s.ack == t.sndNxt {
			t.state = StateTimedWait
			if err := e.sendSegment(t, flagACK, nil); err != nil {
				log.GetLogger().WithError(err).Debug("fin ack failed")
			}
			e.startTimedWait(t)
		} else {
			t.state = StateClosing
			if err := e.sendSegment(t, flagACK, nil); err != nil {
				log.GetLogger().WithError(err).Debug("fin ack failed")
			}
		}

	case StateFinWait2:
		t.rcvNxt = s.seq + 1
		t.peerClosed = true
		t.state = StateTimedWait
		if err := e.sendSegment(t, flagACK, nil); err != nil {
			log.GetLogger().WithError(err).Debug("fin ack failed")
		}
		e.startTimedWait(t)
	}
}

// handleRST removes a matching half-accepted block from its listener, or
// tears down a matching connection.
func (e *Engine) handleRST(s segment, src, dst netip.Addr) {
	if l := e.findListener(dst, s.dstPort); l != nil {
		l.pendingMu.Lock()
		for c := range l.halfOpen {
			if matchQuad(c, src, s.srcPort, dst, s.dstPort) {
				delete(l.halfOpen, c)
				l.pendingMu.Unlock()
				e.dispose(c)
				return
			}
		}
		l.pendingMu.Unlock()
	}

	if t := e.findConn(src, s.srcPort, dst, s.dstPort); t != nil {
		t.connMu.Lock()
		t.state = StateClosed
		e.disposeLocked(t)
		t.connMu.Unlock()
		t.post()
	}
}
