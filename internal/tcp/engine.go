// Package tcp implements the connection-oriented reliable transport engine:
// the socket table, per-connection control blocks, the RFC 793 state machine
// for the no-simultaneous-open subset, retransmission, and the blocking
// operations behind the socket surface.
package tcp

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"firestige.xyz/anser/internal/config"
	"firestige.xyz/anser/internal/ip"
	"firestige.xyz/anser/internal/log"
	"firestige.xyz/anser/internal/metrics"
)

// Network is the slice of the lower layers the engine depends on.
type Network interface {
	SendDatagram(src, dst netip.Addr, proto uint8, payload []byte) error
	IsLocal(addr netip.Addr) bool
	Primary() (netip.Addr, bool)
}

// Backlog bounds, matching the kernel's somaxconn cap.
const (
	maxBacklog = 4096
	minBacklog = 1
)

// defaultMSS is the largest payload this stack places in one segment when
// the peer announces nothing: the Ethernet MTU minus both fixed headers.
const defaultMSS = 1460

// pollInterval paces the bounded polling of blocked read/write callers.
const pollInterval = time.Millisecond

// Engine is the transport engine. One instance serves the whole process.
type Engine struct {
	net Network
	cfg config.TransportConfig

	// mu guards the descriptor table only; it is held just for insert,
	// erase and lookup.
	mu    sync.Mutex
	socks map[int]*tcb

	// closingMu guards the set of blocks whose descriptor is gone but whose
	// FSM is still completing the close exchange.
	closingMu sync.Mutex
	closing   map[*tcb]struct{}

	ports  *portBitmap
	sinkFD int
}

// NewEngine builds an engine above net. The sink descriptor backs socket
// descriptor allocation: every stack descriptor is a dup of it, keeping the
// numbering disjoint from real kernel descriptors in use.
func NewEngine(network Network, cfg config.TransportConfig) (*Engine, error) {
	sink, err := unix.Open("/dev/null", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &Engine{
		net:     network,
		cfg:     cfg,
		socks:   make(map[int]*tcb),
		closing: make(map[*tcb]struct{}),
		ports:   newPortBitmap(),
		sinkFD:  sink,
	}, nil
}

// Owns reports whether fd belongs to the engine's socket table. Descriptors
// outside the table fall through to the host kernel.
func (e *Engine) Owns(fd int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.socks[fd]
	return ok
}

func (e *Engine) lookup(fd int) (*tcb, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.socks[fd]
	return t, ok
}

func (e *Engine) insert(t *tcb) (int, error) {
	fd, err := unix.Dup(e.sinkFD)
	if err != nil {
		return -1, err
	}
	e.mu.Lock()
	e.socks[fd] = t
	e.mu.Unlock()
	return fd, nil
}

func (e *Engine) erase(fd int) {
	e.mu.Lock()
	delete(e.socks, fd)
	e.mu.Unlock()
	unix.Close(fd)
}

// Socket allocates a descriptor with an empty control block.
func (e *Engine) Socket() (int, error) {
	t := newTCB(e.cfg.WindowSize)
	fd, err := e.insert(t)
	if err != nil {
		return -1, err
	}
	metrics.ConnectionsActive.Inc()
	return fd, nil
}

// Bind attaches a local address and port to an unbound socket. The wildcard
// address binds to the host's primary address.
func (e *Engine) Bind(fd int, addr netip.Addr, port uint16) error {
	t, ok := e.lookup(fd)
	if !ok {
		return unix.EBADF
	}
	t.bindMu.Lock()
	defer t.bindMu.Unlock()
	if t.phase != PhaseUnspecified {
		return unix.EINVAL
	}
	if addr.IsUnspecified() || !addr.IsValid() {
		primary, ok := e.net.Primary()
		if !ok {
			return unix.EADDRNOTAVAIL
		}
		addr = primary
	} else if !e.net.IsLocal(addr) {
		return unix.EADDRNOTAVAIL
	}
	if err := e.ports.mark(port); err != nil {
		return unix.EADDRINUSE
	}
	t.localAddr = addr
	t.localPort = port
	t.phase = PhaseBound
	return nil
}

// Listen moves a socket to the passive phase. An unbound socket gets an
// ephemeral port. Listening twice is a no-op; listening on a connected
// socket fails.
func (e *Engine) Listen(fd int, backlog int) error {
	t, ok := e.lookup(fd)
	if !ok {
		return unix.EBADF
	}
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	switch t.phase {
	case PhaseActive:
		return unix.EINVAL
	case PhasePassive:
		return nil
	case PhaseUnspecified:
		primary, ok := e.net.Primary()
		if !ok {
			return unix.EADDRNOTAVAIL
		}
		port, err := e.ports.allocEphemeral()
		if err != nil {
			return unix.EADDRNOTAVAIL
		}
		t.localAddr = primary
		t.localPort = port
	}

	if backlog > maxBacklog {
		backlog = maxBacklog
	} else if backlog < minBacklog {
		backlog = minBacklog
	}

	t.connMu.Lock()
	t.state = StateListen
	t.connMu.Unlock()

	t.pendingMu.Lock()
	t.backlog = backlog
	t.pendingMu.Unlock()

	t.phase = PhasePassive
	return nil
}

// Connect transmits a SYN and blocks the caller until the handshake
// completes or the connection is torn down.
func (e *Engine) Connect(fd int, addr netip.Addr, port uint16) error {
	t, ok := e.lookup(fd)
	if !ok {
		return unix.EBADF
	}
	t.bindMu.Lock()
	if t.phase == PhaseActive || t.phase == PhasePassive {
		t.bindMu.Unlock()
		return unix.EISCONN
	}
	if t.phase == PhaseUnspecified {
		primary, ok := e.net.Primary()
		if !ok {
			t.bindMu.Unlock()
			return unix.EADDRNOTAVAIL
		}
		eport, err := e.ports.allocEphemeral()
		if err != nil {
			t.bindMu.Unlock()
			return unix.EADDRNOTAVAIL
		}
		t.localAddr = primary
		t.localPort = eport
	}
	t.remoteAddr = addr
	t.remotePort = port
	t.phase = PhaseActive
	t.bindMu.Unlock()

	t.connMu.Lock()
	t.state = StateSynSent
	if err := e.sendSegment(t, flagSYN, nil); err != nil {
		t.state = StateClosed
		t.connMu.Unlock()
		log.GetLogger().WithError(err).Debug("syn transmission failed")
		return unix.ECONNREFUSED
	}
	t.connMu.Unlock()

	t.wait()

	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.state != StateEstablished {
		return unix.ECONNREFUSED
	}
	return nil
}

// Accept blocks until a completed connection is available on a listening
// socket and returns a fresh descriptor for it. A listener closed while
// acceptors wait wakes them all with failure; the last waiter releases the
// block.
func (e *Engine) Accept(fd int) (int, netip.Addr, uint16, error) {
	t, ok := e.lookup(fd)
	if !ok {
		return -1, netip.Addr{}, 0, unix.EBADF
	}
	t.bindMu.Lock()
	passive := t.phase == PhasePassive
	t.bindMu.Unlock()
	if !passive {
		return -1, netip.Addr{}, 0, unix.EINVAL
	}

	t.pendingMu.Lock()
	t.acceptWaiters++
	t.pendingMu.Unlock()

	for {
		t.wait()

		t.connMu.Lock()
		closed := t.state == StateClosed
		t.connMu.Unlock()

		t.pendingMu.Lock()
		if closed {
			t.acceptWaiters--
			last := t.acceptWaiters == 0
			t.pendingMu.Unlock()
			if last {
				e.dispose(t)
			}
			return -1, netip.Addr{}, 0, unix.EINVAL
		}
		if len(t.pending) == 0 {
			// Spurious token; wait again.
			t.pendingMu.Unlock()
			continue
		}
		child := t.pending[0]
		t.pending = t.pending[1:]
		t.acceptWaiters--
		t.pendingMu.Unlock()

		nfd, err := e.insert(child)
		if err != nil {
			return -1, netip.Addr{}, 0, err
		}
		return nfd, child.remoteAddr, child.remotePort, nil
	}
}

// Read blocks until the requested length has been read, the peer pushes, or
// the peer half-closes. Each non-empty read acknowledges the new window.
func (e *Engine) Read(fd int, p []byte) (int, error) {
	t, ok := e.lookup(fd)
	if !ok {
		return 0, unix.EBADF
	}
	t.connMu.Lock()
	if t.state != StateEstablished && t.state != StateCloseWait {
		t.connMu.Unlock()
		return 0, unix.ENOTCONN
	}
	t.readers++
	t.connMu.Unlock()

	got := 0
	for {
		n, pushed := t.wnd.read(p[got:])
		got += n
		if n > 0 {
			t.connMu.Lock()
			if err := e.sendSegment(t, flagACK, nil); err != nil {
				log.GetLogger().WithError(err).Debug("window update failed")
			}
			t.connMu.Unlock()
		}
		if got == len(p) {
			break
		}
		if pushed && got > 0 {
			break
		}
		t.connMu.Lock()
		eof := t.peerClosed && t.wnd.used() == 0
		dead := t.state != StateEstablished && t.state != StateCloseWait
		t.connMu.Unlock()
		if eof || dead {
			break
		}
		time.Sleep(pollInterval)
	}

	e.finishCaller(t, &t.readers)
	return got, nil
}

// Write chunks the buffer into segments sized by the peer's advertised
// window and the negotiated maximum segment size. A zero-length write is
// legal and transmits a bare acknowledgement.
func (e *Engine) Write(fd int, p []byte) (int, error) {
	t, ok := e.lookup(fd)
	if !ok {
		return 0, unix.EBADF
	}
	t.connMu.Lock()
	switch t.state {
	case StateEstablished:
	case StateCloseWait:
		// Peer already half-closed.
		t.connMu.Unlock()
		return 0, nil
	default:
		t.connMu.Unlock()
		return 0, unix.EPIPE
	}
	t.writers++

	maxSeg := defaultMSS
	if t.mss > 0 && t.mss < maxSeg {
		maxSeg = t.mss
	}

	if len(p) == 0 {
		err := e.sendSegment(t, flagACK, nil)
		t.connMu.Unlock()
		e.finishCaller(t, &t.writers)
		if err != nil {
			return 0, unix.EPIPE
		}
		return 0, nil
	}
	t.connMu.Unlock()

	sent := 0
	for sent < len(p) {
		t.connMu.Lock()
		if t.state != StateEstablished {
			t.connMu.Unlock()
			break
		}
		wnd := int(t.peerWnd)
		if wnd == 0 {
			t.connMu.Unlock()
			time.Sleep(pollInterval)
			continue
		}
		chunk := len(p) - sent
		if chunk > wnd {
			chunk = wnd
		}
		if chunk > maxSeg {
			chunk = maxSeg
		}
		flags := uint8(flagACK)
		if sent+chunk == len(p) {
			flags |= flagPSH
		}
		if err := e.sendSegment(t, flags, p[sent:sent+chunk]); err != nil {
			t.connMu.Unlock()
			log.GetLogger().WithError(err).Debug("segment transmission failed")
			break
		}
		// The peer window is consumed as data is sent and restored by
		// window fields on inbound acknowledgements.
		t.peerWnd -= uint16(chunk)
		t.connMu.Unlock()
		sent += chunk
	}

	e.finishCaller(t, &t.writers)
	return sent, nil
}

// finishCaller retires an in-flight reader or writer and, when a close was
// requested while callers were outstanding, lets the last one emit the FIN.
func (e *Engine) finishCaller(t *tcb, counter *int) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	*counter--
	if !t.closeRequested || t.readers+t.writers > 0 {
		return
	}
	t.closeRequested = false
	e.emitFIN(t)
}

// emitFIN sends FIN-ACK and advances the close-side state. Caller holds
// connMu.
func (e *Engine) emitFIN(t *tcb) {
	switch t.state {
	case StateEstablished:
		if err := e.sendSegment(t, flagFIN|flagACK, nil); err != nil {
			log.GetLogger().WithError(err).Debug("fin transmission failed")
		}
		t.state = StateFinWait1
	case StateCloseWait:
		if err := e.sendSegment(t, flagFIN|flagACK, nil); err != nil {
			log.GetLogger().WithError(err).Debug("fin transmission failed")
		}
		t.state = StateLastAck
	}
}

// Close releases a descriptor. Depending on phase and state it frees the
// block immediately, aborts a pending connect, wakes acceptors, or starts
// the orderly FIN exchange.
func (e *Engine) Close(fd int) error {
	t, ok := e.lookup(fd)
	if !ok {
		return unix.EBADF
	}
	e.erase(fd)

	t.bindMu.Lock()
	phase := t.phase
	t.bindMu.Unlock()

	switch phase {
	case PhaseUnspecified, PhaseBound:
		e.dispose(t)
		return nil

	case PhasePassive:
		t.connMu.Lock()
		t.state = StateClosed
		t.connMu.Unlock()

		t.pendingMu.Lock()
		waiters := t.acceptWaiters
		orphans := append([]*tcb{}, t.pending...)
		for child := range t.halfOpen {
			orphans = append(orphans, child)
		}
		t.pending = nil
		t.halfOpen = make(map[*tcb]struct{})
		t.pendingMu.Unlock()
		for _, child := range orphans {
			e.dispose(child)
		}

		if waiters == 0 {
			e.dispose(t)
		} else {
			for i := 0; i < waiters; i++ {
				t.post()
			}
		}
		return nil

	default: // PhaseActive
		t.connMu.Lock()
		defer t.connMu.Unlock()
		switch t.state {
		case StateSynSent:
			t.state = StateClosed
			t.post()
			e.disposeLocked(t)
		case StateEstablished, StateCloseWait:
			// The block stays reachable for the rest of the close exchange
			// even though its descriptor is gone.
			e.closingMu.Lock()
			e.closing[t] = struct{}{}
			e.closingMu.Unlock()
			if t.readers+t.writers > 0 {
				t.closeRequested = true
			} else {
				e.emitFIN(t)
			}
		case StateFinWait1, StateFinWait2, StateClosing, StateLastAck, StateTimedWait:
			e.closingMu.Lock()
			e.closing[t] = struct{}{}
			e.closingMu.Unlock()
		case StateClosed:
			e.disposeLocked(t)
		}
		return nil
	}
}

// dispose releases the resources a control block holds. Safe to call more
// than once.
func (e *Engine) dispose(t *tcb) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	e.disposeLocked(t)
}

func (e *Engine) disposeLocked(t *tcb) {
	if t.disposed {
		return
	}
	t.disposed = true
	t.state = StateClosed
	e.closingMu.Lock()
	delete(e.closing, t)
	e.closingMu.Unlock()
	if t.localPort != 0 {
		e.ports.release(t.localPort)
	}
	t.retransMu.Lock()
	t.retrans = nil
	t.retransMu.Unlock()
	metrics.ConnectionsActive.Dec()
}

// sendSegment serializes and emits one segment on t, advancing send-next by
// one for SYN/FIN and by the payload length for data. Sequence-consuming
// segments join the retransmit list. Caller holds connMu; emission under
// that lock keeps outbound sequence numbers strictly monotonic per block.
func (e *Engine) sendSegment(t *tcb, flags uint8, payload []byte) error {
	seq := t.nextSeq()
	var ackVal uint32
	if flags&flagACK != 0 {
		ackVal = t.rcvNxt
	}
	wndVal := t.wnd.avail()
	seg := marshalSegment(t.localAddr, t.remoteAddr, t.localPort, t.remotePort,
		seq, ackVal, flags, wndVal, payload)

	consumed := len(payload)
	if flags&(flagSYN|flagFIN) != 0 {
		consumed = 1
	}
	if consumed > 0 {
		t.sndNxt += uint32(consumed)
		t.retransMu.Lock()
		t.retrans = append(t.retrans, &retransElem{seq: seq, segment: seg})
		t.retransMu.Unlock()
	}

	return e.net.SendDatagram(t.localAddr, t.remoteAddr, ip.ProtoTCP, seg)
}
