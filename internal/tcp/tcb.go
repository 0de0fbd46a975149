package tcp

import (
	"net/netip"
	"sync"
	"time"
)

// SocketPhase is the socket-level lifecycle of a control block.
type SocketPhase int

const (
	PhaseUnspecified SocketPhase = iota
	PhaseBound
	PhaseActive
	PhasePassive
)

// ConnState is the RFC 793 connection state, restricted to the
// no-simultaneous-open subset.
type ConnState int

const (
	StateClosed ConnState = iota
	StateListen
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimedWait
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynRcvd:
		return "SYN_RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimedWait:
		return "TIMED_WAIT"
	}
	return "UNKNOWN"
}

// retransElem owns one serialized segment awaiting acknowledgement.
type retransElem struct {
	seq     uint32
	segment []byte
	ticks   int
	tries   int
}

// tcb is the control block for one connection.
//
// Lock order, never inverted: socket table -> bindMu -> connMu -> pendingMu;
// retransMu is a leaf. No lock is held across a semaphore wait.
type tcb struct {
	// bindMu covers phase and the address/port quadruple.
	bindMu     sync.Mutex
	phase      SocketPhase
	localAddr  netip.Addr
	localPort  uint16
	remoteAddr netip.Addr
	remotePort uint16

	// connMu covers FSM state, sequence counters, the peer window, the
	// in-flight caller counts, and any segment emission on this block.
	connMu  sync.Mutex
	state   ConnState
	seqInit bool
	sndNxt  uint32
	sndUna  uint32
	rcvNxt  uint32
	peerWnd uint16
	mss     int // peer maximum segment size; 0 when unannounced

	readers        int
	writers        int
	closeRequested bool
	peerClosed     bool
	disposed       bool

	srtt time.Duration

	wnd *window

	// pendingMu covers the accept queue and the half-accepted set.
	pendingMu     sync.Mutex
	backlog       int
	pending       []*tcb
	halfOpen      map[*tcb]struct{}
	acceptWaiters int

	// retransMu is a leaf lock over the retransmit list.
	retransMu sync.Mutex
	retrans   []*retransElem

	// sema is posted by the pump and timer threads when a transition or
	// arrival a blocked caller waits for has happened. Cancellation posts
	// once per waiter.
	sema chan struct{}
}

func newTCB(windowSize int) *tcb {
	return &tcb{
		wnd:      newWindow(windowSize),
		halfOpen: make(map[*tcb]struct{}),
		srtt:     100 * time.Millisecond,
		sema:     make(chan struct{}, 4096),
	}
}

// nextSeq returns the sequence number for the next outbound segment,
// deriving the initial sequence from the host clock on first use. Caller
// holds connMu.
func (t *tcb) nextSeq() uint32 {
	if !t.seqInit {
		t.seqInit = true
		isn := uint32((time.Now().UnixMicro() >> 2) & 0xffffffff)
		t.sndNxt = isn
		t.sndUna = isn
	}
	return t.sndNxt
}

// post wakes one blocked waiter. Posting with no waiter leaves a token so a
// racing waiter does not miss the event.
func (t *tcb) post() {
	select {
	case t.sema <- struct{}{}:
	default:
	}
}

// wait blocks until a post arrives. The caller must hold no locks.
func (t *tcb) wait() {
	<-t.sema
}
