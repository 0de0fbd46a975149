package tcp

import (
	"sync"

	"firestige.xyz/anser/internal/core"
)

// Ephemeral port range.
const (
	portBegin = 49152
	portEnd   = 65536
)

const elemBits = 64

// portBitmap is a packed-bit allocator over the full 16-bit port space with
// per-bit additional-reference counts. A listening socket and the children
// it half-accepts share one port; the reference count keeps the bit set
// until the last holder releases it.
type portBitmap struct {
	mu   sync.Mutex
	bits [portEnd / elemBits]uint64
	refs map[uint16]int
}

func newPortBitmap() *portBitmap {
	return &portBitmap{refs: make(map[uint16]int)}
}

func (b *portBitmap) test(port uint16) bool {
	return b.bits[port/elemBits]&(1<<(port%elemBits)) != 0
}

func (b *portBitmap) set(port uint16) {
	b.bits[port/elemBits] |= 1 << (port % elemBits)
}

func (b *portBitmap) clear(port uint16) {
	b.bits[port/elemBits] &^= 1 << (port % elemBits)
}

// allocEphemeral scans the ephemeral range for the first clear bit and
// flips it.
func (b *portBitmap) allocEphemeral() (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p := portBegin; p < portEnd; p++ {
		if !b.test(uint16(p)) {
			b.set(uint16(p))
			return uint16(p), nil
		}
	}
	return 0, core.ErrPortExhausted
}

// mark takes a specific port for a user bind. Duplicate binds fail.
func (b *portBitmap) mark(port uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.test(port) {
		return core.ErrPortInUse
	}
	b.set(port)
	return nil
}

// ref records an additional holder of an already-taken port.
func (b *portBitmap) ref(port uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs[port]++
}

// release drops one holder. The bit clears only when the count falls below
// zero, i.e. when the original taker and every additional holder are gone.
func (b *portBitmap) release(port uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs[port]--
	if b.refs[port] < 0 {
		delete(b.refs, port)
		b.clear(port)
	}
}
