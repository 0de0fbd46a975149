package ethernet

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"firestige.xyz/anser/internal/log"
)

const (
	maxEvents   = 16
	waitTimeout = 100 // milliseconds
)

// Pump is the single-threaded readiness loop. It blocks on the registered
// descriptor set with a bounded timeout and fires each ready device's drain
// routine exactly once per wakeup.
type Pump struct {
	epfd int

	mu      sync.Mutex
	fdToDev map[int]*Device
}

// NewPump creates the epoll instance. Failure here is fatal at startup; the
// engine refuses to run without a readiness object.
func NewPump() (*Pump, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Pump{
		epfd:    epfd,
		fdToDev: make(map[int]*Device),
	}, nil
}

// Register adds a device's readable descriptor to the interest set.
func (p *Pump) Register(d *Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fdToDev[d.FD()]; ok {
		return fmt.Errorf("fd %d already registered", d.FD())
	}
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(d.FD()),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, d.FD(), &ev); err != nil {
		return fmt.Errorf("epoll add fd %d: %w", d.FD(), err)
	}
	p.fdToDev[d.FD()] = d
	return nil
}

// Run loops until ctx is cancelled. It must be the only goroutine draining
// devices; per-device state touched in drain paths relies on that.
func (p *Pump) Run(ctx context.Context) {
	events := make([]unix.EpollEvent, maxEvents)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := unix.EpollWait(p.epfd, events, waitTimeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.GetLogger().WithError(err).Error("epoll wait failed")
			return
		}
		for i := 0; i < n; i++ {
			p.mu.Lock()
			d := p.fdToDev[int(events[i].Fd)]
			p.mu.Unlock()
			if d == nil {
				log.GetLogger().WithField("fd", events[i].Fd).Warn("event on unknown descriptor")
				continue
			}
			d.Drain()
		}
	}
}

// Close releases the epoll descriptor.
func (p *Pump) Close() error {
	return unix.Close(p.epfd)
}
