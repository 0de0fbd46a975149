package tcp

import (
	"context"
	"time"

	"firestige.xyz/anser/internal/ip"
	"firestige.xyz/anser/internal/log"
	"firestige.xyz/anser/internal/metrics"
)

// RunSweep retransmits unacknowledged segments. Every tick it visits each
// connection's retransmit list: elements whose sequence has fallen below
// send-unacknowledged are retired; the rest are re-sent once their tick
// counter reaches the retransmit interval. A segment re-sent more than the
// configured budget tears the connection down.
func (e *Engine) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	for _, t := range e.snapshot() {
		t.connMu.Lock()
		una := t.sndUna
		state := t.state
		src, dst := t.localAddr, t.remoteAddr
		t.connMu.Unlock()
		if state == StateClosed || state == StateListen {
			continue
		}

		var resend [][]byte
		exhausted := false

		t.retransMu.Lock()
		keep := t.retrans[:0]
		for _, elem := range t.retrans {
			if seqLT(elem.seq, una) {
				continue // acknowledged, retire
			}
			elem.ticks++
			if elem.ticks >= e.cfg.RetransmitTicks {
				elem.ticks = 0
				elem.tries++
				if e.cfg.RetransmitMax > 0 && elem.tries > e.cfg.RetransmitMax {
					exhausted = true
					break
				}
				resend = append(resend, elem.segment)
			}
			keep = append(keep, elem)
		}
		t.retrans = keep
		t.retransMu.Unlock()

		if exhausted {
			log.GetLogger().Warnf("retransmit budget exhausted for %s:%d -> %s:%d",
				src, t.localPort, dst, t.remotePort)
			e.abort(t)
			continue
		}
		for _, seg := range resend {
			if err := e.net.SendDatagram(src, dst, ip.ProtoTCP, seg); err != nil {
				log.GetLogger().WithError(err).Debug("retransmission failed")
				continue
			}
			metrics.SegmentsRetransmittedTotal.Inc()
		}
	}
}

// abort tears a connection down and wakes any blocked caller with failure.
func (e *Engine) abort(t *tcb) {
	t.connMu.Lock()
	t.state = StateClosed
	e.disposeLocked(t)
	t.connMu.Unlock()
	t.post()
}

// startTimedWait holds the block in TIMED_WAIT for the configured time_wait
// (twice the smoothed round-trip time when that is unset), then disposes of
// it. Caller holds connMu.
func (e *Engine) startTimedWait(t *tcb) {
	wait := 2 * t.srtt
	if e.cfg.TimeWait > 0 {
		wait = e.cfg.TimeWait
	}
	go func() {
		time.Sleep(wait)
		t.connMu.Lock()
		if t.state == StateTimedWait {
			t.state = StateClosed
			e.disposeLocked(t)
		}
		t.connMu.Unlock()
	}()
}
