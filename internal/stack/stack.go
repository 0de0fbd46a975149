// Package stack assembles the layers: the readiness pump, the device
// multiplexor, the network engine, and the transport engine. The process
// normally runs a single stack, constructed lazily on first socket call.
package stack

import (
	"context"
	"net/netip"
	"sync"

	"firestige.xyz/anser/internal/config"
	"firestige.xyz/anser/internal/core"
	"firestige.xyz/anser/internal/ethernet"
	"firestige.xyz/anser/internal/ip"
	"firestige.xyz/anser/internal/log"
	"firestige.xyz/anser/internal/tcp"
)

// Stack owns the engine instances and their background goroutines.
type Stack struct {
	Pump      *ethernet.Pump
	Devices   *ethernet.Manager
	Network   *ip.Engine
	Transport *tcp.Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// netAdapter narrows the lower layers to the slice the transport engine
// needs. The transport borrows the network engine; it owns nothing below.
type netAdapter struct {
	eng *ip.Engine
}

func (a netAdapter) SendDatagram(src, dst netip.Addr, proto uint8, payload []byte) error {
	return a.eng.SendDatagram(src, dst, proto, payload)
}

func (a netAdapter) IsLocal(addr netip.Addr) bool {
	return a.eng.Manager().IsLocal(addr)
}

func (a netAdapter) Primary() (netip.Addr, bool) {
	return a.eng.Manager().Primary()
}

// New builds a stack from configuration. Interfaces listed in the config are
// added in order; with none listed, every capturable interface that has an
// IPv4 address is taken.
func New(cfg *config.Config) (*Stack, error) {
	pump, err := ethernet.NewPump()
	if err != nil {
		return nil, err
	}
	mgr, err := ethernet.NewManager(pump)
	if err != nil {
		pump.Close()
		return nil, err
	}
	network := ip.NewEngine(mgr, cfg.Routing)

	if len(cfg.Interfaces) == 0 {
		if err := mgr.AddAll(); err != nil {
			pump.Close()
			return nil, err
		}
	} else {
		for _, ifc := range cfg.Interfaces {
			if _, err := mgr.AddDevice(ifc.Device); err != nil {
				log.GetLogger().WithError(err).WithField("device", ifc.Device).Warn("device not added")
				continue
			}
			if ifc.Address != "" {
				addr, err := netip.ParseAddr(ifc.Address)
				if err == nil && addr.Is4() {
					mgr.SetAddress(addr, ifc.Device)
				}
			}
		}
		if len(mgr.Devices()) == 0 {
			pump.Close()
			return nil, core.ErrNoCaptureDevice
		}
	}

	transport, err := tcp.NewEngine(netAdapter{eng: network}, cfg.Transport)
	if err != nil {
		pump.Close()
		return nil, err
	}
	network.SetTransport(transport.HandleSegment)

	return &Stack{
		Pump:      pump,
		Devices:   mgr,
		Network:   network,
		Transport: transport,
	}, nil
}

// Start launches the pump, the periodic routing timer, and the retransmit
// sweep.
func (s *Stack) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.Pump.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.Network.RunTimer(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.Transport.RunSweep(ctx)
	}()
}

// Close cancels the background goroutines and releases the endpoints.
func (s *Stack) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.Devices.Close()
	s.Pump.Close()
}

var (
	defaultOnce  sync.Once
	defaultStack *Stack
	defaultErr   error
)

// Default returns the process-global stack, constructing and starting it on
// first use with pure-default configuration. Its lifetime is the process's.
func Default() (*Stack, error) {
	defaultOnce.Do(func() {
		cfg, err := config.Load("")
		if err != nil {
			defaultErr = err
			return
		}
		defaultStack, defaultErr = New(cfg)
		if defaultErr == nil {
			defaultStack.Start(context.Background())
		}
	})
	return defaultStack, defaultErr
}
