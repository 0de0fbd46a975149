// Package config handles stack configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/anser/internal/log"
)

// Config is the top-level static configuration of the stack daemon.
type Config struct {
	Interfaces []InterfaceConfig `mapstructure:"interfaces"`
	Routing    RoutingConfig     `mapstructure:"routing"`
	Transport  TransportConfig   `mapstructure:"transport"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Log        *log.LoggerConfig `mapstructure:"log"`
}

// InterfaceConfig names one host interface the stack should own. Address is
// optional; when empty the address assigned by the host is used.
type InterfaceConfig struct {
	Device  string `mapstructure:"device"`
	Address string `mapstructure:"address"`
}

// RoutingConfig controls the periodic routing cycle.
type RoutingConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	HelloAge      uint16        `mapstructure:"hello_age"`
	LinkStateAge  uint32        `mapstructure:"link_state_age"`
	AgingStep     uint32        `mapstructure:"aging_step"`
}

// TransportConfig controls the TCP engine.
type TransportConfig struct {
	WindowSize      int           `mapstructure:"window_size"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	RetransmitTicks int           `mapstructure:"retransmit_ticks"`
	RetransmitMax   int           `mapstructure:"retransmit_max"`
	TimeWait        time.Duration `mapstructure:"time_wait"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Validate checks field ranges and address syntax.
func (c *Config) Validate() error {
	for i, ifc := range c.Interfaces {
		if ifc.Device == "" {
			return fmt.Errorf("interfaces[%d]: device name is required", i)
		}
		if ifc.Address != "" {
			addr, err := netip.ParseAddr(ifc.Address)
			if err != nil {
				return fmt.Errorf("interfaces[%d]: %w", i, err)
			}
			if !addr.Is4() {
				return fmt.Errorf("interfaces[%d]: %s is not an IPv4 address", i, ifc.Address)
			}
		}
	}
	if c.Routing.CycleInterval <= 0 {
		return fmt.Errorf("routing: cycle_interval must be positive")
	}
	if c.Routing.AgingStep == 0 {
		return fmt.Errorf("routing: aging_step must be positive")
	}
	if c.Transport.WindowSize <= 0 {
		return fmt.Errorf("transport: window_size must be positive")
	}
	if c.Transport.SweepInterval <= 0 {
		return fmt.Errorf("transport: sweep_interval must be positive")
	}
	if c.Transport.RetransmitTicks <= 0 {
		return fmt.Errorf("transport: retransmit_ticks must be positive")
	}
	return nil
}
