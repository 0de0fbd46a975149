package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2500*time.Millisecond, cfg.Routing.CycleInterval)
	assert.Equal(t, uint16(60), cfg.Routing.HelloAge)
	assert.Equal(t, uint32(60), cfg.Routing.LinkStateAge)
	assert.Equal(t, uint32(10), cfg.Routing.AgingStep)
	assert.Equal(t, 1<<20, cfg.Transport.WindowSize)
	assert.Equal(t, 5*time.Millisecond, cfg.Transport.SweepInterval)
	assert.Equal(t, 4000, cfg.Transport.RetransmitTicks)
	assert.Equal(t, 200*time.Millisecond, cfg.Transport.TimeWait)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
interfaces:
  - device: veth0
    address: 10.100.1.1
  - device: veth1
routing:
  cycle_interval: 1s
transport:
  window_size: 65536
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Interfaces, 2)
	assert.Equal(t, "veth0", cfg.Interfaces[0].Device)
	assert.Equal(t, "10.100.1.1", cfg.Interfaces[0].Address)
	assert.Equal(t, time.Second, cfg.Routing.CycleInterval)
	assert.Equal(t, 65536, cfg.Transport.WindowSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset keys keep their defaults.
	assert.Equal(t, 4000, cfg.Transport.RetransmitTicks)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/anser.yml")
	assert.Error(t, err)
}

func TestValidateRejectsBadAddress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
interfaces:
  - device: veth0
    address: not-an-address
`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsIPv6(t *testing.T) {
	cfg := &Config{
		Interfaces: []InterfaceConfig{{Device: "veth0", Address: "::1"}},
		Routing:    RoutingConfig{CycleInterval: time.Second, AgingStep: 10},
		Transport: TransportConfig{
			WindowSize: 1, SweepInterval: time.Millisecond, RetransmitTicks: 1,
		},
	}
	assert.Error(t, cfg.Validate())
}
