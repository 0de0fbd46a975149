package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Load reads the YAML configuration at path and applies defaults for every
// unset key. A missing file is an error; an empty path loads pure defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("routing.cycle_interval", 2500*time.Millisecond)
	v.SetDefault("routing.hello_age", 60)
	v.SetDefault("routing.link_state_age", 60)
	v.SetDefault("routing.aging_step", 10)

	v.SetDefault("transport.window_size", 1<<20)
	v.SetDefault("transport.sweep_interval", 5*time.Millisecond)
	v.SetDefault("transport.retransmit_ticks", 4000)
	v.SetDefault("transport.retransmit_max", 16)
	v.SetDefault("transport.time_wait", 200*time.Millisecond)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9464")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pattern", "%time [%level] %msg%n")
	v.SetDefault("log.time", "2006-01-02 15:04:05")
}
