package log

// LoggerConfig selects level, output pattern and appenders.
type LoggerConfig struct {
	Level     string           `mapstructure:"level" yaml:"level"`
	Pattern   string           `mapstructure:"pattern" yaml:"pattern"`
	Time      string           `mapstructure:"time" yaml:"time"`
	Appenders []AppenderConfig `mapstructure:"appenders" yaml:"appenders"`
}

// AppenderConfig describes one log output. Type is "console" or "file".
type AppenderConfig struct {
	Type string              `mapstructure:"type" yaml:"type"`
	File FileAppenderOptions `mapstructure:"file" yaml:"file,omitempty"`
}

// FileAppenderOptions configures the rotated file appender.
type FileAppenderOptions struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSize    int    `mapstructure:"maxsize" yaml:"maxsize,omitempty"` // MB
	MaxAge     int    `mapstructure:"maxage" yaml:"maxage,omitempty"`   // days
	MaxBackups int    `mapstructure:"maxbackups" yaml:"maxbackups,omitempty"`
	Compress   bool   `mapstructure:"compress" yaml:"compress,omitempty"`
}

// DefaultConfig returns an info-level console-only configuration.
func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:   "info",
		Pattern: "%time [%level] %msg%n",
		Time:    "2006-01-02 15:04:05",
		Appenders: []AppenderConfig{
			{Type: "console"},
		},
	}
}
