package jscore

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultGCPumpPasses   = 8
	defaultGCPumpInterval = 5 * time.Millisecond
)

// Config holds the tunables of a ContextGroup. The zero value is not usable
// directly; start from DefaultConfig or LoadConfig.
type Config struct {
	// GCPumpPasses bounds the number of collector passes run when a context
	// is torn down or GarbageCollect is called.
	GCPumpPasses int `toml:"gc_pump_passes"`
	// GCPumpInterval is how long each pass waits for cleanups to be queued.
	GCPumpInterval time.Duration `toml:"gc_pump_interval"`
	// Console installs the console and require globals in every context.
	Console bool `toml:"console"`
	// LogLevel, when set, makes the group build its own production logger.
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		GCPumpPasses:   defaultGCPumpPasses,
		GCPumpInterval: defaultGCPumpInterval,
		Console:        true,
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("jscore: load config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

// ParseConfig decodes TOML text on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("jscore: parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.GCPumpPasses < 1 {
		return fmt.Errorf("jscore: gc_pump_passes must be positive, got %d", c.GCPumpPasses)
	}
	if c.GCPumpInterval < 0 {
		return fmt.Errorf("jscore: gc_pump_interval must not be negative, got %s", c.GCPumpInterval)
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("jscore: log_level: %w", err)
		}
	}
	return nil
}

// Logger builds a production logger at LogLevel. It returns nil when no
// level is configured.
func (c Config) Logger() (*zap.Logger, error) {
	if c.LogLevel == "" {
		return nil, nil
	}
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// Option configures a ContextGroup.
type Option func(*groupOptions)

type groupOptions struct {
	config Config
	logger *zap.Logger
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *groupOptions) {
		o.config = cfg
	}
}

// WithLogger sets the logger used by the group and its contexts.
func WithLogger(l *zap.Logger) Option {
	return func(o *groupOptions) {
		o.logger = l
	}
}

// WithGCPumpPasses bounds the collector passes run on context teardown.
func WithGCPumpPasses(n int) Option {
	return func(o *groupOptions) {
		if n > 0 {
			o.config.GCPumpPasses = n
		}
	}
}

// WithGCPumpInterval sets the wait between collector passes.
func WithGCPumpInterval(d time.Duration) Option {
	return func(o *groupOptions) {
		if d >= 0 {
			o.config.GCPumpInterval = d
		}
	}
}

// WithConsole toggles the console and require globals.
func WithConsole(enabled bool) Option {
	return func(o *groupOptions) {
		o.config.Console = enabled
	}
}
