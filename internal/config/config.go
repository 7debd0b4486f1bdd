package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenMediaCore/internal/serial"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Lifecycle   LifecycleConfig   `mapstructure:"lifecycle"`
	Router      RouterConfig      `mapstructure:"router"`
	Serial      SerialConfig      `mapstructure:"serial"`
	Definitions DefinitionsConfig `mapstructure:"definitions"`
	Composites  []CompositeConfig `mapstructure:"composites"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// LifecycleConfig controls how composites are driven after construction.
type LifecycleConfig struct {
	// LegacyFallthrough reproduces the extra PAUSED_TO_READY diagnostic
	// reported while leaving PLAYING.
	LegacyFallthrough bool `mapstructure:"legacy_fallthrough"`
	Autostart         bool `mapstructure:"autostart"`
}

type RouterConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity"`
}

type SerialConfig struct {
	UnitSize     int           `mapstructure:"unit_size"`
	UnitDuration time.Duration `mapstructure:"unit_duration"`
	// EOSSignal names the signal that ends bridged serial streams.
	EOSSignal string `mapstructure:"eos_signal"`
}

type DefinitionsConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

// CompositeConfig declares one composite instance to build at startup.
type CompositeConfig struct {
	Name       string         `mapstructure:"name"`
	Definition string         `mapstructure:"definition"`
	Properties map[string]any `mapstructure:"properties"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("lifecycle.legacy_fallthrough", false)
	v.SetDefault("lifecycle.autostart", true)

	v.SetDefault("router.queue_capacity", 64)

	v.SetDefault("serial.unit_size", 32)
	v.SetDefault("serial.unit_duration", "500ms")
	v.SetDefault("serial.eos_signal", "SIGUSR1")
}

// flagKeys maps command line flags to the keys they override.
var flagKeys = map[string]string{
	"http-port":          "server.http_port",
	"log-level":          "log.level",
	"log-development":    "log.development",
	"legacy-fallthrough": "lifecycle.legacy_fallthrough",
	"autostart":          "lifecycle.autostart",
	"definitions":        "definitions.search_paths",
}

// RegisterFlags declares the flags Load understands on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("http-port", 8080, "HTTP port of the control API")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.Bool("log-development", false, "Human readable development logging")
	fs.Bool("legacy-fallthrough", false, "Report PAUSED_TO_READY twice when leaving PLAYING")
	fs.Bool("autostart", true, "Drive composites to PLAYING after startup")
	fs.StringSlice("definitions", nil, "Extra directories searched for composite definitions")
}

// Load reads the YAML file at path. An empty path yields the defaults.
// Every key can be overridden from the environment with the OMC_ prefix,
// e.g. OMC_SERVER_HTTP_PORT, and by flags registered with RegisterFlags
// that were set explicitly.
func Load(path string, flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for _, fs := range flags {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	v.SetEnvPrefix("OMC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Router.QueueCapacity < 1 {
		return fmt.Errorf("router.queue_capacity must be positive")
	}
	if c.Serial.UnitSize < 1 || c.Serial.UnitSize > serial.SlotSize {
		return fmt.Errorf("serial.unit_size must be between 1 and %d", serial.SlotSize)
	}
	if c.Serial.UnitDuration <= 0 {
		return fmt.Errorf("serial.unit_duration must be positive")
	}
	if _, err := c.Log.ZapLevel(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Composites))
	for i, cc := range c.Composites {
		if cc.Name == "" || cc.Definition == "" {
			return fmt.Errorf("composites[%d]: name and definition are required", i)
		}
		if seen[cc.Name] {
			return fmt.Errorf("composites[%d]: duplicate name %q", i, cc.Name)
		}
		seen[cc.Name] = true
	}
	return nil
}

func (l LogConfig) ZapLevel() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
