// Package config loads the keyrelay service configuration from a YAML file,
// KEYRELAY_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes every environment override, e.g. KEYRELAY_SERVER_LISTEN_ADDR.
const EnvPrefix = "KEYRELAY"

// Config is the full service configuration.
type Config struct {
	Device DeviceConfig `mapstructure:"device"`
	Server ServerConfig `mapstructure:"server"`
	Action ActionConfig `mapstructure:"action"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// DeviceConfig selects the input device.
type DeviceConfig struct {
	Path      string `mapstructure:"path"`
	NameMatch string `mapstructure:"name_match"`
}

// ServerConfig configures the subscriber endpoint and delivery.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	EnableCORS      bool          `mapstructure:"enable_cors"`
	QueueSize       int           `mapstructure:"queue_size"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ActionConfig tunes action classification.
type ActionConfig struct {
	LongPressThreshold time.Duration `mapstructure:"long_press_threshold"`
}

// Default values.
const (
	DefaultDevicePath         = "/dev/input/by-id/usb-flirc.tv_flirc-if01-event-kbd"
	DefaultNameMatch          = "flirc"
	DefaultListenAddr         = "0.0.0.0:9000"
	DefaultQueueSize          = 64
	DefaultWriteTimeout       = 5 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultSendTimeout        = 2 * time.Second
	DefaultShutdownTimeout    = 5 * time.Second
	DefaultLongPressThreshold = 350 * time.Millisecond
)

var searchPaths = []string{".", "$HOME/.keyrelay", "/etc/keyrelay"}

// NewViper returns a viper instance with defaults and environment binding
// in place. Callers bind flags onto it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key so environment overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("device.path", DefaultDevicePath)
	v.SetDefault("device.name_match", DefaultNameMatch)
	v.SetDefault("server.listen_addr", DefaultListenAddr)
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.queue_size", DefaultQueueSize)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("server.ping_interval", DefaultPingInterval)
	v.SetDefault("server.send_timeout", DefaultSendTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("action.long_press_threshold", DefaultLongPressThreshold)
}

// Load reads path, or searches for keyrelay.yaml when path is empty, and
// returns the validated config. A missing file is only an error when path
// was given explicitly.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("keyrelay")
		v.SetConfigType("yaml")
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Device.Path = strings.TrimSpace(cfg.Device.Path)
	cfg.Server.ListenAddr = strings.TrimSpace(cfg.Server.ListenAddr)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Action.LongPressThreshold <= 0:
		return fmt.Errorf("%w: action.long_press_threshold must be positive, got %s", ErrInvalidConfig, c.Action.LongPressThreshold)
	case c.Server.ListenAddr == "":
		return fmt.Errorf("%w: server.listen_addr is empty", ErrInvalidConfig)
	case c.Server.QueueSize <= 0:
		return fmt.Errorf("%w: server.queue_size must be positive, got %d", ErrInvalidConfig, c.Server.QueueSize)
	case c.Server.WriteTimeout <= 0:
		return fmt.Errorf("%w: server.write_timeout must be positive", ErrInvalidConfig)
	case c.Server.SendTimeout <= 0:
		return fmt.Errorf("%w: server.send_timeout must be positive", ErrInvalidConfig)
	case c.Server.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: server.shutdown_timeout must be positive", ErrInvalidConfig)
	case c.Server.PingInterval < 0:
		return fmt.Errorf("%w: server.ping_interval must not be negative", ErrInvalidConfig)
	}
	return nil
}
