package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Relay     RelayConfig     `yaml:"relay"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	SPI       SPIConfig       `yaml:"spi"`
	Web       WebConfig       `yaml:"web"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

type RelayConfig struct {
	// Listen is the host:port the WebSocket listener binds.
	Listen string `yaml:"listen"`
	// WriteTimeout bounds a single fan-out send to one client.
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MaxMessageBytes caps an inbound frame. Setpoints are short decimal strings.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
	// PingInterval is the keepalive period; a peer silent for two intervals
	// is dropped.
	PingInterval time.Duration `yaml:"ping_interval"`
}

type ActuatorConfig struct {
	// Backend selects the driver: "pwm" (sysfs), "gpio" (gpiocdev soft PWM) or "fake".
	Backend string `yaml:"backend"`
	// PWMChip names the sysfs chip (e.g. "pwmchip0"); empty means auto-detect.
	// PWMChannel is the channel exported under that chip.
	PWMChip    string `yaml:"pwm_chip"`
	PWMChannel int    `yaml:"pwm_channel"`
	// GPIOPin is BCM numbering; used by the gpio backend.
	GPIOPin     int           `yaml:"gpio_pin"`
	FrequencyHz int           `yaml:"frequency_hz"`
	Interval    time.Duration `yaml:"interval"`
}

type SPIConfig struct {
	Enable     *bool  `yaml:"enable"`
	Bus        int    `yaml:"bus"`
	Device     int    `yaml:"device"`
	MaxSpeedHz uint32 `yaml:"max_speed_hz"`
}

// Enabled reports whether the auxiliary SPI handle should be acquired.
// An absent key means enabled.
func (c SPIConfig) Enabled() bool {
	return c.Enable == nil || *c.Enable
}

type WebConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type TelemetryConfig struct {
	// UDPDest, when set, receives one "duty=<v>" datagram per applied duty.
	UDPDest string `yaml:"udp_dest"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	// Defaults never fail validation.
	_ = DefaultAndValidate(&cfg)
	return cfg
}

// Load reads a YAML config. An empty path yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	cfg.Relay.Listen = strings.TrimSpace(cfg.Relay.Listen)
	if cfg.Relay.Listen == "" {
		cfg.Relay.Listen = "0.0.0.0:8765"
	}
	if _, _, err := net.SplitHostPort(cfg.Relay.Listen); err != nil {
		return fmt.Errorf("relay.listen must be host:port: %v", err)
	}
	if cfg.Relay.WriteTimeout <= 0 {
		cfg.Relay.WriteTimeout = 2 * time.Second
	}
	if cfg.Relay.MaxMessageBytes <= 0 {
		cfg.Relay.MaxMessageBytes = 64
	}
	if cfg.Relay.PingInterval <= 0 {
		cfg.Relay.PingInterval = 20 * time.Second
	}

	cfg.Actuator.Backend = strings.ToLower(strings.TrimSpace(cfg.Actuator.Backend))
	if cfg.Actuator.Backend == "" {
		cfg.Actuator.Backend = "pwm"
	}
	switch cfg.Actuator.Backend {
	case "pwm", "gpio", "fake":
	default:
		return fmt.Errorf("actuator.backend must be one of pwm, gpio, fake")
	}
	cfg.Actuator.PWMChip = strings.TrimSpace(cfg.Actuator.PWMChip)
	if strings.ContainsAny(cfg.Actuator.PWMChip, "/.") {
		return fmt.Errorf("actuator.pwm_chip must be a bare name like pwmchip0")
	}
	if cfg.Actuator.PWMChannel < 0 {
		return fmt.Errorf("actuator.pwm_channel must be >= 0")
	}
	if cfg.Actuator.GPIOPin == 0 {
		cfg.Actuator.GPIOPin = 18
	}
	if cfg.Actuator.GPIOPin < 0 {
		return fmt.Errorf("actuator.gpio_pin must be > 0")
	}
	if cfg.Actuator.FrequencyHz == 0 {
		cfg.Actuator.FrequencyHz = 1000
	}
	if cfg.Actuator.FrequencyHz < 0 {
		return fmt.Errorf("actuator.frequency_hz must be > 0")
	}
	if cfg.Actuator.Interval <= 0 {
		cfg.Actuator.Interval = 500 * time.Millisecond
	}

	if cfg.SPI.Bus < 0 || cfg.SPI.Device < 0 {
		return fmt.Errorf("spi.bus and spi.device must be >= 0")
	}
	if cfg.SPI.MaxSpeedHz == 0 {
		cfg.SPI.MaxSpeedHz = 1_350_000
	}

	if cfg.Web.ShutdownTimeout <= 0 {
		cfg.Web.ShutdownTimeout = 3 * time.Second
	}

	cfg.Telemetry.UDPDest = strings.TrimSpace(cfg.Telemetry.UDPDest)
	if cfg.Telemetry.UDPDest != "" {
		if _, _, err := net.SplitHostPort(cfg.Telemetry.UDPDest); err != nil {
			return fmt.Errorf("telemetry.udp_dest must be host:port: %v", err)
		}
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 3
	}

	return nil
}
