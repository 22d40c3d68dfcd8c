// Package config loads the bridge configuration from defaults, an optional
// config file and PRINTER_BRIDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// PRINTER_BRIDGE_PRINTER_PORT overrides printer.port.
const EnvPrefix = "PRINTER_BRIDGE"

// ServerConfig configures the HTTP boundary
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// PrinterConfig is the fixed device configuration used for every request
type PrinterConfig struct {
	Port    string `mapstructure:"port"`
	Baud    int    `mapstructure:"baud"`
	ModelID int    `mapstructure:"model_id"`
	Name    string `mapstructure:"name"`
}

// DriverConfig selects the driver backend
type DriverConfig struct {
	Kind    string `mapstructure:"kind"`
	Library string `mapstructure:"library"`
}

// PrintConfig tunes the print pipeline
type PrintConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	CutFeed     int           `mapstructure:"cut_feed"`
	QueueSize   int           `mapstructure:"queue_size"`
}

// ReceiptConfig tunes the receipt layout
type ReceiptConfig struct {
	Width  int    `mapstructure:"width"`
	Footer string `mapstructure:"footer"`
}

// PortsConfig configures serial port watching
type PortsConfig struct {
	// WatchInterval is how often ports are polled; zero disables watching
	WatchInterval time.Duration `mapstructure:"watch_interval"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is the complete bridge configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Printer PrinterConfig `mapstructure:"printer"`
	Driver  DriverConfig  `mapstructure:"driver"`
	Print   PrintConfig   `mapstructure:"print"`
	Receipt ReceiptConfig `mapstructure:"receipt"`
	Ports   PortsConfig   `mapstructure:"ports"`
	Log     LogConfig     `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0:12212")

	v.SetDefault("printer.port", "/dev/ttyUSB0")
	v.SetDefault("printer.baud", 9600)
	v.SetDefault("printer.model_id", 5)
	v.SetDefault("printer.name", "i9")

	v.SetDefault("driver.kind", "escpos")
	v.SetDefault("driver.library", "")

	v.SetDefault("print.call_timeout", "10s")
	v.SetDefault("print.cut_feed", 3)
	v.SetDefault("print.queue_size", 16)

	v.SetDefault("receipt.width", 32)
	v.SetDefault("receipt.footer", "Obrigado pela preferência!")

	v.SetDefault("ports.watch_interval", "2s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the configuration. When path is empty, printer-bridge.yaml is
// looked up in the working directory and /etc/printer-bridge; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("printer-bridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/printer-bridge")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a print
func (c *Config) Validate() error {
	if c.Printer.Port == "" {
		return fmt.Errorf("printer.port is required")
	}
	if c.Printer.Baud <= 0 {
		return fmt.Errorf("invalid printer.baud: %d", c.Printer.Baud)
	}
	switch strings.ToLower(c.Driver.Kind) {
	case "escpos":
	case "vendor":
		if c.Driver.Library == "" {
			return fmt.Errorf("driver.library is required for the vendor driver")
		}
	default:
		return fmt.Errorf("invalid driver.kind: %s (must be escpos or vendor)", c.Driver.Kind)
	}
	if c.Print.CallTimeout <= 0 {
		return fmt.Errorf("invalid print.call_timeout: %s", c.Print.CallTimeout)
	}
	if c.Print.CutFeed < 0 {
		return fmt.Errorf("invalid print.cut_feed: %d", c.Print.CutFeed)
	}
	if c.Print.QueueSize <= 0 {
		return fmt.Errorf("invalid print.queue_size: %d", c.Print.QueueSize)
	}
	if c.Receipt.Width <= 0 {
		return fmt.Errorf("invalid receipt.width: %d", c.Receipt.Width)
	}
	if c.Ports.WatchInterval < 0 {
		return fmt.Errorf("invalid ports.watch_interval: %s", c.Ports.WatchInterval)
	}
	return nil
}
