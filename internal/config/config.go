package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/bleprint/internal/ble/protocol"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	BLE     BLEConfig     `yaml:"ble"`
	Printer PrinterConfig `yaml:"printer"`
	API     APIConfig     `yaml:"api"`
	Receipt ReceiptConfig `yaml:"receipt"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "console" or "json"
	Output     string `yaml:"output"` // "stdout", "stderr" or a file path
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// BLEConfig holds Bluetooth transport settings.
type BLEConfig struct {
	Backend        string        `yaml:"backend"` // "tinygo" or "hci"
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteGrace     time.Duration `yaml:"write_grace"`
	ChunkSize      int           `yaml:"chunk_size"`
	ChunkDelay     time.Duration `yaml:"chunk_delay"`
}

// PrinterConfig selects the printer.
type PrinterConfig struct {
	DeviceID      string   `yaml:"device_id"` // empty: first scan candidate
	ExtraKeywords []string `yaml:"extra_keywords"`
}

// APIConfig holds the HTTP control surface settings.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// ReceiptConfig holds receipt layout settings.
type ReceiptConfig struct {
	Width    int    `yaml:"width"` // characters per line
	Header   string `yaml:"header"`
	Footer   string `yaml:"footer"`
	Currency string `yaml:"currency"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "bleprint")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
		BLE: BLEConfig{
			Backend:        "tinygo",
			ScanTimeout:    10 * time.Second,
			ConnectTimeout: 10 * time.Second,
			WriteGrace:     100 * time.Millisecond,
			ChunkSize:      protocol.DefaultChunkSize,
			ChunkDelay:     20 * time.Millisecond,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8631",
		},
		Receipt: ReceiptConfig{
			Width:    32,
			Footer:   "Thank you!",
			Currency: "$",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in a log file path is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Log.Output = expandTilde(cfg.Log.Output)

	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be \"console\" or \"json\", got %q", c.Log.Format)
	}

	if c.Log.Output == "" {
		return fmt.Errorf("log.output must not be empty")
	}

	switch c.BLE.Backend {
	case "tinygo", "hci":
	default:
		return fmt.Errorf("ble.backend must be \"tinygo\" or \"hci\", got %q", c.BLE.Backend)
	}

	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}

	if c.BLE.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.connect_timeout must be > 0")
	}

	if c.BLE.WriteGrace <= 0 {
		return fmt.Errorf("ble.write_grace must be > 0")
	}

	if c.BLE.ChunkSize < protocol.MinChunkSize {
		return fmt.Errorf("ble.chunk_size must be >= %d, got %d", protocol.MinChunkSize, c.BLE.ChunkSize)
	}

	if c.BLE.ChunkDelay < 0 {
		return fmt.Errorf("ble.chunk_delay must not be negative")
	}

	if c.API.Listen == "" {
		return fmt.Errorf("api.listen must not be empty")
	}

	if c.Receipt.Width < 16 {
		return fmt.Errorf("receipt.width must be >= 16, got %d", c.Receipt.Width)
	}

	return nil
}

// ParseLogLevel maps a config level name to a zap level, defaulting to info.
func ParseLogLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

const defaultConfigTemplate = `# bleprint configuration
# Durations use Go syntax: 500ms, 10s, 1m.

log:
  level: info        # debug, info, warn, error
  format: console    # console or json
  output: stderr     # stdout, stderr or a file path (rotated)
  max_size: 10       # megabytes before rotation
  max_backups: 3
  max_age: 28        # days
  compress: false

ble:
  backend: tinygo    # tinygo (all platforms) or hci (Linux raw HCI)
  scan_timeout: 10s
  connect_timeout: 10s
  write_grace: 100ms # completion delay for writes without response
  chunk_size: 180    # bytes per BLE write
  chunk_delay: 20ms

printer:
  device_id: ""      # empty: connect to the first printer found
  extra_keywords: []

api:
  listen: 127.0.0.1:8631

receipt:
  width: 32          # 32 for 58mm paper, 48 for 80mm
  header: ""
  footer: "Thank you!"
  currency: "$"
`

// WriteDefault writes the default config file to DefaultConfigPath and
// returns its path. An existing file is left untouched and ("", nil) is
// returned.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
