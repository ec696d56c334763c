package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Output != "stderr" {
		t.Errorf("Log.Output = %q, want %q", cfg.Log.Output, "stderr")
	}
	if cfg.BLE.Backend != "tinygo" {
		t.Errorf("BLE.Backend = %q, want %q", cfg.BLE.Backend, "tinygo")
	}
	if cfg.BLE.ScanTimeout != 10*time.Second {
		t.Errorf("BLE.ScanTimeout = %v, want 10s", cfg.BLE.ScanTimeout)
	}
	if cfg.BLE.ConnectTimeout != 10*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want 10s", cfg.BLE.ConnectTimeout)
	}
	if cfg.BLE.WriteGrace != 100*time.Millisecond {
		t.Errorf("BLE.WriteGrace = %v, want 100ms", cfg.BLE.WriteGrace)
	}
	if cfg.Receipt.Width != 32 {
		t.Errorf("Receipt.Width = %d, want 32", cfg.Receipt.Width)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
log:
  level: debug
  format: json
ble:
  backend: hci
  scan_timeout: 5s
  write_grace: 250ms
  chunk_size: 100
printer:
  device_id: "AA:BB:CC:DD:EE:FF"
  extra_keywords: ["goojprt"]
receipt:
  width: 48
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want debug/json", cfg.Log)
	}
	if cfg.BLE.Backend != "hci" {
		t.Errorf("BLE.Backend = %q, want %q", cfg.BLE.Backend, "hci")
	}
	if cfg.BLE.ScanTimeout != 5*time.Second {
		t.Errorf("BLE.ScanTimeout = %v, want 5s", cfg.BLE.ScanTimeout)
	}
	if cfg.BLE.WriteGrace != 250*time.Millisecond {
		t.Errorf("BLE.WriteGrace = %v, want 250ms", cfg.BLE.WriteGrace)
	}
	if cfg.BLE.ChunkSize != 100 {
		t.Errorf("BLE.ChunkSize = %d, want 100", cfg.BLE.ChunkSize)
	}
	if cfg.Printer.DeviceID != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Printer.DeviceID = %q, want %q", cfg.Printer.DeviceID, "AA:BB:CC:DD:EE:FF")
	}
	if len(cfg.Printer.ExtraKeywords) != 1 || cfg.Printer.ExtraKeywords[0] != "goojprt" {
		t.Errorf("Printer.ExtraKeywords = %v, want [goojprt]", cfg.Printer.ExtraKeywords)
	}
	if cfg.Receipt.Width != 48 {
		t.Errorf("Receipt.Width = %d, want 48", cfg.Receipt.Width)
	}

	// Untouched sections keep their defaults.
	if cfg.BLE.ConnectTimeout != 10*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want default 10s", cfg.BLE.ConnectTimeout)
	}
	if cfg.API.Listen != "127.0.0.1:8631" {
		t.Errorf("API.Listen = %q, want default", cfg.API.Listen)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	cfg, err := Load(writeConfig(t, "log:\n  output: ~/logs/bleprint.log\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "logs/bleprint.log")
	if cfg.Log.Output != expected {
		t.Errorf("Log.Output = %q, want %q", cfg.Log.Output, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	if _, err := Load(writeConfig(t, "ble:\n  scan_timeout: soon\n")); err == nil {
		t.Error("Load() should return error for an unparsable duration")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.BLE.Backend != "tinygo" {
		t.Errorf("BLE.Backend = %q, want default", cfg.BLE.Backend)
	}

	if _, err := LoadOrDefault(writeConfig(t, "log: [")); err == nil {
		t.Error("LoadOrDefault() should return parse errors for existing files")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "empty log output",
			modify:  func(c *Config) { c.Log.Output = "" },
			wantErr: true,
		},
		{
			name:    "invalid backend",
			modify:  func(c *Config) { c.BLE.Backend = "serial" },
			wantErr: true,
		},
		{
			name:    "hci backend",
			modify:  func(c *Config) { c.BLE.Backend = "hci" },
			wantErr: false,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.BLE.ScanTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.BLE.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero write grace",
			modify:  func(c *Config) { c.BLE.WriteGrace = 0 },
			wantErr: true,
		},
		{
			name:    "chunk size below minimum",
			modify:  func(c *Config) { c.BLE.ChunkSize = 8 },
			wantErr: true,
		},
		{
			name:    "negative chunk delay",
			modify:  func(c *Config) { c.BLE.ChunkDelay = -time.Millisecond },
			wantErr: true,
		},
		{
			name:    "zero chunk delay",
			modify:  func(c *Config) { c.BLE.ChunkDelay = 0 },
			wantErr: false,
		},
		{
			name:    "empty api listen",
			modify:  func(c *Config) { c.API.Listen = "" },
			wantErr: true,
		},
		{
			name:    "narrow receipt",
			modify:  func(c *Config) { c.Receipt.Width = 10 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "bleprint", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# bleprint") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}

	// Values should match defaults
	def := Default()
	if cfg.Log != def.Log {
		t.Errorf("written config Log = %+v, want %+v", cfg.Log, def.Log)
	}
	if cfg.BLE != def.BLE {
		t.Errorf("written config BLE = %+v, want %+v", cfg.BLE, def.BLE)
	}
	if cfg.API != def.API {
		t.Errorf("written config API = %+v, want %+v", cfg.API, def.API)
	}
	if cfg.Receipt != def.Receipt {
		t.Errorf("written config Receipt = %+v, want %+v", cfg.Receipt, def.Receipt)
	}
	if cfg.Printer.DeviceID != "" || len(cfg.Printer.ExtraKeywords) != 0 {
		t.Errorf("written config Printer = %+v, want empty", cfg.Printer)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	// Create config dir and file manually first
	configDir := filepath.Join(tmpHome, ".config", "bleprint")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("printer:\n  device_id: custom\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	// WriteDefault should return ("", nil) without overwriting
	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"unknown", zapcore.InfoLevel}, // defaults to info
		{"", zapcore.InfoLevel},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
