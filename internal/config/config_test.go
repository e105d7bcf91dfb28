package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv blanks the override variables for the duration of a test so
// results do not depend on the caller's environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TRISONICA_PORT", "TRISONICA_BAUD",
		"TRISONICA_EXTERNAL_DIR", "TRISONICA_LOCAL_DIR",
		"TRISONICA_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("baud = %d, want 115200", cfg.Serial.Baud)
	}
	if cfg.Serial.Separator != "auto" {
		t.Errorf("separator = %q, want auto", cfg.Serial.Separator)
	}
	if cfg.Storage.ExternalDir != "/mnt/data_sd" {
		t.Errorf("external_dir = %q", cfg.Storage.ExternalDir)
	}
	if !cfg.Stats.Enabled || cfg.Stats.IntervalS != 60 {
		t.Errorf("stats = %+v, want enabled every 60s", cfg.Stats)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
serial:
  port: /dev/ttyUSB3
  baud: 57600
storage:
  external_dir: /media/usb0
stats:
  enabled: false
  interval_s: 30
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyUSB3" {
		t.Errorf("port = %q", cfg.Serial.Port)
	}
	if cfg.Serial.Baud != 57600 {
		t.Errorf("baud = %d", cfg.Serial.Baud)
	}
	if cfg.Storage.ExternalDir != "/media/usb0" {
		t.Errorf("external_dir = %q", cfg.Storage.ExternalDir)
	}
	if cfg.Stats.Enabled {
		t.Error("stats still enabled")
	}
	// Untouched fields keep their defaults.
	if cfg.Serial.ReadTimeoutS != 5 {
		t.Errorf("read_timeout_s = %d, want default 5", cfg.Serial.ReadTimeoutS)
	}
	if cfg.Storage.LocalDir != "data" {
		t.Errorf("local_dir = %q, want default", cfg.Storage.LocalDir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("serial:\n  port: /dev/ttyUSB0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRISONICA_PORT", "/dev/ttyACM1")
	t.Setenv("TRISONICA_BAUD", "9600")
	t.Setenv("TRISONICA_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyACM1" {
		t.Errorf("port = %q, want env value", cfg.Serial.Port)
	}
	if cfg.Serial.Baud != 9600 {
		t.Errorf("baud = %d, want env value", cfg.Serial.Baud)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want env value", cfg.Log.Level)
	}
}

func TestEnvBadBaudIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRISONICA_BAUD", "fast")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("baud = %d, want default kept", cfg.Serial.Baud)
	}
}

func TestEnvFileNextToConfig(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("# local overrides\nTRISONICA_PORT=\"/dev/serial0\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Serial.Port != "/dev/serial0" {
		t.Errorf("port = %q, want /dev/serial0 from .env", cfg.Serial.Port)
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("serial: [not, a, mapping\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted malformed YAML")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"separator", func(c *Config) { c.Serial.Separator = "tabs" }, "separator"},
		{"baud", func(c *Config) { c.Serial.Baud = 0 }, "baud"},
		{"read timeout", func(c *Config) { c.Serial.ReadTimeoutS = -1 }, "read_timeout_s"},
		{"stats interval", func(c *Config) { c.Stats.IntervalS = 0 }, "interval_s"},
		{"no storage", func(c *Config) { c.Storage.ExternalDir = ""; c.Storage.LocalDir = "" }, "storage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate passed")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestSaveRoundtrip(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.path = path
	cfg.Serial.Port = "/dev/ttyUSB7"
	cfg.Notify.LEDPath = "/sys/class/leds/led0/brightness"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Serial.Port != "/dev/ttyUSB7" {
		t.Errorf("port = %q after roundtrip", loaded.Serial.Port)
	}
	if loaded.Notify.LEDPath != cfg.Notify.LEDPath {
		t.Errorf("led_path = %q after roundtrip", loaded.Notify.LEDPath)
	}
	if loaded.Serial.Baud != 115200 {
		t.Errorf("baud = %d after roundtrip", loaded.Serial.Baud)
	}
}
