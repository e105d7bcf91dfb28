package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the logger looks for its configuration when no
// -config flag is given.
const DefaultPath = "/etc/trisonica-logger/config.yaml"

// Config holds all logger configuration. Values resolve in order: defaults,
// then the YAML file, then environment variables, then command-line flags.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Storage StorageConfig `yaml:"storage"`
	Stats   StatsConfig   `yaml:"stats"`
	Status  StatusConfig  `yaml:"status"`
	Notify  NotifyConfig  `yaml:"notify"`
	Log     LogConfig     `yaml:"log"`

	path string // file path for save/load
}

type SerialConfig struct {
	Port         string `yaml:"port"` // empty = auto-discover
	Baud         int    `yaml:"baud"`
	ReadTimeoutS int    `yaml:"read_timeout_s"` // silence threshold before reopening
	ProbeLines   int    `yaml:"probe_lines"`
	ProbeWindowS int    `yaml:"probe_window_s"`
	Separator    string `yaml:"separator"` // "auto", "comma" or "space"
}

type StorageConfig struct {
	ExternalDir string `yaml:"external_dir"` // removable mount, preferred
	LocalDir    string `yaml:"local_dir"`    // fallback next to the process
	MinFreeMB   int    `yaml:"min_free_mb"`
}

type StatsConfig struct {
	Enabled   bool `yaml:"enabled"`
	IntervalS int  `yaml:"interval_s"`
}

type StatusConfig struct {
	IntervalS int `yaml:"interval_s"`
}

type NotifyConfig struct {
	LEDPath string `yaml:"led_path"` // e.g. /sys/class/leds/led0/brightness
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"` // "text" or "json"
	Output   string `yaml:"output"` // "stdout" or "file"
	FilePath string `yaml:"file_path"`
}

// DefaultConfig returns the factory configuration: auto-discovered device at
// 115200 baud, external SD preferred with a local fallback, stats every
// minute, status every ten seconds.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:         "",
			Baud:         115200,
			ReadTimeoutS: 5,
			ProbeLines:   10,
			ProbeWindowS: 3,
			Separator:    "auto",
		},
		Storage: StorageConfig{
			ExternalDir: "/mnt/data_sd",
			LocalDir:    "data",
			MinFreeMB:   64,
		},
		Stats: StatsConfig{
			Enabled:   true,
			IntervalS: 60,
		},
		Status: StatusConfig{
			IntervalS: 10,
		},
		Notify: NotifyConfig{
			LEDPath: "",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the YAML file over the defaults, then applies .env and
// environment variable overrides. A missing file is fine; a file that
// exists but does not parse or validate refuses startup.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// Load .env from the config's directory, then the CWD.
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the logger cannot safely start with.
func (c *Config) Validate() error {
	switch c.Serial.Separator {
	case "auto", "comma", "space":
	default:
		return fmt.Errorf("serial.separator %q: must be auto, comma or space", c.Serial.Separator)
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud %d: must be positive", c.Serial.Baud)
	}
	if c.Serial.ReadTimeoutS <= 0 {
		return fmt.Errorf("serial.read_timeout_s %d: must be positive", c.Serial.ReadTimeoutS)
	}
	if c.Stats.IntervalS <= 0 {
		return fmt.Errorf("stats.interval_s %d: must be positive", c.Stats.IntervalS)
	}
	if c.Status.IntervalS <= 0 {
		return fmt.Errorf("status.interval_s %d: must be positive", c.Status.IntervalS)
	}
	if c.Storage.ExternalDir == "" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage: no target directory configured")
	}
	return nil
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars. The
// real environment takes precedence over the file.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: TRISONICA_PORT, TRISONICA_BAUD, TRISONICA_EXTERNAL_DIR,
// TRISONICA_LOCAL_DIR, TRISONICA_LOG_LEVEL.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TRISONICA_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv("TRISONICA_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.Baud = n
		}
	}
	if v := os.Getenv("TRISONICA_EXTERNAL_DIR"); v != "" {
		c.Storage.ExternalDir = v
	}
	if v := os.Getenv("TRISONICA_LOCAL_DIR"); v != "" {
		c.Storage.LocalDir = v
	}
	if v := os.Getenv("TRISONICA_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Save writes the config to its YAML file, creating the directory if
// needed.
func (c *Config) Save() error {
	if c.path == "" {
		c.path = DefaultPath
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return os.WriteFile(c.path, data, 0644)
}

// Path returns where the config was loaded from or will be saved to.
func (c *Config) Path() string { return c.path }
