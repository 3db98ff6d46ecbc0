package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/samaelod/duoclock/types"
)

// Preset is a named time control offered on the start screen.
type Preset struct {
	Name     string `json:"name" yaml:"name"`
	SecondsA int    `json:"seconds_a" yaml:"seconds_a"`
	SecondsB int    `json:"seconds_b" yaml:"seconds_b"`
}

func (p Preset) Durations() (time.Duration, time.Duration) {
	return time.Duration(p.SecondsA) * time.Second, time.Duration(p.SecondsB) * time.Second
}

type Feed struct {
	ListenAddress string `json:"listen_address" yaml:"listen_address"`
	Path          string `json:"path" yaml:"path"`
	NATSURL       string `json:"nats_url" yaml:"nats_url"`
	Subject       string `json:"subject" yaml:"subject"`
	IntervalMs    int    `json:"interval_ms" yaml:"interval_ms"`
}

type Config struct {
	LogLines  int    `json:"log_lines" yaml:"log_lines"`
	LogsDir   string `json:"logs_dir" yaml:"logs_dir"`
	RecentDir string `json:"recent_dir" yaml:"recent_dir"`

	Address       string `json:"address" yaml:"address"` // TCP bridge to the serial line
	Device        string `json:"device" yaml:"device"`
	ListenAddress string `json:"listen_address" yaml:"listen_address"` // emulator

	// ProposeMode is a mode name sent in a Handshake after attaching.
	// Empty means wait for the clock to start the exchange.
	ProposeMode        string `json:"propose_mode" yaml:"propose_mode"`
	HandshakeTimeoutMs int    `json:"handshake_timeout_ms" yaml:"handshake_timeout_ms"`
	DialTimeoutMs      int    `json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
	ResyncDelayMs      int    `json:"resync_delay_ms" yaml:"resync_delay_ms"`
	ResyncWindow       int    `json:"resync_window" yaml:"resync_window"`

	Presets []Preset `json:"presets" yaml:"presets"`
	Feed    Feed     `json:"feed" yaml:"feed"`
}

var (
	defaultConfig *Config
	once          sync.Once
)

func DefaultPresets() []Preset {
	return []Preset{
		{Name: "Bullet 1+0", SecondsA: 60, SecondsB: 60},
		{Name: "Blitz 3+0", SecondsA: 180, SecondsB: 180},
		{Name: "Blitz 5+0", SecondsA: 300, SecondsB: 300},
		{Name: "Rapid 10+0", SecondsA: 600, SecondsB: 600},
		{Name: "Rapid 15+0", SecondsA: 900, SecondsB: 900},
		{Name: "Classical 30+0", SecondsA: 1800, SecondsB: 1800},
	}
}

func Default() *Config {
	return &Config{
		LogLines:           1000,
		LogsDir:            "logs",
		RecentDir:          "recent",
		ListenAddress:      "127.0.0.1:7000",
		HandshakeTimeoutMs: 2000,
		DialTimeoutMs:      5000,
		ResyncDelayMs:      100,
		ResyncWindow:       256,
		Presets:            DefaultPresets(),
		Feed: Feed{
			Path:       "/ws",
			Subject:    "duoclock.snapshot",
			IntervalMs: 250,
		},
	}
}

// Load reads a JSON or YAML file (chosen by extension), fills defaults and
// applies DUOCLOCK_* environment overrides. An empty path searches the
// usual locations; no file at all yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	// A missing .env is normal.
	_ = godotenv.Load()

	if path == "" {
		home, _ := os.UserHomeDir()
		defaultPaths := []string{
			"duoclock.json",
			"duoclock.yaml",
			".duoclock.json",
			filepath.Join(home, ".config", "duoclock", "config.json"),
			filepath.Join(home, ".config", "duoclock", "config.yaml"),
		}

		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, err
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// Apply defaults for any zero values
func (c *Config) fillDefaults() {
	d := Default()
	if c.LogLines <= 0 {
		c.LogLines = d.LogLines
	}
	if c.LogsDir == "" {
		c.LogsDir = d.LogsDir
	}
	if c.RecentDir == "" {
		c.RecentDir = d.RecentDir
	}
	if c.ListenAddress == "" {
		c.ListenAddress = d.ListenAddress
	}
	if c.HandshakeTimeoutMs <= 0 {
		c.HandshakeTimeoutMs = d.HandshakeTimeoutMs
	}
	if c.DialTimeoutMs <= 0 {
		c.DialTimeoutMs = d.DialTimeoutMs
	}
	if c.ResyncDelayMs <= 0 {
		c.ResyncDelayMs = d.ResyncDelayMs
	}
	if c.ResyncWindow <= 0 {
		c.ResyncWindow = d.ResyncWindow
	}
	if len(c.Presets) == 0 {
		c.Presets = d.Presets
	}
	if c.Feed.Path == "" {
		c.Feed.Path = d.Feed.Path
	}
	if c.Feed.Subject == "" {
		c.Feed.Subject = d.Feed.Subject
	}
	if c.Feed.IntervalMs <= 0 {
		c.Feed.IntervalMs = d.Feed.IntervalMs
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (c *Config) applyEnv() {
	c.LogsDir = getEnv("DUOCLOCK_LOGS_DIR", c.LogsDir)
	c.RecentDir = getEnv("DUOCLOCK_RECENT_DIR", c.RecentDir)
	c.Address = getEnv("DUOCLOCK_ADDRESS", c.Address)
	c.Device = getEnv("DUOCLOCK_DEVICE", c.Device)
	c.ListenAddress = getEnv("DUOCLOCK_LISTEN_ADDRESS", c.ListenAddress)
	c.ProposeMode = getEnv("DUOCLOCK_PROPOSE_MODE", c.ProposeMode)
	c.LogLines = getEnvInt("DUOCLOCK_LOG_LINES", c.LogLines)
	c.HandshakeTimeoutMs = getEnvInt("DUOCLOCK_HANDSHAKE_TIMEOUT_MS", c.HandshakeTimeoutMs)
	c.DialTimeoutMs = getEnvInt("DUOCLOCK_DIAL_TIMEOUT_MS", c.DialTimeoutMs)
	c.Feed.ListenAddress = getEnv("DUOCLOCK_FEED_LISTEN_ADDRESS", c.Feed.ListenAddress)
	c.Feed.NATSURL = getEnv("DUOCLOCK_NATS_URL", c.Feed.NATSURL)
	c.Feed.Subject = getEnv("DUOCLOCK_NATS_SUBJECT", c.Feed.Subject)
}

// Validate rejects values that would only fail later.
func (c *Config) Validate() error {
	if c.ProposeMode != "" {
		if _, ok := types.ParseMode(c.ProposeMode); !ok {
			return fmt.Errorf("propose_mode %q: want one of we-decide, sync-only, slave, master", c.ProposeMode)
		}
	}
	for i, p := range c.Presets {
		if p.SecondsA <= 0 || p.SecondsB <= 0 {
			return fmt.Errorf("preset %d (%s): times must be positive", i+1, p.Name)
		}
	}
	return nil
}

// ProposedMode returns the handshake mode to propose, if one is configured.
func (c *Config) ProposedMode() (types.Mode, bool) {
	if c.ProposeMode == "" {
		return 0, false
	}
	return types.ParseMode(c.ProposeMode)
}

// LoadDefault loads the config once and caches it
func LoadDefault() (*Config, error) {
	var err error
	once.Do(func() {
		defaultConfig, err = Load("")
	})
	if err != nil {
		return Default(), err
	}
	if defaultConfig == nil {
		return Default(), nil
	}
	return defaultConfig, nil
}
