package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Upload       UploadConfig        `mapstructure:"upload"`
	Bus          BusConfig           `mapstructure:"bus"`
	Storage      StorageConfig       `mapstructure:"storage"`
	Ledger       LedgerConfig        `mapstructure:"ledger"`
	Database     DatabaseConfig      `mapstructure:"database"`
	Status       StatusConfig        `mapstructure:"status"`
	Logging      LoggingConfig       `mapstructure:"logging"`
	Destinations []DestinationConfig `mapstructure:"destinations"`
}

// UploadConfig holds the scheduling and session-timing knobs. Out-of-range
// timing values are clamped, not rejected: a bad config file must degrade
// to something safe, never strand the appliance.
type UploadConfig struct {
	Mode             string `mapstructure:"mode"`
	WindowStartHour  int    `mapstructure:"window_start_hour"`
	WindowEndHour    int    `mapstructure:"window_end_hour"`
	SilenceSeconds   int    `mapstructure:"silence_seconds"`
	AccessMinutes    int    `mapstructure:"access_minutes"`
	CooldownMinutes  int    `mapstructure:"cooldown_minutes"`
	RecentDays       int    `mapstructure:"recent_days"`
	MaxDays          int    `mapstructure:"max_days"`
	TZOffsetHours    int    `mapstructure:"tz_offset_hours"`
	MaxRetryAttempts int    `mapstructure:"max_retry_attempts"`
}

// BusConfig describes the bus-activity counter and the multiplexer switch.
type BusConfig struct {
	// CounterDevice is the Linux counter-subsystem directory for the
	// bus-sense pulse counter. Empty disables sensing (fail-open).
	CounterDevice string `mapstructure:"counter_device"`
	// SwitchGPIO is the sysfs GPIO number driving the bus multiplexer.
	// Negative means no switch is fitted (bench rig).
	SwitchGPIO int `mapstructure:"switch_gpio"`
	// SettleMs is the hand-over settle delay in milliseconds.
	SettleMs int `mapstructure:"settle_ms"`
}

// StorageConfig describes the shared SD card.
type StorageConfig struct {
	Device     string `mapstructure:"device"`
	Mountpoint string `mapstructure:"mountpoint"`
	ReadOnly   bool   `mapstructure:"read_only"`
}

// LedgerConfig holds transfer-ledger settings.
type LedgerConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig holds session-history database settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StatusConfig holds the status HTTP server settings.
type StatusConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoggingConfig holds logging-related settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DestinationConfig describes one upload destination.
type DestinationConfig struct {
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"` // "share" or "http"
	Path     string `mapstructure:"path"` // share root (type=share)
	URL      string `mapstructure:"url"`  // import base URL (type=http)
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("upload.mode", "smart")
	v.SetDefault("upload.window_start_hour", 8)
	v.SetDefault("upload.window_end_hour", 22)
	v.SetDefault("upload.silence_seconds", 300)
	v.SetDefault("upload.access_minutes", 5)
	v.SetDefault("upload.cooldown_minutes", 10)
	v.SetDefault("upload.recent_days", 7)
	v.SetDefault("upload.max_days", 365)
	v.SetDefault("upload.tz_offset_hours", 0)
	v.SetDefault("upload.max_retry_attempts", 3)
	v.SetDefault("bus.switch_gpio", -1)
	v.SetDefault("bus.settle_ms", 500)
	v.SetDefault("storage.mountpoint", "/mnt/cpapcard")
	v.SetDefault("storage.read_only", true)
	v.SetDefault("ledger.dir", "/var/lib/cpapsync")
	v.SetDefault("database.path", "/var/lib/cpapsync/history.db")
	v.SetDefault("status.listen", "127.0.0.1:8750")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("cpapsync")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/cpapsync")
		v.AddConfigPath("$HOME/.config/cpapsync")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK if using defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.clamp()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clamp forces the timing knobs into their safe operating ranges.
func (c *Config) clamp() {
	c.Upload.SilenceSeconds = clampInt(c.Upload.SilenceSeconds, 10, 3600)
	c.Upload.AccessMinutes = clampInt(c.Upload.AccessMinutes, 1, 30)
	c.Upload.CooldownMinutes = clampInt(c.Upload.CooldownMinutes, 1, 60)
	if c.Upload.RecentDays < 1 {
		c.Upload.RecentDays = 1
	}
	if c.Upload.MaxDays < c.Upload.RecentDays {
		c.Upload.MaxDays = c.Upload.RecentDays
	}
	if c.Upload.MaxRetryAttempts < 1 {
		c.Upload.MaxRetryAttempts = 1
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Upload.Mode != "smart" && c.Upload.Mode != "scheduled" {
		return fmt.Errorf("upload.mode must be \"smart\" or \"scheduled\", got %q", c.Upload.Mode)
	}
	if c.Upload.WindowStartHour < 0 || c.Upload.WindowStartHour > 23 {
		return fmt.Errorf("upload.window_start_hour must be 0-23")
	}
	if c.Upload.WindowEndHour < 0 || c.Upload.WindowEndHour > 23 {
		return fmt.Errorf("upload.window_end_hour must be 0-23")
	}
	if c.Ledger.Dir == "" {
		return fmt.Errorf("ledger.dir is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	seen := map[string]bool{}
	for i, d := range c.Destinations {
		if d.Name == "" {
			return fmt.Errorf("destinations[%d].name is required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("destinations[%d]: duplicate name %q", i, d.Name)
		}
		seen[d.Name] = true

		switch d.Type {
		case "share":
			if d.Path == "" {
				return fmt.Errorf("destinations[%d] (%s): path is required for type share", i, d.Name)
			}
		case "http":
			if d.URL == "" {
				return fmt.Errorf("destinations[%d] (%s): url is required for type http", i, d.Name)
			}
		default:
			return fmt.Errorf("destinations[%d] (%s): type must be \"share\" or \"http\", got %q", i, d.Name, d.Type)
		}
	}

	return nil
}

// Default returns a default configuration suitable for testing or initial setup.
func Default() *Config {
	return &Config{
		Upload: UploadConfig{
			Mode:             "smart",
			WindowStartHour:  8,
			WindowEndHour:    22,
			SilenceSeconds:   300,
			AccessMinutes:    5,
			CooldownMinutes:  10,
			RecentDays:       7,
			MaxDays:          365,
			MaxRetryAttempts: 3,
		},
		Bus: BusConfig{
			SwitchGPIO: -1,
			SettleMs:   500,
		},
		Storage: StorageConfig{
			Mountpoint: "/mnt/cpapcard",
			ReadOnly:   true,
		},
		Ledger: LedgerConfig{
			Dir: "/var/lib/cpapsync",
		},
		Database: DatabaseConfig{
			Path: "/var/lib/cpapsync/history.db",
		},
		Status: StatusConfig{
			Listen: "127.0.0.1:8750",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Destinations: []DestinationConfig{},
	}
}
