package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/stridesync/stridesync/internal/fitbit"
)

// Bounds for the step conversion settings.
const (
	MinStrideFeet = 0.5
	MaxStrideFeet = 5.0
	MinHeightIn   = 36.0
	MaxHeightIn   = 96.0

	// strideMultiplier estimates stride length as a fraction of height.
	strideMultiplier = 0.413
	inchesPerFoot    = 12
)

type Config struct {
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	Fitbit        FitbitConfig        `yaml:"fitbit"`
	Tracker       TrackerConfig       `yaml:"tracker"`
	Server        ServerConfig        `yaml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale"`
	StateDir      string              `yaml:"state_dir"`
}

type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type FitbitConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type TrackerConfig struct {
	StatusEntity   string  `yaml:"status_entity"`
	DistanceEntity string  `yaml:"distance_entity"`
	ActivityType   string  `yaml:"activity_type"`
	StrideLengthFt float64 `yaml:"stride_length_ft"`
	UserHeightIn   float64 `yaml:"user_height_in"`
	AutoSync       *bool   `yaml:"auto_sync"`
	Notifications  *bool   `yaml:"notifications"`
}

type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

// AutoSyncEnabled defaults to true when unset.
func (t TrackerConfig) AutoSyncEnabled() bool {
	return t.AutoSync == nil || *t.AutoSync
}

// NotificationsEnabled defaults to true when unset.
func (t TrackerConfig) NotificationsEnabled() bool {
	return t.Notifications == nil || *t.Notifications
}

// StrideFeet returns the stride length, deriving it from user height when no
// explicit stride is configured (stride is roughly 0.413 of height).
func (t TrackerConfig) StrideFeet() float64 {
	if t.StrideLengthFt > 0 {
		return t.StrideLengthFt
	}
	return t.UserHeightIn * strideMultiplier / inchesPerFoot
}

// Load reads config from a YAML file, then applies environment variable overrides.
// Env vars use the prefix STRIDESYNC_ and underscore-separated paths:
//
//	STRIDESYNC_HASS_URL, STRIDESYNC_HASS_TOKEN,
//	STRIDESYNC_FITBIT_CLIENT_ID, STRIDESYNC_FITBIT_CLIENT_SECRET,
//	STRIDESYNC_SERVER_HOST, STRIDESYNC_SERVER_PORT,
//	STRIDESYNC_SERVER_API_KEY, STRIDESYNC_STATE_DIR
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRIDESYNC_HASS_URL"); v != "" {
		cfg.HomeAssistant.URL = v
	}
	if v := os.Getenv("STRIDESYNC_HASS_TOKEN"); v != "" {
		cfg.HomeAssistant.Token = v
	}
	if v := os.Getenv("STRIDESYNC_FITBIT_CLIENT_ID"); v != "" {
		cfg.Fitbit.ClientID = v
	}
	if v := os.Getenv("STRIDESYNC_FITBIT_CLIENT_SECRET"); v != "" {
		cfg.Fitbit.ClientSecret = v
	}
	if v := os.Getenv("STRIDESYNC_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("STRIDESYNC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STRIDESYNC_SERVER_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("STRIDESYNC_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Tracker.ActivityType == "" {
		cfg.Tracker.ActivityType = string(fitbit.ActivityWalking)
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8422
	}
	if cfg.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.StateDir = home + "/.stridesync"
		}
	}
}

func (c *Config) validate() error {
	if c.HomeAssistant.URL == "" {
		return fmt.Errorf("home_assistant.url is required")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("home_assistant.token is required")
	}
	if c.Fitbit.ClientID == "" {
		return fmt.Errorf("fitbit.client_id is required")
	}
	if c.Fitbit.ClientSecret == "" {
		return fmt.Errorf("fitbit.client_secret is required")
	}
	if c.Tracker.StatusEntity == "" {
		return fmt.Errorf("tracker.status_entity is required")
	}
	if c.Tracker.DistanceEntity == "" {
		return fmt.Errorf("tracker.distance_entity is required")
	}
	if !fitbit.ActivityType(c.Tracker.ActivityType).Known() {
		return fmt.Errorf("tracker.activity_type %q must be Walking, Running, or Treadmill", c.Tracker.ActivityType)
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}

	stride, height := c.Tracker.StrideLengthFt, c.Tracker.UserHeightIn
	switch {
	case stride == 0 && height == 0:
		return fmt.Errorf("one of tracker.stride_length_ft or tracker.user_height_in is required")
	case stride != 0 && (stride < MinStrideFeet || stride > MaxStrideFeet):
		return fmt.Errorf("tracker.stride_length_ft must be between %.1f and %.1f", MinStrideFeet, MaxStrideFeet)
	case stride == 0 && (height < MinHeightIn || height > MaxHeightIn):
		return fmt.Errorf("tracker.user_height_in must be between %.0f and %.0f", MinHeightIn, MaxHeightIn)
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	return nil
}
