// Package config loads the daemon configuration from the environment and the
// device sensor profile from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)

type Config struct {
	Platform        string `mapstructure:"PEDOMETER_PLATFORM"`
	PlatformVersion string `mapstructure:"PLATFORM_VERSION"`
	// SDKInt is the Android API level; 0 skips the check.
	SDKInt int `mapstructure:"PLATFORM_SDK_INT"`

	ListenAddr  string `mapstructure:"LISTEN_ADDR"`
	DataDir     string `mapstructure:"DATA_DIR"`
	DBPath      string `mapstructure:"DB_PATH"`
	ProfilePath string `mapstructure:"PROFILE_PATH"`
	DropDir     string `mapstructure:"DROP_DIR"`

	MQTTBroker   string `mapstructure:"MQTT_BROKER"`
	MQTTTopic    string `mapstructure:"MQTT_TOPIC"`
	MQTTClientID string `mapstructure:"MQTT_CLIENT_ID"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	GarminAPIURL      string        `mapstructure:"GARMIN_API_URL"`
	SyncSchedule      string        `mapstructure:"SYNC_SCHEDULE"`
	SyncDays          int           `mapstructure:"SYNC_DAYS"`
	RetentionSchedule string        `mapstructure:"RETENTION_SCHEDULE"`
	HistoryRetention  time.Duration `mapstructure:"HISTORY_RETENTION"`

	DispatchQueue int    `mapstructure:"DISPATCH_QUEUE"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFormat     string `mapstructure:"LOG_FORMAT"`
}

var defaults = map[string]any{
	"PEDOMETER_PLATFORM": PlatformAndroid,
	"PLATFORM_VERSION":   "",
	"PLATFORM_SDK_INT":   0,
	"LISTEN_ADDR":        ":8888",
	"DATA_DIR":           "./data",
	"DB_PATH":            ":memory:",
	"PROFILE_PATH":       "",
	"DROP_DIR":           "",
	"MQTT_BROKER":        "",
	"MQTT_TOPIC":         "pedometer/steps",
	"MQTT_CLIENT_ID":     "",
	"REDIS_ADDR":         "",
	"REDIS_PASSWORD":     "",
	"GARMIN_API_URL":     "",
	"SYNC_SCHEDULE":      "@hourly",
	"SYNC_DAYS":          3,
	"RETENTION_SCHEDULE": "@daily",
	"HISTORY_RETENTION":  "168h",
	"DISPATCH_QUEUE":     256,
	"LOG_LEVEL":          "info",
	"LOG_FORMAT":         "text",
}

// LoadDotEnv loads .env files into the process environment. Missing files are
// not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Platform = strings.ToLower(strings.TrimSpace(cfg.Platform))
	if cfg.PlatformVersion == "" {
		cfg.PlatformVersion = defaultVersion(cfg.Platform)
	}
	return cfg, cfg.Validate()
}

func defaultVersion(platform string) string {
	if platform == PlatformIOS {
		return "17.0"
	}
	return "14"
}

func (c Config) Validate() error {
	var errs []error
	switch c.Platform {
	case PlatformAndroid, PlatformIOS:
	default:
		errs = append(errs, fmt.Errorf("PEDOMETER_PLATFORM must be %s or %s, got %q", PlatformAndroid, PlatformIOS, c.Platform))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("LISTEN_ADDR is required"))
	}
	if c.HistoryRetention < 0 {
		errs = append(errs, errors.New("HISTORY_RETENTION must not be negative"))
	}
	if c.DispatchQueue <= 0 {
		errs = append(errs, errors.New("DISPATCH_QUEUE must be positive"))
	}
	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		errs = append(errs, errors.New("MQTT_TOPIC is required with MQTT_BROKER"))
	}
	return errors.Join(errs...)
}

// Profile describes the sensors of the simulated device.
type Profile struct {
	Name    string  `toml:"name"`
	Vendor  string  `toml:"vendor"`
	Sensors Sensors `toml:"sensors"`
	Motion  Motion  `toml:"motion"`
}

type Sensors struct {
	StepDetector  bool `toml:"step_detector"`
	StepCounter   bool `toml:"step_counter"`
	Distance      bool `toml:"distance"`
	FloorCounting bool `toml:"floor_counting"`
	Pace          bool `toml:"pace"`
	Cadence       bool `toml:"cadence"`
	EventTracking bool `toml:"event_tracking"`
}

type Motion struct {
	IdleTimeout duration `toml:"idle_timeout"`
	PaceWindow  duration `toml:"pace_window"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// DefaultProfile carries every sensor.
func DefaultProfile() Profile {
	return Profile{
		Name:   "reference",
		Vendor: "pedometerd",
		Sensors: Sensors{
			StepDetector:  true,
			StepCounter:   true,
			Distance:      true,
			FloorCounting: true,
			Pace:          true,
			Cadence:       true,
			EventTracking: true,
		},
		Motion: Motion{
			IdleTimeout: duration{5 * time.Second},
			PaceWindow:  duration{10 * time.Second},
		},
	}
}

// LoadProfile decodes a TOML profile over the defaults. An empty path or a
// missing file yields DefaultProfile.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return profile, nil
	}
	if err != nil {
		return profile, fmt.Errorf("read profile: %w", err)
	}
	meta, err := toml.Decode(string(data), &profile)
	if err != nil {
		return profile, fmt.Errorf("decode profile %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return profile, fmt.Errorf("profile %s: unknown keys %v", path, undecoded)
	}
	return profile, nil
}
