package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

const (
	defaultDeviceName         = "iPodLink"
	defaultServiceUUID        = "19B10000-E8F2-537E-4F6C-D104768A1214"
	defaultCharacteristicUUID = "19B10001-E8F2-537E-4F6C-D104768A1214"
	defaultLastFMURL          = "https://ws.audioscrobbler.com/2.0/"
	defaultOutputDir          = "/tmp/podlink"
	defaultListen             = "127.0.0.1:8765"
)

// AppConfig holds application configuration
type AppConfig struct {
	LastFM   LastFMConfig  `toml:"lastfm"`
	Device   DeviceConfig  `toml:"device"`
	Timing   TimingConfig  `toml:"timing"`
	Server   ServerConfig  `toml:"server"`
	Cache    CacheConfig   `toml:"cache"`
	Artwork  ArtworkConfig `toml:"artwork"`
	Log      LogConfig     `toml:"log"`
	FilePath string        `toml:"-"`
}

// LastFMConfig holds the metadata lookup service credentials
type LastFMConfig struct {
	APIKey    string   `toml:"api_key"`
	APISecret string   `toml:"api_secret"`
	BaseURL   string   `toml:"base_url"`
	Timeout   Duration `toml:"timeout"`
}

// DeviceConfig identifies the peripheral
type DeviceConfig struct {
	Name               string `toml:"name"`
	ServiceUUID        string `toml:"service_uuid"`
	CharacteristicUUID string `toml:"characteristic_uuid"`
	Adapter            string `toml:"adapter"`
}

// TimingConfig holds loop cadences and link timeouts
type TimingConfig struct {
	ScanTimeout       Duration `toml:"scan_timeout"`
	SettleDelay       Duration `toml:"settle_delay"`
	ReconnectInterval Duration `toml:"reconnect_interval"`
	PollInterval      Duration `toml:"poll_interval"`
	VolumeInterval    Duration `toml:"volume_interval"`
	TimelineInterval  Duration `toml:"timeline_interval"`
}

// ServerConfig controls the presentation feed. An empty Listen disables it.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// CacheConfig controls the lookup cache
type CacheConfig struct {
	Size          int      `toml:"size"`
	TTL           Duration `toml:"ttl"`
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
}

// ArtworkConfig controls thumbnail generation for presentation consumers
type ArtworkConfig struct {
	Enabled   bool   `toml:"enabled"`
	OutputDir string `toml:"output_dir"`
	Size      int    `toml:"size"`
}

// LogConfig controls log level and the optional rotating log file
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Duration is a time.Duration that decodes from TOML strings such as "500ms"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration
func Default() *AppConfig {
	return &AppConfig{
		LastFM: LastFMConfig{
			BaseURL: defaultLastFMURL,
			Timeout: Duration{10 * time.Second},
		},
		Device: DeviceConfig{
			Name:               defaultDeviceName,
			ServiceUUID:        defaultServiceUUID,
			CharacteristicUUID: defaultCharacteristicUUID,
		},
		Timing: TimingConfig{
			ScanTimeout:       Duration{10 * time.Second},
			SettleDelay:       Duration{time.Second},
			ReconnectInterval: Duration{5 * time.Second},
			PollInterval:      Duration{2 * time.Second},
			VolumeInterval:    Duration{500 * time.Millisecond},
			TimelineInterval:  Duration{5 * time.Second},
		},
		Server: ServerConfig{Listen: defaultListen},
		Cache: CacheConfig{
			Size: 256,
			TTL:  Duration{24 * time.Hour},
		},
		Artwork: ArtworkConfig{
			Enabled:   true,
			OutputDir: defaultOutputDir,
			Size:      240,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads configuration from the TOML file, the .env file and the environment.
// path may be empty, in which case the default location is used if it exists.
// The returned config is validated; a missing credential is a fatal error.
func Load(path string) (*AppConfig, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that need only part of the configuration
func Read(path string) (*AppConfig, error) {
	cfg := Default()

	if path == "" {
		path = defaultPath()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			cfg.FilePath = path
		}
	}

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnvOverrides(cfg)

	cfg.Artwork.OutputDir = expandPath(cfg.Artwork.OutputDir)
	cfg.Log.File = expandPath(cfg.Log.File)
	return cfg, nil
}

// Validate reports every configuration problem at once
func (c *AppConfig) Validate() error {
	var err error
	if c.LastFM.APIKey == "" {
		err = multierr.Append(err, fmt.Errorf("%w: LASTFM_API_KEY is not set", domain.ErrMissingCredentials))
	}
	if c.LastFM.APISecret == "" {
		err = multierr.Append(err, fmt.Errorf("%w: LASTFM_API_SECRET is not set", domain.ErrMissingCredentials))
	}
	if c.Device.Name == "" {
		err = multierr.Append(err, errors.New("device.name must not be empty"))
	}
	if c.Device.CharacteristicUUID == "" {
		err = multierr.Append(err, errors.New("device.characteristic_uuid must not be empty"))
	}

	durations := map[string]time.Duration{
		"timing.scan_timeout":       c.Timing.ScanTimeout.Duration,
		"timing.reconnect_interval": c.Timing.ReconnectInterval.Duration,
		"timing.poll_interval":      c.Timing.PollInterval.Duration,
		"timing.volume_interval":    c.Timing.VolumeInterval.Duration,
		"timing.timeline_interval":  c.Timing.TimelineInterval.Duration,
	}
	for _, key := range slices.Sorted(maps.Keys(durations)) {
		if durations[key] <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive", key))
		}
	}
	if c.Timing.SettleDelay.Duration < 0 {
		err = multierr.Append(err, errors.New("timing.settle_delay must not be negative"))
	}
	if c.Cache.Size < 0 {
		err = multierr.Append(err, errors.New("cache.size must not be negative"))
	}
	if c.Artwork.Enabled && c.Artwork.Size <= 0 {
		err = multierr.Append(err, errors.New("artwork.size must be positive"))
	}
	return err
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *AppConfig) {
	setString(&cfg.LastFM.APIKey, "LASTFM_API_KEY")
	setString(&cfg.LastFM.APISecret, "LASTFM_API_SECRET")
	setString(&cfg.LastFM.BaseURL, "PODLINK_LASTFM_URL")

	setString(&cfg.Device.Name, "PODLINK_DEVICE_NAME")
	setString(&cfg.Device.Adapter, "PODLINK_ADAPTER")

	setDuration(&cfg.Timing.ScanTimeout, "PODLINK_SCAN_TIMEOUT")
	setDuration(&cfg.Timing.SettleDelay, "PODLINK_SETTLE_DELAY")
	setDuration(&cfg.Timing.ReconnectInterval, "PODLINK_RECONNECT_INTERVAL")
	setDuration(&cfg.Timing.PollInterval, "PODLINK_POLL_INTERVAL")

	if v, ok := os.LookupEnv("PODLINK_LISTEN"); ok {
		cfg.Server.Listen = v
	}

	setString(&cfg.Cache.RedisAddr, "PODLINK_REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "PODLINK_REDIS_PASSWORD")
	setInt(&cfg.Cache.RedisDB, "PODLINK_REDIS_DB")

	setString(&cfg.Artwork.OutputDir, "PODLINK_OUTPUT_DIR")
	if v := os.Getenv("PODLINK_ARTWORK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Artwork.Enabled = b
		}
	}

	setString(&cfg.Log.Level, "PODLINK_LOG_LEVEL")
	setString(&cfg.Log.File, "PODLINK_LOG_FILE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// defaultPath returns $XDG_CONFIG_HOME/podlink/config.toml, or "" if the home dir is unknown
func defaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "podlink", "config.toml")
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}
