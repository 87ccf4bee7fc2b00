package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"go.uber.org/multierr"
)

// isolate points config lookups at an empty temp dir and clears credential env vars
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("LASTFM_API_KEY", "")
	t.Setenv("LASTFM_API_SECRET", "")
	return dir
}

func TestLoad_MissingCredentialsIsFatal(t *testing.T) {
	isolate(t)

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if !errors.Is(err, domain.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("expected both key and secret reported, got %d errors: %v", n, err)
	}
}

func TestRead_SkipsValidation(t *testing.T) {
	isolate(t)
	t.Setenv("PODLINK_DEVICE_NAME", "Walkman")

	cfg, err := Read("")
	if err != nil {
		t.Fatalf("expected no error without credentials, got %v", err)
	}
	if cfg.Device.Name != "Walkman" {
		t.Errorf("expected environment applied, got %q", cfg.Device.Name)
	}
}

func TestLoad_EnvironmentDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("LASTFM_API_KEY", "key")
	t.Setenv("LASTFM_API_SECRET", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Device.Name != "iPodLink" {
		t.Errorf("Device.Name: expected iPodLink, got %s", cfg.Device.Name)
	}
	if cfg.Timing.ScanTimeout.Duration != 10*time.Second {
		t.Errorf("ScanTimeout: expected 10s, got %v", cfg.Timing.ScanTimeout)
	}
	if cfg.Timing.SettleDelay.Duration != time.Second {
		t.Errorf("SettleDelay: expected 1s, got %v", cfg.Timing.SettleDelay)
	}
	if cfg.Timing.ReconnectInterval.Duration != 5*time.Second {
		t.Errorf("ReconnectInterval: expected 5s, got %v", cfg.Timing.ReconnectInterval)
	}
	if cfg.Timing.PollInterval.Duration != 2*time.Second {
		t.Errorf("PollInterval: expected 2s, got %v", cfg.Timing.PollInterval)
	}
	if cfg.Timing.VolumeInterval.Duration != 500*time.Millisecond {
		t.Errorf("VolumeInterval: expected 500ms, got %v", cfg.Timing.VolumeInterval)
	}
	if cfg.Timing.TimelineInterval.Duration != 5*time.Second {
		t.Errorf("TimelineInterval: expected 5s, got %v", cfg.Timing.TimelineInterval)
	}
	if cfg.FilePath != "" {
		t.Errorf("expected no config file, got %s", cfg.FilePath)
	}
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "podlink.toml")
	content := `
[lastfm]
api_key = "file-key"
api_secret = "file-secret"

[device]
name = "MyPod"

[timing]
poll_interval = "750ms"
scan_timeout = "3s"

[server]
listen = ""

[artwork]
output_dir = "~/covers"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LASTFM_API_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LastFM.APIKey != "env-key" {
		t.Errorf("environment should win over file, got %s", cfg.LastFM.APIKey)
	}
	if cfg.LastFM.APISecret != "file-secret" {
		t.Errorf("APISecret: expected file-secret, got %s", cfg.LastFM.APISecret)
	}
	if cfg.Device.Name != "MyPod" {
		t.Errorf("Device.Name: expected MyPod, got %s", cfg.Device.Name)
	}
	if cfg.Timing.PollInterval.Duration != 750*time.Millisecond {
		t.Errorf("PollInterval: expected 750ms, got %v", cfg.Timing.PollInterval)
	}
	if cfg.Timing.VolumeInterval.Duration != 500*time.Millisecond {
		t.Errorf("unset keys should keep defaults, got %v", cfg.Timing.VolumeInterval)
	}
	if cfg.Server.Listen != "" {
		t.Errorf("expected feed disabled, got %q", cfg.Server.Listen)
	}
	if strings.HasPrefix(cfg.Artwork.OutputDir, "~") {
		t.Errorf("expected ~ expansion, got %s", cfg.Artwork.OutputDir)
	}
	if cfg.FilePath != path {
		t.Errorf("FilePath: expected %s, got %s", path, cfg.FilePath)
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	isolate(t)
	if _, err := Load("/nonexistent/podlink.toml"); err == nil {
		t.Error("expected error for explicit missing config file")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("[timing\npoll_interval ="), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*AppConfig)
		expectErr string
	}{
		{
			name:   "Valid",
			mutate: func(c *AppConfig) {},
		},
		{
			name:      "Zero poll interval",
			mutate:    func(c *AppConfig) { c.Timing.PollInterval.Duration = 0 },
			expectErr: "timing.poll_interval must be positive",
		},
		{
			name:      "Negative settle delay",
			mutate:    func(c *AppConfig) { c.Timing.SettleDelay.Duration = -time.Second },
			expectErr: "settle_delay",
		},
		{
			name:      "Empty device name",
			mutate:    func(c *AppConfig) { c.Device.Name = "" },
			expectErr: "device.name",
		},
		{
			name:      "Bad artwork size",
			mutate:    func(c *AppConfig) { c.Artwork.Size = 0 },
			expectErr: "artwork.size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.LastFM.APIKey = "key"
			cfg.LastFM.APISecret = "secret"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.expectErr) {
				t.Errorf("expected error containing %q, got %v", tt.expectErr, err)
			}
		})
	}
}
