package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.roam/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return writeTOML(path, cfg)
}

// Profile holds the per-profile client settings stored in roam.toml.
type Profile struct {
	APIBaseURL  string `toml:"api_base_url"`
	RealtimeURL string `toml:"realtime_url"`
	// RefreshPath is the token refresh endpoint. The app historically called
	// both /api/refresh and /api/auth/refresh; only one is used here.
	RefreshPath string `toml:"refresh_path"`

	RequestTimeout   Duration `toml:"request_timeout"`
	TokenRefreshSkew Duration `toml:"token_refresh_skew"`

	EchoWindow     Duration `toml:"echo_window"`
	PendingTimeout Duration `toml:"pending_timeout"`
	SweepInterval  Duration `toml:"sweep_interval"`

	ReconnectBaseDelay   Duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay    Duration `toml:"reconnect_max_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
}

// Default values for zero fields of a Profile.
const (
	DefaultAPIBaseURL     = "http://localhost:5000"
	DefaultRefreshPath    = "/api/refresh"
	DefaultRequestTimeout = 30 * time.Second
	DefaultRefreshSkew    = 30 * time.Second
	DefaultEchoWindow     = 10 * time.Second
	DefaultPendingTimeout = 30 * time.Second
	DefaultSweepInterval  = time.Second
)

// Defaults fills every zero field with its default value.
func (p *Profile) Defaults() {
	if p.APIBaseURL == "" {
		p.APIBaseURL = DefaultAPIBaseURL
	}
	p.APIBaseURL = strings.TrimRight(p.APIBaseURL, "/")
	if p.RealtimeURL == "" {
		p.RealtimeURL = p.APIBaseURL
	}
	if p.RefreshPath == "" {
		p.RefreshPath = DefaultRefreshPath
	}
	if p.RequestTimeout.Duration == 0 {
		p.RequestTimeout.Duration = DefaultRequestTimeout
	}
	if p.TokenRefreshSkew.Duration == 0 {
		p.TokenRefreshSkew.Duration = DefaultRefreshSkew
	}
	if p.EchoWindow.Duration == 0 {
		p.EchoWindow.Duration = DefaultEchoWindow
	}
	if p.PendingTimeout.Duration == 0 {
		p.PendingTimeout.Duration = DefaultPendingTimeout
	}
	if p.SweepInterval.Duration == 0 {
		p.SweepInterval.Duration = DefaultSweepInterval
	}
	if p.ReconnectBaseDelay.Duration == 0 {
		p.ReconnectBaseDelay.Duration = time.Second
	}
	if p.ReconnectMaxDelay.Duration == 0 {
		p.ReconnectMaxDelay.Duration = 30 * time.Second
	}
	if p.MaxReconnectAttempts == 0 {
		p.MaxReconnectAttempts = 10
	}
}

// LoadProfile reads a profile file and applies defaults. A missing file
// yields the defaults.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	p.Defaults()
	return &p, nil
}

// SaveProfile writes a profile file with 0600 permissions.
func SaveProfile(path string, p *Profile) error {
	return writeTOML(path, p)
}

func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Duration is a time.Duration written as "10s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
