package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/ibeckermayer/modwatch/internal/platform"
)

const appName = "modwatch"

// Config holds all application configuration
type Config struct {
	Version    int              `toml:"version"`
	Service    ServiceConfig    `toml:"service"`
	Polling    PollingConfig    `toml:"polling"`
	Scraping   ScrapingConfig   `toml:"scraping"`
	Moderation ModerationConfig `toml:"moderation"`
	Platforms  []PlatformConfig `toml:"platforms"`
	Archive    ArchiveConfig    `toml:"archive"`
	Dashboard  DashboardConfig  `toml:"dashboard"`
	Email      EmailConfig      `toml:"email"`
	Log        LogConfig        `toml:"log"`
}

type ServiceConfig struct {
	BaseURL               string `toml:"base_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

type PollingConfig struct {
	IntervalMillis      int `toml:"interval_ms"`
	ResyncAttempts      int `toml:"resync_attempts"`
	ResyncBackoffMillis int `toml:"resync_backoff_ms"`
}

type ScrapingConfig struct {
	DefaultDays int `toml:"default_days"`
}

type ModerationConfig struct {
	HateLabels []string `toml:"hate_labels"`
	MaxFlagged int      `toml:"max_flagged"`
}

// PlatformConfig is one dashboard platform card. Active, when set, overrides
// the flag derived from data.
type PlatformConfig struct {
	Tag    string `toml:"tag"`
	Name   string `toml:"name"`
	Active *bool  `toml:"active,omitempty"`
}

type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type DashboardConfig struct {
	RefreshMinutes int    `toml:"refresh_minutes"`
	ReportTime     string `toml:"report_time"`
	Timezone       string `toml:"timezone"`
}

type EmailConfig struct {
	Enabled  bool   `toml:"enabled"`
	Provider string `toml:"provider"`
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address"`
	ToAddr   string `toml:"to_address"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	cfg := &Config{
		Version: 1,
		Service: ServiceConfig{
			BaseURL:               "http://localhost:8000",
			RequestTimeoutSeconds: 30,
		},
		Polling: PollingConfig{
			IntervalMillis:      2000,
			ResyncAttempts:      3,
			ResyncBackoffMillis: 500,
		},
		Scraping: ScrapingConfig{
			DefaultDays: 30,
		},
		Moderation: ModerationConfig{
			HateLabels: []string{"hate", "toxic", "severe_toxic", "identity_hate"},
			MaxFlagged: 50,
		},
		Archive: ArchiveConfig{
			Enabled: true,
		},
		Dashboard: DashboardConfig{
			RefreshMinutes: 5,
			ReportTime:     "08:00",
			Timezone:       "UTC",
		},
		Email: EmailConfig{
			Provider: "smtp",
			SMTPPort: 587,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
	for _, e := range platform.DefaultCatalog() {
		cfg.Platforms = append(cfg.Platforms, PlatformConfig{Tag: string(e.Tag), Name: e.Name, Active: e.Active})
	}
	return cfg
}

// Validate checks the fields the rest of the program relies on
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Service.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("service.base_url %q is not an absolute URL", c.Service.BaseURL))
	}
	if c.Polling.IntervalMillis <= 0 {
		errs = append(errs, errors.New("polling.interval_ms must be positive"))
	}
	if c.Polling.ResyncAttempts <= 0 {
		errs = append(errs, errors.New("polling.resync_attempts must be positive"))
	}
	if c.Scraping.DefaultDays <= 0 {
		errs = append(errs, errors.New("scraping.default_days must be positive"))
	}
	if len(c.Moderation.HateLabels) == 0 {
		errs = append(errs, errors.New("moderation.hate_labels must not be empty"))
	}
	for i, p := range c.Platforms {
		if p.Tag == "" {
			errs = append(errs, fmt.Errorf("platforms[%d].tag must be set", i))
		}
	}
	if c.Dashboard.ReportTime != "" {
		if _, err := time.Parse("15:04", c.Dashboard.ReportTime); err != nil {
			errs = append(errs, fmt.Errorf("dashboard.report_time %q must be HH:MM", c.Dashboard.ReportTime))
		}
	}
	if c.Email.Enabled && (c.Email.SMTPHost == "" || c.Email.ToAddr == "") {
		errs = append(errs, errors.New("email.smtp_host and email.to_address are required when email is enabled"))
	}
	return errors.Join(errs...)
}

// Catalog converts the platform list into a dashboard catalog
func (c *Config) Catalog() platform.Catalog {
	if len(c.Platforms) == 0 {
		return platform.DefaultCatalog()
	}
	out := make(platform.Catalog, 0, len(c.Platforms))
	for _, p := range c.Platforms {
		out = append(out, platform.Entry{Tag: platform.Tag(p.Tag), Name: p.Name, Active: p.Active})
	}
	return out
}

// PollInterval returns the delay between status checks
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalMillis) * time.Millisecond
}

// ResyncBackoff returns the pause between final resync attempts
func (c *Config) ResyncBackoff() time.Duration {
	return time.Duration(c.Polling.ResyncBackoffMillis) * time.Millisecond
}

// RequestTimeout returns the per-request timeout for the service client
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Service.RequestTimeoutSeconds) * time.Second
}

// ArchivePath returns the archive database path, defaulting into the cache dir.
func (c *Config) ArchivePath() (string, error) {
	if c.Archive.Path != "" {
		return c.Archive.Path, nil
	}
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "archive.db"), nil
}

// ApplyEnv loads a .env file if present and applies environment overrides.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("MODWATCH_API_URL"); v != "" {
		c.Service.BaseURL = v
	}
	if v := os.Getenv("MODWATCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MODWATCH_SMTP_PASS"); v != "" {
		c.Email.SMTPPass = v
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the platform-appropriate cache directory
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// Load reads config from the default path
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads config from path. Fields missing from the file keep their defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	// an explicit platforms list replaces the default catalog instead of extending it
	if md.IsDefined("platforms") {
		var only struct {
			Platforms []PlatformConfig `toml:"platforms"`
		}
		if _, err := toml.DecodeFile(path, &only); err != nil {
			return nil, err
		}
		cfg.Platforms = only.Platforms
	}
	return cfg, nil
}

// Save writes config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes config to path, creating its directory
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
