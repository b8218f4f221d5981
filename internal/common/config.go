package common

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Account     AccountConfig  `toml:"account"`
	Report      ReportConfig   `toml:"report"`
	Download    DownloadConfig `toml:"download"`
	Storage     StorageConfig  `toml:"storage"`
	Browser     BrowserConfig  `toml:"browser"`
	Timeouts    TimeoutConfig  `toml:"timeouts"`
	Schedule    ScheduleConfig `toml:"schedule"`
	Logging     LoggingConfig  `toml:"logging"`
}

// AccountConfig holds the sign-in credentials. The secret is only ever read
// from the environment (BILLHOUND_USER / BILLHOUND_PASSWORD), never persisted
// to the config file.
type AccountConfig struct {
	Identifier string `toml:"identifier"`
	Secret     string `toml:"-"`
}

// ReportConfig describes the fixed report endpoint. Only the date span and
// report type are parameterizable; the invoice link pattern itself is fixed.
type ReportConfig struct {
	BaseURL    string `toml:"base_url" validate:"required,url"`
	ReportPath string `toml:"report_path" validate:"required"`
	ReportType string `toml:"report_type" validate:"required"`
	DateSpan   string `toml:"date_span" validate:"required"`
	Language   string `toml:"language"`
}

// URL assembles the full report URL from the configured parameters
func (r ReportConfig) URL() string {
	q := url.Values{}
	q.Set("reportType", r.ReportType)
	q.Set("dateSpanSelection", r.DateSpan)
	q.Set("ref", "hpr_redirect_report")
	if r.Language != "" {
		q.Set("language", r.Language)
	}
	return r.BaseURL + r.ReportPath + "?" + q.Encode()
}

type DownloadConfig struct {
	Dir             string        `toml:"dir" validate:"required"`
	UseDirectHTTP   bool          `toml:"use_direct_http"`
	PolitenessDelay time.Duration `toml:"politeness_delay"`
}

type StorageConfig struct {
	Path string `toml:"path" validate:"required"`
}

type BrowserConfig struct {
	ShowWindow bool   `toml:"show_window"` // run with a visible browser window
	UserAgent  string `toml:"user_agent"`
	NoSandbox  bool   `toml:"no_sandbox"`
}

// TimeoutConfig exposes the empirically tuned waits as configuration.
// Defaults mirror values proven against the live site; they are not
// contractual and may need adjustment when the site's markup changes.
type TimeoutConfig struct {
	AuthWait             time.Duration `toml:"auth_wait"`
	LinkWait             time.Duration `toml:"link_wait"`
	PageChangeWait       time.Duration `toml:"page_change_wait"`
	FetchTimeout         time.Duration `toml:"fetch_timeout"`
	DownloadPollDeadline time.Duration `toml:"download_poll_deadline"`
	DownloadPollInterval time.Duration `toml:"download_poll_interval"`
}

// ScheduleConfig enables unattended periodic acquisition runs
type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"` // 6-field cron expression (with seconds)
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for stability; only user-facing
// settings should need touching in billhound.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Report: ReportConfig{
			BaseURL:    "https://www.amazon.de",
			ReportPath: "/b2b/aba/reports",
			ReportType: "items_report_1",
			DateSpan:   "PAST_12_WEEKS",
			Language:   "de-DE",
		},
		Download: DownloadConfig{
			Dir:             "invoices",
			UseDirectHTTP:   true,
			PolitenessDelay: 1 * time.Second,
		},
		Storage: StorageConfig{
			Path: "invoices.db",
		},
		Browser: BrowserConfig{
			ShowWindow: false,
			UserAgent:  "",
			NoSandbox:  true,
		},
		Timeouts: TimeoutConfig{
			AuthWait:             120 * time.Second,
			LinkWait:             60 * time.Second,
			PageChangeWait:       120 * time.Second,
			FetchTimeout:         60 * time.Second,
			DownloadPollDeadline: 120 * time.Second,
			DownloadPollInterval: 500 * time.Millisecond,
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "0 0 6 * * *", // daily at 06:00
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFile loads configuration with layering: defaults -> file -> env.
// A missing file is not an error; defaults plus env are used.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides. Credentials are
// env-only so they never end up in a config file on disk.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("BILLHOUND_USER"); v != "" {
		config.Account.Identifier = v
	}
	if v := os.Getenv("BILLHOUND_PASSWORD"); v != "" {
		config.Account.Secret = v
	}
	if v := os.Getenv("BILLHOUND_DOWNLOAD_DIR"); v != "" {
		config.Download.Dir = v
	}
	if v := os.Getenv("BILLHOUND_DB_PATH"); v != "" {
		config.Storage.Path = v
	}
	if v := os.Getenv("BILLHOUND_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority).
// Zero values leave the config untouched.
func ApplyFlagOverrides(config *Config, downloadDir, storePath string, useBrowser, showWindow bool) {
	if downloadDir != "" {
		config.Download.Dir = downloadDir
	}
	if storePath != "" {
		config.Storage.Path = storePath
	}
	if useBrowser {
		config.Download.UseDirectHTTP = false
	}
	if showWindow {
		config.Browser.ShowWindow = true
	}
}

// Validate checks structural constraints on the loaded configuration
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Timeouts.DownloadPollInterval <= 0 {
		return fmt.Errorf("timeouts.download_poll_interval must be positive")
	}
	if c.Timeouts.DownloadPollDeadline <= c.Timeouts.DownloadPollInterval {
		return fmt.Errorf("timeouts.download_poll_deadline must exceed the poll interval")
	}
	return nil
}
