// Package config loads and validates the application configuration from the
// config file, environment variables and CLI flag overrides via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/vigildev/vigil/internal/snapshot"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Targets TargetsConfig `mapstructure:"targets" yaml:"targets"`
	Alerts  AlertsConfig  `mapstructure:"alerts" yaml:"alerts"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser process.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string `mapstructure:"args" yaml:"args"`
}

// MonitorConfig configures the comparison pipeline and scheduler.
type MonitorConfig struct {
	// Schedule is the recurring check cadence: either a bare Go duration
	// ("5m") or the "@every 5m" form. Validated at engine start.
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	// Threshold is the diff ratio above which a check raises an alert.
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
	// MaxSnapshots bounds retained history entries per key.
	MaxSnapshots int `mapstructure:"max_snapshots" yaml:"max_snapshots"`
	// Concurrency bounds parallel target captures within one check.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// CaptureTimeout is the per-target navigation + render deadline.
	CaptureTimeout time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
	// StrictBaselines makes RunCheck fail fast when no baselines are loaded
	// instead of bootstrapping them on first observation.
	StrictBaselines bool `mapstructure:"strict_baselines" yaml:"strict_baselines"`
}

// StorageConfig locates the on-disk snapshot store.
type StorageConfig struct {
	RootDir string `mapstructure:"root_dir" yaml:"root_dir"`
}

// ViewportConfig is one named viewport from the config file.
type ViewportConfig struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Width  int    `mapstructure:"width" yaml:"width"`
	Height int    `mapstructure:"height" yaml:"height"`
}

// TargetsConfig defines the monitored surface as the cross product of
// urls x viewports x selectors.
type TargetsConfig struct {
	URLs      []string         `mapstructure:"urls" yaml:"urls"`
	Viewports []ViewportConfig `mapstructure:"viewports" yaml:"viewports"`
	Selectors []string         `mapstructure:"selectors" yaml:"selectors"`
}

// EmailConfig holds SMTP delivery settings for the email channel.
type EmailConfig struct {
	Host     string   `mapstructure:"host" yaml:"host"`
	Port     int      `mapstructure:"port" yaml:"port"`
	From     string   `mapstructure:"from" yaml:"from"`
	To       []string `mapstructure:"to" yaml:"to"`
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"-"`
}

// ChannelConfig configures one alert delivery channel. Type selects the
// implementation at construction time: "chat", "webhook" or "email".
type ChannelConfig struct {
	Type       string      `mapstructure:"type" yaml:"type"`
	Name       string      `mapstructure:"name" yaml:"name"`
	WebhookURL string      `mapstructure:"webhook_url" yaml:"webhook_url"`
	Email      EmailConfig `mapstructure:"email" yaml:"email"`
}

// AlertsConfig configures alert fan-out.
type AlertsConfig struct {
	Channels []ChannelConfig `mapstructure:"channels" yaml:"channels"`
	// RatePerMinute caps deliveries per channel; 0 disables the cap.
	RatePerMinute int `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
}

// DefaultViewport is substituted when a persisted baseline references a
// viewport name no longer present in configuration.
var DefaultViewport = snapshot.Viewport{Name: "default", Width: 1920, Height: 1080}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "vigil")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)

	// -- Monitor --
	v.SetDefault("monitor.schedule", "@every 5m")
	v.SetDefault("monitor.threshold", 0.01)
	v.SetDefault("monitor.max_snapshots", 20)
	v.SetDefault("monitor.concurrency", 4)
	v.SetDefault("monitor.capture_timeout", "60s")
	v.SetDefault("monitor.strict_baselines", false)

	// -- Storage --
	v.SetDefault("storage.root_dir", "./snapshots")

	// -- Targets --
	v.SetDefault("targets.viewports", []map[string]any{
		{"name": "desktop", "width": 1920, "height": 1080},
	})

	// -- Alerts --
	v.SetDefault("alerts.rate_per_minute", 0)
}

// NewConfigFromViper creates a validated configuration instance from a viper
// object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Monitor.Threshold < 0 || c.Monitor.Threshold > 1 {
		return fmt.Errorf("monitor.threshold must be between 0.0 and 1.0, got %v", c.Monitor.Threshold)
	}
	if c.Monitor.MaxSnapshots <= 0 {
		return fmt.Errorf("monitor.max_snapshots must be a positive integer")
	}
	if c.Monitor.Concurrency <= 0 {
		return fmt.Errorf("monitor.concurrency must be a positive integer")
	}
	if c.Monitor.CaptureTimeout <= 0 {
		return fmt.Errorf("monitor.capture_timeout must be a positive duration")
	}
	if c.Storage.RootDir == "" {
		return fmt.Errorf("storage.root_dir is required")
	}
	for i, vp := range c.Targets.Viewports {
		if vp.Name == "" {
			return fmt.Errorf("targets.viewports[%d].name is required", i)
		}
		if vp.Width <= 0 || vp.Height <= 0 {
			return fmt.Errorf("targets.viewports[%d] dimensions must be positive", i)
		}
	}
	for i, ch := range c.Alerts.Channels {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("alerts.channels[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks a single channel configuration.
func (ch *ChannelConfig) Validate() error {
	switch ch.Type {
	case "chat", "webhook":
		if ch.WebhookURL == "" {
			return fmt.Errorf("webhook_url is required for %q channels", ch.Type)
		}
	case "email":
		if ch.Email.Host == "" || ch.Email.From == "" || len(ch.Email.To) == 0 {
			return fmt.Errorf("email.host, email.from and email.to are required for email channels")
		}
	case "":
		return fmt.Errorf("channel type is required")
	default:
		return fmt.Errorf("unknown channel type %q", ch.Type)
	}
	return nil
}

// Viewport converts the config entry into the engine's viewport type.
func (v ViewportConfig) Viewport() snapshot.Viewport {
	return snapshot.Viewport{Name: v.Name, Width: v.Width, Height: v.Height}
}

// ViewportByName resolves a configured viewport; ok is false when the name is
// not configured.
func (tc TargetsConfig) ViewportByName(name string) (snapshot.Viewport, bool) {
	for _, vp := range tc.Viewports {
		if vp.Name == name {
			return vp.Viewport(), true
		}
	}
	return snapshot.Viewport{}, false
}

// Expand materializes the target set as the cross product of the configured
// url, viewport and selector lists. An empty selector list yields one
// full-viewport target per (url, viewport) pair.
func (tc TargetsConfig) Expand() []snapshot.Target {
	selectors := tc.Selectors
	if len(selectors) == 0 {
		selectors = []string{""}
	}
	targets := make([]snapshot.Target, 0, len(tc.URLs)*len(tc.Viewports)*len(selectors))
	for _, url := range tc.URLs {
		for _, vp := range tc.Viewports {
			for _, sel := range selectors {
				targets = append(targets, snapshot.Target{
					URL:      url,
					Viewport: vp.Viewport(),
					Selector: sel,
				})
			}
		}
	}
	return targets
}
