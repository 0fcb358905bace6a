// Package config loads loadsctl's layered configuration (flags > env > file > defaults)
// via viper, the way legacy/seeder's config package does for its own domain.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete loadsctl configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Signing  SigningConfig  `mapstructure:"signing"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SigningConfig names the default key source for signing operations.
type SigningConfig struct {
	// KeySource is "local" or "remote".
	KeySource string `mapstructure:"key_source"`
	// KeyPath is either a PEM private key path (local) or a ticket file path (remote).
	KeyPath string `mapstructure:"key_path"`
	// CertPath is the paired certificate used to recover the public key for a local key.
	CertPath string `mapstructure:"cert_path"`
	// TicketServiceURL is the remote signing service endpoint for the remote key source.
	TicketServiceURL string `mapstructure:"ticket_service_url"`
}

// ToolsConfig names the external binaries this toolkit shells out to.
type ToolsConfig struct {
	PkgExtract  string `mapstructure:"pkgextract"`
	SwimsClient string `mapstructure:"swims_client"`
	BuildSystem string `mapstructure:"build_system"`
	SSH         string `mapstructure:"ssh"`
}

// DeliveryConfig holds the serve engine's default timeouts.
type DeliveryConfig struct {
	FirstRequestTimeout time.Duration `mapstructure:"first_request_timeout"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
}

// Default returns a Config populated with the toolkit's defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Signing: SigningConfig{
			KeySource: "local",
			KeyPath:   "",
			CertPath:  "",
		},
		Tools: ToolsConfig{
			PkgExtract:  "pkgextract",
			SwimsClient: "swims_client",
			BuildSystem: "build",
			SSH:         "ssh",
		},
		Delivery: DeliveryConfig{
			FirstRequestTimeout: 5 * time.Second,
			IdleTimeout:         30 * time.Second,
		},
	}
}

// Validate checks cross-field invariants on a loaded Config.
func (c *Config) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console'")
	}
	if c.Signing.KeySource != "local" && c.Signing.KeySource != "remote" {
		return fmt.Errorf("signing.key_source must be 'local' or 'remote'")
	}
	if c.Delivery.FirstRequestTimeout <= 0 {
		return fmt.Errorf("delivery.first_request_timeout must be positive")
	}
	if c.Delivery.IdleTimeout <= 0 {
		return fmt.Errorf("delivery.idle_timeout must be positive")
	}
	return nil
}

// Load reads configuration from viper (flags/env/file already bound by the
// caller) layered over Default, and validates the result.
func Load() (*Config, error) {
	defaults := Default()

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.format", defaults.Log.Format)
	viper.SetDefault("signing.key_source", defaults.Signing.KeySource)
	viper.SetDefault("signing.key_path", defaults.Signing.KeyPath)
	viper.SetDefault("signing.cert_path", defaults.Signing.CertPath)
	viper.SetDefault("signing.ticket_service_url", defaults.Signing.TicketServiceURL)
	viper.SetDefault("tools.pkgextract", defaults.Tools.PkgExtract)
	viper.SetDefault("tools.swims_client", defaults.Tools.SwimsClient)
	viper.SetDefault("tools.build_system", defaults.Tools.BuildSystem)
	viper.SetDefault("tools.ssh", defaults.Tools.SSH)
	viper.SetDefault("delivery.first_request_timeout", defaults.Delivery.FirstRequestTimeout)
	viper.SetDefault("delivery.idle_timeout", defaults.Delivery.IdleTimeout)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
