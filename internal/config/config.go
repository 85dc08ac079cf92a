// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package config loads and validates the Keyfold configuration.
package config

import (
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Defaults applied when the config file or flags leave a field unset.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultSweepInterval   = time.Hour
	DefaultListenAddr      = ":9090"
	DefaultLogLevel        = "info"

	// MinSigningSecretBytes is the minimum length of the HS256 signing secret.
	MinSigningSecretBytes = 32
)

// Config is the root configuration for all keyfold commands.
type Config struct {
	Database      DatabaseConfig      `koanf:"database" json:"database" jsonschema:"required"`
	Auth          AuthConfig          `koanf:"auth" json:"auth" jsonschema:"required"`
	Sweep         SweepConfig         `koanf:"sweep" json:"sweep,omitempty"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability,omitempty"`
	Log           LogConfig           `koanf:"log" json:"log,omitempty"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `koanf:"url" json:"url" jsonschema:"required"`
}

// AuthConfig holds token and credential settings.
type AuthConfig struct {
	SigningSecret   string `koanf:"signing_secret" json:"signing_secret" jsonschema:"required"`
	AccessTokenTTL  string `koanf:"access_token_ttl" json:"access_token_ttl,omitempty" jsonschema:"example=15m"`
	RefreshTokenTTL string `koanf:"refresh_token_ttl" json:"refresh_token_ttl,omitempty" jsonschema:"example=7d"`
}

// SweepConfig holds retention sweep settings.
type SweepConfig struct {
	Interval string `koanf:"interval" json:"interval,omitempty" jsonschema:"example=1h"`
}

// ObservabilityConfig holds the metrics/health listener settings.
type ObservabilityConfig struct {
	Listen string `koanf:"listen" json:"listen,omitempty" jsonschema:"example=:9090"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=text,enum=json"`
}

var refreshTTLPattern = regexp.MustCompile(`^(\d+)d$`)

// ParseRefreshTTL parses a refresh token lifetime of the form "<N>d".
// Malformed or non-positive values fall back to the 7-day default rather
// than producing an error.
func ParseRefreshTTL(s string) time.Duration {
	m := refreshTTLPattern.FindStringSubmatch(s)
	if m == nil {
		return DefaultRefreshTokenTTL
	}
	days, err := strconv.Atoi(m[1])
	if err != nil || days <= 0 {
		return DefaultRefreshTokenTTL
	}
	return time.Duration(days) * 24 * time.Hour
}

// Load reads configuration from an optional YAML file and an optional flag
// set, flags taking precedence. The file is validated against the generated
// JSON schema before unmarshaling.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").
				With("path", path).
				Wrap(err)
		}
		if err := ValidateSchema(raw); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").
				With("path", path).
				Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Auth.AccessTokenTTL == "" {
		c.Auth.AccessTokenTTL = DefaultAccessTokenTTL.String()
	}
	if c.Auth.RefreshTokenTTL == "" {
		c.Auth.RefreshTokenTTL = "7d"
	}
	if c.Sweep.Interval == "" {
		c.Sweep.Interval = DefaultSweepInterval.String()
	}
	if c.Observability.Listen == "" {
		c.Observability.Listen = DefaultListenAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks invariants that the JSON schema cannot express.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_DATABASE_URL_REQUIRED").
			Errorf("database.url is required")
	}
	if len(c.Auth.SigningSecret) < MinSigningSecretBytes {
		return oops.Code("CONFIG_SECRET_TOO_SHORT").
			With("min_bytes", MinSigningSecretBytes).
			Errorf("auth.signing_secret must be at least %d bytes", MinSigningSecretBytes)
	}
	if _, err := time.ParseDuration(c.Auth.AccessTokenTTL); err != nil {
		return oops.Code("CONFIG_ACCESS_TTL_INVALID").
			With("value", c.Auth.AccessTokenTTL).
			Wrap(err)
	}
	if _, err := time.ParseDuration(c.Sweep.Interval); err != nil {
		return oops.Code("CONFIG_SWEEP_INTERVAL_INVALID").
			With("value", c.Sweep.Interval).
			Wrap(err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return oops.Code("CONFIG_LOG_LEVEL_INVALID").
			With("value", c.Log.Level).
			Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// AccessTTL returns the parsed access token lifetime.
// Validate guarantees the value parses.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.Auth.AccessTokenTTL)
	if err != nil {
		return DefaultAccessTokenTTL
	}
	return d
}

// RefreshTTL returns the parsed refresh token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return ParseRefreshTTL(c.Auth.RefreshTokenTTL)
}

// SweepInterval returns the parsed retention sweep interval.
func (c *Config) SweepInterval() time.Duration {
	d, err := time.ParseDuration(c.Sweep.Interval)
	if err != nil {
		return DefaultSweepInterval
	}
	return d
}
