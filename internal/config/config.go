// Package config loads deltaaudit settings from flags, DELTAAUDIT_*
// environment variables and an optional deltaaudit.yaml file, in that order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/vegasq/deltaaudit/internal/output"
)

const (
	// EnvPrefix prefixes environment variables, e.g. DELTAAUDIT_FILTER.
	EnvPrefix = "DELTAAUDIT"
	// FileName is the config file searched for in the working directory and
	// the home directory, without extension.
	FileName = "deltaaudit"

	DateLayout = "2006-01-02"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every setting of the CLI.
type Config struct {
	Table     string   `mapstructure:"table"`
	Since     string   `mapstructure:"since"`
	Until     string   `mapstructure:"until"`
	Filter    string   `mapstructure:"filter"`
	Format    string   `mapstructure:"format"`
	Timezone  string   `mapstructure:"tz"`
	Exclude   []string `mapstructure:"exclude"`
	CacheSize int      `mapstructure:"cache-size"`
	Archive   string   `mapstructure:"archive"`
	LogLevel  string   `mapstructure:"log-level"`
	LogFormat string   `mapstructure:"log-format"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	// Every key needs a default so that Unmarshal sees environment values.
	v.SetDefault("table", "")
	v.SetDefault("since", "")
	v.SetDefault("until", "")
	v.SetDefault("archive", "")
	v.SetDefault("filter", "1=1")
	v.SetDefault("format", "table")
	v.SetDefault("tz", "UTC")
	v.SetDefault("exclude", []string{"VACUUM"})
	v.SetDefault("cache-size", 4096)
	v.SetDefault("log-level", "warn")
	v.SetDefault("log-format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, when there is one, and decodes the merged
// settings. An explicit file must exist; the default deltaaudit.yaml is
// optional.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file %s: %w", v.ConfigFileUsed(), err)
		}
	} else {
		log.WithField("file", v.ConfigFileUsed()).Debug("loaded config file")
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &c, nil
}

// Validate checks the settings shared by every command.
func (c *Config) Validate() error {
	if err := output.ValidateFormat(c.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("%w: cache-size must not be negative, got %d", ErrInvalidConfig, c.CacheSize)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log-format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// Location returns the time zone in which commit timestamps become dates.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown time zone %q", ErrInvalidConfig, c.Timezone)
	}
	return loc, nil
}

// Window parses the since and until dates. Since is required; an empty
// until yields the zero time, meaning today.
func (c *Config) Window() (since, until time.Time, err error) {
	loc, err := c.Location()
	if err != nil {
		return since, until, err
	}
	if c.Since == "" {
		return since, until, fmt.Errorf("%w: a start date is required (--since YYYY-MM-DD)", ErrInvalidConfig)
	}
	if since, err = ParseDate(c.Since, loc); err != nil {
		return since, until, err
	}
	if c.Until != "" {
		if until, err = ParseDate(c.Until, loc); err != nil {
			return since, until, err
		}
		if until.Before(since) {
			return since, until, fmt.Errorf("%w: until %s is before since %s", ErrInvalidConfig, c.Until, c.Since)
		}
	}
	return since, until, nil
}

// ParseDate parses a YYYY-MM-DD date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidConfig, s)
	}
	return t, nil
}

// ConfigureLogging sets the logrus level and formatter. Logs go to stderr so
// reports on stdout stay machine readable.
func ConfigureLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
