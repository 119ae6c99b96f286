package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StorageConfig selects the event store backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url"`
}

// AuthConfig describes the trusted identity headers and who may write.
type AuthConfig struct {
	UserHeader    string   `yaml:"user_header"`
	EmailHeader   string   `yaml:"email_header"`
	WriterEmails  []string `yaml:"writer_emails"`
	WriterDomains []string `yaml:"writer_domains"`
}

// BrokerConfig enables change notifications when URL is set.
type BrokerConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// EmailConfig enables the daily digest when DigestCron and recipients are set.
type EmailConfig struct {
	ResendAPIKey     string   `yaml:"resend_api_key"`
	From             string   `yaml:"from"`
	ReplyTo          string   `yaml:"reply_to"`
	DigestCron       string   `yaml:"digest_cron"`
	DigestRecipients []string `yaml:"digest_recipients"`
}

// CalendarConfig controls the published iCalendar feed.
type CalendarConfig struct {
	Name            string `yaml:"name"`
	Domain          string `yaml:"domain"`
	DurationMinutes int    `yaml:"duration_minutes"`
}

// Config is the top-level service configuration.
type Config struct {
	Addr     string         `yaml:"addr"`
	Env      string         `yaml:"env"`
	LogLevel string         `yaml:"log_level"`
	Timezone string         `yaml:"timezone"` // empty means the process local zone
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Broker   BrokerConfig   `yaml:"broker"`
	Email    EmailConfig    `yaml:"email"`
	Calendar CalendarConfig `yaml:"calendar"`
}

// Default returns the development configuration.
func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Env == "" {
		c.Env = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "pandaconnect.db"
	}
	if c.Auth.UserHeader == "" {
		c.Auth.UserHeader = "X-Auth-User-Id"
	}
	if c.Auth.EmailHeader == "" {
		c.Auth.EmailHeader = "X-Auth-Email"
	}
	if c.Email.From == "" {
		c.Email.From = "Panda Connect <events@pandaconnect.local>"
	}
	if c.Calendar.Name == "" {
		c.Calendar.Name = "School Events"
	}
	if c.Calendar.DurationMinutes <= 0 {
		c.Calendar.DurationMinutes = 60
	}
}

// Validate reports configuration the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Storage.PostgresURL == "" {
			return errors.New("storage.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// IsProduction reports whether Env is "production".
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves Timezone, defaulting to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads the YAML file at path, applies PANDA_* overrides from the environment and normalizes.
// A missing or empty path yields defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PANDA_* variables returned by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	str("PANDA_ADDR", &c.Addr)
	str("PANDA_ENV", &c.Env)
	str("PANDA_LOG_LEVEL", &c.LogLevel)
	str("PANDA_TIMEZONE", &c.Timezone)
	str("PANDA_STORAGE_DRIVER", &c.Storage.Driver)
	str("PANDA_SQLITE_PATH", &c.Storage.SQLitePath)
	str("PANDA_POSTGRES_URL", &c.Storage.PostgresURL)
	str("PANDA_AUTH_USER_HEADER", &c.Auth.UserHeader)
	str("PANDA_AUTH_EMAIL_HEADER", &c.Auth.EmailHeader)
	list("PANDA_WRITER_EMAILS", &c.Auth.WriterEmails)
	list("PANDA_WRITER_DOMAINS", &c.Auth.WriterDomains)
	str("PANDA_AMQP_URL", &c.Broker.URL)
	str("PANDA_AMQP_EXCHANGE", &c.Broker.Exchange)
	str("RESEND_API_KEY", &c.Email.ResendAPIKey)
	str("PANDA_EMAIL_FROM", &c.Email.From)
	str("PANDA_EMAIL_REPLY_TO", &c.Email.ReplyTo)
	str("PANDA_DIGEST_CRON", &c.Email.DigestCron)
	list("PANDA_DIGEST_RECIPIENTS", &c.Email.DigestRecipients)
	str("PANDA_CALENDAR_NAME", &c.Calendar.Name)
	str("PANDA_CALENDAR_DOMAIN", &c.Calendar.Domain)
	if v := getenv("PANDA_CALENDAR_DURATION_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Calendar.DurationMinutes = n
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
