// Package config loads docwriterd's YAML configuration file and applies
// DOCW_-prefixed environment variable overrides, the same two-step load
// the teacher's internal/config.Load uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the root configuration struct.
type Config struct {
	Admin       AdminConfig       `yaml:"admin"`
	Auth        AuthConfig        `yaml:"auth"`
	Database    DatabaseConfig    `yaml:"database"`
	Journal     JournalConfig     `yaml:"journal"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AdminConfig controls the adminapi HTTP surface.
type AdminConfig struct {
	Host           string `yaml:"host" validate:"required"`
	Port           int    `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
}

// AuthConfig controls JobTicket verification.
type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret" validate:"required,min=32"`
	JWTExpiryHours int    `yaml:"jwt_expiry_hours" validate:"min=0"`
}

// PoolConfig mirrors the teacher's connection-pool knobs.
type PoolConfig struct {
	MaxConns                 int `yaml:"max_conns"`
	MinConns                 int `yaml:"min_conns"`
	MaxConnLifetimeMinutes   int `yaml:"max_conn_lifetime_minutes"`
	MaxConnIdleTimeMinutes   int `yaml:"max_conn_idle_time_minutes"`
	HealthCheckPeriodSeconds int `yaml:"health_check_period_seconds"`
}

// DatabaseConfig is the journal's Postgres connection.
type DatabaseConfig struct {
	Host    string     `yaml:"host"`
	Port    int        `yaml:"port"`
	User    string     `yaml:"user"`
	Password string    `yaml:"password"`
	DBName  string     `yaml:"dbname"`
	SSLMode string     `yaml:"ssl_mode"`
	Pool    PoolConfig `yaml:"pool"`
}

// JournalConfig controls the journal store's internal batching.
type JournalConfig struct {
	Enabled         bool `yaml:"enabled"`
	BatchSize       int  `yaml:"batch_size"`
	FlushIntervalMS int  `yaml:"flush_interval_ms"`
}

// CoordinatorConfig seeds the coordinator's fluent setters.
type CoordinatorConfig struct {
	BatchSize     int      `yaml:"batch_size" validate:"min=0"`
	ThreadCount   int      `yaml:"thread_count" validate:"min=0"`
	JobName       string   `yaml:"job_name"`
	Transform     string   `yaml:"transform"`
	Hosts         []string `yaml:"hosts"`
	HostURLFormat string   `yaml:"host_url_format"`
}

// LoggingConfig controls slog initialization.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format"`
}

// Load reads path, parses it as YAML, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Validate enforces the struct tags above via go-playground/validator, then
// the cross-field rules a tag can't express on its own (journal requiring a
// reachable database, same as SSHCredentials.Validate in the teacher's
// protocols package checks password-or-key by hand alongside its tags).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Journal.Enabled {
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("database.host and database.dbname are required when journal.enabled is true")
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCW_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DOCW_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DOCW_DATABASE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := os.Getenv("DOCW_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DOCW_COORDINATOR_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Coordinator.BatchSize = n
		}
	}
	if v := os.Getenv("DOCW_COORDINATOR_THREAD_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Coordinator.ThreadCount = n
		}
	}
	if v := os.Getenv("DOCW_ADMIN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Admin.Port = n
		}
	}
	if v := os.Getenv("DOCW_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ConnString returns the journal database's postgres:// DSN.
func (d *DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

// GetReadTimeout returns the admin server's read timeout as a duration.
func (a *AdminConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.ReadTimeoutMS) * time.Millisecond
}

// GetWriteTimeout returns the admin server's write timeout as a duration.
func (a *AdminConfig) GetWriteTimeout() time.Duration {
	return time.Duration(a.WriteTimeoutMS) * time.Millisecond
}

// GetJWTExpiry returns the ticket signing expiry as a duration.
func (a *AuthConfig) GetJWTExpiry() time.Duration {
	return time.Duration(a.JWTExpiryHours) * time.Hour
}

// GetFlushInterval returns the journal's internal flush interval.
func (j *JournalConfig) GetFlushInterval() time.Duration {
	return time.Duration(j.FlushIntervalMS) * time.Millisecond
}
