// Package config loads stateindex configuration from defaults, an optional
// yaml file, the environment and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPrefix is the environment variable prefix.
const DefaultPrefix = "STATEINDEX"

// Config is the complete process configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Updates  UpdatesConfig  `mapstructure:"updates"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig configures the HTTP API and metrics listeners.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the API listen address.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

// MetricsAddr is the metrics listen address.
func (c ServerConfig) MetricsAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.MetricsPort))
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"`
}

// ConnString returns DSN when set. Otherwise it builds one: a postgres URL
// from the connection parts, or Path for sqlite3.
func (c DatabaseConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.Driver == DriverSQLite {
		return c.Path
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=disable",
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	return u.String()
}

// UpdatesConfig configures the update source and the reconciler.
type UpdatesConfig struct {
	URL              string        `mapstructure:"url"`
	BlocksPerRequest int64         `mapstructure:"blocks_per_request"`
	StartingHeight   int64         `mapstructure:"starting_height"`
	Backoff          time.Duration `mapstructure:"backoff"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Error names the configuration key that failed validation.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// IsConfigError reports whether err is or wraps a *Error.
func IsConfigError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// legacyEnv maps keys onto the unprefixed variables of older deployments.
var legacyEnv = map[string]string{
	"server.port":         "PORT",
	"server.metrics_port": "METRICS_PORT",
	"database.host":       "PGHOST",
	"database.port":       "PGPORT",
	"database.name":       "PGDATABASE",
	"database.user":       "PGUSER",
	"database.password":   "PGPASSWORD",
	"database.pool_size":  "PGPOOLSIZE",
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.pool_size", 4)
	v.SetDefault("database.path", "")

	v.SetDefault("updates.url", "")
	v.SetDefault("updates.blocks_per_request", 100)
	v.SetDefault("updates.starting_height", 1)
	v.SetDefault("updates.backoff", 5*time.Second)
	v.SetDefault("updates.request_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load resolves the configuration held by v.
//
// v may already carry bound flags and a config file set with
// SetConfigFile; a missing file set that way is an error. prefix defaults
// to DefaultPrefix. The result is validated.
func Load(prefix string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	SetDefaults(v)

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := strings.ToUpper(prefix + "_" + strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if err := validPort("server.port", c.Server.Port); err != nil {
		return err
	}
	if err := validPort("server.metrics_port", c.Server.MetricsPort); err != nil {
		return err
	}
	if c.Server.ShutdownTimeout <= 0 {
		return &Error{Key: "server.shutdown_timeout", Reason: "must be positive"}
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			if err := validPort("database.port", c.Database.Port); err != nil {
				return err
			}
		}
	case DriverSQLite:
		if c.Database.DSN == "" && c.Database.Path == "" {
			return &Error{Key: "database.path", Reason: "required for sqlite3"}
		}
	default:
		return &Error{Key: "database.driver", Reason: fmt.Sprintf("unknown driver %q (valid: %s, %s)", c.Database.Driver, DriverPostgres, DriverSQLite)}
	}
	if c.Database.PoolSize < 0 {
		return &Error{Key: "database.pool_size", Reason: "must not be negative"}
	}

	if c.Updates.BlocksPerRequest < 1 {
		return &Error{Key: "updates.blocks_per_request", Reason: "must be at least 1"}
	}
	if c.Updates.StartingHeight < 1 {
		return &Error{Key: "updates.starting_height", Reason: "must be at least 1"}
	}
	if c.Updates.Backoff <= 0 {
		return &Error{Key: "updates.backoff", Reason: "must be positive"}
	}
	if c.Updates.RequestTimeout <= 0 {
		return &Error{Key: "updates.request_timeout", Reason: "must be positive"}
	}
	return nil
}

func validPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return &Error{Key: key, Reason: fmt.Sprintf("port %d out of range 1-65535", port)}
	}
	return nil
}
