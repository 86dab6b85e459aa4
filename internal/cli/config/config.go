package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/modinspect/modinspect/internal/backend"
	"github.com/modinspect/modinspect/internal/connection"
	"github.com/modinspect/modinspect/internal/inspector"
	"github.com/modinspect/modinspect/internal/storage"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MODINSPECT_SERVER_PORT.
const EnvPrefix = "MODINSPECT"

// Config represents the modinspect configuration
type Config struct {
	Project    ProjectConfig    `mapstructure:"project"`
	Mode       string           `mapstructure:"mode"`
	Server     ServerConfig     `mapstructure:"server"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
}

// ProjectConfig locates the inspected project
type ProjectConfig struct {
	// Cwd defaults to the process working directory
	Cwd string `mapstructure:"cwd"`
}

// ServerConfig represents the dev server configuration
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	ShowErrors  bool     `mapstructure:"show_errors"`
	Pprof       bool     `mapstructure:"pprof"`
}

// BackendConfig locates the inspector backend
type BackendConfig struct {
	// URL of a running backend; empty starts one in-process
	URL string `mapstructure:"url"`
	// Listen is the address of the in-process or standalone backend
	Listen string `mapstructure:"listen"`
}

// ConnectionConfig tunes the shared backend connection
type ConnectionConfig struct {
	FailurePolicy string        `mapstructure:"failure_policy"`
	WarmupDelay   time.Duration `mapstructure:"warmup_delay"`
	WarmupTimeout time.Duration `mapstructure:"warmup_timeout"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
}

// StorageConfig selects where npm metadata and publint results live
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	TTL      time.Duration  `mapstructure:"ttl"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig represents redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SQLiteConfig represents sqlite settings
type SQLiteConfig struct {
	// Path defaults to a file under the user cache directory
	Path string `mapstructure:"path"`
}

// PostgresConfig represents postgres settings
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// LogConfig represents logging settings
type LogConfig struct {
	// Level overrides the mode's default level
	Level string `mapstructure:"level"`
}

// NewViper returns a viper instance with defaults, config file lookup in
// the working directory and MODINSPECT_ environment overrides. Callers may
// bind flags to it before calling LoadWith.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("project.cwd", "")
	v.SetDefault("mode", string(inspector.ModeDev))
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 5173)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.show_errors", false)
	v.SetDefault("server.pprof", false)
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.listen", "127.0.0.1:0")
	v.SetDefault("connection.failure_policy", string(connection.FailPermanently))
	v.SetDefault("connection.warmup_delay", time.Millisecond)
	v.SetDefault("connection.warmup_timeout", time.Duration(0))
	v.SetDefault("connection.dial_timeout", 10*time.Second)
	v.SetDefault("storage.driver", storage.DriverMemory)
	v.SetDefault("storage.ttl", time.Duration(0))
	v.SetDefault("storage.redis.addr", storage.DefaultRedisConfig().Addr)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.sqlite.path", "")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("log.level", "")

	v.SetConfigName("modinspect")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load loads the configuration from modinspect.yml or modinspect.yaml
func Load() (*Config, error) {
	return LoadWith(NewViper())
}

// LoadWith reads the config file, if any, and validates the result.
func LoadWith(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := resolveProject(&config); err != nil {
		return nil, err
	}
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func resolveProject(cfg *Config) error {
	cwd := cfg.Project.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine working directory: %w", err)
		}
		cwd = wd
	}

	abs, err := filepath.Abs(cwd)
	if err != nil {
		return fmt.Errorf("invalid project.cwd %q: %w", cwd, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("project.cwd %q: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project.cwd %q is not a directory", abs)
	}

	cfg.Project.Cwd = abs
	return nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if _, err := inspector.ParseMode(cfg.Mode); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	if _, err := connection.ParseFailurePolicy(cfg.Connection.FailurePolicy); err != nil {
		return fmt.Errorf("connection.failure_policy: %w", err)
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got: %d", cfg.Server.Port)
	}

	if u := cfg.Backend.URL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return fmt.Errorf("backend.url must start with ws:// or wss://, got: %s", u)
	}

	for key, d := range map[string]time.Duration{
		"connection.warmup_delay":   cfg.Connection.WarmupDelay,
		"connection.warmup_timeout": cfg.Connection.WarmupTimeout,
		"connection.dial_timeout":   cfg.Connection.DialTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got: %s", key, d)
		}
	}

	switch cfg.Storage.Driver {
	case storage.DriverMemory, storage.DriverRedis, storage.DriverSQLite:
	case storage.DriverPostgres:
		if cfg.Storage.Postgres.URL == "" {
			return fmt.Errorf("storage.postgres.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, redis, sqlite or postgres, got: %s", cfg.Storage.Driver)
	}

	return nil
}

// Addr is the dev server listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ModeValue returns the validated mode.
func (c *Config) ModeValue() inspector.Mode {
	return inspector.Mode(c.Mode)
}

// StorageOptions converts the storage section for storage.OpenHandles.
func (c *Config) StorageOptions() storage.Config {
	return storage.Config{
		Driver: c.Storage.Driver,
		TTL:    c.Storage.TTL,
		Redis: storage.RedisConfig{
			Addr:     c.Storage.Redis.Addr,
			Password: c.Storage.Redis.Password,
			DB:       c.Storage.Redis.DB,
		},
		SQLitePath:  c.Storage.SQLite.Path,
		PostgresURL: c.Storage.Postgres.URL,
	}
}

// ConnectionOptions converts the connection section for connection.NewManager.
func (c *Config) ConnectionOptions() connection.Options {
	return connection.Options{
		FailurePolicy: connection.FailurePolicy(c.Connection.FailurePolicy),
		WarmupDelay:   c.Connection.WarmupDelay,
		WarmupTimeout: c.Connection.WarmupTimeout,
	}
}

// BackendOptions converts the backend section for backend.NewConnector.
func (c *Config) BackendOptions() backend.Options {
	return backend.Options{
		URL:         c.Backend.URL,
		ListenAddr:  c.Backend.Listen,
		DialTimeout: c.Connection.DialTimeout,
	}
}
