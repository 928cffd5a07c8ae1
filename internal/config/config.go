package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jammwork/jammwork-sub000/internal/errors"
	"github.com/jammwork/jammwork-sub000/pkg/server"
	"github.com/jammwork/jammwork-sub000/pkg/session"
)

// ConfigFileNames are the file names searched by Load when no path is
// given, in order.
var ConfigFileNames = []string{"relay.yaml", "relay.yml", "relay.json"}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverS3       = "s3"
)

// Config is the complete relay configuration.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Registry RegistryConfig `json:"registry" yaml:"registry"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Log      LogConfig      `json:"log" yaml:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig configures the WebSocket listener.
type ServerConfig struct {
	Address           string   `json:"address,omitempty" yaml:"address,omitempty"`
	MaxMessageSize    int64    `json:"max_message_size,omitempty" yaml:"max_message_size,omitempty"`
	SendQueueSize     int      `json:"send_queue_size,omitempty" yaml:"send_queue_size,omitempty"`
	WriteTimeout      Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	HeartbeatInterval Duration `json:"heartbeat_interval,omitempty" yaml:"heartbeat_interval,omitempty"`
	ShutdownTimeout   Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`

	// AllowedOrigins lists accepted Origin hosts. Empty means same-origin
	// only; "*" accepts any origin.
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
}

// RegistryConfig configures room lifetime and persistence cadence.
type RegistryConfig struct {
	MaxRooms        int      `json:"max_rooms,omitempty" yaml:"max_rooms,omitempty"`
	IdleCutoff      Duration `json:"idle_cutoff,omitempty" yaml:"idle_cutoff,omitempty"`
	GracePeriod     Duration `json:"grace_period,omitempty" yaml:"grace_period,omitempty"`
	PersistInterval Duration `json:"persist_interval,omitempty" yaml:"persist_interval,omitempty"`
	PersistTimeout  Duration `json:"persist_timeout,omitempty" yaml:"persist_timeout,omitempty"`
	PresenceTimeout Duration `json:"presence_timeout,omitempty" yaml:"presence_timeout,omitempty"`
}

// StoreConfig selects and configures the room store.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, mysql, redis, s3.
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`

	// DSN is the database/sql data source for sqlite, postgres and mysql.
	DSN   string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Table string `json:"table,omitempty" yaml:"table,omitempty"`

	RedisURL    string   `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	RedisPrefix string   `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`
	RedisTTL    Duration `json:"redis_ttl,omitempty" yaml:"redis_ttl,omitempty"`

	S3Bucket   string `json:"s3_bucket,omitempty" yaml:"s3_bucket,omitempty"`
	S3Prefix   string `json:"s3_prefix,omitempty" yaml:"s3_prefix,omitempty"`
	S3Region   string `json:"s3_region,omitempty" yaml:"s3_region,omitempty"`
	S3Endpoint string `json:"s3_endpoint,omitempty" yaml:"s3_endpoint,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is text or json.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// New returns a Config with default values.
func New() *Config {
	srv := server.DefaultConfig()
	reg := session.DefaultRegistryConfig()
	return &Config{
		Server: ServerConfig{
			Address:           srv.Address,
			MaxMessageSize:    srv.MaxMessageSize,
			SendQueueSize:     srv.SendQueueSize,
			WriteTimeout:      Duration(srv.WriteTimeout),
			HeartbeatInterval: Duration(srv.HeartbeatInterval),
			ShutdownTimeout:   Duration(srv.ShutdownTimeout),
		},
		Registry: RegistryConfig{
			MaxRooms:        reg.MaxRooms,
			IdleCutoff:      Duration(reg.IdleCutoff),
			GracePeriod:     Duration(reg.GracePeriod),
			PersistInterval: Duration(reg.PersistInterval),
			PersistTimeout:  Duration(reg.PersistTimeout),
			PresenceTimeout: Duration(reg.PresenceTimeout),
		},
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path, or from the first of
// ConfigFileNames in dir when path is empty. A missing default file is
// not an error: defaults are used. Environment overrides are applied
// last.
func Load(dir, path string) (*Config, error) {
	cfg := New()

	if path == "" {
		for _, name := range ConfigFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New("R100").WithDetail(path).Wrap(err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, c)
	} else {
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return errors.New("R101").WithDetail(path).Wrap(err)
	}

	c.configPath = path
	return nil
}

// LoadDotEnv loads environment variables from the given .env files (or
// ".env" when none are given). Missing files are skipped; variables
// already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.New("R100").WithDetail(p).Wrap(err)
		}
	}
	return nil
}

// Path returns the file the config was loaded from, if any.
func (c *Config) Path() string {
	return c.configPath
}

// Validate reports every invalid value in one error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Address == "" {
		add("server.address must not be empty")
	}
	if c.Server.MaxMessageSize <= 0 {
		add("server.max_message_size must be positive, got %d", c.Server.MaxMessageSize)
	}
	if c.Server.SendQueueSize <= 0 {
		add("server.send_queue_size must be positive, got %d", c.Server.SendQueueSize)
	}
	if c.Server.HeartbeatInterval <= 0 {
		add("server.heartbeat_interval must be positive, got %s", c.Server.HeartbeatInterval)
	}
	if c.Registry.MaxRooms <= 0 {
		add("registry.max_rooms must be positive, got %d", c.Registry.MaxRooms)
	}
	if c.Registry.IdleCutoff < 0 {
		add("registry.idle_cutoff must not be negative, got %s", c.Registry.IdleCutoff)
	}
	if c.Registry.GracePeriod < 0 {
		add("registry.grace_period must not be negative, got %s", c.Registry.GracePeriod)
	}
	if c.Registry.PersistInterval <= 0 {
		add("registry.persist_interval must be positive, got %s", c.Registry.PersistInterval)
	}
	if c.Registry.PersistTimeout <= 0 {
		add("registry.persist_timeout must be positive, got %s", c.Registry.PersistTimeout)
	}
	if c.Registry.PresenceTimeout <= 0 {
		add("registry.presence_timeout must be positive, got %s", c.Registry.PresenceTimeout)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverMySQL:
		if c.Store.DSN == "" {
			add("store.dsn is required for the %s driver", c.Store.Driver)
		}
	case DriverRedis:
		if c.Store.RedisURL == "" {
			add("store.redis_url is required for the redis driver")
		}
	case DriverS3:
		if c.Store.S3Bucket == "" {
			add("store.s3_bucket is required for the s3 driver")
		}
	default:
		return errors.New("R120").WithDetailf("driver %q", c.Store.Driver)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return errors.New("R102").WithDetail(strings.Join(problems, "; "))
	}
	return nil
}

// ServerConfig converts the server section to a server.Config.
func (c *Config) ServerConfig() *server.Config {
	cfg := server.DefaultConfig()
	cfg.Address = c.Server.Address
	cfg.MaxMessageSize = c.Server.MaxMessageSize
	cfg.SendQueueSize = c.Server.SendQueueSize
	cfg.WriteTimeout = c.Server.WriteTimeout.Std()
	cfg.HeartbeatInterval = c.Server.HeartbeatInterval.Std()
	cfg.ShutdownTimeout = c.Server.ShutdownTimeout.Std()
	cfg.CheckOrigin = originCheck(c.Server.AllowedOrigins)
	return cfg
}

// RegistryConfig converts the registry section to a session.RegistryConfig.
func (c *Config) RegistryConfig() session.RegistryConfig {
	return session.RegistryConfig{
		MaxRooms:        c.Registry.MaxRooms,
		IdleCutoff:      c.Registry.IdleCutoff.Std(),
		GracePeriod:     c.Registry.GracePeriod.Std(),
		PersistInterval: c.Registry.PersistInterval.Std(),
		PersistTimeout:  c.Registry.PersistTimeout.Std(),
		PresenceTimeout: c.Registry.PresenceTimeout.Std(),
	}
}
