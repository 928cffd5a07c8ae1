package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/jammwork/jammwork-sub000/internal/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RELAY_"

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

var envVars = []envVar{
	{"ADDR", func(c *Config, v string) error { c.Server.Address = v; return nil }},
	{"MAX_MESSAGE_SIZE", func(c *Config, v string) error { return setInt64(&c.Server.MaxMessageSize, v) }},
	{"SEND_QUEUE_SIZE", func(c *Config, v string) error { return setInt(&c.Server.SendQueueSize, v) }},
	{"WRITE_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Server.WriteTimeout, v) }},
	{"HEARTBEAT_INTERVAL", func(c *Config, v string) error { return setDuration(&c.Server.HeartbeatInterval, v) }},
	{"SHUTDOWN_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Server.ShutdownTimeout, v) }},
	{"ALLOWED_ORIGINS", func(c *Config, v string) error { c.Server.AllowedOrigins = splitList(v); return nil }},

	{"MAX_ROOMS", func(c *Config, v string) error { return setInt(&c.Registry.MaxRooms, v) }},
	{"IDLE_CUTOFF", func(c *Config, v string) error { return setDuration(&c.Registry.IdleCutoff, v) }},
	{"GRACE_PERIOD", func(c *Config, v string) error { return setDuration(&c.Registry.GracePeriod, v) }},
	{"PERSIST_INTERVAL", func(c *Config, v string) error { return setDuration(&c.Registry.PersistInterval, v) }},
	{"PERSIST_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Registry.PersistTimeout, v) }},
	{"PRESENCE_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Registry.PresenceTimeout, v) }},

	{"STORE_DRIVER", func(c *Config, v string) error { c.Store.Driver = strings.ToLower(v); return nil }},
	{"STORE_DSN", func(c *Config, v string) error { c.Store.DSN = v; return nil }},
	{"STORE_TABLE", func(c *Config, v string) error { c.Store.Table = v; return nil }},
	{"REDIS_URL", func(c *Config, v string) error { c.Store.RedisURL = v; return nil }},
	{"REDIS_PREFIX", func(c *Config, v string) error { c.Store.RedisPrefix = v; return nil }},
	{"REDIS_TTL", func(c *Config, v string) error { return setDuration(&c.Store.RedisTTL, v) }},
	{"S3_BUCKET", func(c *Config, v string) error { c.Store.S3Bucket = v; return nil }},
	{"S3_PREFIX", func(c *Config, v string) error { c.Store.S3Prefix = v; return nil }},
	{"S3_REGION", func(c *Config, v string) error { c.Store.S3Region = v; return nil }},
	{"S3_ENDPOINT", func(c *Config, v string) error { c.Store.S3Endpoint = v; return nil }},

	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = v; return nil }},
}

// ApplyEnv overrides fields from RELAY_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		name := EnvPrefix + ev.name
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := ev.apply(c, strings.TrimSpace(v)); err != nil {
			return errors.New("R103").WithDetailf("%s=%q", name, v).Wrap(err)
		}
	}
	return nil
}

// EnvNames returns every recognized environment variable name.
func EnvNames() []string {
	names := make([]string, len(envVars))
	for i, ev := range envVars {
		names[i] = EnvPrefix + ev.name
	}
	return names
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setDuration(dst *Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = Duration(d)
	return nil
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
