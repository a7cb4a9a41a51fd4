// Package config loads and validates clustermesh's configuration:
// bindings, timers, the redis connection settings, and the development
// flag.
//
// Values are read through viper from a config file and environment
// variables (CLUSTERMESH_ prefix), the environment taking precedence
// over the file; Default() supplies the last-resort values viper itself
// falls back to. No command-line flags are bound into viper:
// cmd/clustermesh only passes the --config path to Load.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Bindings selects the publisher and router listen addresses. Addr may
// be a literal host:port, a CIDR (the first matching local interface is
// used), or a bare interface name; resolution happens in
// internal/transport.
type Bindings struct {
	Pub    string `mapstructure:"pub"`
	Router string `mapstructure:"router"`
}

// Timers holds the durations that pace the join retry, the
// missing-room wait, and the heartbeat loop.
type Timers struct {
	JoinAttemptInterval time.Duration `mapstructure:"joinAttemptInterval"`
	WaitForMissingRooms time.Duration `mapstructure:"waitForMissingRooms"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeatInterval"`
	HeartbeatTimeout    time.Duration `mapstructure:"heartbeatTimeout"`
}

// Redis describes the coordinator store connection. Addrs has one entry
// for a single node, more for a Redis Cluster-style sharded deployment;
// internal/coordstore picks the client flavor accordingly.
type Redis struct {
	Addrs    []string `mapstructure:"addrs"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
}

// Config is the fully resolved configuration for one node process.
type Config struct {
	Bindings    Bindings `mapstructure:"bindings"`
	Timers      Timers   `mapstructure:"timers"`
	Redis       Redis    `mapstructure:"redis"`
	Development bool     `mapstructure:"development"`
}

// Default returns the configuration used when neither the file nor an
// env var overrides a value (publisher 7511, router 7510).
func Default() Config {
	return Config{
		Bindings: Bindings{Pub: ":7511", Router: ":7510"},
		Timers: Timers{
			JoinAttemptInterval: 200 * time.Millisecond,
			WaitForMissingRooms: 500 * time.Millisecond,
			HeartbeatInterval:   2 * time.Second,
			HeartbeatTimeout:    10 * time.Second,
		},
		Redis: Redis{Addrs: []string{"127.0.0.1:6379"}, DB: 0},
	}
}

// Load builds a *viper.Viper pre-seeded with defaults, the
// CLUSTERMESH_ environment prefix, and (if present) a config file at
// path. Call Unmarshal or Get on the result. No flags are bound into
// the returned instance.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("clustermesh")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("bindings.pub", def.Bindings.Pub)
	v.SetDefault("bindings.router", def.Bindings.Router)
	v.SetDefault("timers.joinAttemptInterval", def.Timers.JoinAttemptInterval)
	v.SetDefault("timers.waitForMissingRooms", def.Timers.WaitForMissingRooms)
	v.SetDefault("timers.heartbeatInterval", def.Timers.HeartbeatInterval)
	v.SetDefault("timers.heartbeatTimeout", def.Timers.HeartbeatTimeout)
	v.SetDefault("redis.addrs", def.Redis.Addrs)
	v.SetDefault("redis.db", def.Redis.DB)
	v.SetDefault("development", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Unmarshal decodes v into a Config and validates it.
func Unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail fast anyway, so
// `config check` (cmd/clustermesh) can report them without starting a
// node.
func (c Config) Validate() error {
	if c.Bindings.Pub == "" {
		return fmt.Errorf("bindings.pub must not be empty")
	}
	if c.Bindings.Router == "" {
		return fmt.Errorf("bindings.router must not be empty")
	}
	if len(c.Redis.Addrs) == 0 {
		return fmt.Errorf("redis.addrs must have at least one entry")
	}
	if c.Timers.HeartbeatTimeout <= c.Timers.HeartbeatInterval {
		return fmt.Errorf("timers.heartbeatTimeout must exceed timers.heartbeatInterval")
	}
	return nil
}
