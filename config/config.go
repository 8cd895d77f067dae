package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config carries the venue's tunables. Values come from environment
// variables with the MATCHING_ prefix, falling back to an optional config
// file and the defaults below.
type Config struct {
	// Matching core
	ArenaCapacity int32
	MaxDepth      int
	DefaultTick   int64
	MinTick       int64
	MaxTick       int64

	// Snapshot cache
	CacheTTL time.Duration

	// Tick governor
	GovernorCadence   time.Duration
	GovernorNotice    time.Duration
	EmergencyVolRatio float64

	// External services
	PostgresDSN string
	RedisAddr   string
}

// Load reads configuration from the environment and an optional config
// file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MATCHING")
	v.AutomaticEnv()

	v.SetDefault("arena_capacity", 65536)
	v.SetDefault("max_depth", 100)
	v.SetDefault("default_tick", 10000)
	v.SetDefault("min_tick", 1000)
	v.SetDefault("max_tick", 100000)
	v.SetDefault("cache_ttl", "2s")
	v.SetDefault("governor_cadence", "1h")
	v.SetDefault("governor_notice", "24h")
	v.SetDefault("emergency_vol_ratio", 3.0)
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_addr", "")

	v.SetConfigName("matching")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return &Config{
		ArenaCapacity:     v.GetInt32("arena_capacity"),
		MaxDepth:          v.GetInt("max_depth"),
		DefaultTick:       v.GetInt64("default_tick"),
		MinTick:           v.GetInt64("min_tick"),
		MaxTick:           v.GetInt64("max_tick"),
		CacheTTL:          v.GetDuration("cache_ttl"),
		GovernorCadence:   v.GetDuration("governor_cadence"),
		GovernorNotice:    v.GetDuration("governor_notice"),
		EmergencyVolRatio: v.GetFloat64("emergency_vol_ratio"),
		PostgresDSN:       v.GetString("postgres_dsn"),
		RedisAddr:         v.GetString("redis_addr"),
	}, nil
}
