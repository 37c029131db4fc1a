package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	UsageTopic string   `mapstructure:"usage_topic"`
}

// GovernanceConfig tunes the authorization gate and counter reset worker.
type GovernanceConfig struct {
	// Header carrying the virtual-key credential on the completion path.
	Header string `mapstructure:"header"`
	// When true, completion requests without the header are rejected
	// instead of passing through ungoverned.
	KeyMandatory bool `mapstructure:"key_mandatory"`
	// Fallback cost/token estimate when the caller supplies none.
	DefaultCost   int64 `mapstructure:"default_cost"`
	DefaultTokens int64 `mapstructure:"default_tokens"`
	// Redis cache TTL for virtual-key lookups.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// Interval of the background expired-window reset sweep.
	ResetInterval time.Duration `mapstructure:"reset_interval"`
}

type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (GOVERN_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (GOVERN_*)
	v.SetEnvPrefix("GOVERN")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
