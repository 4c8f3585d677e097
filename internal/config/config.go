package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete service configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"  yaml:"server"`
	DB      DBConfig      `mapstructure:"db"      yaml:"db"`
	Redis   RedisConfig   `mapstructure:"redis"   yaml:"redis"`
	Signing SigningConfig `mapstructure:"signing" yaml:"signing"`
	Queue   QueueConfig   `mapstructure:"queue"   yaml:"queue"`
	Ledger  LedgerConfig  `mapstructure:"ledger"  yaml:"ledger"`
	Rollup  RollupConfig  `mapstructure:"rollup"  yaml:"rollup"`
	Anchor  AnchorConfig  `mapstructure:"anchor"  yaml:"anchor"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Prover  ProverConfig  `mapstructure:"prover"  yaml:"prover"`
	Alerts  AlertsConfig  `mapstructure:"alerts"  yaml:"alerts"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log"     yaml:"log"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

type ServerConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"   yaml:"listen_addr"   env:"SERVER_LISTEN_ADDR"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  yaml:"read_timeout"  env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
}

type DBConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn" env:"DB_DSN"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"     env:"REDIS_ADDR"`
	Password string `mapstructure:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"db"       yaml:"db"       env:"REDIS_DB"`
}

type SigningConfig struct {
	Secret string `mapstructure:"secret" yaml:"secret" env:"SIGNING_SECRET"`
}

type QueueConfig struct {
	Stream      string        `mapstructure:"stream"       yaml:"stream"`
	Group       string        `mapstructure:"group"        yaml:"group"`
	MinIdle     time.Duration `mapstructure:"min_idle"     yaml:"min_idle"`
	ClaimCount  int           `mapstructure:"claim_count"  yaml:"claim_count"`
	WorkerCount int           `mapstructure:"worker_count" yaml:"worker_count"`
	PollEvery   time.Duration `mapstructure:"poll_every"   yaml:"poll_every"`
}

type LedgerConfig struct {
	BlockSize     int           `mapstructure:"block_size"     yaml:"block_size"`
	BuildInterval time.Duration `mapstructure:"build_interval" yaml:"build_interval"`
}

type RollupConfig struct {
	BatchSize      int           `mapstructure:"batch_size"      yaml:"batch_size"`
	FormInterval   time.Duration `mapstructure:"form_interval"   yaml:"form_interval"`
	AnchorInterval time.Duration `mapstructure:"anchor_interval" yaml:"anchor_interval"`
	FetchAttempts  int           `mapstructure:"fetch_attempts"  yaml:"fetch_attempts"`
	FetchBackoff   time.Duration `mapstructure:"fetch_backoff"   yaml:"fetch_backoff"`
}

type AnchorConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" env:"ANCHOR_ENDPOINT"`
	Contract string `mapstructure:"contract" yaml:"contract" env:"ANCHOR_CONTRACT"`
}

type StorageConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" env:"STORAGE_ENDPOINT"`
	Bucket   string `mapstructure:"bucket"   yaml:"bucket"   env:"STORAGE_BUCKET"`
}

type ProverConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" env:"PROVER_ENDPOINT"`
}

type AlertsConfig struct {
	WebhookURLs []string `mapstructure:"webhook_urls" yaml:"webhook_urls"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `mapstructure:"path"    yaml:"path"    env:"METRICS_PATH"`
}

// RateLimitConfig bounds write traffic per signer. Zero requests
// disables limiting.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests" yaml:"requests"`
	Window   time.Duration `mapstructure:"window"   yaml:"window"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
}

// Load reads configuration from the given file plus the environment.
// An empty path falls back to defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("db.dsn", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("signing.secret", "")

	v.SetDefault("queue.stream", "veriledger:proof-jobs")
	v.SetDefault("queue.group", "provers")
	v.SetDefault("queue.min_idle", "30s")
	v.SetDefault("queue.claim_count", 10)
	v.SetDefault("queue.worker_count", 2)
	v.SetDefault("queue.poll_every", "2s")

	v.SetDefault("ledger.block_size", 10)
	v.SetDefault("ledger.build_interval", "10s")

	v.SetDefault("rollup.batch_size", 25)
	v.SetDefault("rollup.form_interval", "15s")
	v.SetDefault("rollup.anchor_interval", "15s")
	v.SetDefault("rollup.fetch_attempts", 3)
	v.SetDefault("rollup.fetch_backoff", "1s")

	v.SetDefault("anchor.endpoint", "")
	v.SetDefault("anchor.contract", "")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.bucket", "proofs")

	v.SetDefault("prover.endpoint", "")

	v.SetDefault("alerts.webhook_urls", []string{})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("rate_limit.requests", 0)
	v.SetDefault("rate_limit.window", "1m")
}

// Validate checks the configuration for values the service cannot run
// without or cannot interpret.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Signing.Secret == "" {
		return fmt.Errorf("signing.secret is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Queue.Stream == "" || c.Queue.Group == "" {
		return fmt.Errorf("queue.stream and queue.group are required")
	}
	if c.Queue.WorkerCount < 1 {
		return fmt.Errorf("queue.worker_count must be at least 1")
	}
	if c.Ledger.BlockSize < 1 {
		return fmt.Errorf("ledger.block_size must be at least 1")
	}
	if c.Rollup.BatchSize < 1 {
		return fmt.Errorf("rollup.batch_size must be at least 1")
	}
	if c.Rollup.FetchAttempts < 1 {
		return fmt.Errorf("rollup.fetch_attempts must be at least 1")
	}
	if (c.Anchor.Endpoint == "") != (c.Anchor.Contract == "") {
		return fmt.Errorf("anchor.endpoint and anchor.contract must be set together")
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not a known level", c.Log.Level)
	}
	return nil
}
