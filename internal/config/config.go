package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	CallBridge CallBridgeConfig `mapstructure:"call_bridge"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	CallEventTopic  string        `mapstructure:"call_event_topic"`
	ArchiveTopic    string        `mapstructure:"archive_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ScannerConfig drives the abandoned-cart scan job.
type ScannerConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	InactivityWindow time.Duration `mapstructure:"inactivity_window"`
	BatchSize        int           `mapstructure:"batch_size"`
}

// ProcessorConfig drives the call queue processing job.
type ProcessorConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	StuckTimeout       time.Duration `mapstructure:"stuck_timeout"`
	StuckSweepInterval time.Duration `mapstructure:"stuck_sweep_interval"`
}

type CallBridgeConfig struct {
	ProviderName   string        `mapstructure:"provider_name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type ThrottleConfig struct {
	PerAgentConcurrency int           `mapstructure:"per_agent_concurrency"`
	SlotTTL             time.Duration `mapstructure:"slot_ttl"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("SKIDDLY")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func applyDefaults(cfg *Config) {
	if cfg.Scanner.Interval <= 0 {
		cfg.Scanner.Interval = time.Minute
	}
	if cfg.Scanner.InactivityWindow <= 0 {
		cfg.Scanner.InactivityWindow = 10 * time.Minute
	}
	if cfg.Scanner.BatchSize <= 0 {
		cfg.Scanner.BatchSize = 100
	}
	if cfg.Processor.Interval <= 0 {
		cfg.Processor.Interval = 30 * time.Second
	}
	if cfg.Processor.BatchSize <= 0 {
		cfg.Processor.BatchSize = 5
	}
	if cfg.Processor.RetryDelay <= 0 {
		cfg.Processor.RetryDelay = 5 * time.Minute
	}
	if cfg.Processor.StuckTimeout <= 0 {
		cfg.Processor.StuckTimeout = 30 * time.Minute
	}
	if cfg.Processor.StuckSweepInterval <= 0 {
		cfg.Processor.StuckSweepInterval = 10 * time.Minute
	}
	if cfg.CallBridge.RequestTimeout <= 0 {
		cfg.CallBridge.RequestTimeout = 10 * time.Second
	}
	if cfg.Throttle.PerAgentConcurrency <= 0 {
		cfg.Throttle.PerAgentConcurrency = 2
	}
	if cfg.Throttle.SlotTTL <= 0 {
		cfg.Throttle.SlotTTL = 15 * time.Minute
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
}
