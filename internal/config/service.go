package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STCSYNC_STC_BASE_URL.
const EnvPrefix = "STCSYNC"

// Directory backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds the service configuration.
type Config struct {
	Web       WebConfig       `mapstructure:"web"`
	STC       STCConfig       `mapstructure:"stc"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// WebConfig configures the HTTP listeners. WriteTimeout bounds a whole SSE
// stream, so it has to outlast the longest synchronization.
type WebConfig struct {
	APIHost            string        `mapstructure:"api_host" validate:"required"`
	MetricsHost        string        `mapstructure:"metrics_host" validate:"required"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
}

// STCConfig configures the vendor API client.
type STCConfig struct {
	BaseURL       string        `mapstructure:"base_url" validate:"required,url"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RateLimit     float64       `mapstructure:"rate_limit" validate:"gte=0"`
	Burst         int           `mapstructure:"burst" validate:"gte=1"`
	ReadRetries   uint64        `mapstructure:"read_retries"`
	ReadRetryWait time.Duration `mapstructure:"read_retry_wait" validate:"gte=0"`
}

// SyncConfig configures the waits of a synchronization.
type SyncConfig struct {
	TransmissionDelay time.Duration `mapstructure:"transmission_delay" validate:"gte=0"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout" validate:"gte=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" validate:"gt=0"`
}

// DirectoryConfig selects where tenants, equipment and drivers are read from.
type DirectoryConfig struct {
	Backend     string `mapstructure:"backend" validate:"oneof=memory postgres"`
	TenantsFile string `mapstructure:"tenants_file" validate:"required_if=Backend memory"`
	DSN         string `mapstructure:"dsn" validate:"required_if=Backend postgres"`
	MaxConns    int32  `mapstructure:"max_conns" validate:"gte=0"`
	// Migrate applies the schema in MigrationsDir at startup.
	Migrate       bool   `mapstructure:"migrate"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// KafkaConfig configures the lifecycle event publisher. No brokers means
// events stay in process.
type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	Topic          string        `mapstructure:"topic" validate:"required_with=Brokers"`
	ClientID       string        `mapstructure:"client_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	ServiceName      string  `mapstructure:"service_name" validate:"required"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	Probability      float64 `mapstructure:"probability" validate:"gte=0,lte=1"`
	Insecure         bool    `mapstructure:"insecure"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("web.api_host", "0.0.0.0:8080")
	v.SetDefault("web.metrics_host", "0.0.0.0:9090")
	v.SetDefault("web.read_timeout", 5*time.Second)
	v.SetDefault("web.write_timeout", 15*time.Minute)
	v.SetDefault("web.idle_timeout", 120*time.Second)
	v.SetDefault("web.shutdown_timeout", 20*time.Second)
	v.SetDefault("web.cors_allowed_origins", []string{"*"})

	v.SetDefault("stc.base_url", "https://api.stc.example.com/v1")
	v.SetDefault("stc.timeout", 30*time.Second)
	v.SetDefault("stc.rate_limit", 2.0)
	v.SetDefault("stc.burst", 4)
	v.SetDefault("stc.read_retries", 3)
	v.SetDefault("stc.read_retry_wait", 500*time.Millisecond)

	v.SetDefault("sync.transmission_delay", 6*time.Minute)
	v.SetDefault("sync.poll_timeout", 2*time.Minute)
	v.SetDefault("sync.poll_interval", 15*time.Second)
	v.SetDefault("sync.keepalive_interval", 15*time.Second)

	v.SetDefault("directory.backend", BackendMemory)
	v.SetDefault("directory.tenants_file", "tenants.yaml")
	v.SetDefault("directory.dsn", "")
	v.SetDefault("directory.max_conns", 10)
	v.SetDefault("directory.migrate", false)
	v.SetDefault("directory.migrations_dir", "db/migrations")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "stc-sync.events")
	v.SetDefault("kafka.client_id", "stc-sync")
	v.SetDefault("kafka.connect_timeout", 2*time.Minute)

	v.SetDefault("telemetry.service_name", "stc-sync")
	v.SetDefault("telemetry.exporter_endpoint", "")
	v.SetDefault("telemetry.probability", 0.05)
	v.SetDefault("telemetry.insecure", true)

	v.SetDefault("log.level", "info")
}

// Load reads the configuration from the optional file at path, then applies
// STCSYNC_ environment overrides on top of the defaults. An empty path looks
// for stc-sync.yaml in the working directory and /etc/stc-sync.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stc-sync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/stc-sync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
