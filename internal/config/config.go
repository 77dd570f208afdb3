package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Env       string          `mapstructure:"env"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Events    EventsConfig    `mapstructure:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	ReadTimeout    int      `mapstructure:"read_timeout_seconds"`
	WriteTimeout   int      `mapstructure:"write_timeout_seconds"`
	IdleTimeout    int      `mapstructure:"idle_timeout_seconds"`
	RequestTimeout int      `mapstructure:"request_timeout_seconds"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	// URL takes precedence over the discrete connection fields.
	URL             string `mapstructure:"url"`
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            string `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time_seconds"`
}

type EventsConfig struct {
	Driver string      `mapstructure:"driver"`
	NATS   NATSConfig  `mapstructure:"nats"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"otlp_endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")

	v.SetDefault("server.port", "3000")
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.idle_timeout_seconds", 60)
	v.SetDefault("server.request_timeout_seconds", 15)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "pgdriver")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "local")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.nats.subject", "schools.events")
	v.SetDefault("events.kafka.topic", "schools.events")

	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
}

// Load reads config.<ENV>.yaml when present and applies environment overrides.
func Load() (*Config, error) {
	env := os.Getenv("ENV")
	if env == "" {
		env = "local"
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	v.AddConfigPath("/configs")   // Kubernetes mount
	v.AddConfigPath("./configs")  // repo root
	v.AddConfigPath("../configs") // cmd/
	v.AddConfigPath("../../configs")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file is optional - continue with ENV variables
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("env", "ENV")
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("database.url", "DB_CONNECTION_STRING", "DATABASE_URL")
	_ = v.BindEnv("database.driver", "DB_DRIVER")
	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.user", "DB_USER")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.name", "DB_NAME")
	_ = v.BindEnv("events.driver", "EVENTS_DRIVER")
	_ = v.BindEnv("events.nats.url", "NATS_URL")
	_ = v.BindEnv("events.kafka.brokers", "KAFKA_BROKERS")
	_ = v.BindEnv("telemetry.enabled", "OTEL_ENABLED")
	_ = v.BindEnv("telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "pgdriver", "pgx":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Events.Driver {
	case "none", "":
	case "nats":
		if c.Events.NATS.URL == "" {
			return fmt.Errorf("events.nats.url is required for the nats driver")
		}
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("events.kafka.brokers is required for the kafka driver")
		}
	default:
		return fmt.Errorf("unsupported events driver %q", c.Events.Driver)
	}

	return nil
}
