package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

type Config struct {
	Primary       Primary              `koanf:"primary" validate:"required"`
	Server        ServerConfig         `koanf:"server" validate:"required"`
	Database      DatabaseConfig       `koanf:"database" validate:"required"`
	Invoker       InvokerConfig        `koanf:"invoker"`
	Retry         RetryConfig          `koanf:"retry"`
	Source        SourceConfig         `koanf:"source" validate:"required"`
	Observability *ObservabilityConfig `koanf:"observability"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port         string `koanf:"port" validate:"required"`
	ReadTimeout  int    `koanf:"read_timeout" validate:"required"`
	WriteTimeout int    `koanf:"write_timeout" validate:"required"`
	IdleTimeout  int    `koanf:"idle_timeout" validate:"required"`
}

type DatabaseConfig struct {
	Host            string `koanf:"host" validate:"required"`
	Port            int    `koanf:"port" validate:"required"`
	User            string `koanf:"user" validate:"required"`
	Password        string `koanf:"password"`
	Name            string `koanf:"name" validate:"required"`
	SSLMode         string `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int    `koanf:"max_open_conns" validate:"required"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime int    `koanf:"conn_max_idle_time" validate:"required"`
}

// URL renders the pgx connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// InvokerConfig controls the outbound HTTP client.
type InvokerConfig struct {
	DefaultTimeoutSeconds int `koanf:"default_timeout_seconds"`
}

// RetryConfig is the re-delivery policy. Zero values fall back to the
// retry package defaults.
type RetryConfig struct {
	MaxAttempts          int `koanf:"max_attempts"`
	IntervalSeconds      int `koanf:"interval_seconds"`
	SweepIntervalSeconds int `koanf:"sweep_interval_seconds"`
	BatchSize            int `koanf:"batch_size"`
	Workers              int `koanf:"workers"`
	RetentionDays        int `koanf:"retention_days"`
}

func (r RetryConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

func (r RetryConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalSeconds) * time.Second
}

func (r RetryConfig) Retention() time.Duration {
	return time.Duration(r.RetentionDays) * 24 * time.Hour
}

// SourceConfig bounds which business tables payloads may read from.
type SourceConfig struct {
	AllowedTables []string `koanf:"allowed_tables" validate:"required"`
	IDColumn      string   `koanf:"id_column"`
}

type ObservabilityConfig struct {
	Enabled     bool   `koanf:"enabled"`
	LicenseKey  string `koanf:"license_key"`
	ServiceName string `koanf:"service_name"`
	Environment string `koanf:"environment"`
}

func DefaultObservabilityConfig() *ObservabilityConfig {
	return &ObservabilityConfig{Enabled: false}
}

func (o *ObservabilityConfig) Validate() error {
	if o.Enabled && o.LicenseKey == "" {
		return fmt.Errorf("observability enabled but license key is empty")
	}
	return nil
}

// LoadConfig loads the configuration from environment variables using koanf.
func LoadConfig() (mainConfig *Config, err error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	k := koanf.New(".")
	err = k.Load(env.Provider("RELAYFORGE_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "RELAYFORGE_"))
	}), nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not load initial env variables")
	}

	mainConfig = &Config{}
	err = k.Unmarshal("", mainConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not unmarshal mainconfig")
	}

	validate := validator.New()
	err = validate.Struct(mainConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not validate the struct")
	}

	if mainConfig.Observability == nil {
		mainConfig.Observability = DefaultObservabilityConfig()
	}
	mainConfig.Observability.ServiceName = "relayforge"
	mainConfig.Observability.Environment = mainConfig.Primary.Env

	err = mainConfig.Observability.Validate()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid observability config")
	}

	if mainConfig.Source.IDColumn == "" {
		mainConfig.Source.IDColumn = "id"
	}

	return
}
