package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Import        ImportConfig        `mapstructure:"import"`
	Profiling     ProfilingConfig     `mapstructure:"profiling"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host               string   `mapstructure:"host"`
	Port               int      `mapstructure:"port"`
	RateLimitPerSecond int      `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int      `mapstructure:"rate_limit_burst"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds postgres settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// DSN renders a postgres connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// AuthConfig holds the shared secret used to verify bearer tokens issued by
// the identity provider.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ImportConfig tunes the import pipeline.
type ImportConfig struct {
	ChunkSize      int           `mapstructure:"chunk_size"`
	StagingTTL     time.Duration `mapstructure:"staging_ttl"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceName    string `mapstructure:"service_name"`
}

// Load reads configuration from defaults, an optional config file and the
// environment. Env var overrides use prefix TAGGER_, e.g. TAGGER_SERVER_PORT.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("TAGGER_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("TAGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_second", 20)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "expense_tagger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", 5*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 10*time.Minute)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("import.chunk_size", 100)
	v.SetDefault("import.staging_ttl", 30*time.Minute)
	v.SetDefault("import.max_upload_bytes", int64(10<<20))

	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.port", 6060)

	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.service_name", "expense-tagger")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Import.ChunkSize <= 0 {
		return fmt.Errorf("import chunk size must be positive, got %d", c.Import.ChunkSize)
	}
	if c.Import.StagingTTL <= 0 {
		return fmt.Errorf("import staging ttl must be positive, got %s", c.Import.StagingTTL)
	}
	return nil
}
