package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/territorial-engagement/backend/internal/apperr"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Pool        PoolConfig
	Cache       CacheConfig
	Models      ModelsConfig
	Map         MapConfig
	Forecast    ForecastConfig
	Spatial     SpatialConfig
	Workers     WorkersConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       int
	WriteTimeout      int
	BodyLimit         int
	RequestsPerMinute int
}

type DatabaseConfig struct {
	Driver     string
	URL        string
	User       string
	Password   string
	Host       string
	Port       int
	Name       string
	RequireTLS bool
}

type PoolConfig struct {
	Size                int
	Overflow            int
	StatementTimeoutSec int
	PrePing             bool
	RecycleSec          int
}

type CacheConfig struct {
	URL    string
	TTLSec int
}

type ModelsConfig struct {
	Dir           string
	AttendanceDir string
	ForecastDir   string
	GeographicDir string
}

type MapConfig struct {
	Style       string
	AccessToken string
}

type ForecastConfig struct {
	MinMonths          int
	MaxMonths          int
	LowVolumeThreshold float64
	LowVolumeFactor    float64
	EnvelopeFactor     float64
}

type SpatialConfig struct {
	ToleranceFactor float64
}

type WorkersConfig struct {
	Size int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/activity-engine")

	v.SetEnvPrefix("ACTIVITY_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &apperr.ConfigError{Reason: fmt.Sprintf("failed to read config file: %v", err)}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &apperr.ConfigError{Reason: fmt.Sprintf("failed to unmarshal config: %v", err)}
	}

	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvProduction)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.requestsPerMinute", 120)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "activities")
	v.SetDefault("database.requireTLS", false)

	v.SetDefault("pool.size", 5)
	v.SetDefault("pool.overflow", 10)
	v.SetDefault("pool.statementTimeoutSec", 30)
	v.SetDefault("pool.prePing", true)
	v.SetDefault("pool.recycleSec", 3600)

	v.SetDefault("cache.url", "")
	v.SetDefault("cache.ttlSec", 300)

	v.SetDefault("models.dir", "./models")
	v.SetDefault("models.attendanceDir", "")
	v.SetDefault("models.forecastDir", "")
	v.SetDefault("models.geographicDir", "")

	v.SetDefault("map.style", "carto-positron")
	v.SetDefault("map.accessToken", "")

	v.SetDefault("forecast.minMonths", 1)
	v.SetDefault("forecast.maxMonths", 24)
	v.SetDefault("forecast.lowVolumeThreshold", 10.0)
	v.SetDefault("forecast.lowVolumeFactor", 3.0)
	v.SetDefault("forecast.envelopeFactor", 2.5)

	v.SetDefault("spatial.toleranceFactor", 0.0005)

	v.SetDefault("workers.size", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

func (c *Config) applyDerived() {
	if c.Models.AttendanceDir == "" {
		c.Models.AttendanceDir = filepath.Join(c.Models.Dir, "attendance")
	}
	if c.Models.ForecastDir == "" {
		c.Models.ForecastDir = filepath.Join(c.Models.Dir, "forecast")
	}
	if c.Models.GeographicDir == "" {
		c.Models.GeographicDir = filepath.Join(c.Models.Dir, "geographic")
	}
	if c.Environment == EnvDevelopment && c.Logging.Format == "json" {
		c.Logging.Format = "console"
	}
}

func (c *Config) Validate() error {
	switch c.Environment {
	case EnvProduction, EnvDevelopment:
	default:
		return &apperr.ConfigError{Key: "environment", Reason: fmt.Sprintf("must be %s or %s, got %q", EnvProduction, EnvDevelopment, c.Environment)}
	}

	if c.Database.URL == "" && c.Database.Driver == "postgres" && (c.Database.User == "" || c.Database.Host == "") {
		return &apperr.ConfigError{Key: "database.url", Reason: "either a connection URL or user and host are required"}
	}
	if c.Pool.Size <= 0 {
		return &apperr.ConfigError{Key: "pool.size", Reason: "must be positive"}
	}
	if c.Pool.Overflow < 0 {
		return &apperr.ConfigError{Key: "pool.overflow", Reason: "must not be negative"}
	}
	if c.Pool.StatementTimeoutSec <= 0 {
		return &apperr.ConfigError{Key: "pool.statementTimeoutSec", Reason: "must be positive"}
	}
	if c.Forecast.MinMonths < 1 || c.Forecast.MaxMonths < c.Forecast.MinMonths {
		return &apperr.ConfigError{Key: "forecast", Reason: "minMonths must be >= 1 and <= maxMonths"}
	}
	if c.Workers.Size <= 0 {
		return &apperr.ConfigError{Key: "workers.size", Reason: "must be positive"}
	}
	if c.Cache.URL != "" {
		if _, err := url.Parse(c.Cache.URL); err != nil {
			return &apperr.ConfigError{Key: "cache.url", Reason: err.Error()}
		}
	}
	return nil
}

// DSN returns the configured URL, or one assembled from its parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Driver == "sqlite3" {
		return d.Name
	}

	sslMode := "disable"
	if d.RequireTLS {
		sslMode = "require"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

func (p PoolConfig) StatementTimeout() time.Duration {
	return time.Duration(p.StatementTimeoutSec) * time.Second
}

func (p PoolConfig) Recycle() time.Duration {
	return time.Duration(p.RecycleSec) * time.Second
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}
