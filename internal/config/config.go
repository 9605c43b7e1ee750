// Package config loads application settings from defaults, an optional YAML
// file and TASKGARDEN_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use "__",
// e.g. TASKGARDEN_DATABASE__URL.
const EnvPrefix = "TASKGARDEN_"

// ConfigPathEnv names the variable holding the config file path.
const ConfigPathEnv = EnvPrefix + "CONFIG"

// Backend drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// ErrInvalid is returned when loaded settings fail validation.
var ErrInvalid = errors.New("invalid config")

// Config contains all application settings.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Backend       BackendConfig       `koanf:"backend"`
	Auth          AuthConfig          `koanf:"auth"`
	Session       SessionConfig       `koanf:"session"`
	Directory     DirectoryConfig     `koanf:"directory"`
	Tasks         TasksConfig         `koanf:"tasks"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Locale        string              `koanf:"locale" validate:"required"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL settings. Only used by the postgres driver.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"min=1"`
}

// BackendConfig selects the backend adapter.
type BackendConfig struct {
	Driver string       `koanf:"driver" validate:"oneof=postgres memory"`
	Memory MemoryConfig `koanf:"memory"`
}

// MemoryConfig tunes the in-process backend.
type MemoryConfig struct {
	// ProfileLag is the number of profile lookups that miss after sign-up.
	ProfileLag int  `koanf:"profile_lag" validate:"min=0"`
	AutoSignIn bool `koanf:"auto_sign_in"`
}

// AuthConfig contains session token settings.
type AuthConfig struct {
	Secret          string        `koanf:"secret"`
	SessionDuration time.Duration `koanf:"session_duration" validate:"gt=0"`
	SignInRate      float64       `koanf:"sign_in_rate" validate:"gt=0"`
	SignInBurst     int           `koanf:"sign_in_burst" validate:"min=1"`
	BcryptCost      int           `koanf:"bcrypt_cost" validate:"min=4,max=31"`
}

// SessionConfig contains session store settings.
type SessionConfig struct {
	ProfileRetry ProfileRetryConfig `koanf:"profile_retry"`
}

// ProfileRetryConfig bounds profile resolution after sign-in.
type ProfileRetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" validate:"min=1"`
	Backoff        time.Duration `koanf:"backoff" validate:"min=0"`
	MissingBackoff time.Duration `koanf:"missing_backoff" validate:"min=0"`
}

// DirectoryConfig contains roster settings.
type DirectoryConfig struct {
	DegradedMode bool `koanf:"degraded_mode"`
}

// TasksConfig contains task store settings.
type TasksConfig struct {
	CompensateOrphans bool `koanf:"compensate_orphans"`
}

// NotificationsConfig contains toast feed settings.
type NotificationsConfig struct {
	FeedCapacity int `koanf:"feed_capacity" validate:"min=1"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Backend: BackendConfig{
			Driver: DriverPostgres,
		},
		Auth: AuthConfig{
			SessionDuration: time.Hour,
			SignInRate:      0.2,
			SignInBurst:     5,
			BcryptCost:      10,
		},
		Session: SessionConfig{
			ProfileRetry: ProfileRetryConfig{
				MaxAttempts:    3,
				Backoff:        500 * time.Millisecond,
				MissingBackoff: time.Second,
			},
		},
		Directory: DirectoryConfig{
			DegradedMode: true,
		},
		Tasks: TasksConfig{
			CompensateOrphans: true,
		},
		Notifications: NotificationsConfig{
			FeedCapacity: 50,
		},
		Locale: "pt-BR",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads settings. path may be empty, in which case TASKGARDEN_CONFIG is
// consulted; with neither set only defaults and environment apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKey maps TASKGARDEN_AUTH__SESSION_DURATION to auth.session_duration.
// List values are comma separated.
func envKey(key, value string) (string, interface{}) {
	if key == ConfigPathEnv {
		return "", nil
	}

	name := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	name = strings.ReplaceAll(name, "__", ".")

	if name == "cors.allowed_origins" {
		return name, splitList(value)
	}
	return name, value
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks field constraints and driver-specific requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if c.Backend.Driver == DriverPostgres {
		if c.Database.URL == "" {
			return fmt.Errorf("%w: database.url is required for the postgres driver", ErrInvalid)
		}
		if len(c.Auth.Secret) < 32 {
			return fmt.Errorf("%w: auth.secret must be at least 32 characters", ErrInvalid)
		}
	}

	return nil
}
