// Package config maps SURVEYCORE_* environment variables onto a typed
// configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every variable name.
const Prefix = "SURVEYCORE_"

// Config holds the runtime configuration of the surveycore tools.
type Config struct {
	Definitions Definitions `envPrefix:"DEFINITIONS_"`

	// ConfigDriver selects where subsets and entity set configurations are
	// persisted: memory, sqlite or postgres.
	ConfigDriver string `env:"CONFIG_DRIVER" envDefault:"memory"`
	SQLitePath   string `env:"SQLITE_PATH"   envDefault:"./surveycore.db"`
	PostgresDSN  string `env:"POSTGRES_DSN"`

	MaxCartesianProduct int `env:"MAX_CARTESIAN_PRODUCT" envDefault:"500000"`

	// Quota cell cache (Redis), disabled when RedisURL is empty.
	RedisURL      string        `env:"REDIS_URL"`
	QuotaCacheTTL time.Duration `env:"QUOTA_CACHE_TTL" envDefault:"24h"`

	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"surveycore"`
	LogLevel         string `env:"LOG_LEVEL"         envDefault:"info"`
}

// Definitions locates the definition documents.
type Definitions struct {
	Driver string `env:"DRIVER"  envDefault:"fs"`
	FSRoot string `env:"FS_ROOT" envDefault:"./definitions"`
	S3     S3     `envPrefix:"S3_"`
}

// S3 configures the S3-compatible definitions bucket.
type S3 struct {
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION"     envDefault:"us-east-1"`
	Endpoint  string `env:"ENDPOINT"`
	PathStyle bool   `env:"PATH_STYLE" envDefault:"false"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// FromMap parses vars instead of the process environment.
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks driver names and their required settings.
func (c Config) Validate() error {
	switch strings.ToLower(c.Definitions.Driver) {
	case "fs", "memory":
	case "s3":
		if c.Definitions.S3.Bucket == "" {
			return fmt.Errorf("config: %sDEFINITIONS_S3_BUCKET required for s3 driver", Prefix)
		}
	default:
		return fmt.Errorf("config: unknown definitions driver %q", c.Definitions.Driver)
	}
	switch strings.ToLower(c.ConfigDriver) {
	case "memory", "sqlite":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: %sPOSTGRES_DSN required for postgres driver", Prefix)
		}
	default:
		return fmt.Errorf("config: unknown config driver %q", c.ConfigDriver)
	}
	if c.MaxCartesianProduct <= 0 {
		return fmt.Errorf("config: %sMAX_CARTESIAN_PRODUCT must be positive", Prefix)
	}
	return nil
}
