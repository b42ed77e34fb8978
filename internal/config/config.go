// Package config loads service settings from defaults, an optional config
// file, PLANSTORE_* environment variables and command-line flags, in rising
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"plan_store/internal/kvstore"
)

const EnvPrefix = "PLANSTORE"

type Config struct {
	HTTP   HTTPConfig   `mapstructure:"http"`
	GRPC   GRPCConfig   `mapstructure:"grpc"`
	Plan   PlanConfig   `mapstructure:"plan"`
	Schema SchemaConfig `mapstructure:"schema"`
	Store  StoreConfig  `mapstructure:"store"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Log    LogConfig    `mapstructure:"log"`
	Health HealthConfig `mapstructure:"health"`
}

type HTTPConfig struct {
	Port        int      `mapstructure:"port"`
	Prefix      string   `mapstructure:"prefix"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

type PlanConfig struct {
	Type string `mapstructure:"type"`
}

type SchemaConfig struct {
	// Path overrides the embedded plan schema when set.
	Path string `mapstructure:"path"`
}

type StoreConfig struct {
	Backend     string         `mapstructure:"backend"`
	LockStripes int            `mapstructure:"lock_stripes"`
	LevelDB     LevelDBConfig  `mapstructure:"leveldb"`
	Redis       RedisConfig    `mapstructure:"redis"`
	DynamoDB    DynamoDBConfig `mapstructure:"dynamodb"`
}

type LevelDBConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type DynamoDBConfig struct {
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type AuthConfig struct {
	JWKSURL  string `mapstructure:"jwks_url"`
	ClientID string `mapstructure:"client_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

var defaults = map[string]any{
	"http.port":               8080,
	"http.prefix":             "/v1",
	"http.cors_origins":       []string{"*"},
	"grpc.port":               50051,
	"plan.type":               "plan",
	"schema.path":             "",
	"store.backend":           kvstore.BackendRedis,
	"store.lock_stripes":      64,
	"store.leveldb.path":      "./plan-data",
	"store.redis.url":         "redis://localhost:6379/0",
	"store.dynamodb.table":    "plans",
	"store.dynamodb.region":   "",
	"store.dynamodb.endpoint": "",
	"auth.jwks_url":           "https://www.googleapis.com/oauth2/v3/certs",
	"auth.client_id":          "",
	"log.level":               "info",
	"log.format":              "json",
	"log.file":                "",
	"health.interval":         10 * time.Second,
}

// New returns a viper instance carrying the defaults and the environment
// bindings. Callers bind their flags onto it before Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("auth.client_id", EnvPrefix+"_AUTH_CLIENT_ID", "CLIENT_ID")
	return v
}

// Load reads the config file, if any, and decodes the merged settings. An
// explicit path must exist; otherwise planstore.{yaml,json,toml} is looked
// up in the working directory and /etc/planstore.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("planstore")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/planstore")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings needed to serve.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case kvstore.BackendMemory, kvstore.BackendLevelDB, kvstore.BackendRedis, kvstore.BackendDynamoDB:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", kvstore.ErrUnknownBackend, c.Store.Backend))
	}
	if c.Plan.Type == "" || strings.Contains(c.Plan.Type, "_") {
		errs = append(errs, errors.New("plan.type must be non-empty and free of \"_\""))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Errorf("grpc.port %d out of range", c.GRPC.Port))
	}
	if c.Store.LockStripes <= 0 {
		errs = append(errs, errors.New("store.lock_stripes must be positive"))
	}
	if c.Health.Interval <= 0 {
		errs = append(errs, errors.New("health.interval must be positive"))
	}
	if c.Auth.ClientID == "" {
		errs = append(errs, errors.New("auth.client_id (or CLIENT_ID) is required"))
	}
	if c.Store.Backend == kvstore.BackendDynamoDB && c.Store.DynamoDB.Table == "" {
		errs = append(errs, errors.New("store.dynamodb.table must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// KVStore translates the store section into kvstore settings.
func (c *Config) KVStore() kvstore.Config {
	return kvstore.Config{
		Backend:     c.Store.Backend,
		LevelDBPath: c.Store.LevelDB.Path,
		RedisURL:    c.Store.Redis.URL,
		Dynamo: kvstore.DynamoConfig{
			Table:    c.Store.DynamoDB.Table,
			Region:   c.Store.DynamoDB.Region,
			Endpoint: c.Store.DynamoDB.Endpoint,
		},
	}
}
