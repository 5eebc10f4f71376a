package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	GRPCAddr         string        `mapstructure:"grpc_addr"`
	HTTPAddr         string        `mapstructure:"http_addr"`
	StoreDriver      string        `mapstructure:"store_driver"`
	DataFile         string        `mapstructure:"data_file"`
	DatabaseURL      string        `mapstructure:"database_url"`
	AuthToken        string        `mapstructure:"auth_token"`
	EnableReflection bool          `mapstructure:"enable_reflection"`
	FlushDebounce    time.Duration `mapstructure:"flush_debounce"`
	RecordTTL        time.Duration `mapstructure:"record_ttl"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	QuoteValidity    time.Duration `mapstructure:"quote_validity"`
	ModelURL         string        `mapstructure:"model_url"`
	ModelTimeout     time.Duration `mapstructure:"model_timeout"`
	FiatRateUSD      float64       `mapstructure:"fiat_rate_usd"`
	Redact           bool          `mapstructure:"redact"`
	ArchiveDriver    string        `mapstructure:"archive_driver"`
	Minio            MinioConfig   `mapstructure:"minio"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	MCPEnabled       bool          `mapstructure:"mcp_enabled"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

var defaults = map[string]any{
	"grpc_addr":         "127.0.0.1:50051",
	"http_addr":         "127.0.0.1:8080",
	"store_driver":      "file",
	"data_file":         "./data/quoteengine.db.json",
	"database_url":      "",
	"auth_token":        "",
	"enable_reflection": false,
	"flush_debounce":    time.Second,
	"record_ttl":        7 * 24 * time.Hour,
	"sweep_interval":    10 * time.Minute,
	"quote_validity":    7 * 24 * time.Hour,
	"model_url":         "",
	"model_timeout":     30 * time.Second,
	"fiat_rate_usd":     0.0,
	"redact":            true,
	"archive_driver":    "none",
	"minio.endpoint":    "",
	"minio.access_key":  "",
	"minio.secret_key":  "",
	"minio.bucket":      "quoteengine-archive",
	"minio.use_ssl":     false,
	"log_level":         "info",
	"log_format":        "text",
	"mcp_enabled":       false,
}

// Load reads defaults, then the optional YAML file, then the environment.
// Nested keys map to underscored env names, so minio.bucket is MINIO_BUCKET.
func Load(configFile string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.ArchiveDriver = strings.ToLower(strings.TrimSpace(cfg.ArchiveDriver))
	cfg.ModelURL = strings.TrimRight(strings.TrimSpace(cfg.ModelURL), "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []error
	switch c.StoreDriver {
	case "memory", "file":
	case "postgres":
		if c.DatabaseURL == "" {
			problems = append(problems, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	default:
		problems = append(problems, fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver))
	}
	if c.StoreDriver == "file" && strings.TrimSpace(c.DataFile) == "" {
		problems = append(problems, errors.New("DATA_FILE is required when STORE_DRIVER=file"))
	}

	switch c.ArchiveDriver {
	case "none":
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			problems = append(problems, errors.New("MINIO_ENDPOINT and MINIO_BUCKET are required when ARCHIVE_DRIVER=minio"))
		}
	default:
		problems = append(problems, fmt.Errorf("unsupported ARCHIVE_DRIVER %q", c.ArchiveDriver))
	}

	for name, value := range map[string]time.Duration{
		"FLUSH_DEBOUNCE": c.FlushDebounce,
		"RECORD_TTL":     c.RecordTTL,
		"SWEEP_INTERVAL": c.SweepInterval,
		"QUOTE_VALIDITY": c.QuoteValidity,
		"MODEL_TIMEOUT":  c.ModelTimeout,
	} {
		if value <= 0 {
			problems = append(problems, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.FiatRateUSD < 0 {
		problems = append(problems, errors.New("FIAT_RATE_USD must not be negative"))
	}
	return errors.Join(problems...)
}
