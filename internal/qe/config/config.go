package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultConfigRelPath = ".config/quoteengine/qe.yaml"

type Config struct {
	GRPCAddr         string        `mapstructure:"grpc_addr"`
	GRPCInsecure     bool          `mapstructure:"grpc_insecure"`
	TokenEnvVar      string        `mapstructure:"token_env_var"`
	BaseRateLamports int64         `mapstructure:"base_rate_lamports"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
}

func Default() Config {
	return Config{
		GRPCAddr:         "127.0.0.1:50051",
		GRPCInsecure:     false,
		TokenEnvVar:      "QUOTEENGINE_TOKEN",
		BaseRateLamports: 50_000_000,
		ConnectTimeout:   8 * time.Second,
		RequestTimeout:   30 * time.Second,
		RetryAttempts:    3,
		RefreshInterval:  5 * time.Second,
	}
}

// Load reads ~/.config/quoteengine/qe.yaml when present. QE_* environment
// variables override the file.
func Load() (Config, string, error) {
	path, err := Path()
	if err != nil {
		return Default(), "", err
	}
	cfg, err := LoadFile(path)
	return cfg, path, err
}

func LoadFile(path string) (Config, error) {
	defaults := Default()
	v := viper.New()
	v.SetDefault("grpc_addr", defaults.GRPCAddr)
	v.SetDefault("grpc_insecure", defaults.GRPCInsecure)
	v.SetDefault("token_env_var", defaults.TokenEnvVar)
	v.SetDefault("base_rate_lamports", defaults.BaseRateLamports)
	v.SetDefault("connect_timeout", defaults.ConnectTimeout)
	v.SetDefault("request_timeout", defaults.RequestTimeout)
	v.SetDefault("retry_attempts", defaults.RetryAttempts)
	v.SetDefault("refresh_interval", defaults.RefreshInterval)
	v.SetEnvPrefix("QE")
	v.AutomaticEnv()

	if _, statErr := os.Stat(path); statErr == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return defaults, fmt.Errorf("parse qe config %s: %w", path, err)
		}
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return defaults, fmt.Errorf("read qe config %s: %w", path, statErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return defaults, fmt.Errorf("decode qe config: %w", err)
	}

	if strings.TrimSpace(cfg.GRPCAddr) == "" {
		cfg.GRPCAddr = defaults.GRPCAddr
	}
	if strings.TrimSpace(cfg.TokenEnvVar) == "" {
		cfg.TokenEnvVar = defaults.TokenEnvVar
	}
	if cfg.BaseRateLamports <= 0 {
		cfg.BaseRateLamports = defaults.BaseRateLamports
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaults.RetryAttempts
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	return cfg, nil
}

func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, defaultConfigRelPath), nil
}

// ResolveToken reads the token from the configured variable, falling back to
// AUTH_TOKEN so a local server and client can share one setting.
func ResolveToken(cfg Config) string {
	if name := strings.TrimSpace(cfg.TokenEnvVar); name != "" {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(os.Getenv("AUTH_TOKEN"))
}

// Insecure reports whether the client should skip TLS. Loopback addresses
// never use it.
func (c Config) Insecure() bool {
	return c.GRPCInsecure ||
		strings.HasPrefix(c.GRPCAddr, "127.0.0.1:") ||
		strings.HasPrefix(c.GRPCAddr, "localhost:") ||
		strings.HasPrefix(c.GRPCAddr, "passthrough:")
}
