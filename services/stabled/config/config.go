package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen  = ":8090"
	defaultMarket  = "services/stabled/market.toml"
	defaultEngine  = "0x000000000000000000000000000000000000e761"
	defaultStable  = "0x000000000000000000000000000000000000d5c0"
	defaultIssuer  = "0x0000000000000000000000000000000000001550"
	defaultTimeout = 10 * time.Second
)

// Config captures the runtime settings for the stable engine daemon.
type Config struct {
	ListenAddress   string            `yaml:"listen"`
	MarketPath      string            `yaml:"market"`
	EngineAddress   string            `yaml:"engine_address"`
	StableToken     string            `yaml:"stable_token"`
	Issuer          string            `yaml:"issuer"`
	RequestTimeout  time.Duration     `yaml:"request_timeout"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	Storage         StorageConfig     `yaml:"storage"`
	Auth            AuthConfig        `yaml:"auth"`
	RateLimits      []RateLimitConfig `yaml:"rate_limits"`
	CORS            CORSConfig        `yaml:"cors"`
	Feeds           FeedsConfig       `yaml:"feeds"`
	Pauses          []string          `yaml:"pauses"`
	Allocations     []Allocation      `yaml:"allocations"`
	Logging         LoggingConfig     `yaml:"logging"`
	Telemetry       TelemetryConfig   `yaml:"telemetry"`
}

// StorageConfig selects where ledgers are persisted.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// AuthConfig configures HS256 bearer tokens. The token subject is the acting
// account.
type AuthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	HMACSecret    string        `yaml:"hmac_secret"`
	HMACSecretEnv string        `yaml:"hmac_secret_env"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ScopeClaim    string        `yaml:"scope_claim"`
	OperatorScope string        `yaml:"operator_scope"`
	ClockSkew     time.Duration `yaml:"clock_skew"`
}

type RateLimitConfig struct {
	Key               string  `yaml:"key"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// FeedsConfig controls the operator feed endpoint.
type FeedsConfig struct {
	AllowUpdates bool `yaml:"allow_updates"`
}

// Allocation seeds a token balance on first start. Token is a market symbol
// or address; Amount is in the token's smallest unit.
type Allocation struct {
	Token   string `yaml:"token"`
	Account string `yaml:"account"`
	Amount  string `yaml:"amount"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.MarketPath = strings.TrimSpace(cfg.MarketPath)
	if cfg.MarketPath == "" {
		cfg.MarketPath = defaultMarket
	}
	cfg.EngineAddress = orDefault(cfg.EngineAddress, defaultEngine)
	cfg.StableToken = orDefault(cfg.StableToken, defaultStable)
	cfg.Issuer = orDefault(cfg.Issuer, defaultIssuer)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)

	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	if env := strings.TrimSpace(cfg.Auth.HMACSecretEnv); env != "" && cfg.Auth.HMACSecret == "" {
		cfg.Auth.HMACSecret = strings.TrimSpace(os.Getenv(env))
	}
	cfg.Auth.OperatorScope = strings.TrimSpace(cfg.Auth.OperatorScope)
	if cfg.Auth.OperatorScope == "" {
		cfg.Auth.OperatorScope = "stable:operator"
	}

	for i := range cfg.RateLimits {
		cfg.RateLimits[i].Key = strings.ToLower(strings.TrimSpace(cfg.RateLimits[i].Key))
	}
	pauses := make([]string, 0, len(cfg.Pauses))
	for _, module := range cfg.Pauses {
		if trimmed := strings.ToLower(strings.TrimSpace(module)); trimmed != "" {
			pauses = append(pauses, trimmed)
		}
	}
	cfg.Pauses = pauses
	for i := range cfg.Allocations {
		alloc := &cfg.Allocations[i]
		alloc.Token = strings.TrimSpace(alloc.Token)
		alloc.Account = strings.TrimSpace(alloc.Account)
		alloc.Amount = strings.TrimSpace(alloc.Amount)
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	for name, addr := range map[string]string{
		"engine_address": cfg.EngineAddress,
		"stable_token":   cfg.StableToken,
		"issuer":         cfg.Issuer,
	} {
		if !common.IsHexAddress(addr) || common.HexToAddress(addr) == (common.Address{}) {
			return fmt.Errorf("%s: invalid address %q", name, addr)
		}
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "leveldb":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for leveldb backend")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret required when auth is enabled")
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for i, limit := range cfg.RateLimits {
		if limit.Key != "read" && limit.Key != "write" {
			return fmt.Errorf("rate_limits[%d]: key must be read or write, got %q", i, limit.Key)
		}
		if _, dup := seen[limit.Key]; dup {
			return fmt.Errorf("rate_limits[%d]: duplicate key %q", i, limit.Key)
		}
		seen[limit.Key] = struct{}{}
		if limit.RequestsPerMinute <= 0 || limit.Burst <= 0 {
			return fmt.Errorf("rate_limits[%d]: requests_per_minute and burst must be positive", i)
		}
	}
	for i, alloc := range cfg.Allocations {
		if alloc.Token == "" {
			return fmt.Errorf("allocations[%d]: token required", i)
		}
		if !common.IsHexAddress(alloc.Account) {
			return fmt.Errorf("allocations[%d]: invalid account %q", i, alloc.Account)
		}
		if _, err := uint256.FromDecimal(alloc.Amount); err != nil {
			return fmt.Errorf("allocations[%d]: invalid amount %q", i, alloc.Amount)
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
	}
	return nil
}

// Quantity returns the validated amount of a.
func (a Allocation) Quantity() *uint256.Int {
	amount, _ := uint256.FromDecimal(a.Amount)
	return amount
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
