// Package config loads the gateway configuration from YAML with environment
// overrides. Secrets (receiver key, admin token, session secret) are taken
// from the environment only and never written to the config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML strings like "5m" or "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Payment   PaymentConfig   `yaml:"payment"`
	Chain     ChainConfig     `yaml:"chain"`
	Generator GeneratorConfig `yaml:"generator"`
}

// ServerConfig holds the three listener addresses.
type ServerConfig struct {
	PublicAddr     string        `yaml:"public_addr"`
	AdminAddr      string        `yaml:"admin_addr"`
	OpsAddr        string        `yaml:"ops_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RatePerSecond  float64  `yaml:"rate_per_second"`
	RateBurst      int      `yaml:"rate_burst"`
	ShutdownGrace  Duration `yaml:"shutdown_grace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DatabaseConfig selects the challenge/station store. An empty DSN keeps
// everything in memory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig enables the Redis session/presence store when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PaymentConfig holds the pricing terms and settlement strategy.
type PaymentConfig struct {
	Strategy       string   `yaml:"strategy"` // facilitator | local | auto
	FacilitatorURL string   `yaml:"facilitator_url"`
	Dialect        string   `yaml:"dialect"` // canonical | compat | legacy | payai-v1
	TokenName      string   `yaml:"token_name"`
	TokenVersion   string   `yaml:"token_version"`
	TokenAddress   string   `yaml:"token_address"`
	PayTo          string   `yaml:"pay_to"`
	AmountAtomic   string   `yaml:"amount_atomic"`
	Asset          string   `yaml:"asset"`
	Chain          string   `yaml:"chain"`
	ChainID        int64    `yaml:"chain_id"`
	ChallengeTTL   Duration `yaml:"challenge_ttl"`
	SkewTolerance  Duration `yaml:"skew_tolerance"`

	// Environment only.
	ReceiverKey   string `yaml:"-"`
	AdminToken    string `yaml:"-"`
	SessionSecret string `yaml:"-"`
}

// ChainConfig points the local broadcaster at an EVM JSON-RPC endpoint.
type ChainConfig struct {
	RPCURL  string   `yaml:"rpc_url"`
	Timeout Duration `yaml:"timeout"`
}

// GeneratorConfig points at the music rendering backend. An empty URL uses
// the in-process mock.
type GeneratorConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			PublicAddr:     ":8080",
			AdminAddr:      ":8081",
			OpsAddr:        ":9090",
			AllowedOrigins: []string{"*"},
			RatePerSecond:  25,
			RateBurst:      50,
			ShutdownGrace:  Duration(15 * time.Second),
		},
		Logging: LoggingConfig{Level: "info"},
		Payment: PaymentConfig{
			Strategy:      "facilitator",
			Dialect:       "canonical",
			TokenName:     "USD Coin",
			TokenVersion:  "2",
			Asset:         "USDC",
			Chain:         "base",
			ChainID:       8453,
			ChallengeTTL:  Duration(2 * time.Minute),
			SkewTolerance: Duration(30 * time.Second),
		},
		Chain: ChainConfig{Timeout: Duration(15 * time.Second)},
	}
}

// Load reads the config file at path, falling back to defaults when path is
// empty or missing, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.PublicAddr, "BEATGATE_PUBLIC_ADDR")
	setString(&c.Server.AdminAddr, "BEATGATE_ADMIN_ADDR")
	setString(&c.Server.OpsAddr, "BEATGATE_OPS_ADDR")
	setString(&c.Logging.Level, "BEATGATE_LOG_LEVEL")
	setString(&c.Database.DSN, "BEATGATE_DATABASE_DSN")
	setString(&c.Redis.Addr, "BEATGATE_REDIS_ADDR")
	setString(&c.Redis.Password, "BEATGATE_REDIS_PASSWORD")
	setString(&c.Payment.Strategy, "BEATGATE_PAYMENT_STRATEGY")
	setString(&c.Payment.FacilitatorURL, "BEATGATE_FACILITATOR_URL")
	setString(&c.Payment.Dialect, "BEATGATE_FACILITATOR_DIALECT")
	setString(&c.Payment.TokenAddress, "BEATGATE_TOKEN_ADDRESS")
	setString(&c.Payment.PayTo, "BEATGATE_PAY_TO")
	setString(&c.Payment.AmountAtomic, "BEATGATE_AMOUNT_ATOMIC")
	setString(&c.Chain.RPCURL, "BEATGATE_RPC_URL")
	setString(&c.Generator.URL, "BEATGATE_GENERATOR_URL")
	setString(&c.Generator.APIKey, "BEATGATE_GENERATOR_API_KEY")
	setInt64(&c.Payment.ChainID, "BEATGATE_CHAIN_ID")

	// Secrets never come from the file.
	c.Payment.ReceiverKey = os.Getenv("BEATGATE_RECEIVER_KEY")
	c.Payment.AdminToken = os.Getenv("BEATGATE_ADMIN_TOKEN")
	c.Payment.SessionSecret = os.Getenv("BEATGATE_SESSION_SECRET")
}

func (c *Config) validate() error {
	if c.Payment.PayTo == "" {
		return fmt.Errorf("payment.pay_to is required")
	}
	if c.Payment.AmountAtomic == "" {
		return fmt.Errorf("payment.amount_atomic is required")
	}
	switch c.Payment.Strategy {
	case "facilitator", "local", "auto":
	default:
		return fmt.Errorf("payment.strategy %q is not one of facilitator, local, auto", c.Payment.Strategy)
	}
	if c.Payment.Strategy != "local" && c.Payment.FacilitatorURL == "" {
		return fmt.Errorf("payment.facilitator_url is required for strategy %q", c.Payment.Strategy)
	}
	if c.Payment.Strategy != "facilitator" {
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("chain.rpc_url is required for strategy %q", c.Payment.Strategy)
		}
		if c.Payment.ReceiverKey == "" {
			return fmt.Errorf("BEATGATE_RECEIVER_KEY is required for strategy %q", c.Payment.Strategy)
		}
	}
	if c.Payment.SessionSecret == "" {
		return fmt.Errorf("BEATGATE_SESSION_SECRET is required")
	}
	return nil
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt64(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}
