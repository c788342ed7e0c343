// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full ledger service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Token    TokenConfig    `yaml:"token"`
	EthRPC   EthRPCConfig   `yaml:"eth_rpc"`
	JWKS     JWKSConfig     `yaml:"jwks"`
	Logging  LoggingConfig  `yaml:"logging"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port int    `yaml:"port" default:"8081" validate:"gt=0,lte=65535"`
}

// DatabaseConfig contains settings for the optional Postgres projection of
// transactions and event logs. An empty host disables the projection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"token_ledger"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// Enabled reports whether the projection store is configured.
func (c *DatabaseConfig) Enabled() bool { return c.Host != "" }

// TokenConfig is the one-time genesis input: token metadata plus the account
// credited with the entire supply. It is consumed at construction and has no
// effect afterwards.
type TokenConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Symbol      string `yaml:"symbol" validate:"required"`
	Decimals    int    `yaml:"decimals" default:"18" validate:"gte=0,lt=256"`
	TotalSupply string `yaml:"total_supply" validate:"required"`
	Deployer    string `yaml:"deployer" validate:"required,eth_addr"`
}

// EthRPCConfig contains the Ethereum JSON-RPC facade settings for wallet
// compatibility.
type EthRPCConfig struct {
	Enabled          bool          `yaml:"enabled"`
	ChainID          uint64        `yaml:"chain_id" default:"31337"`
	TokenAddress     string        `yaml:"token_address"`
	GasPriceWei      string        `yaml:"gas_price_wei" default:"1000000000"`
	GasLimit         uint64        `yaml:"gas_limit" default:"60000"`
	NativeBalanceWei string        `yaml:"native_balance_wei" default:"1000000000000000000000"`
	RequestTimeout   time.Duration `yaml:"request_timeout" default:"30s"`
}

// JWKSConfig contains JWKS settings for JWT bearer authentication on the
// custom RPC API. Empty URL disables JWT auth.
type JWKSConfig struct {
	URL    string `yaml:"url"`
	Issuer string `yaml:"issuer"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// ShutdownConfig contains graceful shutdown settings.
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

// Load reads, defaults, and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.EthRPC.Enabled {
		if cfg.EthRPC.TokenAddress == "" {
			return nil, fmt.Errorf("eth_rpc.token_address is required when eth_rpc is enabled")
		}
		if !cfg.Database.Enabled() {
			return nil, fmt.Errorf("eth_rpc requires the database projection (database.host)")
		}
	}

	return cfg, nil
}
