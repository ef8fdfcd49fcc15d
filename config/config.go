// Package config loads tokenpay settings from YAML, the environment and
// built-in defaults.
package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/vitwit/tokenpay/types"
	"github.com/vitwit/tokenpay/utils"
	"gopkg.in/yaml.v2"
)

const (
	DefaultTokenAddress   = "0x55d398326f99059fF775485246999027B3197955" // USDT (BEP-20)
	DefaultPaymentAddress = "0xAe33F5063c1d05e514dFE8356e3DAC77e58CeFb2"
	DefaultBuffer         = "0.000001"
	DefaultGasPriceGwei   = "5"
	DefaultGasMargin      = 20
	DefaultConfirmations  = 1
	DefaultBackendURL     = "http://localhost:8000/api"
	DefaultBackendTimeout = 10 * time.Second
	DefaultAdminListen    = ":8081"
)

type Config struct {
	Network types.NetworkProfile `yaml:"network"`
	Token   TokenConfig          `yaml:"token"`
	Wallet  WalletConfig         `yaml:"wallet"`
	Backend BackendConfig        `yaml:"backend"`
	Admin   AdminConfig          `yaml:"admin"`
	Ledger  LedgerConfig         `yaml:"ledger"`
	Logging LoggingConfig        `yaml:"logging"`
	Metrics MetricsConfig        `yaml:"metrics"`
}

type TokenConfig struct {
	Address        string `yaml:"address" validate:"required,eth_addr"`
	PaymentAddress string `yaml:"payment_address" validate:"required,eth_addr"`
	Symbol         string `yaml:"symbol"`
	Buffer         string `yaml:"buffer" validate:"required,numeric"`
	GasPriceGwei   string `yaml:"gas_price_gwei" validate:"required,numeric"`
	// GasMargin is nil when unset; an explicit 0 disables the margin.
	GasMargin     *uint64       `yaml:"gas_margin_percent" validate:"omitempty,lte=100"`
	Confirmations uint64        `yaml:"confirmations" validate:"gte=1"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type WalletConfig struct {
	// ProviderURL is the wallet's JSON-RPC endpoint. Empty means no wallet.
	ProviderURL string `yaml:"provider_url" validate:"omitempty,url"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type AdminConfig struct {
	Listen   string `yaml:"listen" validate:"required"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LedgerConfig struct {
	Driver    string `yaml:"driver" validate:"oneof=memory redis"`
	RedisURL  string `yaml:"redis_url" validate:"required_if=Driver redis"`
	KeyPrefix string `yaml:"key_prefix"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// PushGatewayURL receives the counters of short-lived purchase runs.
	PushGatewayURL string `yaml:"pushgateway_url" validate:"omitempty,url"`
}

// Default returns the built-in configuration for BSC mainnet USDT payments.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. ${VAR} references are expanded
// from the environment, and a .env file next to the process is loaded first
// if present. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Network.ChainID == 0 {
		c.Network = types.BSCMainnet
	}
	if c.Network.NativeCurrencyDecimals == 0 {
		c.Network.NativeCurrencyDecimals = 18
	}

	if c.Token.Address == "" {
		c.Token.Address = DefaultTokenAddress
	}
	if c.Token.PaymentAddress == "" {
		c.Token.PaymentAddress = DefaultPaymentAddress
	}
	if c.Token.Symbol == "" {
		c.Token.Symbol = "USDT"
	}
	if c.Token.Buffer == "" {
		c.Token.Buffer = DefaultBuffer
	}
	if c.Token.GasPriceGwei == "" {
		c.Token.GasPriceGwei = DefaultGasPriceGwei
	}
	if c.Token.GasMargin == nil {
		margin := uint64(DefaultGasMargin)
		c.Token.GasMargin = &margin
	}
	if c.Token.Confirmations == 0 {
		c.Token.Confirmations = DefaultConfirmations
	}
	if c.Token.PollInterval == 0 {
		c.Token.PollInterval = time.Second
	}

	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBackendURL
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultBackendTimeout
	}

	if c.Admin.Listen == "" {
		c.Admin.Listen = DefaultAdminListen
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// applyEnv fills secrets that are usually kept out of the YAML file.
func (c *Config) applyEnv() {
	setIfEmpty(&c.Admin.Username, os.Getenv("ADMIN_USERNAME"))
	setIfEmpty(&c.Admin.Password, os.Getenv("ADMIN_PASSWORD"))
	setIfEmpty(&c.Backend.Token, os.Getenv("TOKENPAY_BACKEND_TOKEN"))
	setIfEmpty(&c.Wallet.ProviderURL, os.Getenv("TOKENPAY_WALLET_URL"))
	setIfEmpty(&c.Ledger.RedisURL, os.Getenv("REDIS_URL"))
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// Validate checks struct tags and the numeric settings.
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return types.ConfigError{Message: err.Error()}
	}

	buffer, err := decimal.NewFromString(c.Token.Buffer)
	if err != nil || buffer.IsNegative() {
		return types.ConfigError{Field: "token.buffer", Message: "must be a non-negative decimal"}
	}
	gwei, err := decimal.NewFromString(c.Token.GasPriceGwei)
	if err != nil || !gwei.IsPositive() {
		return types.ConfigError{Field: "token.gas_price_gwei", Message: "must be a positive decimal"}
	}
	if c.Network.ChainID <= 0 {
		return types.ConfigError{Field: "network.chain_id", Message: "must be positive"}
	}
	return nil
}

func (c *Config) TokenAddress() common.Address {
	return common.HexToAddress(c.Token.Address)
}

func (c *Config) PaymentAddress() common.Address {
	return common.HexToAddress(c.Token.PaymentAddress)
}

// BufferAmount is the sufficiency tolerance in token units.
func (c *Config) BufferAmount() decimal.Decimal {
	d, err := decimal.NewFromString(c.Token.Buffer)
	if err != nil {
		return decimal.RequireFromString(DefaultBuffer)
	}
	return d
}

// GasPriceWei is the assumed gas price used for the native balance check.
func (c *Config) GasPriceWei() *big.Int {
	d, err := decimal.NewFromString(c.Token.GasPriceGwei)
	if err != nil {
		d = decimal.RequireFromString(DefaultGasPriceGwei)
	}
	return d.Shift(9).Truncate(0).BigInt()
}
