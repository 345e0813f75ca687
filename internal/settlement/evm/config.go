// Package evm provides the on-chain settlement rail for Ethereum and
// EVM-compatible chains: per-item fee estimation, address and cap
// validation, sequential nonce assignment, persisted per-item transaction
// tracking, and confirmation polling.
package evm

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Name is the registry name of the EVM rail.
const Name = "evm"

// TokenConfig describes one supported ERC-20 settlement token.
type TokenConfig struct {
	// Contract address of the token
	Address string `yaml:"address"`

	// Decimal places used by the token contract
	Decimals int `yaml:"decimals"`
}

// Config holds the configuration for the EVM rail. All of it is rail-scoped
// and fixed at startup, never request-scoped.
type Config struct {
	// Enabled gates the rail; a disabled rail fails validation for every batch
	Enabled bool `yaml:"enabled"`

	// Chain identifier (ethereum, polygon, arbitrum, etc.)
	Chain string `yaml:"chain"`

	// ChainID is the numeric chain ID, verified against the RPC endpoint
	ChainID uint64 `yaml:"chain_id"`

	// RPC endpoint URL
	RPCURL string `yaml:"rpc_url"`

	// RPCTimeout bounds individual RPC calls
	RPCTimeout time.Duration `yaml:"rpc_timeout"`

	// PrivateKey is the hex-encoded signer key. Usually left empty in the
	// file and supplied via SETTLEMENT_EVM_PRIVATE_KEY.
	PrivateKey string `yaml:"private_key"`

	// NativeSymbol is the chain's native asset (ETH, MATIC, ...)
	NativeSymbol string `yaml:"native_symbol"`

	// Tokens maps a settlement currency to its token contract
	Tokens map[string]TokenConfig `yaml:"tokens"`

	// MaxBatchItems caps the item count of a single batch
	MaxBatchItems int `yaml:"max_batch_items"`

	// StableCurrency and MaxStableAmount cap the aggregate amount of a
	// stable-denominated batch. The cap bounds the blast radius of a
	// misconfigured or compromised signer.
	StableCurrency  string  `yaml:"stable_currency"`
	MaxStableAmount float64 `yaml:"max_stable_amount"`
}

// DefaultConfig returns the rail defaults.
func DefaultConfig() Config {
	return Config{
		Chain:           "ethereum",
		ChainID:         1,
		RPCTimeout:      30 * time.Second,
		NativeSymbol:    "ETH",
		Tokens:          map[string]TokenConfig{},
		MaxBatchItems:   20,
		StableCurrency:  "USDT",
		MaxStableAmount: 50,
	}
}

// LoadConfig loads the rail configuration from a YAML file, with the signer
// key overridable from the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if key := os.Getenv("SETTLEMENT_EVM_PRIVATE_KEY"); key != "" {
		cfg.PrivateKey = key
	}

	if cfg.Enabled && cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc_url is required when the EVM rail is enabled")
	}
	if cfg.Enabled && cfg.PrivateKey == "" {
		return nil, fmt.Errorf("signer private key is required when the EVM rail is enabled")
	}

	return &cfg, nil
}
