package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	yaml "gopkg.in/yaml.v2"
)

// TokenClass orders tokens for flash-borrow selection. Lower is preferred.
type TokenClass int

const (
	ClassWrappedNative TokenClass = iota
	ClassStable
	ClassMajor
	ClassUnranked
)

// RankedToken is one entry of the injected token ranking policy.
type RankedToken struct {
	Token common.Address
	Class TokenClass
	Rank  int
}

// Config is the file form of the engine configuration.
type Config struct {
	// Authority is the single address allowed to mutate runtime settings.
	Authority string `json:"authority" yaml:"authority"`

	// Executor is the ledger identity the router and engine act as.
	Executor string `json:"executor" yaml:"executor"`

	// Whitelist of callers allowed to start a flash loan. The authority is
	// always allowed.
	Whitelist []string `json:"whitelist" yaml:"whitelist"`

	// Execution limits
	ExecutionWindow    time.Duration `json:"execution_window" yaml:"execution_window"`
	MaxBatchSize       int           `json:"max_batch_size" yaml:"max_batch_size"`
	MinProfitThreshold string        `json:"min_profit_threshold" yaml:"min_profit_threshold"`
	MaxGasPrice        string        `json:"max_gas_price" yaml:"max_gas_price"`

	// Mode toggles
	UltraAggressiveEnabled bool `json:"ultra_aggressive_enabled" yaml:"ultra_aggressive_enabled"`
	BatchEnabled           bool `json:"batch_enabled" yaml:"batch_enabled"`

	// Router throttle
	RateLimitPerSecond float64 `json:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `json:"rate_limit_burst" yaml:"rate_limit_burst"`

	// Provider contract addresses, keyed "aave", "balancer", "univ3".
	Providers map[string]string `json:"providers" yaml:"providers"`

	// Pools seeded into the substrate at startup.
	Pools []PoolEntry `json:"pools" yaml:"pools"`

	// Known competitor addresses.
	Competitors []string `json:"competitors" yaml:"competitors"`

	// Token ranking policy for flash-borrow selection.
	TokenRanking []TokenRankingEntry `json:"token_ranking" yaml:"token_ranking"`
}

// PoolEntry is the file form of one pool definition. FeeTier applies to
// concentrated pools, Amp to stable pools.
type PoolEntry struct {
	Address string `json:"address" yaml:"address"`
	Kind    string `json:"kind" yaml:"kind"` // constant_product, concentrated, stable
	Token0  string `json:"token0" yaml:"token0"`
	Token1  string `json:"token1" yaml:"token1"`
	FeeTier uint32 `json:"fee_tier" yaml:"fee_tier"`
	Amp     int64  `json:"amp" yaml:"amp"`
}

// TokenRankingEntry is the file form of one ranking row.
type TokenRankingEntry struct {
	Token string `json:"token" yaml:"token"`
	Class string `json:"class" yaml:"class"` // wrapped_native, stable, major
	Rank  int    `json:"rank" yaml:"rank"`
}

// DefaultConfig returns a config with safe execution limits and all optional
// modes disabled.
func DefaultConfig() *Config {
	return &Config{
		ExecutionWindow:    30 * time.Second,
		MaxBatchSize:       10,
		MinProfitThreshold: "0",
		RateLimitPerSecond: 50,
		RateLimitBurst:     10,
		Providers:          make(map[string]string),
	}
}

// LoadConfig reads a JSON or YAML config file. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values before they reach the store.
func (c *Config) Validate() error {
	if c.ExecutionWindow <= 0 {
		return fmt.Errorf("execution_window must be positive")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}
	if c.MinProfitThreshold != "" {
		if _, ok := new(big.Int).SetString(c.MinProfitThreshold, 10); !ok {
			return fmt.Errorf("min_profit_threshold is not a decimal integer")
		}
	}
	if c.MaxGasPrice != "" {
		if _, ok := new(big.Int).SetString(c.MaxGasPrice, 10); !ok {
			return fmt.Errorf("max_gas_price is not a decimal integer")
		}
	}
	for _, e := range c.TokenRanking {
		switch e.Class {
		case "wrapped_native", "stable", "major":
		default:
			return fmt.Errorf("unknown token class %q", e.Class)
		}
	}
	for _, p := range c.Pools {
		switch p.Kind {
		case "constant_product":
		case "concentrated":
			if p.FeeTier == 0 {
				return fmt.Errorf("concentrated pool %s needs a fee_tier", p.Address)
			}
		case "stable":
			if p.Amp <= 0 {
				return fmt.Errorf("stable pool %s needs a positive amp", p.Address)
			}
		default:
			return fmt.Errorf("unknown pool kind %q", p.Kind)
		}
	}
	return nil
}

// Ranking converts the file entries into the typed policy.
func (c *Config) Ranking() []RankedToken {
	out := make([]RankedToken, 0, len(c.TokenRanking))
	for _, e := range c.TokenRanking {
		class := ClassUnranked
		switch e.Class {
		case "wrapped_native":
			class = ClassWrappedNative
		case "stable":
			class = ClassStable
		case "major":
			class = ClassMajor
		}
		out = append(out, RankedToken{
			Token: common.HexToAddress(e.Token),
			Class: class,
			Rank:  e.Rank,
		})
	}
	return out
}
