package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"synthd/native/collateral"
)

// Config captures the runtime settings for the synthd daemon.
type Config struct {
	ListenAddress string          `toml:"ListenAddress"`
	DataDir       string          `toml:"DataDir"`
	APITokens     []string        `toml:"APITokens"`
	RateLimit     RateLimitConfig `toml:"ratelimit"`
	Engine        EngineConfig    `toml:"engine"`
	Collateral    []AssetEntry    `toml:"collateral"`
}

// RateLimitConfig throttles gateway clients.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// EngineConfig groups the engine's addresses and risk parameters. Omitted or
// zero risk values take the engine defaults (threshold 50, bonus 10, price
// age 1h); in particular LiquidationBonus cannot be configured to zero.
type EngineConfig struct {
	ModuleAddress        string `toml:"ModuleAddress"`
	DebtToken            string `toml:"DebtToken"`
	LiquidationThreshold uint64 `toml:"LiquidationThreshold"`
	LiquidationBonus     uint64 `toml:"LiquidationBonus"`
	MaxPriceAgeSeconds   int64  `toml:"MaxPriceAgeSeconds"`
}

// AssetEntry pairs a collateral token with its price feed. Entry order fixes
// the engine's valuation order.
type AssetEntry struct {
	Token string `toml:"Token"`
	Feed  string `toml:"Feed"`
}

// Load reads the TOML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8547",
		DataDir:       "./synthd-data",
	}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg = cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) normalize() Config {
	cfg := c
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8547"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "./synthd-data"
	}
	tokens := make([]string, 0, len(cfg.APITokens))
	for _, token := range cfg.APITokens {
		trimmed := strings.TrimSpace(token)
		if trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	cfg.APITokens = tokens
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Engine.MaxPriceAgeSeconds <= 0 {
		cfg.Engine.MaxPriceAgeSeconds = 3600
	}
	return cfg
}

// Validate rejects malformed addresses and an empty or duplicated collateral
// set. Config errors are fatal at construction time.
func (c Config) Validate() error {
	if _, err := parseAddress("engine.ModuleAddress", c.Engine.ModuleAddress); err != nil {
		return err
	}
	if _, err := parseAddress("engine.DebtToken", c.Engine.DebtToken); err != nil {
		return err
	}
	if c.Engine.LiquidationThreshold > 100 {
		return fmt.Errorf("engine.LiquidationThreshold must not exceed 100")
	}
	if len(c.Collateral) == 0 {
		return fmt.Errorf("at least one collateral entry required")
	}
	seen := make(map[common.Address]struct{}, len(c.Collateral))
	for i, entry := range c.Collateral {
		token, err := parseAddress(fmt.Sprintf("collateral[%d].Token", i), entry.Token)
		if err != nil {
			return err
		}
		if _, err := parseAddress(fmt.Sprintf("collateral[%d].Feed", i), entry.Feed); err != nil {
			return err
		}
		if _, ok := seen[token]; ok {
			return fmt.Errorf("collateral[%d]: duplicate token %s", i, token.Hex())
		}
		seen[token] = struct{}{}
	}
	return nil
}

// ModuleAddress returns the parsed engine custody address.
func (c Config) ModuleAddress() common.Address {
	return common.HexToAddress(c.Engine.ModuleAddress)
}

// DebtTokenAddress returns the parsed synthetic token address.
func (c Config) DebtTokenAddress() common.Address {
	return common.HexToAddress(c.Engine.DebtToken)
}

// CollateralPairs returns the token and feed lists in configured order.
func (c Config) CollateralPairs() ([]common.Address, []common.Address) {
	tokens := make([]common.Address, 0, len(c.Collateral))
	feeds := make([]common.Address, 0, len(c.Collateral))
	for _, entry := range c.Collateral {
		tokens = append(tokens, common.HexToAddress(entry.Token))
		feeds = append(feeds, common.HexToAddress(entry.Feed))
	}
	return tokens, feeds
}

// RiskParameters converts the engine section into engine parameters.
func (c Config) RiskParameters() collateral.RiskParameters {
	return collateral.RiskParameters{
		LiquidationThreshold: c.Engine.LiquidationThreshold,
		LiquidationBonus:     c.Engine.LiquidationBonus,
		MaxPriceAge:          time.Duration(c.Engine.MaxPriceAgeSeconds) * time.Second,
	}.Normalise()
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("%s required", field)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, value)
	}
	return common.HexToAddress(trimmed), nil
}
