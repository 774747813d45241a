package collateral

import (
	"math/big"
	"time"
)

const (
	// liquidationPrecision is the denominator applied to the liquidation
	// threshold and bonus percentages.
	liquidationPrecision = 100

	defaultLiquidationThreshold = 50
	defaultLiquidationBonus     = 10
	defaultMaxPriceAge          = time.Hour
)

var (
	// precision is the engine's internal fixed-point scale (1e18).
	precision = big.NewInt(1_000_000_000_000_000_000)
	// additionalFeedPrecision lifts 8-decimal feed answers to the internal
	// 1e18 scale.
	additionalFeedPrecision = big.NewInt(10_000_000_000)
	// minHealthFactor is 1.0 in internal fixed point. Positions with debt
	// must stay at or above it.
	minHealthFactor = new(big.Int).Set(precision)
	// maxHealthFactor saturates the ratio for debt-free positions instead of
	// dividing by zero. It is the unsigned 256-bit ceiling the wei math
	// already assumes.
	maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	liquidationDenominator = big.NewInt(liquidationPrecision)
)

// RiskParameters groups the solvency limits fixed at engine construction.
type RiskParameters struct {
	// LiquidationThreshold is the percentage of raw collateral value counted
	// toward solvency. 50 requires collateral worth twice the debt.
	LiquidationThreshold uint64
	// LiquidationBonus is the extra percentage of seized collateral awarded
	// to a liquidator. Zero means unset; Normalise raises it to the default,
	// so a no-bonus deployment is not expressible.
	LiquidationBonus uint64
	// MaxPriceAge bounds how old an oracle round may be before it is
	// rejected as stale.
	MaxPriceAge time.Duration
}

// Normalise applies defaults to unset parameters and clamps the threshold to
// the liquidation precision. Zero values count as unset, so the bonus floors
// at the default rather than supporting a zero-bonus configuration.
func (p RiskParameters) Normalise() RiskParameters {
	cfg := p
	if cfg.LiquidationThreshold == 0 {
		cfg.LiquidationThreshold = defaultLiquidationThreshold
	}
	if cfg.LiquidationThreshold > liquidationPrecision {
		cfg.LiquidationThreshold = liquidationPrecision
	}
	if cfg.LiquidationBonus == 0 {
		cfg.LiquidationBonus = defaultLiquidationBonus
	}
	if cfg.MaxPriceAge <= 0 {
		cfg.MaxPriceAge = defaultMaxPriceAge
	}
	return cfg
}

// MinimumHealthFactor exposes the solvency floor in internal fixed point.
func MinimumHealthFactor() *big.Int {
	return new(big.Int).Set(minHealthFactor)
}

// MaximumHealthFactor exposes the saturated ratio reported for debt-free
// positions.
func MaximumHealthFactor() *big.Int {
	return new(big.Int).Set(maxHealthFactor)
}
