package collateral

import (
	"math/big"
)

// healthFactorFor derives the solvency ratio of a position: collateral value
// scaled by the liquidation threshold, divided by outstanding debt, in 1e18
// fixed point. A debt-free position reports the saturated maximum so the
// ratio is never computed with a zero divisor.
func (e *Engine) healthFactorFor(pos *Position) (*big.Int, error) {
	if pos == nil || pos.Debt == nil || pos.Debt.Sign() == 0 {
		return new(big.Int).Set(maxHealthFactor), nil
	}
	collateralValue, err := e.totalCollateralValue(pos)
	if err != nil {
		return nil, err
	}
	threshold := new(big.Int).SetUint64(e.params.LiquidationThreshold)
	adjusted := new(big.Int).Mul(collateralValue, threshold)
	adjusted.Quo(adjusted, liquidationDenominator)
	ratio := new(big.Int).Mul(adjusted, precision)
	return ratio.Quo(ratio, pos.Debt), nil
}

// assertSolvent fails with BreaksHealthFactorError when the position carries
// debt and sits below the minimum health factor.
func (e *Engine) assertSolvent(pos *Position) error {
	hf, err := e.healthFactorFor(pos)
	if err != nil {
		return err
	}
	if hf.Cmp(minHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: hf}
	}
	return nil
}
