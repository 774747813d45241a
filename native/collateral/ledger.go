package collateral

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"synthd/core/events"
)

// The ledger helpers mutate an in-memory position under the engine lock and
// buffer the matching event. They never touch persistence or external
// custody; the orchestrator persists the position and performs interactions
// afterwards so a failed interaction can discard the whole mutation.

func (e *Engine) creditCollateral(pos *Position, token common.Address, amount *big.Int) {
	current, ok := pos.Collateral[token]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	pos.Collateral[token] = new(big.Int).Add(current, amount)
	e.bufferEvent(events.CollateralDeposited{User: pos.Owner, Token: token, Amount: amount})
}

func (e *Engine) debitCollateral(pos *Position, to common.Address, token common.Address, amount *big.Int) error {
	current, ok := pos.Collateral[token]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	if current.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	pos.Collateral[token] = new(big.Int).Sub(current, amount)
	e.bufferEvent(events.CollateralRedeemed{From: pos.Owner, To: to, Token: token, Amount: amount})
	return nil
}

func (e *Engine) increaseDebt(pos *Position, amount *big.Int) {
	pos.Debt = new(big.Int).Add(pos.Debt, amount)
	e.bufferEvent(events.DebtMinted{User: pos.Owner, Amount: amount})
}

func (e *Engine) decreaseDebt(pos *Position, payer common.Address, amount *big.Int) error {
	if pos.Debt.Cmp(amount) < 0 {
		return ErrInsufficientDebt
	}
	pos.Debt = new(big.Int).Sub(pos.Debt, amount)
	e.bufferEvent(events.DebtBurned{OnBehalfOf: pos.Owner, Payer: payer, Amount: amount})
	return nil
}

// totalCollateralValue sums the USD value of every supported asset held by
// the position. Iteration follows the construction-time asset order so
// valuation stays deterministic.
func (e *Engine) totalCollateralValue(pos *Position) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range e.assets {
		amount, ok := pos.Collateral[asset.Token]
		if !ok || amount == nil || amount.Sign() == 0 {
			continue
		}
		value, err := e.oracle.ValueOf(asset.Token, amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}
