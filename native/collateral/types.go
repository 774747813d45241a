package collateral

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralAsset pairs a supported collateral token with the price feed that
// values it. The supported set is fixed at engine construction.
type CollateralAsset struct {
	Token common.Address
	Feed  common.Address
}

// Position tracks the collateral and synthetic debt of a single account.
// Absence of a stored position is equivalent to an all-zero position; entries
// are created implicitly on first deposit or mint and never deleted.
type Position struct {
	Owner common.Address
	// Collateral maps a supported token to the amount deposited, in the
	// token's native units.
	Collateral map[common.Address]*big.Int
	// Debt is the outstanding synthetic-dollar amount minted against the
	// position, in 1e18 fixed point.
	Debt *big.Int
}

// NewPosition returns an empty position for the supplied owner.
func NewPosition(owner common.Address) *Position {
	return &Position{
		Owner:      owner,
		Collateral: make(map[common.Address]*big.Int),
		Debt:       big.NewInt(0),
	}
}

// Clone returns a deep copy so callers can snapshot a position before
// mutating it.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := NewPosition(p.Owner)
	for token, amount := range p.Collateral {
		if amount == nil {
			continue
		}
		clone.Collateral[token] = new(big.Int).Set(amount)
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	return clone
}

// CollateralOf reports the deposited amount for a token, defaulting to zero.
func (p *Position) CollateralOf(token common.Address) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	amount, ok := p.Collateral[token]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

func (p *Position) normalize() {
	if p.Collateral == nil {
		p.Collateral = make(map[common.Address]*big.Int)
	}
	if p.Debt == nil {
		p.Debt = big.NewInt(0)
	}
}
