package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"synthd/core/types"
)

const (
	// TypeCollateralDeposited is emitted when collateral is locked for a position.
	TypeCollateralDeposited = "collateral.deposited"
	// TypeCollateralRedeemed is emitted when collateral leaves a position. The
	// redeemed party and the beneficiary differ during liquidations.
	TypeCollateralRedeemed = "collateral.redeemed"
	// TypeDebtMinted is emitted when synthetic debt is issued against a position.
	TypeDebtMinted = "debt.minted"
	// TypeDebtBurned is emitted when synthetic debt is repaid and destroyed.
	TypeDebtBurned = "debt.burned"
	// TypePositionLiquidated is emitted when a third party unwinds an
	// undercollateralized position.
	TypePositionLiquidated = "collateral.liquidated"
)

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

type CollateralDeposited struct {
	User   common.Address
	Token  common.Address
	Amount *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"user":   e.User.Hex(),
			"token":  e.Token.Hex(),
			"amount": amountString(e.Amount),
		},
	}
}

type CollateralRedeemed struct {
	From   common.Address
	To     common.Address
	Token  common.Address
	Amount *big.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRedeemed,
		Attributes: map[string]string{
			"from":   e.From.Hex(),
			"to":     e.To.Hex(),
			"token":  e.Token.Hex(),
			"amount": amountString(e.Amount),
		},
	}
}

type DebtMinted struct {
	User   common.Address
	Amount *big.Int
}

func (DebtMinted) EventType() string { return TypeDebtMinted }

func (e DebtMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtMinted,
		Attributes: map[string]string{
			"user":   e.User.Hex(),
			"amount": amountString(e.Amount),
		},
	}
}

type DebtBurned struct {
	OnBehalfOf common.Address
	Payer      common.Address
	Amount     *big.Int
}

func (DebtBurned) EventType() string { return TypeDebtBurned }

func (e DebtBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtBurned,
		Attributes: map[string]string{
			"onBehalfOf": e.OnBehalfOf.Hex(),
			"payer":      e.Payer.Hex(),
			"amount":     amountString(e.Amount),
		},
	}
}

type PositionLiquidated struct {
	Liquidator       common.Address
	User             common.Address
	Token            common.Address
	DebtCovered      *big.Int
	CollateralSeized *big.Int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypePositionLiquidated,
		Attributes: map[string]string{
			"liquidator":       e.Liquidator.Hex(),
			"user":             e.User.Hex(),
			"token":            e.Token.Hex(),
			"debtCovered":      amountString(e.DebtCovered),
			"collateralSeized": amountString(e.CollateralSeized),
		},
	}
}
