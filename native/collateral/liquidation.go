package collateral

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"synthd/core/events"
	nativecommon "synthd/native/common"
	"synthd/observability"
)

// Liquidate lets the caller repay debtToCover of an undercollateralized
// user's debt in exchange for collateral of equal value plus the liquidation
// bonus. The target's health factor must strictly improve and the caller's
// own position must remain solvent.
//
// The seizure is not capped at the target's balance of the chosen token: if
// they hold too little of that specific asset the debit fails outright, even
// when another asset could cover the shortfall. That mirrors the upstream
// system's strict per-asset behavior.
func (e *Engine) Liquidate(caller, token, user common.Address, debtToCover *big.Int) (err error) {
	defer e.instrument("liquidate", time.Now(), &err)
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	if e.custody == nil {
		return ErrNilCustody
	}
	if e.debtToken == nil {
		return ErrNilDebtToken
	}
	if e.oracle == nil {
		return ErrNilPriceSource
	}
	if err := validAmount(debtToCover); err != nil {
		return err
	}
	if !e.isSupported(token) {
		return ErrTokenNotAllowed
	}

	target, err := e.loadPosition(user)
	if err != nil {
		return err
	}
	startHF, err := e.healthFactorFor(target)
	if err != nil {
		return err
	}
	if startHF.Cmp(minHealthFactor) >= 0 {
		return ErrHealthFactorOk
	}

	seizedBase, err := e.oracle.AmountFor(token, debtToCover)
	if err != nil {
		return err
	}
	bonus := new(big.Int).Mul(seizedBase, new(big.Int).SetUint64(e.params.LiquidationBonus))
	bonus.Quo(bonus, liquidationDenominator)
	totalSeized := new(big.Int).Add(seizedBase, bonus)

	snapshot := target.Clone()

	if err := e.debitCollateral(target, caller, token, totalSeized); err != nil {
		return err
	}
	if err := e.decreaseDebt(target, caller, debtToCover); err != nil {
		return err
	}
	endHF, err := e.healthFactorFor(target)
	if err != nil {
		return err
	}
	if endHF.Cmp(startHF) <= 0 {
		return ErrHealthFactorNotImproved
	}
	e.bufferEvent(events.PositionLiquidated{
		Liquidator:       caller,
		User:             user,
		Token:            token,
		DebtCovered:      debtToCover,
		CollateralSeized: totalSeized,
	})
	if err := e.state.PutPosition(user, target); err != nil {
		return err
	}

	// The liquidator is an engine user too; seizing collateral into their
	// wallet never touches their position, so the solvency check can run
	// before the token interactions.
	if caller == user {
		if err := e.assertSolvent(target); err != nil {
			return e.rollback(user, snapshot, err)
		}
	} else {
		callerPos, err := e.loadPosition(caller)
		if err != nil {
			return e.rollback(user, snapshot, err)
		}
		if err := e.assertSolvent(callerPos); err != nil {
			return e.rollback(user, snapshot, err)
		}
	}

	if err := e.debtToken.TransferFrom(caller, e.moduleAddress, debtToCover); err != nil {
		return e.rollback(user, snapshot, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	if err := e.debtToken.Burn(debtToCover); err != nil {
		cause := fmt.Errorf("%w: %v", ErrTransferFailed, err)
		if undo := e.debtToken.TransferFrom(e.moduleAddress, caller, debtToCover); undo != nil {
			cause = fmt.Errorf("%w; debt token return failed: %v", cause, undo)
		}
		return e.rollback(user, snapshot, cause)
	}
	if err := e.custody.Transfer(token, caller, totalSeized); err != nil {
		cause := fmt.Errorf("%w: %v", ErrTransferFailed, err)
		if undo := e.debtToken.Mint(caller, debtToCover); undo != nil {
			cause = fmt.Errorf("%w; debt token restore failed: %v", cause, undo)
		}
		return e.rollback(user, snapshot, cause)
	}

	e.flushEvents()
	seizedUnits, _ := new(big.Float).Quo(new(big.Float).SetInt(totalSeized), new(big.Float).SetInt(precision)).Float64()
	observability.Collateral().RecordLiquidation(token.Hex(), seizedUnits)
	return nil
}
