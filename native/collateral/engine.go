package collateral

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"synthd/core/types"
	nativecommon "synthd/native/common"
	"synthd/observability"
)

const moduleName = "collateral"

// engineState abstracts position persistence. A nil position means the
// account has never touched the engine and is treated as all-zero.
type engineState interface {
	GetPosition(addr common.Address) (*Position, error)
	PutPosition(addr common.Address, pos *Position) error
}

// DebtToken is the external synthetic-dollar token consumed by the engine.
// Mint issues new units, TransferFrom pulls units into engine custody and
// Burn destroys units the engine holds.
type DebtToken interface {
	Mint(to common.Address, amount *big.Int) error
	TransferFrom(from, to common.Address, amount *big.Int) error
	Burn(amount *big.Int) error
}

// TokenCustody moves collateral tokens between accounts and the engine's
// module address.
type TokenCustody interface {
	TransferFrom(token, from, to common.Address, amount *big.Int) error
	Transfer(token, to common.Address, amount *big.Int) error
}

// EventSink receives the events of a completed operation. Events for failed
// operations are never delivered.
type EventSink interface {
	Emit(evt *types.Event)
}

type bufferedEvent interface {
	Event() *types.Event
}

// Engine orchestrates the synthetic-dollar position state machine: deposits,
// issuance, redemption, repayment and liquidation. Every mutation holds an
// exclusive non-reentrant lock, applies ledger effects before external token
// interactions and unwinds completely when any sub-step fails.
type Engine struct {
	mu        sync.Mutex
	state     engineState
	custody   TokenCustody
	debtToken DebtToken
	oracle    *OracleAdapter
	emitter   EventSink
	pauses    nativecommon.PauseView

	moduleAddress common.Address
	assets        []CollateralAsset
	supported     map[common.Address]struct{}
	params        RiskParameters

	pending []*types.Event
}

// NewEngine constructs an engine for the supplied collateral set. The token
// and feed lists are positional pairs and must have equal length; their order
// fixes the valuation order for the engine's lifetime.
func NewEngine(moduleAddr common.Address, tokens, feeds []common.Address, params RiskParameters) (*Engine, error) {
	if len(tokens) != len(feeds) {
		return nil, ErrTokenFeedLengthMismatch
	}
	assets := make([]CollateralAsset, 0, len(tokens))
	supported := make(map[common.Address]struct{}, len(tokens))
	for i, token := range tokens {
		assets = append(assets, CollateralAsset{Token: token, Feed: feeds[i]})
		supported[token] = struct{}{}
	}
	return &Engine{
		moduleAddress: moduleAddr,
		assets:        assets,
		supported:     supported,
		params:        params.Normalise(),
	}, nil
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody wires the collateral token custody collaborator.
func (e *Engine) SetCustody(custody TokenCustody) { e.custody = custody }

// SetDebtToken wires the synthetic-dollar token collaborator.
func (e *Engine) SetDebtToken(token DebtToken) { e.debtToken = token }

// SetEmitter wires the sink that receives events of successful operations.
func (e *Engine) SetEmitter(sink EventSink) { e.emitter = sink }

// SetPauses wires the administrative pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetPriceSource builds the oracle adapter over the supplied source using the
// engine's configured staleness window.
func (e *Engine) SetPriceSource(source PriceSource) {
	if e == nil {
		return
	}
	e.oracle = NewOracleAdapter(source, e.assets, e.params.MaxPriceAge)
}

// Params returns the normalized risk parameters.
func (e *Engine) Params() RiskParameters { return e.params }

// ModuleAddress returns the address holding engine custody balances.
func (e *Engine) ModuleAddress() common.Address { return e.moduleAddress }

func (e *Engine) isSupported(token common.Address) bool {
	_, ok := e.supported[token]
	return ok
}

// acquire takes the exclusive operation lock without blocking. External token
// calls can hand control to untrusted code while an operation is in flight;
// any attempt to reenter a mutation during that window fails immediately
// instead of interleaving.
func (e *Engine) acquire() error {
	if !e.mu.TryLock() {
		return ErrReentrantCall
	}
	e.pending = e.pending[:0]
	return nil
}

func (e *Engine) release() { e.mu.Unlock() }

func (e *Engine) bufferEvent(evt bufferedEvent) {
	e.pending = append(e.pending, evt.Event())
}

func (e *Engine) flushEvents() {
	if e.emitter != nil {
		for _, evt := range e.pending {
			e.emitter.Emit(evt)
		}
	}
	e.pending = e.pending[:0]
}

func (e *Engine) instrument(op string, start time.Time, err *error) {
	metrics := observability.Collateral()
	metrics.RecordOperation(op, *err)
	metrics.ObserveDuration(op, time.Since(start))
}

// loadPosition returns a private copy of the stored position, or a fresh
// all-zero position for unknown accounts.
func (e *Engine) loadPosition(addr common.Address) (*Position, error) {
	stored, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return NewPosition(addr), nil
	}
	pos := stored.Clone()
	pos.Owner = addr
	pos.normalize()
	return pos, nil
}

// rollback restores the pre-operation snapshot after a failed interaction and
// discards buffered events. The original cause is always surfaced.
func (e *Engine) rollback(addr common.Address, snapshot *Position, cause error) error {
	e.pending = e.pending[:0]
	if err := e.state.PutPosition(addr, snapshot); err != nil {
		return fmt.Errorf("%w; rollback failed: %v", cause, err)
	}
	return cause
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	return nil
}

// DepositCollateral locks amount units of token for the caller. Deposits can
// only improve solvency, so no health check runs.
func (e *Engine) DepositCollateral(caller, token common.Address, amount *big.Int) (err error) {
	defer e.instrument("deposit", time.Now(), &err)
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	return e.depositLocked(caller, token, amount)
}

func (e *Engine) depositLocked(caller, token common.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	if e.custody == nil {
		return ErrNilCustody
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if !e.isSupported(token) {
		return ErrTokenNotAllowed
	}

	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	snapshot := pos.Clone()

	e.creditCollateral(pos, token, amount)
	if err := e.state.PutPosition(caller, pos); err != nil {
		return err
	}
	if err := e.custody.TransferFrom(token, caller, e.moduleAddress, amount); err != nil {
		return e.rollback(caller, snapshot, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	e.flushEvents()
	return nil
}

// Mint issues synthetic debt against the caller's collateral. The position
// must remain solvent with the new debt included.
func (e *Engine) Mint(caller common.Address, amount *big.Int) (err error) {
	defer e.instrument("mint", time.Now(), &err)
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	return e.mintLocked(caller, amount)
}

func (e *Engine) mintLocked(caller common.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	if e.debtToken == nil {
		return ErrNilDebtToken
	}
	if e.oracle == nil {
		return ErrNilPriceSource
	}
	if err := validAmount(amount); err != nil {
		return err
	}

	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	snapshot := pos.Clone()

	e.increaseDebt(pos, amount)
	if err := e.assertSolvent(pos); err != nil {
		return err
	}
	if err := e.state.PutPosition(caller, pos); err != nil {
		return err
	}
	if err := e.debtToken.Mint(caller, amount); err != nil {
		return e.rollback(caller, snapshot, fmt.Errorf("%w: %v", ErrMintFailed, err))
	}
	e.flushEvents()
	return nil
}

// DepositCollateralAndMint composes a deposit and a mint into one atomic
// operation for the same caller.
func (e *Engine) DepositCollateralAndMint(caller, token common.Address, amount, debtAmount *big.Int) (err error) {
	defer e.instrument("deposit_and_mint", time.Now(), &err)
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
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := validAmount(debtAmount); err != nil {
		return err
	}
	if !e.isSupported(token) {
		return ErrTokenNotAllowed
	}

	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	snapshot := pos.Clone()

	e.creditCollateral(pos, token, amount)
	e.increaseDebt(pos, debtAmount)
	if err := e.assertSolvent(pos); err != nil {
		return err
	}
	if err := e.state.PutPosition(caller, pos); err != nil {
		return err
	}
	if err := e.custody.TransferFrom(token, caller, e.moduleAddress, amount); err != nil {
		return e.rollback(caller, snapshot, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	if err := e.debtToken.Mint(caller, debtAmount); err != nil {
		cause := fmt.Errorf("%w: %v", ErrMintFailed, err)
		if undo := e.custody.Transfer(token, caller, amount); undo != nil {
			cause = fmt.Errorf("%w; collateral return failed: %v", cause, undo)
		}
		return e.rollback(caller, snapshot, cause)
	}
	e.flushEvents()
	return nil
}

// RedeemCollateral releases collateral back to the caller while ensuring the
// remaining position stays solvent.
func (e *Engine) RedeemCollateral(caller, token common.Address, amount *big.Int) (err error) {
	defer e.instrument("redeem", time.Now(), &err)
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	return e.redeemLocked(caller, token, amount)
}

func (e *Engine) redeemLocked(caller, token common.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	if e.custody == nil {
		return ErrNilCustody
	}
	if e.oracle == nil {
		return ErrNilPriceSource
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if !e.isSupported(token) {
		return ErrTokenNotAllowed
	}

	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	snapshot := pos.Clone()

	if err := e.debitCollateral(pos, caller, token, amount); err != nil {
		return err
	}
	if err := e.assertSolvent(pos); err != nil {
		return err
	}
	if err := e.state.PutPosition(caller, pos); err != nil {
		return err
	}
	if err := e.custody.Transfer(token, caller, amount); err != nil {
		return e.rollback(caller, snapshot, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	e.flushEvents()
	return nil
}

// Burn repays the caller's synthetic debt: the tokens are pulled from the
// caller and destroyed. The trailing solvency check cannot fire in practice
// since burning only improves the ratio, but it stays for robustness.
func (e *Engine) Burn(caller common.Address, amount *big.Int) (err error) {
	defer e.instrument("burn", time.Now(), &err)
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	return e.burnLocked(caller, amount)
}

func (e *Engine) burnLocked(caller common.Address, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	if e.debtToken == nil {
		return ErrNilDebtToken
	}
	if err := validAmount(amount); err != nil {
		return err
	}

	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	snapshot := pos.Clone()

	if err := e.decreaseDebt(pos, caller, amount); err != nil {
		return err
	}
	if err := e.assertSolvent(pos); err != nil {
		return err
	}
	if err := e.state.PutPosition(caller, pos); err != nil {
		return err
	}
	if err := e.debtToken.TransferFrom(caller, e.moduleAddress, amount); err != nil {
		return e.rollback(caller, snapshot, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	if err := e.debtToken.Burn(amount); err != nil {
		cause := fmt.Errorf("%w: %v", ErrTransferFailed, err)
		if undo := e.debtToken.TransferFrom(e.moduleAddress, caller, amount); undo != nil {
			cause = fmt.Errorf("%w; debt token return failed: %v", cause, undo)
		}
		return e.rollback(caller, snapshot, cause)
	}
	e.flushEvents()
	return nil
}

// RedeemCollateralForDebt burns debt and releases collateral in one atomic
// operation: repay first, then withdraw against the reduced debt.
func (e *Engine) RedeemCollateralForDebt(caller, token common.Address, amount, debtAmount *big.Int) (err error) {
	defer e.instrument("redeem_for_debt", time.Now(), &err)
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
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := validAmount(debtAmount); err != nil {
		return err
	}
	if !e.isSupported(token) {
		return ErrTokenNotAllowed
	}

	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	snapshot := pos.Clone()

	if err := e.decreaseDebt(pos, caller, debtAmount); err != nil {
		return err
	}
	if err := e.debitCollateral(pos, caller, token, amount); err != nil {
		return err
	}
	if err := e.assertSolvent(pos); err != nil {
		return err
	}
	if err := e.state.PutPosition(caller, pos); err != nil {
		return err
	}
	if err := e.debtToken.TransferFrom(caller, e.moduleAddress, debtAmount); err != nil {
		return e.rollback(caller, snapshot, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	if err := e.debtToken.Burn(debtAmount); err != nil {
		cause := fmt.Errorf("%w: %v", ErrTransferFailed, err)
		if undo := e.debtToken.TransferFrom(e.moduleAddress, caller, debtAmount); undo != nil {
			cause = fmt.Errorf("%w; debt token return failed: %v", cause, undo)
		}
		return e.rollback(caller, snapshot, cause)
	}
	if err := e.custody.Transfer(token, caller, amount); err != nil {
		cause := fmt.Errorf("%w: %v", ErrTransferFailed, err)
		if undo := e.debtToken.Mint(caller, debtAmount); undo != nil {
			cause = fmt.Errorf("%w; debt token restore failed: %v", cause, undo)
		}
		return e.rollback(caller, snapshot, cause)
	}
	e.flushEvents()
	return nil
}

// --- Views. Reads observe committed state only, so they run without the
// operation lock. ---

// HealthFactor reports the solvency ratio for a user in 1e18 fixed point.
func (e *Engine) HealthFactor(user common.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	if e.oracle == nil {
		return nil, ErrNilPriceSource
	}
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	return e.healthFactorFor(pos)
}

// AccountInformation returns the user's outstanding debt and total collateral
// value in USD fixed point.
func (e *Engine) AccountInformation(user common.Address) (*big.Int, *big.Int, error) {
	if e.state == nil {
		return nil, nil, ErrNilState
	}
	if e.oracle == nil {
		return nil, nil, ErrNilPriceSource
	}
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, nil, err
	}
	value, err := e.totalCollateralValue(pos)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Set(pos.Debt), value, nil
}

// AccountCollateralValue sums the USD value of every supported asset the user
// holds.
func (e *Engine) AccountCollateralValue(user common.Address) (*big.Int, error) {
	_, value, err := e.AccountInformation(user)
	return value, err
}

// UsdValue converts a token amount to USD fixed point at the current price.
func (e *Engine) UsdValue(token common.Address, amount *big.Int) (*big.Int, error) {
	if e.oracle == nil {
		return nil, ErrNilPriceSource
	}
	return e.oracle.ValueOf(token, amount)
}

// TokenAmountFromUsd converts a USD fixed-point value to a token amount at
// the current price.
func (e *Engine) TokenAmountFromUsd(token common.Address, usdValue *big.Int) (*big.Int, error) {
	if e.oracle == nil {
		return nil, ErrNilPriceSource
	}
	return e.oracle.AmountFor(token, usdValue)
}

// CollateralTokens returns the supported collateral tokens in valuation
// order.
func (e *Engine) CollateralTokens() []common.Address {
	tokens := make([]common.Address, 0, len(e.assets))
	for _, asset := range e.assets {
		tokens = append(tokens, asset.Token)
	}
	return tokens
}

// CollateralBalanceOf reports the user's deposited amount of a token.
func (e *Engine) CollateralBalanceOf(user, token common.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	return pos.CollateralOf(token), nil
}
