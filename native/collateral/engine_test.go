package collateral

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"synthd/core/types"
)

var (
	moduleAddr = common.HexToAddress("0x00000000000000000000000000000000000c011a")
	alice      = common.HexToAddress("0xa000000000000000000000000000000000000001")
	bob        = common.HexToAddress("0xb000000000000000000000000000000000000002")
)

// stubState keeps positions in memory the way the persistence layer would.
type stubState struct {
	positions map[common.Address]*Position
	failPut   bool
}

func newStubState() *stubState {
	return &stubState{positions: make(map[common.Address]*Position)}
}

func (s *stubState) GetPosition(addr common.Address) (*Position, error) {
	pos, ok := s.positions[addr]
	if !ok {
		return nil, nil
	}
	return pos.Clone(), nil
}

func (s *stubState) PutPosition(addr common.Address, pos *Position) error {
	if s.failPut {
		return errors.New("state unavailable")
	}
	s.positions[addr] = pos.Clone()
	return nil
}

type stubCustody struct {
	failTransferFrom bool
	failTransfer     bool
	onTransferFrom   func() error
	pulled           *big.Int
	released         *big.Int
}

func (c *stubCustody) TransferFrom(token, from, to common.Address, amount *big.Int) error {
	if c.onTransferFrom != nil {
		if err := c.onTransferFrom(); err != nil {
			return err
		}
	}
	if c.failTransferFrom {
		return errors.New("pull rejected")
	}
	c.pulled = new(big.Int).Set(amount)
	return nil
}

func (c *stubCustody) Transfer(token, to common.Address, amount *big.Int) error {
	if c.failTransfer {
		return errors.New("release rejected")
	}
	c.released = new(big.Int).Set(amount)
	return nil
}

type stubDebtToken struct {
	failMint   bool
	failPull   bool
	failBurn   bool
	minted     *big.Int
	burned     *big.Int
	mintedBack *big.Int
}

func (d *stubDebtToken) Mint(to common.Address, amount *big.Int) error {
	if d.failMint {
		return errors.New("mint rejected")
	}
	if d.minted == nil {
		d.minted = new(big.Int).Set(amount)
	} else {
		d.mintedBack = new(big.Int).Set(amount)
	}
	return nil
}

func (d *stubDebtToken) TransferFrom(from, to common.Address, amount *big.Int) error {
	if d.failPull {
		return errors.New("debt pull rejected")
	}
	return nil
}

func (d *stubDebtToken) Burn(amount *big.Int) error {
	if d.failBurn {
		return errors.New("burn rejected")
	}
	d.burned = new(big.Int).Set(amount)
	return nil
}

type capturingSink struct {
	events []*types.Event
}

func (c *capturingSink) Emit(evt *types.Event) { c.events = append(c.events, evt) }

type engineFixture struct {
	engine  *Engine
	state   *stubState
	custody *stubCustody
	debt    *stubDebtToken
	prices  *ManualSource
	sink    *capturingSink
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	engine, err := NewEngine(moduleAddr, []common.Address{testToken}, []common.Address{testFeed}, RiskParameters{
		LiquidationThreshold: 50,
		LiquidationBonus:     10,
		MaxPriceAge:          time.Hour,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	fx := &engineFixture{
		engine:  engine,
		state:   newStubState(),
		custody: &stubCustody{},
		debt:    &stubDebtToken{},
		prices:  NewManualSource(),
		sink:    &capturingSink{},
	}
	fx.prices.SetPrice(testFeed, feedAnswer(2000), time.Now())
	engine.SetState(fx.state)
	engine.SetCustody(fx.custody)
	engine.SetDebtToken(fx.debt)
	engine.SetEmitter(fx.sink)
	engine.SetPriceSource(fx.prices)
	return fx
}

func (fx *engineFixture) mustDeposit(t *testing.T, user common.Address, amount *big.Int) {
	t.Helper()
	if err := fx.engine.DepositCollateral(user, testToken, amount); err != nil {
		t.Fatalf("DepositCollateral: %v", err)
	}
}

func (fx *engineFixture) mustMint(t *testing.T, user common.Address, amount *big.Int) {
	t.Helper()
	if err := fx.engine.Mint(user, amount); err != nil {
		t.Fatalf("Mint: %v", err)
	}
}

func usd(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), precision)
}

func TestNewEngineRejectsMismatchedFeeds(t *testing.T) {
	_, err := NewEngine(moduleAddr, []common.Address{testToken}, nil, RiskParameters{})
	if !errors.Is(err, ErrTokenFeedLengthMismatch) {
		t.Fatalf("err = %v, want ErrTokenFeedLengthMismatch", err)
	}
}

func TestDepositCollateralRecordsBalance(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(10))

	balance, err := fx.engine.CollateralBalanceOf(alice, testToken)
	if err != nil {
		t.Fatalf("CollateralBalanceOf: %v", err)
	}
	if balance.Cmp(wholeUnits(10)) != 0 {
		t.Fatalf("balance = %s, want %s", balance, wholeUnits(10))
	}
	if fx.custody.pulled == nil || fx.custody.pulled.Cmp(wholeUnits(10)) != 0 {
		t.Fatalf("custody pulled %v, want %s", fx.custody.pulled, wholeUnits(10))
	}
	if len(fx.sink.events) != 1 || fx.sink.events[0].Type != "collateral.deposited" {
		t.Fatalf("events = %+v, want one collateral.deposited", fx.sink.events)
	}
}

func TestDepositCollateralValidation(t *testing.T) {
	fx := newEngineFixture(t)
	if err := fx.engine.DepositCollateral(alice, testToken, big.NewInt(0)); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("zero amount: err = %v, want ErrAmountZero", err)
	}
	if err := fx.engine.DepositCollateral(alice, testToken, nil); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("nil amount: err = %v, want ErrAmountZero", err)
	}
	other := common.HexToAddress("0x4000000000000000000000000000000000000004")
	if err := fx.engine.DepositCollateral(alice, other, wholeUnits(1)); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("unsupported token: err = %v, want ErrTokenNotAllowed", err)
	}
}

func TestDepositRollsBackWhenPullFails(t *testing.T) {
	fx := newEngineFixture(t)
	fx.custody.failTransferFrom = true

	err := fx.engine.DepositCollateral(alice, testToken, wholeUnits(10))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	balance, err := fx.engine.CollateralBalanceOf(alice, testToken)
	if err != nil {
		t.Fatalf("CollateralBalanceOf: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("balance = %s after failed deposit, want 0", balance)
	}
	if len(fx.sink.events) != 0 {
		t.Fatalf("events leaked on failure: %+v", fx.sink.events)
	}
}

func TestMintWithinThreshold(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(10)) // $20,000 of collateral
	fx.mustMint(t, alice, usd(9000))

	hf, err := fx.engine.HealthFactor(alice)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	// 10,000 adjusted collateral against 9,000 debt.
	want := new(big.Int).Quo(new(big.Int).Mul(usd(10000), precision), usd(9000))
	if hf.Cmp(want) != 0 {
		t.Fatalf("hf = %s, want %s", hf, want)
	}
	if fx.debt.minted == nil || fx.debt.minted.Cmp(usd(9000)) != 0 {
		t.Fatalf("minted = %v, want %s", fx.debt.minted, usd(9000))
	}
}

func TestMintBeyondThresholdBreaksHealthFactor(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(10))
	fx.mustMint(t, alice, usd(9000))

	err := fx.engine.Mint(alice, usd(1001))
	var breaks *BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("err = %v, want BreaksHealthFactorError", err)
	}
	if breaks.HealthFactor.Cmp(minHealthFactor) >= 0 {
		t.Fatalf("reported hf %s not below the minimum", breaks.HealthFactor)
	}
	debt, _, err := fx.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("AccountInformation: %v", err)
	}
	if debt.Cmp(usd(9000)) != 0 {
		t.Fatalf("debt = %s after rejected mint, want %s", debt, usd(9000))
	}
}

func TestMintRollsBackWhenTokenMintFails(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(10))
	fx.debt.failMint = true

	err := fx.engine.Mint(alice, usd(100))
	if !errors.Is(err, ErrMintFailed) {
		t.Fatalf("err = %v, want ErrMintFailed", err)
	}
	debt, _, err := fx.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("AccountInformation: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("debt = %s after failed mint, want 0", debt)
	}
}

func TestDepositCollateralAndMintUnwindsDepositOnMintFailure(t *testing.T) {
	fx := newEngineFixture(t)
	fx.debt.failMint = true

	err := fx.engine.DepositCollateralAndMint(alice, testToken, wholeUnits(10), usd(100))
	if !errors.Is(err, ErrMintFailed) {
		t.Fatalf("err = %v, want ErrMintFailed", err)
	}
	// Pulled collateral must have been returned.
	if fx.custody.released == nil || fx.custody.released.Cmp(wholeUnits(10)) != 0 {
		t.Fatalf("collateral returned = %v, want %s", fx.custody.released, wholeUnits(10))
	}
	balance, err := fx.engine.CollateralBalanceOf(alice, testToken)
	if err != nil {
		t.Fatalf("CollateralBalanceOf: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("balance = %s after unwound deposit, want 0", balance)
	}
}

func TestRedeemCollateralKeepsPositionSolvent(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(10))
	fx.mustMint(t, alice, usd(9000))

	// Redeeming a single unit would drop adjusted collateral to 9,000 against
	// 9,000 debt; the ratio holds exactly at the minimum.
	if err := fx.engine.RedeemCollateral(alice, testToken, wholeUnits(1)); err != nil {
		t.Fatalf("RedeemCollateral: %v", err)
	}
	// Anything more breaks it.
	err := fx.engine.RedeemCollateral(alice, testToken, wholeUnits(1))
	var breaks *BreaksHealthFactorError
	if !errors.As(err, &breaks) {
		t.Fatalf("err = %v, want BreaksHealthFactorError", err)
	}
}

func TestRedeemCollateralInsufficientBalance(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(2))
	if err := fx.engine.RedeemCollateral(alice, testToken, wholeUnits(3)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("err = %v, want ErrInsufficientCollateral", err)
	}
}

func TestBurnReducesDebt(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(10))
	fx.mustMint(t, alice, usd(9000))

	if err := fx.engine.Burn(alice, usd(4000)); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	debt, _, err := fx.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("AccountInformation: %v", err)
	}
	if debt.Cmp(usd(5000)) != 0 {
		t.Fatalf("debt = %s, want %s", debt, usd(5000))
	}
	if fx.debt.burned == nil || fx.debt.burned.Cmp(usd(4000)) != 0 {
		t.Fatalf("burned = %v, want %s", fx.debt.burned, usd(4000))
	}
}

func TestBurnMoreThanOwed(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(10))
	fx.mustMint(t, alice, usd(100))
	if err := fx.engine.Burn(alice, usd(200)); !errors.Is(err, ErrInsufficientDebt) {
		t.Fatalf("err = %v, want ErrInsufficientDebt", err)
	}
}

func TestRedeemCollateralForDebt(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(10))
	fx.mustMint(t, alice, usd(9000))

	// Repay everything and withdraw everything in one step.
	if err := fx.engine.RedeemCollateralForDebt(alice, testToken, wholeUnits(10), usd(9000)); err != nil {
		t.Fatalf("RedeemCollateralForDebt: %v", err)
	}
	debt, value, err := fx.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("AccountInformation: %v", err)
	}
	if debt.Sign() != 0 || value.Sign() != 0 {
		t.Fatalf("debt = %s, value = %s after full exit, want zeros", debt, value)
	}
}

func TestHealthFactorSaturatesWithoutDebt(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(10))

	hf, err := fx.engine.HealthFactor(alice)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if hf.Cmp(maxHealthFactor) != 0 {
		t.Fatalf("hf = %s, want saturated maximum", hf)
	}
}

func TestAccountInformationValuesCollateral(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(15))

	_, value, err := fx.engine.AccountInformation(alice)
	if err != nil {
		t.Fatalf("AccountInformation: %v", err)
	}
	if value.Cmp(usd(30000)) != 0 {
		t.Fatalf("value = %s, want %s", value, usd(30000))
	}
}

func TestMintRejectsStalePrice(t *testing.T) {
	fx := newEngineFixture(t)
	fx.mustDeposit(t, alice, wholeUnits(10))
	fx.prices.SetPrice(testFeed, feedAnswer(2000), time.Now().Add(-2*time.Hour))

	if err := fx.engine.Mint(alice, usd(100)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("err = %v, want ErrStalePrice", err)
	}
}

func TestReentrantMutationRejected(t *testing.T) {
	fx := newEngineFixture(t)
	var inner error
	fx.custody.onTransferFrom = func() error {
		inner = fx.engine.Mint(alice, usd(1))
		return inner
	}

	err := fx.engine.DepositCollateral(alice, testToken, wholeUnits(1))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed wrapping the callback failure", err)
	}
	if !errors.Is(inner, ErrReentrantCall) {
		t.Fatalf("inner = %v, want ErrReentrantCall", inner)
	}
	balance, err := fx.engine.CollateralBalanceOf(alice, testToken)
	if err != nil {
		t.Fatalf("CollateralBalanceOf: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("balance = %s after rejected reentrant deposit, want 0", balance)
	}
}

func TestEngineRequiresWiring(t *testing.T) {
	engine, err := NewEngine(moduleAddr, []common.Address{testToken}, []common.Address{testFeed}, RiskParameters{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := engine.DepositCollateral(alice, testToken, wholeUnits(1)); !errors.Is(err, ErrNilState) {
		t.Fatalf("err = %v, want ErrNilState", err)
	}
	engine.SetState(newStubState())
	if err := engine.DepositCollateral(alice, testToken, wholeUnits(1)); !errors.Is(err, ErrNilCustody) {
		t.Fatalf("err = %v, want ErrNilCustody", err)
	}
	if err := engine.Mint(alice, usd(1)); !errors.Is(err, ErrNilDebtToken) {
		t.Fatalf("err = %v, want ErrNilDebtToken", err)
	}
	engine.SetDebtToken(&stubDebtToken{})
	if err := engine.Mint(alice, usd(1)); !errors.Is(err, ErrNilPriceSource) {
		t.Fatalf("err = %v, want ErrNilPriceSource", err)
	}
}

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }

func TestPausedModuleRejectsMutations(t *testing.T) {
	fx := newEngineFixture(t)
	fx.engine.SetPauses(pauseAll{})
	err := fx.engine.DepositCollateral(alice, testToken, wholeUnits(1))
	if err == nil {
		t.Fatal("expected pause error")
	}
}
