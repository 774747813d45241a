package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"synthd/storage"
)

var (
	weth   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	dsc    = common.HexToAddress("0x1000000000000000000000000000000000000009")
	module = common.HexToAddress("0x00000000000000000000000000000000000c011a")
	alice  = common.HexToAddress("0xa000000000000000000000000000000000000001")
	bob    = common.HexToAddress("0xb000000000000000000000000000000000000002")
)

func TestLedgerMintAndBalance(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	if err := ledger.Mint(weth, alice, big.NewInt(100)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	balance, err := ledger.BalanceOf(weth, alice)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance = %s, want 100", balance)
	}
	// Unknown accounts read as zero.
	balance, err = ledger.BalanceOf(weth, bob)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("balance = %s, want 0", balance)
	}
}

func TestLedgerTransfer(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	if err := ledger.Mint(weth, alice, big.NewInt(100)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := ledger.Transfer(weth, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	from, _ := ledger.BalanceOf(weth, alice)
	to, _ := ledger.BalanceOf(weth, bob)
	if from.Cmp(big.NewInt(60)) != 0 || to.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("balances = %s/%s, want 60/40", from, to)
	}
	if err := ledger.Transfer(weth, alice, bob, big.NewInt(1000)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestLedgerBurn(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	if err := ledger.Mint(weth, alice, big.NewInt(100)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := ledger.Burn(weth, alice, big.NewInt(30)); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	balance, _ := ledger.BalanceOf(weth, alice)
	if balance.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("balance = %s, want 70", balance)
	}
	if err := ledger.Burn(weth, alice, big.NewInt(100)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	if err := ledger.Mint(weth, alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("mint zero: err = %v, want ErrInvalidAmount", err)
	}
	if err := ledger.Transfer(weth, alice, bob, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("transfer nil: err = %v, want ErrInvalidAmount", err)
	}
	if err := ledger.Burn(weth, alice, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("burn negative: err = %v, want ErrInvalidAmount", err)
	}
}

func TestCustodyTransfersDrawFromModule(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	custody := NewCustody(ledger, module)

	if err := ledger.Mint(weth, alice, big.NewInt(100)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := custody.TransferFrom(weth, alice, module, big.NewInt(100)); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if err := custody.Transfer(weth, bob, big.NewInt(25)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	held, _ := ledger.BalanceOf(weth, module)
	received, _ := ledger.BalanceOf(weth, bob)
	if held.Cmp(big.NewInt(75)) != 0 || received.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("balances = %s/%s, want 75/25", held, received)
	}
}

func TestDebtAdapterLifecycle(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB())
	debt := NewDebt(ledger, dsc, module)

	if debt.Address() != dsc {
		t.Fatalf("address = %s, want %s", debt.Address().Hex(), dsc.Hex())
	}
	if err := debt.Mint(alice, big.NewInt(500)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := debt.TransferFrom(alice, module, big.NewInt(200)); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if err := debt.Burn(big.NewInt(200)); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	remaining, _ := ledger.BalanceOf(dsc, alice)
	atModule, _ := ledger.BalanceOf(dsc, module)
	if remaining.Cmp(big.NewInt(300)) != 0 || atModule.Sign() != 0 {
		t.Fatalf("balances = %s/%s, want 300/0", remaining, atModule)
	}
	// Burning more than custody holds fails.
	if err := debt.Burn(big.NewInt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}
