package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"synthd/storage"
)

var (
	ErrInvalidAmount       = errors.New("token ledger: amount must be positive")
	ErrInsufficientBalance = errors.New("token ledger: insufficient balance")
)

var balancePrefix = []byte("token/balance/")

// Ledger tracks balances per (token, account) pair over the key-value store.
// It backs both collateral custody and the synthetic-dollar token in the
// daemon, so engine custody balances and user wallets live in one place and
// conservation can be checked end to end.
type Ledger struct {
	db storage.Database
}

// NewLedger wraps the supplied database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func balanceKey(token, addr common.Address) []byte {
	key := append(append([]byte(nil), balancePrefix...), token.Bytes()...)
	key = append(key, '/')
	return append(key, addr.Bytes()...)
}

// BalanceOf returns the stored balance, defaulting to zero.
func (l *Ledger) BalanceOf(token, addr common.Address) (*big.Int, error) {
	raw, err := l.db.Get(balanceKey(token, addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("token ledger: load balance: %w", err)
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(raw, balance); err != nil {
		return nil, fmt.Errorf("token ledger: decode balance: %w", err)
	}
	return balance, nil
}

func (l *Ledger) putBalance(token, addr common.Address, balance *big.Int) error {
	raw, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return fmt.Errorf("token ledger: encode balance: %w", err)
	}
	return l.db.Put(balanceKey(token, addr), raw)
}

// Mint credits newly issued units to an account.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.BalanceOf(token, to)
	if err != nil {
		return err
	}
	return l.putBalance(token, to, new(big.Int).Add(balance, amount))
}

// Burn destroys units held by an account.
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.BalanceOf(token, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return l.putBalance(token, from, new(big.Int).Sub(balance, amount))
}

// Transfer moves units between accounts.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := l.BalanceOf(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.BalanceOf(token, to)
	if err != nil {
		return err
	}
	if err := l.putBalance(token, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.putBalance(token, to, new(big.Int).Add(toBalance, amount))
}

// Custody adapts the ledger to the engine's collateral custody interface.
// Transfers out of custody are drawn from the module address.
type Custody struct {
	ledger *Ledger
	module common.Address
}

// NewCustody binds the ledger to the engine's module address.
func NewCustody(ledger *Ledger, module common.Address) *Custody {
	return &Custody{ledger: ledger, module: module}
}

func (c *Custody) TransferFrom(token, from, to common.Address, amount *big.Int) error {
	return c.ledger.Transfer(token, from, to, amount)
}

func (c *Custody) Transfer(token, to common.Address, amount *big.Int) error {
	return c.ledger.Transfer(token, c.module, to, amount)
}

// Debt adapts the ledger to the engine's debt token interface for one fixed
// token address. Burn destroys units held at the module address.
type Debt struct {
	ledger *Ledger
	token  common.Address
	module common.Address
}

// NewDebt binds the synthetic-dollar token to the ledger.
func NewDebt(ledger *Ledger, tokenAddr, module common.Address) *Debt {
	return &Debt{ledger: ledger, token: tokenAddr, module: module}
}

func (d *Debt) Mint(to common.Address, amount *big.Int) error {
	return d.ledger.Mint(d.token, to, amount)
}

func (d *Debt) TransferFrom(from, to common.Address, amount *big.Int) error {
	return d.ledger.Transfer(d.token, from, to, amount)
}

func (d *Debt) Burn(amount *big.Int) error {
	return d.ledger.Burn(d.token, d.module, amount)
}

// Address returns the synthetic token address the Debt adapter is bound to.
func (d *Debt) Address() common.Address {
	return d.token
}
