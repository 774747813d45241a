package storage

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"synthd/native/collateral"
)

var positionPrefix = []byte("collateral/position/")

// storedCollateralEntry is the persisted form of one collateral balance.
// Entries are sorted by token so the encoding is deterministic.
type storedCollateralEntry struct {
	Token  [20]byte
	Amount *big.Int
}

type storedPosition struct {
	Owner      [20]byte
	Collateral []storedCollateralEntry
	Debt       *big.Int
}

// PositionStore persists engine positions as RLP records in the key-value
// store. A missing key reads back as a nil position, which the engine treats
// as all-zero.
type PositionStore struct {
	db Database
}

// NewPositionStore wraps the supplied database.
func NewPositionStore(db Database) *PositionStore {
	return &PositionStore{db: db}
}

func positionKey(addr common.Address) []byte {
	return append(append([]byte(nil), positionPrefix...), addr.Bytes()...)
}

// GetPosition loads the stored position for an address.
func (s *PositionStore) GetPosition(addr common.Address) (*collateral.Position, error) {
	raw, err := s.db.Get(positionKey(addr))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load position: %w", err)
	}
	var stored storedPosition
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("storage: decode position: %w", err)
	}
	pos := collateral.NewPosition(common.BytesToAddress(stored.Owner[:]))
	for _, entry := range stored.Collateral {
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			continue
		}
		pos.Collateral[common.BytesToAddress(entry.Token[:])] = new(big.Int).Set(entry.Amount)
	}
	if stored.Debt != nil {
		pos.Debt = new(big.Int).Set(stored.Debt)
	}
	return pos, nil
}

// PutPosition writes the position, dropping zero balances from the record.
func (s *PositionStore) PutPosition(addr common.Address, pos *collateral.Position) error {
	if pos == nil {
		return fmt.Errorf("storage: nil position for %s", addr.Hex())
	}
	stored := storedPosition{Debt: big.NewInt(0)}
	copy(stored.Owner[:], addr.Bytes())
	if pos.Debt != nil {
		stored.Debt = new(big.Int).Set(pos.Debt)
	}
	for token, amount := range pos.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		entry := storedCollateralEntry{Amount: new(big.Int).Set(amount)}
		copy(entry.Token[:], token.Bytes())
		stored.Collateral = append(stored.Collateral, entry)
	}
	sort.Slice(stored.Collateral, func(i, j int) bool {
		return bytes.Compare(stored.Collateral[i].Token[:], stored.Collateral[j].Token[:]) < 0
	})
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("storage: encode position: %w", err)
	}
	return s.db.Put(positionKey(addr), raw)
}
