package collateral

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceRound is a single oracle observation: the USD price of one whole token
// expressed with 8 decimals, and the time the feed last updated.
type PriceRound struct {
	Answer    *big.Int
	UpdatedAt time.Time
}

// PriceSource resolves the latest round for a price feed. Implementations are
// external collaborators; the adapter below owns staleness and scaling.
type PriceSource interface {
	LatestRound(feed common.Address) (PriceRound, error)
}

// OracleAdapter converts between native token amounts and the engine's 1e18
// USD fixed point using per-token price feeds. A round older than maxAge is
// rejected rather than silently used.
type OracleAdapter struct {
	source PriceSource
	feeds  map[common.Address]common.Address
	maxAge time.Duration
	now    func() time.Time
}

// NewOracleAdapter wires a price source to the supported asset set.
func NewOracleAdapter(source PriceSource, assets []CollateralAsset, maxAge time.Duration) *OracleAdapter {
	feeds := make(map[common.Address]common.Address, len(assets))
	for _, asset := range assets {
		feeds[asset.Token] = asset.Feed
	}
	return &OracleAdapter{
		source: source,
		feeds:  feeds,
		maxAge: maxAge,
		now:    time.Now,
	}
}

func (o *OracleAdapter) freshPrice(token common.Address) (*big.Int, error) {
	if o == nil || o.source == nil {
		return nil, ErrNilPriceSource
	}
	feed, ok := o.feeds[token]
	if !ok {
		return nil, ErrTokenNotAllowed
	}
	round, err := o.source.LatestRound(feed)
	if err != nil {
		return nil, fmt.Errorf("collateral engine: read price feed: %w", err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if o.maxAge > 0 && o.now().Sub(round.UpdatedAt) > o.maxAge {
		return nil, ErrStalePrice
	}
	return round.Answer, nil
}

// ValueOf returns the USD value of amount units of token in 1e18 fixed point.
func (o *OracleAdapter) ValueOf(token common.Address, amount *big.Int) (*big.Int, error) {
	price, err := o.freshPrice(token)
	if err != nil {
		return nil, err
	}
	if amount == nil {
		return big.NewInt(0), nil
	}
	scaled := new(big.Int).Mul(price, additionalFeedPrecision)
	value := new(big.Int).Mul(scaled, amount)
	return value.Quo(value, precision), nil
}

// AmountFor is the inverse of ValueOf: the token amount whose value equals
// usdValue at the current price. Rounds down.
func (o *OracleAdapter) AmountFor(token common.Address, usdValue *big.Int) (*big.Int, error) {
	price, err := o.freshPrice(token)
	if err != nil {
		return nil, err
	}
	if usdValue == nil {
		return big.NewInt(0), nil
	}
	scaled := new(big.Int).Mul(price, additionalFeedPrecision)
	amount := new(big.Int).Mul(usdValue, precision)
	return amount.Quo(amount, scaled), nil
}

// ManualSource is an in-memory price source used by tests and for manual
// overrides during incident response.
type ManualSource struct {
	mu     sync.RWMutex
	rounds map[common.Address]PriceRound
}

// NewManualSource constructs an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{rounds: make(map[common.Address]PriceRound)}
}

// SetPrice records the latest round for a feed.
func (m *ManualSource) SetPrice(feed common.Address, answer *big.Int, updatedAt time.Time) {
	if m == nil || answer == nil {
		return
	}
	m.mu.Lock()
	m.rounds[feed] = PriceRound{Answer: new(big.Int).Set(answer), UpdatedAt: updatedAt}
	m.mu.Unlock()
}

// LatestRound returns the stored round for the feed.
func (m *ManualSource) LatestRound(feed common.Address) (PriceRound, error) {
	if m == nil {
		return PriceRound{}, fmt.Errorf("manual source not configured")
	}
	m.mu.RLock()
	round, ok := m.rounds[feed]
	m.mu.RUnlock()
	if !ok {
		return PriceRound{}, fmt.Errorf("manual source: no round for feed %s", feed.Hex())
	}
	return PriceRound{Answer: new(big.Int).Set(round.Answer), UpdatedAt: round.UpdatedAt}, nil
}
