package collateral

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNilState                = errors.New("collateral engine: state not configured")
	ErrNilCustody              = errors.New("collateral engine: custody not configured")
	ErrNilDebtToken            = errors.New("collateral engine: debt token not configured")
	ErrNilPriceSource          = errors.New("collateral engine: price source not configured")
	ErrAmountZero              = errors.New("collateral engine: amount must be greater than zero")
	ErrTokenNotAllowed         = errors.New("collateral engine: token not supported as collateral")
	ErrTokenFeedLengthMismatch = errors.New("collateral engine: token and price feed lists must be the same length")
	ErrInsufficientCollateral  = errors.New("collateral engine: insufficient collateral balance")
	ErrInsufficientDebt        = errors.New("collateral engine: amount exceeds outstanding debt")
	ErrTransferFailed          = errors.New("collateral engine: token transfer failed")
	ErrMintFailed              = errors.New("collateral engine: debt token mint failed")
	ErrHealthFactorOk          = errors.New("collateral engine: position is not liquidatable")
	ErrHealthFactorNotImproved = errors.New("collateral engine: liquidation did not improve health factor")
	ErrStalePrice              = errors.New("collateral engine: oracle price is stale")
	ErrInvalidPrice            = errors.New("collateral engine: oracle returned invalid price")
	ErrReentrantCall           = errors.New("collateral engine: reentrant call rejected")
)

// BreaksHealthFactorError reports an operation that would leave a position
// below the minimum health factor. The offending ratio is carried for
// callers and logs.
type BreaksHealthFactorError struct {
	HealthFactor *big.Int
}

func (e *BreaksHealthFactorError) Error() string {
	hf := "0"
	if e.HealthFactor != nil {
		hf = e.HealthFactor.String()
	}
	return fmt.Sprintf("collateral engine: operation breaks health factor (%s)", hf)
}
