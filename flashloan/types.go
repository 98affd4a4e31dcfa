package flashloan

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Request is one flash loan order. Consumed exactly once; never persisted.
type Request struct {
	Caller   common.Address
	Token    common.Address
	Amount   *big.Int
	Payload  []byte
	Provider ProviderType
}

var (
	ErrUnknownProvider       = errors.New("unknown loan provider")
	ErrProviderNotConfigured = errors.New("loan provider not configured")
	ErrReentrant             = errors.New("flash loan already in flight")
	ErrUnauthorizedCaller    = errors.New("caller not authorized to execute")
	ErrZeroAmount            = errors.New("loan amount must be positive")
	ErrZeroToken             = errors.New("loan token is the zero address")
	ErrSpoofedCallback       = errors.New("loan callback from unexpected sender")
	ErrAssetMismatch         = errors.New("callback asset does not match loan request")
	ErrRepaymentShortfall    = errors.New("insufficient balance to repay loan")
	ErrThrottled             = errors.New("flash loan execution throttled")
	ErrFeeCeilingExceeded    = errors.New("loan fee exceeds configured ceiling")
	ErrUnknownCompetitor     = errors.New("address not in competitor registry")
)
