package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Provider wraps one loan protocol's borrow/repay/callback convention.
// Borrow delivers the capital to the receiver, invokes the protocol's
// callback shape synchronously, and verifies repayment before returning.
type Provider interface {
	Borrow(ctx context.Context, token common.Address, amount *big.Int, data []byte) error
	FlashFee(token common.Address, amount *big.Int) *big.Int
	HasLiquidity(token common.Address, amount *big.Int) bool
	Address() common.Address
	String() string
}

// ProviderType selects a capital source.
type ProviderType int

const (
	ProviderAave ProviderType = iota
	ProviderBalancer
	ProviderUniswapV3
)

// Valid reports whether t names one of the defined capital sources.
func (t ProviderType) Valid() bool {
	switch t {
	case ProviderAave, ProviderBalancer, ProviderUniswapV3:
		return true
	}
	return false
}

func (t ProviderType) String() string {
	switch t {
	case ProviderAave:
		return "aave"
	case ProviderBalancer:
		return "balancer"
	case ProviderUniswapV3:
		return "univ3"
	default:
		return "unknown"
	}
}

// VectorLoanReceiver is the vectorized-asset-list callback shape.
type VectorLoanReceiver interface {
	ExecuteOperation(sender common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, data []byte) error
	Account() common.Address
}

// SingleLoanReceiver is the single-asset callback shape.
type SingleLoanReceiver interface {
	ReceiveFlashLoan(sender, token common.Address, amount, fee *big.Int, data []byte) error
	Account() common.Address
}

// PairLoanReceiver is the pool-pair callback shape with two fee values.
type PairLoanReceiver interface {
	FlashCallback(sender common.Address, fee0, fee1 *big.Int, data []byte) error
	Account() common.Address
}
