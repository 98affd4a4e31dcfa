package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashjit/codec"
)

// SwapAdapter is the uniform swap interface over heterogeneous pool
// protocols. Settlement conventions differ per flavor (push-then-pull,
// callback, direct) but callers see one shape.
type SwapAdapter interface {
	// InputToken returns the token the step consumes.
	InputToken(step codec.SwapStep) common.Address

	// Swap executes the step with amountIn of the input token held by
	// owner and returns the output token and realized amount.
	Swap(ctx context.Context, owner common.Address, step codec.SwapStep, amountIn *big.Int) (common.Address, *big.Int, error)
}

// RemoveResult reports what a liquidity removal returned, with the fee share
// split out per token.
type RemoveResult struct {
	Amount0 *big.Int
	Amount1 *big.Int
	Fee0    *big.Int
	Fee1    *big.Int
}

// LiquidityAdapter is the uniform add/remove-liquidity interface.
type LiquidityAdapter interface {
	Add(ctx context.Context, owner common.Address, jit codec.JITParams, pos codec.V3PositionParams) error
	Remove(ctx context.Context, owner common.Address, jit codec.JITParams, pos codec.V3PositionParams) (*RemoveResult, error)
}

// PositionBook records open concentrated-liquidity position ids per token
// pair so removals without an explicit id can find one.
type PositionBook interface {
	Append(token0, token1 common.Address, id uint64)
	// Latest returns the most recently appended id for the pair.
	Latest(token0, token1 common.Address) (uint64, bool)
	Remove(token0, token1 common.Address, id uint64)
}
