package curve

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashjit/amm"
	"github.com/michaelpento.lv/flashjit/codec"
)

// StableAdapter adapts stable-swap pools to the uniform swap interface.
// Exchange is index-based and returns the output directly; no callback.
type StableAdapter struct {
	pools  *amm.Registry
	logger *zap.Logger
}

func NewStableAdapter(pools *amm.Registry, logger *zap.Logger) *StableAdapter {
	return &StableAdapter{pools: pools, logger: logger}
}

// InputToken returns the token the step consumes.
func (a *StableAdapter) InputToken(step codec.SwapStep) common.Address {
	return step.TokenIn
}

// Swap exchanges amountIn of coin I for coin J.
func (a *StableAdapter) Swap(ctx context.Context, owner common.Address, step codec.SwapStep, amountIn *big.Int) (common.Address, *big.Int, error) {
	pool, err := a.pools.Stable(step.Pool)
	if err != nil {
		return common.Address{}, nil, err
	}

	coinIn, err := pool.Coin(int(step.I))
	if err != nil {
		return common.Address{}, nil, err
	}
	coinOut, err := pool.Coin(int(step.J))
	if err != nil {
		return common.Address{}, nil, err
	}
	if coinIn != step.TokenIn {
		return common.Address{}, nil, fmt.Errorf("coin index %d is not %s in pool %s", step.I, step.TokenIn.Hex(), step.Pool.Hex())
	}

	dy, err := pool.Exchange(int(step.I), int(step.J), amountIn, step.MinAmountOut, owner)
	if err != nil {
		return common.Address{}, nil, err
	}

	a.logger.Debug("stable exchange executed",
		zap.String("pool", step.Pool.Hex()),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", dy.String()))
	return coinOut, dy, nil
}
