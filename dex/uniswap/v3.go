package uniswap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashjit/amm"
	"github.com/michaelpento.lv/flashjit/chain"
	"github.com/michaelpento.lv/flashjit/codec"
	"github.com/michaelpento.lv/flashjit/dex"
)

// V3Adapter adapts concentrated-liquidity pools. Swaps settle through the
// pool's synchronous callback: the adapter pushes the owed input back to the
// pool mid-swap and authenticates that the callback comes from the pool it
// initiated on. Removal always collects twice: first to harvest accrued
// trading fees, then to harvest the principal released by the liquidity
// decrease. The protocol's accounting requires that order.
type V3Adapter struct {
	ledger *chain.Ledger
	pools  *amm.Registry
	book   dex.PositionBook
	logger *zap.Logger
}

func NewV3Adapter(ledger *chain.Ledger, pools *amm.Registry, book dex.PositionBook, logger *zap.Logger) *V3Adapter {
	return &V3Adapter{
		ledger: ledger,
		pools:  pools,
		book:   book,
		logger: logger,
	}
}

// InputToken returns the token the step consumes.
func (a *V3Adapter) InputToken(step codec.SwapStep) common.Address {
	return step.TokenIn
}

// Swap executes a callback-settled swap and validates the realized output
// against the step's minimum.
func (a *V3Adapter) Swap(ctx context.Context, owner common.Address, step codec.SwapStep, amountIn *big.Int) (common.Address, *big.Int, error) {
	pool, err := a.pools.Concentrated(step.Pool)
	if err != nil {
		return common.Address{}, nil, err
	}

	tokenIn, tokenOut := pool.Token0(), pool.Token1()
	if !step.ZeroForOne {
		tokenIn, tokenOut = tokenOut, tokenIn
	}
	if tokenIn != step.TokenIn {
		return common.Address{}, nil, fmt.Errorf("swap direction does not match pool %s", step.Pool.Hex())
	}

	settler := &v3Settler{ledger: a.ledger, owner: owner, expected: pool.Address()}
	amountOut, err := pool.Swap(owner, step.ZeroForOne, amountIn, settler)
	if err != nil {
		return common.Address{}, nil, err
	}
	if step.MinAmountOut != nil && amountOut.Cmp(step.MinAmountOut) < 0 {
		return common.Address{}, nil, fmt.Errorf("swap output %s below minimum %s", amountOut, step.MinAmountOut)
	}

	a.logger.Debug("concentrated swap executed",
		zap.String("pool", step.Pool.Hex()),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", amountOut.String()))
	return tokenOut, amountOut, nil
}

// Add mints a new position, or increases an existing one when the payload
// carries a position id.
func (a *V3Adapter) Add(ctx context.Context, owner common.Address, jit codec.JITParams, pos codec.V3PositionParams) error {
	pool, err := a.pools.Concentrated(jit.Pool)
	if err != nil {
		return err
	}
	if err := a.validatePool(pool, jit); err != nil {
		return err
	}

	amount0, amount1 := orientAmounts(pool.Token0(), jit)
	if pos.TokenID != nil && pos.TokenID.Sign() > 0 {
		return pool.IncreaseLiquidity(pos.TokenID.Uint64(), owner, amount0, amount1)
	}

	id, err := pool.Mint(owner, pos.TickLower, pos.TickUpper, amount0, amount1)
	if err != nil {
		return err
	}
	a.book.Append(pool.Token0(), pool.Token1(), id)
	a.logger.Debug("position minted",
		zap.String("pool", jit.Pool.Hex()),
		zap.Uint64("position_id", id))
	return nil
}

// Remove fully withdraws the position: collect accrued fees, decrease all
// liquidity, collect the released principal.
func (a *V3Adapter) Remove(ctx context.Context, owner common.Address, jit codec.JITParams, pos codec.V3PositionParams) (*dex.RemoveResult, error) {
	pool, err := a.pools.Concentrated(jit.Pool)
	if err != nil {
		return nil, err
	}
	if err := a.validatePool(pool, jit); err != nil {
		return nil, err
	}

	var id uint64
	if pos.TokenID != nil && pos.TokenID.Sign() > 0 {
		id = pos.TokenID.Uint64()
	} else {
		latest, ok := a.book.Latest(pool.Token0(), pool.Token1())
		if !ok {
			return nil, fmt.Errorf("no open position for %s/%s", jit.Token0.Hex(), jit.Token1.Hex())
		}
		id = latest
	}

	// Phase one: harvest trading fees accrued while the position was live.
	fee0, fee1, err := pool.Collect(id, owner, owner)
	if err != nil {
		return nil, err
	}

	liquidity := pool.PositionLiquidity(id)
	if liquidity == nil || liquidity.Sign() == 0 {
		return nil, fmt.Errorf("position %d has no liquidity", id)
	}
	amount0, amount1, err := pool.DecreaseLiquidity(id, owner, liquidity)
	if err != nil {
		return nil, err
	}

	// Phase two: harvest the principal the decrease released.
	if _, _, err := pool.Collect(id, owner, owner); err != nil {
		return nil, err
	}

	a.book.Remove(pool.Token0(), pool.Token1(), id)
	return &dex.RemoveResult{
		Amount0: amount0,
		Amount1: amount1,
		Fee0:    fee0,
		Fee1:    fee1,
	}, nil
}

func (a *V3Adapter) validatePool(pool *amm.ConcentratedPool, jit codec.JITParams) error {
	c0, c1 := jit.Token0, jit.Token1
	if c1.Hex() < c0.Hex() {
		c0, c1 = c1, c0
	}
	if pool.Token0() != c0 || pool.Token1() != c1 {
		return fmt.Errorf("pool %s does not hold %s/%s", pool.Address().Hex(), jit.Token0.Hex(), jit.Token1.Hex())
	}
	return nil
}

// v3Settler pays the owed swap input back to the pool. It rejects callbacks
// from any sender other than the pool the swap was initiated on.
type v3Settler struct {
	ledger   *chain.Ledger
	owner    common.Address
	expected common.Address
}

func (s *v3Settler) SwapSettle(pool, token common.Address, amount *big.Int) error {
	if pool != s.expected {
		return fmt.Errorf("swap callback from unexpected sender %s", pool.Hex())
	}
	return s.ledger.Transfer(token, s.owner, pool, amount)
}
