package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashjit/amm"
	"github.com/michaelpento.lv/flashjit/chain"
	"github.com/michaelpento.lv/flashjit/codec"
	"github.com/michaelpento.lv/flashjit/dex"
	flashmath "github.com/michaelpento.lv/flashjit/utils/math"
)

const pairCacheSize = 512

// V2Adapter adapts constant-product pairs to the uniform swap and liquidity
// interfaces. Swaps use the push-then-pull settlement pattern: the input is
// transferred to the pool before the swap call, and the output is read back.
// Liquidity fees are inferred as the balance delta between what was removed
// and what was deposited, which folds price-movement PnL into "fee" — a
// known approximation carried over from the protocol integration.
type V2Adapter struct {
	ledger *chain.Ledger
	pools  *amm.Registry
	logger *zap.Logger

	// Maps keccak(token0, token1) to the validated pool address.
	pairCache *lru.Cache

	mu       sync.Mutex
	deposits map[common.Address]*v2Deposit
}

type v2Deposit struct {
	amount0   *big.Int
	amount1   *big.Int
	liquidity *big.Int
}

func NewV2Adapter(ledger *chain.Ledger, pools *amm.Registry, logger *zap.Logger) (*V2Adapter, error) {
	cache, err := lru.New(pairCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pair cache: %w", err)
	}
	return &V2Adapter{
		ledger:    ledger,
		pools:     pools,
		logger:    logger,
		pairCache: cache,
		deposits:  make(map[common.Address]*v2Deposit),
	}, nil
}

// TakeSnapshot captures the open deposits. The adapter participates in the
// substrate snapshot set so an aborted invocation between Add and Remove
// does not leave a stale deposit behind.
func (a *V2Adapter) TakeSnapshot() interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := make(map[common.Address]*v2Deposit, len(a.deposits))
	for addr, dep := range a.deposits {
		snap[addr] = &v2Deposit{
			amount0:   new(big.Int).Set(dep.amount0),
			amount1:   new(big.Int).Set(dep.amount1),
			liquidity: new(big.Int).Set(dep.liquidity),
		}
	}
	return snap
}

// RestoreSnapshot replaces the open deposits with the captured set.
func (a *V2Adapter) RestoreSnapshot(snap interface{}) {
	deposits, ok := snap.(map[common.Address]*v2Deposit)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.deposits = make(map[common.Address]*v2Deposit, len(deposits))
	for addr, dep := range deposits {
		a.deposits[addr] = &v2Deposit{
			amount0:   new(big.Int).Set(dep.amount0),
			amount1:   new(big.Int).Set(dep.amount1),
			liquidity: new(big.Int).Set(dep.liquidity),
		}
	}
}

// InputToken returns the token the step consumes.
func (a *V2Adapter) InputToken(step codec.SwapStep) common.Address {
	return step.TokenIn
}

// Swap pushes amountIn into the pool and settles the swap.
func (a *V2Adapter) Swap(ctx context.Context, owner common.Address, step codec.SwapStep, amountIn *big.Int) (common.Address, *big.Int, error) {
	pool, err := a.pools.ConstantProduct(step.Pool)
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

	if err := a.ledger.Transfer(tokenIn, owner, pool.Address(), amountIn); err != nil {
		return common.Address{}, nil, err
	}
	amountOut, err := pool.Swap(step.ZeroForOne, owner)
	if err != nil {
		return common.Address{}, nil, err
	}
	if step.MinAmountOut != nil && amountOut.Cmp(step.MinAmountOut) < 0 {
		return common.Address{}, nil, fmt.Errorf("swap output %s below minimum %s", amountOut, step.MinAmountOut)
	}

	a.logger.Debug("constant-product swap executed",
		zap.String("pool", step.Pool.Hex()),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", amountOut.String()))
	return tokenOut, amountOut, nil
}

// Add transfers both amounts to the pair and mints LP shares.
func (a *V2Adapter) Add(ctx context.Context, owner common.Address, jit codec.JITParams, _ codec.V3PositionParams) error {
	pool, err := a.pools.ConstantProduct(jit.Pool)
	if err != nil {
		return err
	}
	if err := a.validatePair(pool, jit.Token0, jit.Token1); err != nil {
		return err
	}

	amount0, amount1 := orientAmounts(pool.Token0(), jit)
	if err := a.ledger.Transfer(pool.Token0(), owner, pool.Address(), amount0); err != nil {
		return err
	}
	if err := a.ledger.Transfer(pool.Token1(), owner, pool.Address(), amount1); err != nil {
		return err
	}
	liquidity, err := pool.Mint(owner)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.deposits[pool.Address()] = &v2Deposit{
		amount0:   new(big.Int).Set(amount0),
		amount1:   new(big.Int).Set(amount1),
		liquidity: liquidity,
	}
	a.mu.Unlock()
	return nil
}

// Remove burns the LP shares minted by the matching Add and infers the fee
// per token as received minus deposited.
func (a *V2Adapter) Remove(ctx context.Context, owner common.Address, jit codec.JITParams, _ codec.V3PositionParams) (*dex.RemoveResult, error) {
	pool, err := a.pools.ConstantProduct(jit.Pool)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	dep, ok := a.deposits[pool.Address()]
	delete(a.deposits, pool.Address())
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no open deposit for pool %s", jit.Pool.Hex())
	}

	amount0, amount1, err := pool.Burn(owner, dep.liquidity)
	if err != nil {
		return nil, err
	}

	return &dex.RemoveResult{
		Amount0: amount0,
		Amount1: amount1,
		Fee0:    flashmath.PositiveDelta(amount0, dep.amount0),
		Fee1:    flashmath.PositiveDelta(amount1, dep.amount1),
	}, nil
}

// validatePair checks the pool actually holds the requested token pair.
// Validated pairs are cached by their keccak pair key.
func (a *V2Adapter) validatePair(pool *amm.ConstantProductPool, token0, token1 common.Address) error {
	key := pairKey(token0, token1)
	if cached, ok := a.pairCache.Get(key); ok {
		if cached.(common.Address) == pool.Address() {
			return nil
		}
		return fmt.Errorf("pool %s does not match pair", pool.Address().Hex())
	}

	p0, p1 := pool.Token0(), pool.Token1()
	c0, c1 := token0, token1
	if c1.Hex() < c0.Hex() {
		c0, c1 = c1, c0
	}
	if p0 != c0 || p1 != c1 {
		return fmt.Errorf("pool %s does not hold %s/%s", pool.Address().Hex(), token0.Hex(), token1.Hex())
	}
	a.pairCache.Add(key, pool.Address())
	return nil
}

func pairKey(token0, token1 common.Address) common.Hash {
	if token1.Hex() < token0.Hex() {
		token0, token1 = token1, token0
	}
	return common.BytesToHash(crypto.Keccak256(token0.Bytes(), token1.Bytes()))
}

// orientAmounts maps the payload's (token0, amount0) pairing onto the pool's
// canonical token ordering.
func orientAmounts(poolToken0 common.Address, jit codec.JITParams) (*big.Int, *big.Int) {
	if jit.Token0 == poolToken0 {
		return jit.Amount0, jit.Amount1
	}
	return jit.Amount1, jit.Amount0
}
