package uniswap

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashjit/amm"
	"github.com/michaelpento.lv/flashjit/chain"
	"github.com/michaelpento.lv/flashjit/codec"
)

var (
	v3PoolAddr = common.HexToAddress("0x0200")
	v3BaseLP   = common.HexToAddress("0xb0")
	v3Owner    = common.HexToAddress("0xb1")
	v3Trader   = common.HexToAddress("0xb2")
)

// fakeBook is an in-memory PositionBook.
type fakeBook struct {
	ids []uint64
}

func (b *fakeBook) Append(_, _ common.Address, id uint64) { b.ids = append(b.ids, id) }

func (b *fakeBook) Latest(_, _ common.Address) (uint64, bool) {
	if len(b.ids) == 0 {
		return 0, false
	}
	return b.ids[len(b.ids)-1], true
}

func (b *fakeBook) Remove(_, _ common.Address, id uint64) {
	for i, existing := range b.ids {
		if existing == id {
			b.ids = append(b.ids[:i], b.ids[i+1:]...)
			return
		}
	}
}

func newV3Fixture(t *testing.T) (*V3Adapter, *amm.ConcentratedPool, *chain.Ledger, *fakeBook) {
	t.Helper()
	ledger := chain.NewLedger()
	pools := amm.NewRegistry()

	pool := amm.NewConcentratedPool(v3PoolAddr, v2Tok0, v2Tok1, 3000, ledger)
	pools.AddConcentrated(pool)

	// A resident base position so the adapter's positions are not the only
	// liquidity in the pool.
	ledger.Mint(v2Tok0, v3BaseLP, big.NewInt(1_000_000))
	ledger.Mint(v2Tok1, v3BaseLP, big.NewInt(1_000_000))
	_, err := pool.Mint(v3BaseLP, -60, 60, big.NewInt(1_000_000), big.NewInt(1_000_000))
	require.NoError(t, err)

	book := &fakeBook{}
	return NewV3Adapter(ledger, pools, book, zaptest.NewLogger(t)), pool, ledger, book
}

func v3JIT() codec.JITParams {
	return codec.JITParams{
		Token0: v2Tok0, Token1: v2Tok1,
		Amount0: big.NewInt(500_000), Amount1: big.NewInt(500_000),
		Pool: v3PoolAddr, PoolType: codec.PoolTypeUniswapV3,
	}
}

func v3Pos() codec.V3PositionParams {
	return codec.V3PositionParams{FeeTier: 3000, TickLower: -60, TickUpper: 60}
}

func TestV3AddMintsAndRecordsPosition(t *testing.T) {
	adapter, pool, ledger, book := newV3Fixture(t)
	ledger.Mint(v2Tok0, v3Owner, big.NewInt(500_000))
	ledger.Mint(v2Tok1, v3Owner, big.NewInt(500_000))

	require.NoError(t, adapter.Add(context.Background(), v3Owner, v3JIT(), v3Pos()))

	id, ok := book.Latest(v2Tok0, v2Tok1)
	require.True(t, ok)
	assert.Equal(t, int64(1_000_000), pool.PositionLiquidity(id).Int64())
	assert.Equal(t, int64(0), ledger.BalanceOf(v2Tok0, v3Owner).Int64())
}

func TestV3AddIncreasesExistingPosition(t *testing.T) {
	adapter, pool, ledger, book := newV3Fixture(t)
	ledger.Mint(v2Tok0, v3Owner, big.NewInt(600_000))
	ledger.Mint(v2Tok1, v3Owner, big.NewInt(600_000))

	require.NoError(t, adapter.Add(context.Background(), v3Owner, v3JIT(), v3Pos()))
	id, _ := book.Latest(v2Tok0, v2Tok1)

	jit := v3JIT()
	jit.Amount0, jit.Amount1 = big.NewInt(100_000), big.NewInt(100_000)
	pos := v3Pos()
	pos.TokenID = new(big.Int).SetUint64(id)
	require.NoError(t, adapter.Add(context.Background(), v3Owner, jit, pos))

	assert.Equal(t, int64(1_200_000), pool.PositionLiquidity(id).Int64())
	// Increasing an existing position records no new id.
	assert.Len(t, book.ids, 1)
}

func TestV3SwapSettlesViaCallback(t *testing.T) {
	adapter, _, ledger, _ := newV3Fixture(t)
	ledger.Mint(v2Tok0, v3Trader, big.NewInt(10_000))

	step := codec.SwapStep{
		Pool: v3PoolAddr, Dex: codec.DexConcentrated, ZeroForOne: true,
		TokenIn: v2Tok0, TokenOut: v2Tok1,
		MinAmountOut: big.NewInt(0),
	}
	tokenOut, out, err := adapter.Swap(context.Background(), v3Trader, step, big.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, v2Tok1, tokenOut)
	assert.True(t, out.Sign() > 0)
	assert.Equal(t, out.Int64(), ledger.BalanceOf(v2Tok1, v3Trader).Int64())
	assert.Equal(t, int64(0), ledger.BalanceOf(v2Tok0, v3Trader).Int64())
}

func TestV3SwapBelowMinimum(t *testing.T) {
	adapter, _, ledger, _ := newV3Fixture(t)
	ledger.Mint(v2Tok0, v3Trader, big.NewInt(10_000))

	step := codec.SwapStep{
		Pool: v3PoolAddr, Dex: codec.DexConcentrated, ZeroForOne: true,
		TokenIn: v2Tok0, TokenOut: v2Tok1,
		MinAmountOut: big.NewInt(10_000),
	}
	_, _, err := adapter.Swap(context.Background(), v3Trader, step, big.NewInt(10_000))
	assert.Error(t, err)
}

func TestV3SwapDirectionMismatch(t *testing.T) {
	adapter, _, _, _ := newV3Fixture(t)

	step := codec.SwapStep{
		Pool: v3PoolAddr, Dex: codec.DexConcentrated, ZeroForOne: true,
		TokenIn: v2Tok1, TokenOut: v2Tok0,
	}
	_, _, err := adapter.Swap(context.Background(), v3Trader, step, big.NewInt(1_000))
	assert.Error(t, err)
}

func TestV3RemoveHarvestsFeesThenPrincipal(t *testing.T) {
	adapter, _, ledger, book := newV3Fixture(t)
	ledger.Mint(v2Tok0, v3Owner, big.NewInt(500_000))
	ledger.Mint(v2Tok1, v3Owner, big.NewInt(500_000))
	require.NoError(t, adapter.Add(context.Background(), v3Owner, v3JIT(), v3Pos()))

	// A trade while the position is live accrues fees pro rata: the
	// position holds 1M of 3M total liquidity, so a third of the 30 fee.
	ledger.Mint(v2Tok0, v3Trader, big.NewInt(10_000))
	step := codec.SwapStep{
		Pool: v3PoolAddr, Dex: codec.DexConcentrated, ZeroForOne: true,
		TokenIn: v2Tok0, TokenOut: v2Tok1,
	}
	_, _, err := adapter.Swap(context.Background(), v3Trader, step, big.NewInt(10_000))
	require.NoError(t, err)

	res, err := adapter.Remove(context.Background(), v3Owner, v3JIT(), v3Pos())
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), res.Amount0.Int64())
	assert.Equal(t, int64(500_000), res.Amount1.Int64())
	assert.Equal(t, int64(10), res.Fee0.Int64())
	assert.Equal(t, int64(0), res.Fee1.Int64())

	assert.Equal(t, int64(500_010), ledger.BalanceOf(v2Tok0, v3Owner).Int64())
	assert.Equal(t, int64(500_000), ledger.BalanceOf(v2Tok1, v3Owner).Int64())
	_, ok := book.Latest(v2Tok0, v2Tok1)
	assert.False(t, ok)
}

func TestV3RemoveWithoutPosition(t *testing.T) {
	adapter, _, _, _ := newV3Fixture(t)
	_, err := adapter.Remove(context.Background(), v3Owner, v3JIT(), v3Pos())
	assert.Error(t, err)
}

func TestV3AddRejectsWrongPair(t *testing.T) {
	adapter, _, ledger, _ := newV3Fixture(t)
	ledger.Mint(v2Tok0, v3Owner, big.NewInt(500_000))

	jit := v3JIT()
	jit.Token1 = common.HexToAddress("0x03")
	err := adapter.Add(context.Background(), v3Owner, jit, v3Pos())
	assert.Error(t, err)
}
