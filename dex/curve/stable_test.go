package curve

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
	stPoolAddr = common.HexToAddress("0x0300")
	stTok0     = common.HexToAddress("0x01")
	stTok1     = common.HexToAddress("0x02")
	stFunder   = common.HexToAddress("0xc1")
	stOwner    = common.HexToAddress("0xc2")
)

func newStableFixture(t *testing.T) (*StableAdapter, *chain.Ledger) {
	t.Helper()
	ledger := chain.NewLedger()
	pools := amm.NewRegistry()

	pool := amm.NewStablePool(stPoolAddr, stTok0, stTok1, 100, ledger)
	pools.AddStable(pool)
	ledger.Mint(stTok0, stFunder, big.NewInt(1_000_000))
	ledger.Mint(stTok1, stFunder, big.NewInt(1_000_000))
	require.NoError(t, pool.AddBalance(stFunder, 0, big.NewInt(1_000_000)))
	require.NoError(t, pool.AddBalance(stFunder, 1, big.NewInt(1_000_000)))

	return NewStableAdapter(pools, zaptest.NewLogger(t)), ledger
}

func stableStep() codec.SwapStep {
	return codec.SwapStep{
		Pool: stPoolAddr, Dex: codec.DexStable,
		I: 0, J: 1,
		TokenIn: stTok0, TokenOut: stTok1,
		MinAmountOut: big.NewInt(9_900),
	}
}

func TestStableSwap(t *testing.T) {
	adapter, ledger := newStableFixture(t)
	ledger.Mint(stTok0, stOwner, big.NewInt(10_000))

	tokenOut, dy, err := adapter.Swap(context.Background(), stOwner, stableStep(), big.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, stTok1, tokenOut)
	assert.True(t, dy.Cmp(big.NewInt(10_000)) < 0)
	assert.True(t, dy.Cmp(big.NewInt(9_900)) >= 0)
	assert.Equal(t, dy.Int64(), ledger.BalanceOf(stTok1, stOwner).Int64())
}

func TestStableSwapCoinMismatch(t *testing.T) {
	adapter, ledger := newStableFixture(t)
	ledger.Mint(stTok0, stOwner, big.NewInt(10_000))

	step := stableStep()
	step.TokenIn = stTok1
	_, _, err := adapter.Swap(context.Background(), stOwner, step, big.NewInt(10_000))
	assert.Error(t, err)
}

func TestStableSwapBadCoinIndex(t *testing.T) {
	adapter, _ := newStableFixture(t)

	step := stableStep()
	step.J = 5
	_, _, err := adapter.Swap(context.Background(), stOwner, step, big.NewInt(10_000))
	assert.Error(t, err)
}

func TestStableSwapUnknownPool(t *testing.T) {
	adapter, _ := newStableFixture(t)

	step := stableStep()
	step.Pool = common.HexToAddress("0x99")
	_, _, err := adapter.Swap(context.Background(), stOwner, step, big.NewInt(10_000))
	assert.Error(t, err)
}
