package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashjit/amm"
	"github.com/michaelpento.lv/flashjit/chain"
	"github.com/michaelpento.lv/flashjit/codec"
	"github.com/michaelpento.lv/flashjit/config"
	"github.com/michaelpento.lv/flashjit/dex/uniswap"
	"github.com/michaelpento.lv/flashjit/utils/testutils"
)

var (
	engTokA  = common.HexToAddress("0x01")
	engTokB  = common.HexToAddress("0x02")
	engPoolA = common.HexToAddress("0x0100")
	engPoolB = common.HexToAddress("0x0101")
	engLP    = common.HexToAddress("0xa1")
)

type engineFixture struct {
	eng   *Engine
	state *chain.State
	pools *amm.Registry
	store *config.Store
	clock *chain.FakeClock

	account common.Address
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	state := testutils.NewState()
	account := testutils.Addr(0xee)
	store := testutils.NewStore(t, account)
	clock := chain.NewFakeClock(time.Unix(1_700_000_000, 0))

	eng := New(account, state, store, clock, logger)
	pools := amm.NewRegistry()
	v2, err := uniswap.NewV2Adapter(state.Ledger, pools, logger)
	require.NoError(t, err)
	state.Register(v2)
	eng.RegisterSwapAdapter(codec.DexConstantProduct, v2)
	eng.RegisterLiquidityAdapter(codec.PoolTypeUniswapV2, v2)

	return &engineFixture{
		eng: eng, state: state, pools: pools, store: store,
		clock: clock, account: account,
	}
}

// seedPool creates a constant-product pool at addr with the given reserves.
func (f *engineFixture) seedPool(t *testing.T, addr common.Address, reserve0, reserve1 int64) *amm.ConstantProductPool {
	t.Helper()
	pool := amm.NewConstantProductPool(addr, engTokA, engTokB, f.state.Ledger)
	f.pools.AddConstantProduct(pool)

	testutils.Fund(f.state, engTokA, engLP, big.NewInt(reserve0))
	testutils.Fund(f.state, engTokB, engLP, big.NewInt(reserve1))
	require.NoError(t, f.state.Ledger.Transfer(engTokA, engLP, addr, big.NewInt(reserve0)))
	require.NoError(t, f.state.Ledger.Transfer(engTokB, engLP, addr, big.NewInt(reserve1)))
	_, err := pool.Mint(engLP)
	require.NoError(t, err)
	return pool
}

func (f *engineFixture) fundAccount(amount0, amount1 int64) {
	testutils.Fund(f.state, engTokA, f.account, big.NewInt(amount0))
	testutils.Fund(f.state, engTokB, f.account, big.NewInt(amount1))
}

func jitPayload(t *testing.T, mode codec.Mode, minFee int64, trailer *codec.Trailer) []byte {
	t.Helper()
	data, err := codec.Encode(&codec.Payload{
		Mode:   mode,
		Family: codec.FamilyJIT,
		JIT: &codec.JITParams{
			Token0:         engTokA,
			Token1:         engTokB,
			Amount0:        big.NewInt(100_000),
			Amount1:        big.NewInt(100_000),
			Pool:           engPoolA,
			PoolType:       codec.PoolTypeUniswapV2,
			MinFeeExpected: big.NewInt(minFee),
		},
		Position: &codec.V3PositionParams{TokenID: big.NewInt(0)},
		Trailer:  trailer,
	})
	require.NoError(t, err)
	return data
}

func (f *engineFixture) invocation(payload []byte) Invocation {
	return Invocation{
		Token:   engTokA,
		Amount:  big.NewInt(100_000),
		Fee:     big.NewInt(90),
		Payload: payload,
		Start:   f.clock.Now(),
	}
}

func TestRunStandardJIT(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	f.fundAccount(100_000, 100_000)

	res, err := f.eng.Run(context.Background(), f.invocation(jitPayload(t, codec.ModeStandard, 0, nil)))
	require.NoError(t, err)

	assert.Equal(t, codec.ModeStandard, res.Mode)
	assert.Equal(t, codec.FamilyJIT, res.Family)
	assert.Equal(t, int64(0), res.Verdict.FeeOrProfit.Int64())
	require.Len(t, res.Events, 2)
	assert.Equal(t, EventLiquidityAdded, res.Events[0].Type)
	assert.Equal(t, EventLiquidityRemoved, res.Events[1].Type)

	// The full principal is back in the account after add and remove.
	assert.Equal(t, int64(100_000), f.state.Ledger.BalanceOf(engTokA, f.account).Int64())
}

func TestRunStandardJITCapturesFees(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	f.fundAccount(100_000, 100_000)

	// Unaccounted pool balance accrues to the freshly minted LP shares.
	testutils.Fund(f.state, engTokA, engPoolA, big.NewInt(1_000))
	testutils.Fund(f.state, engTokB, engPoolA, big.NewInt(1_000))

	res, err := f.eng.Run(context.Background(), f.invocation(jitPayload(t, codec.ModeStandard, 1_500, nil)))
	require.NoError(t, err)
	assert.Equal(t, int64(2_000), res.Verdict.FeeOrProfit.Int64())
	assert.Equal(t, int64(1_500), res.Verdict.ThresholdRequired.Int64())
}

func TestRunStandardJITInsufficientFee(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	f.fundAccount(100_000, 100_000)

	_, err := f.eng.Run(context.Background(), f.invocation(jitPayload(t, codec.ModeStandard, 1, nil)))
	assert.ErrorIs(t, err, ErrInsufficientFee)
}

func TestRunJITTokenMismatch(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)

	inv := f.invocation(jitPayload(t, codec.ModeStandard, 0, nil))
	inv.Token = common.HexToAddress("0x99")
	_, err := f.eng.Run(context.Background(), inv)
	assert.ErrorIs(t, err, ErrTokenMismatch)
}

func TestRunJITUnknownAdapter(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)

	data, err := codec.Encode(&codec.Payload{
		Mode:   codec.ModeStandard,
		Family: codec.FamilyJIT,
		JIT: &codec.JITParams{
			Token0: engTokA, Token1: engTokB,
			Amount0: big.NewInt(1), Amount1: big.NewInt(1),
			Pool: engPoolA, PoolType: codec.PoolTypeUniswapV3,
			MinFeeExpected: big.NewInt(0),
		},
		Position: &codec.V3PositionParams{TokenID: big.NewInt(0)},
	})
	require.NoError(t, err)

	_, err = f.eng.Run(context.Background(), f.invocation(data))
	assert.ErrorIs(t, err, ErrUnknownAdapter)
}

func TestRunDecodeFailure(t *testing.T) {
	f := newFixture(t)
	inv := f.invocation([]byte{0x01})
	_, err := f.eng.Run(context.Background(), inv)
	assert.ErrorIs(t, err, codec.ErrMalformedPayload)
}

func TestRunUltraAggressiveJIT(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	f.fundAccount(100_000, 100_000)
	testutils.Fund(f.state, engTokA, engPoolA, big.NewInt(1_000))
	testutils.Fund(f.state, engTokB, engPoolA, big.NewInt(1_000))

	ref := common.HexToHash("0xbeef")
	payload := jitPayload(t, codec.ModeUltraAggressive, 0, &codec.Trailer{
		CompetitorRef:      ref,
		PriorityMultiplier: big.NewInt(2),
	})

	res, err := f.eng.Run(context.Background(), f.invocation(payload))
	require.NoError(t, err)
	assert.Equal(t, ref, res.CompetitorRef)
	assert.Equal(t, int64(2), res.PriorityMultiplier.Int64())
	// Any positive fee clears the mode 2 threshold.
	assert.Equal(t, int64(1), res.Verdict.ThresholdRequired.Int64())
}

func TestRunUltraAggressiveRejectsZeroFee(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	f.fundAccount(100_000, 100_000)

	payload := jitPayload(t, codec.ModeUltraAggressive, 0, &codec.Trailer{
		CompetitorRef:      common.HexToHash("0xbeef"),
		PriorityMultiplier: big.NewInt(2),
	})
	_, err := f.eng.Run(context.Background(), f.invocation(payload))
	assert.ErrorIs(t, err, ErrInsufficientFee)
}

func TestRunUltraAggressiveDisabled(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	require.NoError(t, f.store.SetUltraAggressiveEnabled(f.account, false))

	payload := jitPayload(t, codec.ModeUltraAggressive, 0, &codec.Trailer{
		CompetitorRef:      common.HexToHash("0xbeef"),
		PriorityMultiplier: big.NewInt(2),
	})
	_, err := f.eng.Run(context.Background(), f.invocation(payload))
	assert.ErrorIs(t, err, ErrModeDisabled)
}

func TestRunBatchJIT(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	f.fundAccount(100_000, 100_000)
	testutils.Fund(f.state, engTokA, engPoolA, big.NewInt(1_000))
	testutils.Fund(f.state, engTokB, engPoolA, big.NewInt(1_000))

	// minFee 10000, slot 0 of 10: threshold 10000*10/100 = 1000.
	payload := jitPayload(t, codec.ModeBatch, 10_000, &codec.Trailer{
		BatchIndex: big.NewInt(0),
		BatchSize:  big.NewInt(10),
	})
	res, err := f.eng.Run(context.Background(), f.invocation(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), res.Verdict.ThresholdRequired.Int64())
	assert.Equal(t, int64(2_000), res.Verdict.FeeOrProfit.Int64())
}

func TestRunBatchJITBounds(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)

	payload := jitPayload(t, codec.ModeBatch, 0, &codec.Trailer{
		BatchIndex: big.NewInt(10),
		BatchSize:  big.NewInt(10),
	})
	_, err := f.eng.Run(context.Background(), f.invocation(payload))
	assert.ErrorIs(t, err, ErrBatchBounds)

	// MaxBatchSize defaults to 10.
	payload = jitPayload(t, codec.ModeBatch, 0, &codec.Trailer{
		BatchIndex: big.NewInt(0),
		BatchSize:  big.NewInt(11),
	})
	_, err = f.eng.Run(context.Background(), f.invocation(payload))
	assert.ErrorIs(t, err, ErrBatchBounds)
}

func TestRunBatchJITDisabled(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	require.NoError(t, f.store.SetBatchEnabled(f.account, false))

	payload := jitPayload(t, codec.ModeBatch, 0, &codec.Trailer{
		BatchIndex: big.NewInt(0),
		BatchSize:  big.NewInt(1),
	})
	_, err := f.eng.Run(context.Background(), f.invocation(payload))
	assert.ErrorIs(t, err, ErrModeDisabled)
}

func TestMinBatchFee(t *testing.T) {
	minFee := big.NewInt(10_000)
	size := big.NewInt(10)

	// Earlier slots face a higher bar; the threshold decays linearly.
	assert.Equal(t, int64(1_000), minBatchFee(minFee, big.NewInt(0), size).Int64())
	assert.Equal(t, int64(500), minBatchFee(minFee, big.NewInt(5), size).Int64())
	assert.Equal(t, int64(100), minBatchFee(minFee, big.NewInt(9), size).Int64())
}

func arbPayload(t *testing.T, steps []codec.SwapStep) []byte {
	t.Helper()
	data, err := codec.Encode(&codec.Payload{
		Mode:   codec.ModeStandard,
		Family: codec.FamilyArb,
		Arb: &codec.ArbParams{
			StartToken:   engTokA,
			BorrowAmount: big.NewInt(10_000),
			Swaps:        steps,
		},
	})
	require.NoError(t, err)
	return data
}

func closedPath() []codec.SwapStep {
	return []codec.SwapStep{
		{
			Pool: engPoolA, Dex: codec.DexConstantProduct, ZeroForOne: true,
			TokenIn: engTokA, TokenOut: engTokB,
			AmountIn: big.NewInt(10_000), MinAmountOut: big.NewInt(0),
		},
		{
			Pool: engPoolB, Dex: codec.DexConstantProduct, ZeroForOne: false,
			TokenIn: engTokB, TokenOut: engTokA,
			AmountIn: big.NewInt(0), MinAmountOut: big.NewInt(0),
		},
	}
}

func TestRunArbitrage(t *testing.T) {
	f := newFixture(t)
	// Pool A prices 1 A at ~2 B, pool B prices 1 B at ~2 A; the round trip
	// is profitable.
	f.seedPool(t, engPoolA, 1_000_000, 2_000_000)
	f.seedPool(t, engPoolB, 2_000_000, 1_000_000)
	testutils.Fund(f.state, engTokA, f.account, big.NewInt(10_000))

	inv := f.invocation(arbPayload(t, closedPath()))
	inv.Amount = big.NewInt(10_000)

	res, err := f.eng.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, codec.FamilyArb, res.Family)
	assert.True(t, res.Verdict.FeeOrProfit.Sign() > 0)
	require.Len(t, res.Events, 1)
	assert.Equal(t, EventArbitrageExecuted, res.Events[0].Type)
	assert.Equal(t, res.Verdict.FeeOrProfit, res.Events[0].Profit)
}

func TestRunArbitrageNoProfit(t *testing.T) {
	f := newFixture(t)
	// Symmetric pools; the round trip loses the swap fees.
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	f.seedPool(t, engPoolB, 1_000_000, 1_000_000)
	testutils.Fund(f.state, engTokA, f.account, big.NewInt(10_000))

	inv := f.invocation(arbPayload(t, closedPath()))
	inv.Amount = big.NewInt(10_000)

	_, err := f.eng.Run(context.Background(), inv)
	assert.ErrorIs(t, err, ErrNoProfit)
}

func TestRunArbitrageBelowProfitFloor(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 2_000_000)
	f.seedPool(t, engPoolB, 2_000_000, 1_000_000)
	testutils.Fund(f.state, engTokA, f.account, big.NewInt(10_000))
	require.NoError(t, f.store.SetMinProfitThreshold(f.account, big.NewInt(1_000_000)))

	inv := f.invocation(arbPayload(t, closedPath()))
	inv.Amount = big.NewInt(10_000)

	_, err := f.eng.Run(context.Background(), inv)
	assert.ErrorIs(t, err, ErrNoProfit)
}

func TestRunArbitragePathNotClosed(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 2_000_000)

	open := closedPath()[:1]
	_, err := f.eng.Run(context.Background(), f.invocation(arbPayload(t, open)))
	assert.ErrorIs(t, err, ErrPathNotClosed)

	broken := closedPath()
	broken[1].TokenIn = common.HexToAddress("0x99")
	_, err = f.eng.Run(context.Background(), f.invocation(arbPayload(t, broken)))
	assert.ErrorIs(t, err, ErrPathNotClosed)
}

func TestRunArbitrageTokenMismatch(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 2_000_000)

	inv := f.invocation(arbPayload(t, closedPath()))
	inv.Token = engTokB
	_, err := f.eng.Run(context.Background(), inv)
	assert.ErrorIs(t, err, ErrTokenMismatch)
}

func TestRunArbitrageUnknownAdapter(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 2_000_000)
	f.seedPool(t, engPoolB, 2_000_000, 1_000_000)
	testutils.Fund(f.state, engTokA, f.account, big.NewInt(10_000))

	steps := closedPath()
	steps[0].Dex = codec.DexStable
	_, err := f.eng.Run(context.Background(), f.invocation(arbPayload(t, steps)))
	assert.ErrorIs(t, err, ErrUnknownAdapter)
}

func TestRunTimeBudget(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	f.fundAccount(100_000, 100_000)

	inv := f.invocation(jitPayload(t, codec.ModeStandard, 0, nil))
	f.clock.Advance(31 * time.Second)

	_, err := f.eng.Run(context.Background(), inv)
	assert.ErrorIs(t, err, ErrTimeBudgetExceeded)
}

func TestRunTimeBudgetHalvedForUltraAggressive(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	f.fundAccount(100_000, 100_000)
	testutils.Fund(f.state, engTokA, engPoolA, big.NewInt(1_000))
	testutils.Fund(f.state, engTokB, engPoolA, big.NewInt(1_000))

	// 16s is inside the 30s standard window but past the 15s mode 2 window.
	payload := jitPayload(t, codec.ModeUltraAggressive, 0, &codec.Trailer{
		CompetitorRef:      common.HexToHash("0xbeef"),
		PriorityMultiplier: big.NewInt(2),
	})
	inv := f.invocation(payload)
	f.clock.Advance(16 * time.Second)

	_, err := f.eng.Run(context.Background(), inv)
	assert.ErrorIs(t, err, ErrTimeBudgetExceeded)
}

func TestRunRecordsElapsed(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, engPoolA, 1_000_000, 1_000_000)
	f.fundAccount(100_000, 100_000)

	inv := f.invocation(jitPayload(t, codec.ModeStandard, 0, nil))
	f.clock.Advance(3 * time.Second)

	res, err := f.eng.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, res.Elapsed)
	for _, ev := range res.Events {
		assert.Equal(t, 3*time.Second, ev.Elapsed)
	}
}
