// Package engine runs one flash-loan operation per invocation: decode the
// payload, execute the selected strategy against the pools, and validate the
// profitability and timing budget before the loan is repaid. There is no
// cross-invocation state beyond the position registry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashjit/chain"
	"github.com/michaelpento.lv/flashjit/codec"
	"github.com/michaelpento.lv/flashjit/config"
	"github.com/michaelpento.lv/flashjit/dex"
)

// Invocation is one unit of borrowed capital delivered to the engine.
type Invocation struct {
	Token   common.Address
	Amount  *big.Int
	Fee     *big.Int
	Payload []byte
	Start   time.Time
}

// Verdict is the profitability check outcome of a successful run.
type Verdict struct {
	FeeOrProfit       *big.Int
	ThresholdRequired *big.Int
	Mode              codec.Mode
}

// Result is returned on success. Events are buffered here and published by
// the router only after repayment settles.
type Result struct {
	Mode    codec.Mode
	Family  codec.Family
	Verdict Verdict
	Elapsed time.Duration
	Events  []Event

	// Mode 2 bidding hints, recorded for the off-chain layer.
	CompetitorRef      common.Hash
	PriorityMultiplier *big.Int
}

// Engine executes decoded operations. Strategies are free functions
// dispatched through a lookup table keyed by (family, mode), so every branch
// of the state machine is visible in one place.
type Engine struct {
	account   common.Address
	state     *chain.State
	store     *config.Store
	clock     chain.Clock
	logger    *zap.Logger
	swaps     map[codec.DexType]dex.SwapAdapter
	liquidity map[codec.PoolType]dex.LiquidityAdapter

	metrics struct {
		runs       prometheus.CounterVec
		failures   prometheus.CounterVec
		runLatency prometheus.Histogram
	}
}

type strategyKey struct {
	family codec.Family
	mode   codec.Mode
}

type strategyFunc func(e *Engine, ctx context.Context, inv Invocation, p *codec.Payload, view config.Runtime) (*Result, error)

var strategies = map[strategyKey]strategyFunc{
	{codec.FamilyJIT, codec.ModeStandard}:        runStandardJIT,
	{codec.FamilyJIT, codec.ModeUltraAggressive}: runUltraAggressiveJIT,
	{codec.FamilyJIT, codec.ModeBatch}:           runBatchJIT,
	{codec.FamilyArb, codec.ModeStandard}:        runArbitrage,
}

func New(account common.Address, state *chain.State, store *config.Store, clock chain.Clock, logger *zap.Logger) *Engine {
	e := &Engine{
		account:   account,
		state:     state,
		store:     store,
		clock:     clock,
		logger:    logger,
		swaps:     make(map[codec.DexType]dex.SwapAdapter),
		liquidity: make(map[codec.PoolType]dex.LiquidityAdapter),
	}

	e.metrics.runs = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_runs_total",
		Help: "Number of engine runs by mode",
	}, []string{"mode"})
	e.metrics.failures = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_failures_total",
		Help: "Number of aborted runs by failed invariant",
	}, []string{"reason"})
	e.metrics.runLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_run_latency_seconds",
		Help:    "Latency of engine runs",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})
	return e
}

// RegisterMetrics attaches the engine's collectors to reg.
func (e *Engine) RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		&e.metrics.runs, &e.metrics.failures, e.metrics.runLatency,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSwapAdapter wires a swap flavor.
func (e *Engine) RegisterSwapAdapter(dexType codec.DexType, adapter dex.SwapAdapter) {
	e.swaps[dexType] = adapter
}

// RegisterLiquidityAdapter wires a liquidity flavor.
func (e *Engine) RegisterLiquidityAdapter(poolType codec.PoolType, adapter dex.LiquidityAdapter) {
	e.liquidity[poolType] = adapter
}

// Account returns the ledger identity the engine acts as.
func (e *Engine) Account() common.Address {
	return e.account
}

// Run executes one invocation. Any error means the caller must revert the
// substrate; Run itself performs no rollback.
func (e *Engine) Run(ctx context.Context, inv Invocation) (*Result, error) {
	started := time.Now()
	defer func() {
		e.metrics.runLatency.Observe(time.Since(started).Seconds())
	}()

	// Fresh configuration view per invocation; never cached across calls.
	view := e.store.View()

	payload, err := codec.Decode(inv.Payload)
	if err != nil {
		e.metrics.failures.WithLabelValues("decode").Inc()
		return nil, err
	}
	e.metrics.runs.WithLabelValues(fmt.Sprintf("%d", payload.Mode)).Inc()

	strategy, ok := strategies[strategyKey{payload.Family, payload.Mode}]
	if !ok {
		e.metrics.failures.WithLabelValues("dispatch").Inc()
		return nil, fmt.Errorf("%w: family %d mode %d", codec.ErrMalformedPayload, payload.Family, payload.Mode)
	}

	res, err := strategy(e, ctx, inv, payload, view)
	if err != nil {
		e.metrics.failures.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	// Timing budget is enforced post-hoc, right before the repayment
	// decision. Mode 2 runs on half the standard window.
	budget := view.ExecutionWindow
	if payload.Mode == codec.ModeUltraAggressive {
		budget /= 2
	}
	elapsed := e.clock.Now().Sub(inv.Start)
	if elapsed > budget {
		e.metrics.failures.WithLabelValues("time_budget").Inc()
		return nil, fmt.Errorf("%w: elapsed %s budget %s", ErrTimeBudgetExceeded, elapsed, budget)
	}
	res.Elapsed = elapsed
	for i := range res.Events {
		res.Events[i].Elapsed = elapsed
	}
	return res, nil
}

// runStandardJIT adds liquidity, removes it, and requires the realized fee
// to clear the payload's minimum.
func runStandardJIT(e *Engine, ctx context.Context, inv Invocation, p *codec.Payload, view config.Runtime) (*Result, error) {
	return e.runJIT(ctx, inv, p, p.JIT.MinFeeExpected)
}

// runUltraAggressiveJIT accepts any positive fee and records the competitor
// reference for the off-chain bidding layer.
func runUltraAggressiveJIT(e *Engine, ctx context.Context, inv Invocation, p *codec.Payload, view config.Runtime) (*Result, error) {
	if !view.UltraAggressiveEnabled {
		return nil, fmt.Errorf("%w: ultra-aggressive", ErrModeDisabled)
	}
	res, err := e.runJIT(ctx, inv, p, big.NewInt(1))
	if err != nil {
		return nil, err
	}
	res.CompetitorRef = p.Trailer.CompetitorRef
	res.PriorityMultiplier = p.Trailer.PriorityMultiplier
	return res, nil
}

// runBatchJIT scales the fee threshold down with the element's position in
// the batch: earlier slots face a higher bar, later slots a lower one.
func runBatchJIT(e *Engine, ctx context.Context, inv Invocation, p *codec.Payload, view config.Runtime) (*Result, error) {
	if !view.BatchEnabled {
		return nil, fmt.Errorf("%w: batch", ErrModeDisabled)
	}
	index, size := p.Trailer.BatchIndex, p.Trailer.BatchSize
	if size.Sign() <= 0 || index.Cmp(size) >= 0 {
		return nil, fmt.Errorf("%w: index %s size %s", ErrBatchBounds, index, size)
	}
	if size.Cmp(big.NewInt(int64(view.MaxBatchSize))) > 0 {
		return nil, fmt.Errorf("%w: size %s exceeds cap %d", ErrBatchBounds, size, view.MaxBatchSize)
	}
	return e.runJIT(ctx, inv, p, minBatchFee(p.JIT.MinFeeExpected, index, size))
}

// minBatchFee computes minFeeExpected * (batchSize - batchIndex) / (batchSize * 10).
func minBatchFee(minFee, index, size *big.Int) *big.Int {
	fee := new(big.Int).Sub(size, index)
	fee.Mul(fee, minFee)
	return fee.Div(fee, new(big.Int).Mul(size, big.NewInt(10)))
}

// runJIT is the shared add/remove path of all JIT modes; only the fee
// threshold differs.
func (e *Engine) runJIT(ctx context.Context, inv Invocation, p *codec.Payload, threshold *big.Int) (*Result, error) {
	jit := p.JIT
	if inv.Token != jit.Token0 && inv.Token != jit.Token1 {
		return nil, fmt.Errorf("%w: borrowed %s, pool pair %s/%s",
			ErrTokenMismatch, inv.Token.Hex(), jit.Token0.Hex(), jit.Token1.Hex())
	}

	adapter, ok := e.liquidity[jit.PoolType]
	if !ok {
		return nil, fmt.Errorf("%w: pool type %d", ErrUnknownAdapter, jit.PoolType)
	}

	if err := adapter.Add(ctx, e.account, *jit, *p.Position); err != nil {
		return nil, fmt.Errorf("liquidity add failed: %w", err)
	}

	removed, err := adapter.Remove(ctx, e.account, *jit, *p.Position)
	if err != nil {
		return nil, fmt.Errorf("liquidity remove failed: %w", err)
	}

	realized := new(big.Int).Add(removed.Fee0, removed.Fee1)
	if realized.Cmp(threshold) < 0 {
		return nil, fmt.Errorf("%w: fee %s threshold %s", ErrInsufficientFee, realized, threshold)
	}

	e.logger.Info("JIT operation settled",
		zap.Uint8("mode", uint8(p.Mode)),
		zap.String("pool", jit.Pool.Hex()),
		zap.String("fee0", removed.Fee0.String()),
		zap.String("fee1", removed.Fee1.String()))

	res := &Result{
		Mode:   p.Mode,
		Family: codec.FamilyJIT,
		Verdict: Verdict{
			FeeOrProfit:       realized,
			ThresholdRequired: threshold,
			Mode:              p.Mode,
		},
	}
	res.Events = append(res.Events,
		Event{
			Type: EventLiquidityAdded, Mode: p.Mode,
			Token0: jit.Token0, Token1: jit.Token1,
			Amount0: jit.Amount0, Amount1: jit.Amount1,
		},
		Event{
			Type: EventLiquidityRemoved, Mode: p.Mode,
			Token0: jit.Token0, Token1: jit.Token1,
			Amount0: removed.Amount0, Amount1: removed.Amount1,
			Fee0: removed.Fee0, Fee1: removed.Fee1,
		},
	)
	return res, nil
}

// runArbitrage executes the swap chain and requires any positive profit. The
// path must return to the borrowed token; this is checked before any swap
// moves capital.
func runArbitrage(e *Engine, ctx context.Context, inv Invocation, p *codec.Payload, view config.Runtime) (*Result, error) {
	arb := p.Arb
	if arb.StartToken != inv.Token {
		return nil, fmt.Errorf("%w: borrowed %s, path starts at %s",
			ErrTokenMismatch, inv.Token.Hex(), arb.StartToken.Hex())
	}
	if err := validatePath(arb); err != nil {
		return nil, err
	}

	initial := e.state.Ledger.BalanceOf(inv.Token, e.account)

	cursor := arb.StartToken
	amount := new(big.Int).Set(inv.Amount)
	for i := range arb.Swaps {
		step := arb.Swaps[i]
		adapter, ok := e.swaps[step.Dex]
		if !ok {
			return nil, fmt.Errorf("%w: dex type %d", ErrUnknownAdapter, step.Dex)
		}
		if adapter.InputToken(step) != cursor {
			return nil, fmt.Errorf("%w: step %d consumes %s, holding %s",
				ErrPathNotClosed, i, step.TokenIn.Hex(), cursor.Hex())
		}
		var err error
		cursor, amount, err = adapter.Swap(ctx, e.account, step, amount)
		if err != nil {
			return nil, fmt.Errorf("swap %d failed: %w", i, err)
		}
	}
	if cursor != arb.StartToken {
		return nil, fmt.Errorf("%w: ends at %s", ErrPathNotClosed, cursor.Hex())
	}

	final := e.state.Ledger.BalanceOf(inv.Token, e.account)
	profit := new(big.Int).Sub(final, initial)
	if profit.Sign() <= 0 {
		return nil, fmt.Errorf("%w: profit %s", ErrNoProfit, profit)
	}
	if view.MinProfitThreshold.Sign() > 0 && profit.Cmp(view.MinProfitThreshold) < 0 {
		return nil, fmt.Errorf("%w: profit %s below floor %s", ErrNoProfit, profit, view.MinProfitThreshold)
	}

	e.logger.Info("arbitrage settled",
		zap.String("token", inv.Token.Hex()),
		zap.Int("hops", len(arb.Swaps)),
		zap.String("profit", profit.String()))

	res := &Result{
		Mode:   p.Mode,
		Family: codec.FamilyArb,
		Verdict: Verdict{
			FeeOrProfit:       profit,
			ThresholdRequired: big.NewInt(1),
			Mode:              p.Mode,
		},
	}
	res.Events = append(res.Events, Event{
		Type: EventArbitrageExecuted, Mode: p.Mode,
		Token0: inv.Token, Profit: profit,
	})
	return res, nil
}

// validatePath checks hop continuity and closure before capital moves.
func validatePath(arb *codec.ArbParams) error {
	cursor := arb.StartToken
	for i := range arb.Swaps {
		if arb.Swaps[i].TokenIn != cursor {
			return fmt.Errorf("%w: step %d breaks the chain", ErrPathNotClosed, i)
		}
		cursor = arb.Swaps[i].TokenOut
	}
	if cursor != arb.StartToken {
		return fmt.Errorf("%w: ends at %s", ErrPathNotClosed, cursor.Hex())
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFee):
		return "insufficient_fee"
	case errors.Is(err, ErrNoProfit):
		return "no_profit"
	case errors.Is(err, ErrTimeBudgetExceeded):
		return "time_budget"
	case errors.Is(err, ErrPathNotClosed):
		return "path_not_closed"
	case errors.Is(err, ErrTokenMismatch):
		return "token_mismatch"
	case errors.Is(err, ErrModeDisabled):
		return "mode_disabled"
	case errors.Is(err, ErrBatchBounds):
		return "batch_bounds"
	default:
		return "upstream"
	}
}
