// Package flashloan routes borrow requests to loan providers and keeps the
// borrow/execute/repay cycle atomic: a substrate snapshot is taken before the
// loan and restored on any failed invariant, so aborted invocations leave no
// trace. The package implements all three provider callback shapes on one
// Router so a single account identity services every capital source.
package flashloan

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/flashjit/chain"
	"github.com/michaelpento.lv/flashjit/codec"
	"github.com/michaelpento.lv/flashjit/config"
	"github.com/michaelpento.lv/flashjit/engine"
)

// BatchElement is one pool operation inside a batch request. Every element
// runs as its own atomic invocation.
type BatchElement struct {
	JIT      codec.JITParams
	Position codec.V3PositionParams
}

// pending tracks the single in-flight loan between Borrow and its callback.
type pending struct {
	ctx      context.Context
	provider Provider
	token    common.Address
	amount   *big.Int
	start    time.Time
	result   *engine.Result
}

// Router owns the loan lifecycle. Exactly one loan may be in flight at a
// time; the reentrancy guard rejects nested borrows.
type Router struct {
	account  common.Address
	state    *chain.State
	store    *config.Store
	engine   *engine.Engine
	selector *engine.TokenSelector
	clock    chain.Clock
	limiter  *rate.Limiter
	logger   *zap.Logger

	providers map[ProviderType]Provider

	inFlight atomic.Bool
	current  *pending

	metrics struct {
		loans       prometheus.CounterVec
		throttled   prometheus.Counter
		events      prometheus.CounterVec
		loanLatency prometheus.Histogram
	}
}

func NewRouter(account common.Address, state *chain.State, store *config.Store, eng *engine.Engine, selector *engine.TokenSelector, clock chain.Clock, limiter *rate.Limiter, logger *zap.Logger) *Router {
	r := &Router{
		account:   account,
		state:     state,
		store:     store,
		engine:    eng,
		selector:  selector,
		clock:     clock,
		limiter:   limiter,
		logger:    logger,
		providers: make(map[ProviderType]Provider),
	}

	r.metrics.loans = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flashloan_loans_total",
		Help: "Flash loans by provider and outcome",
	}, []string{"provider", "outcome"})
	r.metrics.throttled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flashloan_throttled_total",
		Help: "Requests rejected by the rate limiter",
	})
	r.metrics.events = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flashloan_events_total",
		Help: "Success events published after repayment",
	}, []string{"type"})
	r.metrics.loanLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flashloan_cycle_latency_seconds",
		Help:    "Latency of the full borrow/execute/repay cycle",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})
	return r
}

// RegisterMetrics attaches the router's collectors to reg.
func (r *Router) RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		&r.metrics.loans, r.metrics.throttled, &r.metrics.events, r.metrics.loanLatency,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterProvider wires a capital source.
func (r *Router) RegisterProvider(t ProviderType, p Provider) {
	r.providers[t] = p
}

// Account returns the ledger identity loans are delivered to. It also
// satisfies the receiver side of every provider callback interface.
func (r *Router) Account() common.Address {
	return r.account
}

// ExecuteFlashLoan runs one complete loan cycle. On any error the substrate
// is reverted to the pre-borrow snapshot and no events are published.
func (r *Router) ExecuteFlashLoan(ctx context.Context, req Request) (*engine.Result, error) {
	if r.limiter != nil && !r.limiter.Allow() {
		r.metrics.throttled.Inc()
		return nil, ErrThrottled
	}
	if !r.store.IsAuthorized(req.Caller) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedCaller, req.Caller.Hex())
	}
	if req.Token == (common.Address{}) {
		return nil, ErrZeroToken
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if !req.Provider.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProvider, req.Provider)
	}
	provider, ok := r.providers[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, req.Provider)
	}

	if !r.inFlight.CompareAndSwap(false, true) {
		return nil, ErrReentrant
	}
	defer r.inFlight.Store(false)

	started := time.Now()
	defer func() {
		r.metrics.loanLatency.Observe(time.Since(started).Seconds())
	}()

	r.logger.Info("flash loan requested",
		zap.String("provider", provider.String()),
		zap.String("token", req.Token.Hex()),
		zap.String("amount", req.Amount.String()),
		zap.Uint64("payload_digest", xxhash.Sum64(req.Payload)))

	r.current = &pending{
		ctx:      ctx,
		provider: provider,
		token:    req.Token,
		amount:   new(big.Int).Set(req.Amount),
		start:    r.clock.Now(),
	}
	defer func() { r.current = nil }()

	snap := r.state.Snapshot()
	if err := provider.Borrow(ctx, req.Token, req.Amount, req.Payload); err != nil {
		if rerr := r.state.Revert(snap); rerr != nil {
			r.logger.Error("snapshot revert failed", zap.Error(rerr))
		}
		r.metrics.loans.WithLabelValues(provider.String(), "reverted").Inc()
		r.logger.Warn("flash loan reverted",
			zap.String("provider", provider.String()),
			zap.Error(err))
		return nil, err
	}
	r.state.Discard(snap)
	r.metrics.loans.WithLabelValues(provider.String(), "settled").Inc()

	result := r.current.result
	r.publish(result)
	return result, nil
}

// publish emits the buffered success events. Called only after repayment.
func (r *Router) publish(res *engine.Result) {
	if res == nil {
		return
	}
	for _, ev := range res.Events {
		r.metrics.events.WithLabelValues(string(ev.Type)).Inc()
		fields := []zap.Field{
			zap.Uint8("mode", uint8(ev.Mode)),
			zap.Duration("elapsed", ev.Elapsed),
		}
		if ev.Token0 != (common.Address{}) {
			fields = append(fields, zap.String("token0", ev.Token0.Hex()))
		}
		if ev.Token1 != (common.Address{}) {
			fields = append(fields, zap.String("token1", ev.Token1.Hex()))
		}
		if ev.Fee0 != nil {
			fields = append(fields, zap.String("fee0", ev.Fee0.String()))
		}
		if ev.Fee1 != nil {
			fields = append(fields, zap.String("fee1", ev.Fee1.String()))
		}
		if ev.Profit != nil {
			fields = append(fields, zap.String("profit", ev.Profit.String()))
		}
		r.logger.Info(string(ev.Type), fields...)
	}
}

// authenticate is the shared guard of all three callback shapes. Only the
// provider of the in-flight loan may call back, and only for this router.
func (r *Router) authenticate(sender common.Address) (*pending, error) {
	cur := r.current
	if cur == nil {
		return nil, fmt.Errorf("%w: no loan in flight", ErrSpoofedCallback)
	}
	if sender != cur.provider.Address() {
		return nil, fmt.Errorf("%w: %s", ErrSpoofedCallback, sender.Hex())
	}
	return cur, nil
}

// ExecuteOperation is the vectorized callback shape. Exactly one asset is
// ever requested.
func (r *Router) ExecuteOperation(sender common.Address, assets []common.Address, amounts, premiums []*big.Int, initiator common.Address, data []byte) error {
	cur, err := r.authenticate(sender)
	if err != nil {
		return err
	}
	if initiator != r.account {
		return fmt.Errorf("%w: initiator %s", ErrUnauthorizedCaller, initiator.Hex())
	}
	if len(assets) != 1 || len(amounts) != 1 || len(premiums) != 1 {
		return fmt.Errorf("%w: %d assets", ErrAssetMismatch, len(assets))
	}
	if assets[0] != cur.token || amounts[0].Cmp(cur.amount) != 0 {
		return fmt.Errorf("%w: delivered %s", ErrAssetMismatch, assets[0].Hex())
	}
	return r.settle(cur, assets[0], amounts[0], premiums[0], sender, data)
}

// ReceiveFlashLoan is the single-asset callback shape.
func (r *Router) ReceiveFlashLoan(sender, token common.Address, amount, fee *big.Int, data []byte) error {
	cur, err := r.authenticate(sender)
	if err != nil {
		return err
	}
	if token != cur.token || amount.Cmp(cur.amount) != 0 {
		return fmt.Errorf("%w: delivered %s", ErrAssetMismatch, token.Hex())
	}
	return r.settle(cur, token, amount, fee, sender, data)
}

// FlashCallback is the pool-pair callback shape. The loan is single-sided so
// exactly one of the two fees is non-zero.
func (r *Router) FlashCallback(sender common.Address, fee0, fee1 *big.Int, data []byte) error {
	cur, err := r.authenticate(sender)
	if err != nil {
		return err
	}
	fee := new(big.Int).Add(fee0, fee1)
	return r.settle(cur, cur.token, cur.amount, fee, sender, data)
}

// settle runs the engine against the borrowed capital and repays principal
// plus fee to the provider. Any error propagates back through Borrow and
// triggers the snapshot revert.
func (r *Router) settle(cur *pending, token common.Address, amount, fee *big.Int, payTo common.Address, data []byte) error {
	// The loan premium is the invocation's cost dimension; the configured
	// ceiling bounds it before any capital is deployed.
	if ceiling := r.store.View().MaxGasPrice; ceiling.Sign() > 0 && fee.Cmp(ceiling) > 0 {
		return fmt.Errorf("%w: fee %s ceiling %s", ErrFeeCeilingExceeded, fee, ceiling)
	}

	res, err := r.engine.Run(cur.ctx, engine.Invocation{
		Token:   token,
		Amount:  amount,
		Fee:     fee,
		Payload: data,
		Start:   cur.start,
	})
	if err != nil {
		return err
	}

	owed := new(big.Int).Add(amount, fee)
	balance := r.state.Ledger.BalanceOf(token, r.account)
	if balance.Cmp(owed) < 0 {
		return fmt.Errorf("%w: owe %s, hold %s", ErrRepaymentShortfall, owed, balance)
	}
	if err := r.state.Ledger.Transfer(token, r.account, payTo, owed); err != nil {
		return fmt.Errorf("repayment transfer failed: %w", err)
	}

	res.Events = append(res.Events, engine.Event{
		Type:    engine.EventLoanExecuted,
		Mode:    res.Mode,
		Token0:  token,
		Amount0: amount,
		Fee0:    fee,
		Elapsed: res.Elapsed,
	})

	cur.result = res
	return nil
}

// ExecuteStandardJIT borrows the preferred side of the pool pair and runs a
// standard add/remove cycle against it.
func (r *Router) ExecuteStandardJIT(ctx context.Context, caller common.Address, jit codec.JITParams, pos codec.V3PositionParams, pt ProviderType) (*engine.Result, error) {
	return r.runJITMode(ctx, caller, jit, pos, pt, codec.ModeStandard, nil)
}

// ExecuteUltraAggressiveJIT runs under half the standard time budget and
// accepts any positive fee, recording the competitive context on the result.
func (r *Router) ExecuteUltraAggressiveJIT(ctx context.Context, caller common.Address, jit codec.JITParams, pos codec.V3PositionParams, pt ProviderType, competitorRef common.Hash, priorityMultiplier *big.Int) (*engine.Result, error) {
	trailer := &codec.Trailer{
		CompetitorRef:      competitorRef,
		PriorityMultiplier: priorityMultiplier,
	}
	return r.runJITMode(ctx, caller, jit, pos, pt, codec.ModeUltraAggressive, trailer)
}

// FrontrunCompetitor is the ultra-aggressive entry point keyed to a known
// competitor address. The address must already be registered, and the
// priority multiplier for the bidding layer must be positive.
func (r *Router) FrontrunCompetitor(ctx context.Context, caller, competitor common.Address, jit codec.JITParams, pos codec.V3PositionParams, pt ProviderType, priorityMultiplier *big.Int) (*engine.Result, error) {
	if !r.store.IsCompetitor(competitor) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompetitor, competitor.Hex())
	}
	if priorityMultiplier == nil || priorityMultiplier.Sign() <= 0 {
		return nil, fmt.Errorf("priority multiplier must be positive, got %s", priorityMultiplier)
	}
	ref := common.BytesToHash(competitor.Bytes())
	return r.ExecuteUltraAggressiveJIT(ctx, caller, jit, pos, pt, ref, priorityMultiplier)
}

// ExecuteBatchMicroJIT runs each element as its own atomic loan with the
// position-weighted fee discount. Element failures revert individually and do
// not stop the rest of the batch.
func (r *Router) ExecuteBatchMicroJIT(ctx context.Context, caller common.Address, elems []BatchElement, pt ProviderType) ([]*engine.Result, error) {
	view := r.store.View()
	if len(elems) == 0 || len(elems) > view.MaxBatchSize {
		return nil, fmt.Errorf("batch size %d outside [1, %d]", len(elems), view.MaxBatchSize)
	}

	size := big.NewInt(int64(len(elems)))
	results := make([]*engine.Result, 0, len(elems))
	var errs []error
	for i, el := range elems {
		trailer := &codec.Trailer{
			BatchIndex: big.NewInt(int64(i)),
			BatchSize:  size,
		}
		res, err := r.runJITMode(ctx, caller, el.JIT, el.Position, pt, codec.ModeBatch, trailer)
		if err != nil {
			errs = append(errs, fmt.Errorf("batch element %d: %w", i, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// ExecuteArbitrage borrows the path's start token and runs the swap chain.
func (r *Router) ExecuteArbitrage(ctx context.Context, caller common.Address, arb codec.ArbParams, pt ProviderType) (*engine.Result, error) {
	payload, err := codec.Encode(&codec.Payload{
		Mode:   codec.ModeStandard,
		Family: codec.FamilyArb,
		Arb:    &arb,
	})
	if err != nil {
		return nil, err
	}
	return r.ExecuteFlashLoan(ctx, Request{
		Caller:   caller,
		Token:    arb.StartToken,
		Amount:   arb.BorrowAmount,
		Payload:  payload,
		Provider: pt,
	})
}

func (r *Router) runJITMode(ctx context.Context, caller common.Address, jit codec.JITParams, pos codec.V3PositionParams, pt ProviderType, mode codec.Mode, trailer *codec.Trailer) (*engine.Result, error) {
	if !pt.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProvider, pt)
	}
	provider, ok := r.providers[pt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, pt)
	}
	token, amount := r.selector.Pick(jit.Token0, jit.Token1, jit.Amount0, jit.Amount1, provider)

	payload, err := codec.Encode(&codec.Payload{
		Mode:     mode,
		Family:   codec.FamilyJIT,
		JIT:      &jit,
		Position: &pos,
		Trailer:  trailer,
	})
	if err != nil {
		return nil, err
	}
	return r.ExecuteFlashLoan(ctx, Request{
		Caller:   caller,
		Token:    token,
		Amount:   amount,
		Payload:  payload,
		Provider: pt,
	})
}
