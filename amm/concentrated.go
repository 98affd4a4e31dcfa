package amm

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashjit/chain"
	flashmath "github.com/michaelpento.lv/flashjit/utils/math"
)

const feeDenominator = 1_000_000 // fee tiers are in hundredths of a bip

// SwapSettler receives the synchronous settlement callback of a concentrated
// pool swap: it must transfer `amount` of `token` to the pool before
// returning, or the swap fails.
type SwapSettler interface {
	SwapSettle(pool, token common.Address, amount *big.Int) error
}

// FlashSettler receives the settlement callback of a pool flash: the borrowed
// amounts plus the reported fees must be back in the pool when it returns.
type FlashSettler interface {
	FlashSettle(pool common.Address, fee0, fee1 *big.Int, data []byte) error
}

// Position is a tick-ranged liquidity deposit identified by a numeric id.
type Position struct {
	ID         uint64
	Owner      common.Address
	TickLower  int32
	TickUpper  int32
	Liquidity  *big.Int
	principal0 *big.Int
	principal1 *big.Int
	owed0      *big.Int
	owed1      *big.Int
}

// ConcentratedPool is a simplified concentrated-liquidity pool: positions are
// tick-ranged, swap fees accrue pro rata to position liquidity, and swaps
// settle through a synchronous callback into the initiator. Pricing uses the
// pool's aggregate virtual reserves; per-position principal is returned as
// deposited, so price-movement PnL is not attributed to positions.
type ConcentratedPool struct {
	addr    common.Address
	token0  common.Address
	token1  common.Address
	feeTier uint32
	ledger  *chain.Ledger

	mu        sync.Mutex
	virtual0  *big.Int
	virtual1  *big.Int
	liquidity *big.Int
	positions map[uint64]*Position
	nextID    uint64
}

func NewConcentratedPool(addr, token0, token1 common.Address, feeTier uint32, ledger *chain.Ledger) *ConcentratedPool {
	if token1.Hex() < token0.Hex() {
		token0, token1 = token1, token0
	}
	return &ConcentratedPool{
		addr:      addr,
		token0:    token0,
		token1:    token1,
		feeTier:   feeTier,
		ledger:    ledger,
		virtual0:  big.NewInt(0),
		virtual1:  big.NewInt(0),
		liquidity: big.NewInt(0),
		positions: make(map[uint64]*Position),
		nextID:    1,
	}
}

func (p *ConcentratedPool) Address() common.Address { return p.addr }
func (p *ConcentratedPool) Token0() common.Address  { return p.token0 }
func (p *ConcentratedPool) Token1() common.Address  { return p.token1 }
func (p *ConcentratedPool) FeeTier() uint32         { return p.feeTier }

// Mint creates a new position funded by owner and returns its id.
func (p *ConcentratedPool) Mint(owner common.Address, tickLower, tickUpper int32, amount0, amount1 *big.Int) (uint64, error) {
	if tickLower >= tickUpper {
		return 0, fmt.Errorf("invalid tick range [%d, %d)", tickLower, tickUpper)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.pull(owner, amount0, amount1); err != nil {
		return 0, err
	}

	id := p.nextID
	p.nextID++
	p.positions[id] = &Position{
		ID:         id,
		Owner:      owner,
		TickLower:  tickLower,
		TickUpper:  tickUpper,
		Liquidity:  new(big.Int).Add(amount0, amount1),
		principal0: new(big.Int).Set(amount0),
		principal1: new(big.Int).Set(amount1),
		owed0:      big.NewInt(0),
		owed1:      big.NewInt(0),
	}
	p.liquidity.Add(p.liquidity, p.positions[id].Liquidity)
	p.virtual0.Add(p.virtual0, amount0)
	p.virtual1.Add(p.virtual1, amount1)
	return id, nil
}

// IncreaseLiquidity adds funds to an existing position.
func (p *ConcentratedPool) IncreaseLiquidity(id uint64, owner common.Address, amount0, amount1 *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, err := p.position(id, owner)
	if err != nil {
		return err
	}
	if err := p.pull(owner, amount0, amount1); err != nil {
		return err
	}

	added := new(big.Int).Add(amount0, amount1)
	pos.Liquidity.Add(pos.Liquidity, added)
	pos.principal0.Add(pos.principal0, amount0)
	pos.principal1.Add(pos.principal1, amount1)
	p.liquidity.Add(p.liquidity, added)
	p.virtual0.Add(p.virtual0, amount0)
	p.virtual1.Add(p.virtual1, amount1)
	return nil
}

// DecreaseLiquidity releases liquidity from the position into its owed
// balances. The released principal is not transferred; a subsequent Collect
// pays it out. This mirrors the protocol's two-phase accounting.
func (p *ConcentratedPool) DecreaseLiquidity(id uint64, owner common.Address, liquidity *big.Int) (*big.Int, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, err := p.position(id, owner)
	if err != nil {
		return nil, nil, err
	}
	if liquidity.Sign() <= 0 || liquidity.Cmp(pos.Liquidity) > 0 {
		return nil, nil, fmt.Errorf("invalid liquidity amount for position %d", id)
	}

	amount0 := new(big.Int).Div(new(big.Int).Mul(pos.principal0, liquidity), pos.Liquidity)
	amount1 := new(big.Int).Div(new(big.Int).Mul(pos.principal1, liquidity), pos.Liquidity)

	pos.Liquidity.Sub(pos.Liquidity, liquidity)
	pos.principal0.Sub(pos.principal0, amount0)
	pos.principal1.Sub(pos.principal1, amount1)
	pos.owed0.Add(pos.owed0, amount0)
	pos.owed1.Add(pos.owed1, amount1)
	p.liquidity.Sub(p.liquidity, liquidity)
	p.virtual0.Sub(p.virtual0, amount0)
	p.virtual1.Sub(p.virtual1, amount1)
	return amount0, amount1, nil
}

// Collect pays out everything owed to the position (accrued fees, plus any
// principal released by DecreaseLiquidity) to recipient.
func (p *ConcentratedPool) Collect(id uint64, owner, recipient common.Address) (*big.Int, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, err := p.position(id, owner)
	if err != nil {
		return nil, nil, err
	}

	collected0 := new(big.Int).Set(pos.owed0)
	collected1 := new(big.Int).Set(pos.owed1)
	if collected0.Sign() > 0 {
		if err := p.ledger.Transfer(p.token0, p.addr, recipient, collected0); err != nil {
			return nil, nil, err
		}
	}
	if collected1.Sign() > 0 {
		if err := p.ledger.Transfer(p.token1, p.addr, recipient, collected1); err != nil {
			return nil, nil, err
		}
	}
	pos.owed0.SetInt64(0)
	pos.owed1.SetInt64(0)

	if pos.Liquidity.Sign() == 0 {
		delete(p.positions, id)
	}
	return collected0, collected1, nil
}

// PositionLiquidity returns the remaining liquidity of a position, or nil if
// it no longer exists.
func (p *ConcentratedPool) PositionLiquidity(id uint64) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[id]; ok {
		return new(big.Int).Set(pos.Liquidity)
	}
	return nil
}

// Swap trades amountIn of one side for the other. The output is transferred
// to recipient first; the settler must then push the input to the pool before
// Swap returns. The swap fee is credited pro rata to open positions.
func (p *ConcentratedPool) Swap(recipient common.Address, zeroForOne bool, amountIn *big.Int, settler SwapSettler) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("invalid swap amount")
	}

	p.mu.Lock()

	tokenIn, tokenOut := p.token0, p.token1
	reserveIn, reserveOut := p.virtual0, p.virtual1
	if !zeroForOne {
		tokenIn, tokenOut = p.token1, p.token0
		reserveIn, reserveOut = p.virtual1, p.virtual0
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("no liquidity in pool %s", p.addr.Hex())
	}

	fee := p.feeAmount(amountIn)
	netIn := new(big.Int).Sub(amountIn, fee)
	numerator := new(big.Int).Mul(netIn, reserveOut)
	denominator := new(big.Int).Add(reserveIn, netIn)
	amountOut := numerator.Div(numerator, denominator)
	if amountOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("insufficient liquidity in pool %s", p.addr.Hex())
	}

	if err := p.ledger.Transfer(tokenOut, p.addr, recipient, amountOut); err != nil {
		p.mu.Unlock()
		return nil, err
	}

	balBefore := p.ledger.BalanceOf(tokenIn, p.addr)
	p.mu.Unlock()

	// Callback settlement: the initiator owes amountIn.
	if err := settler.SwapSettle(p.addr, tokenIn, amountIn); err != nil {
		return nil, fmt.Errorf("swap settlement failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	paid := new(big.Int).Sub(p.ledger.BalanceOf(tokenIn, p.addr), balBefore)
	if paid.Cmp(amountIn) < 0 {
		return nil, fmt.Errorf("swap underpaid: got %s want %s", paid, amountIn)
	}

	reserveIn.Add(reserveIn, netIn)
	reserveOut.Sub(reserveOut, amountOut)
	if zeroForOne {
		p.creditFees(fee, big.NewInt(0))
	} else {
		p.creditFees(big.NewInt(0), fee)
	}
	return amountOut, nil
}

// Flash lends amount0/amount1 for the duration of the callback. The settler
// must return the principal plus the pool-reported fees.
func (p *ConcentratedPool) Flash(recipient common.Address, amount0, amount1 *big.Int, data []byte, settler FlashSettler) error {
	p.mu.Lock()

	fee0 := p.feeAmount(amount0)
	fee1 := p.feeAmount(amount1)
	bal0Before := p.ledger.BalanceOf(p.token0, p.addr)
	bal1Before := p.ledger.BalanceOf(p.token1, p.addr)

	if amount0.Sign() > 0 {
		if err := p.ledger.Transfer(p.token0, p.addr, recipient, amount0); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	if amount1.Sign() > 0 {
		if err := p.ledger.Transfer(p.token1, p.addr, recipient, amount1); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.mu.Unlock()

	if err := settler.FlashSettle(p.addr, fee0, fee1, data); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	want0 := new(big.Int).Add(bal0Before, fee0)
	want1 := new(big.Int).Add(bal1Before, fee1)
	if p.ledger.BalanceOf(p.token0, p.addr).Cmp(want0) < 0 ||
		p.ledger.BalanceOf(p.token1, p.addr).Cmp(want1) < 0 {
		return fmt.Errorf("flash not repaid to pool %s", p.addr.Hex())
	}
	p.creditFees(fee0, fee1)
	return nil
}

// FlashFee returns the pool fee charged on a flash of amount.
func (p *ConcentratedPool) FlashFee(amount *big.Int) *big.Int {
	return p.feeAmount(amount)
}

func (p *ConcentratedPool) feeAmount(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	// Rounded up, as the protocol does.
	fee := new(big.Int).Mul(amount, big.NewInt(int64(p.feeTier)))
	return flashmath.CeilDiv(fee, big.NewInt(feeDenominator))
}

// creditFees distributes fees pro rata to open positions by liquidity.
// Rounding dust stays in the pool. Caller holds p.mu.
func (p *ConcentratedPool) creditFees(fee0, fee1 *big.Int) {
	if p.liquidity.Sign() == 0 {
		return
	}
	ids := make([]uint64, 0, len(p.positions))
	for id := range p.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		pos := p.positions[id]
		if pos.Liquidity.Sign() == 0 {
			continue
		}
		share0 := new(big.Int).Div(new(big.Int).Mul(fee0, pos.Liquidity), p.liquidity)
		share1 := new(big.Int).Div(new(big.Int).Mul(fee1, pos.Liquidity), p.liquidity)
		pos.owed0.Add(pos.owed0, share0)
		pos.owed1.Add(pos.owed1, share1)
	}
}

func (p *ConcentratedPool) position(id uint64, owner common.Address) (*Position, error) {
	pos, ok := p.positions[id]
	if !ok {
		return nil, fmt.Errorf("unknown position %d", id)
	}
	if pos.Owner != owner {
		return nil, fmt.Errorf("position %d not owned by %s", id, owner.Hex())
	}
	return pos, nil
}

// pull transfers amounts from owner into the pool. Caller holds p.mu.
func (p *ConcentratedPool) pull(owner common.Address, amount0, amount1 *big.Int) error {
	if amount0 == nil || amount1 == nil || (amount0.Sign() <= 0 && amount1.Sign() <= 0) {
		return fmt.Errorf("liquidity amounts must be positive")
	}
	if amount0.Sign() > 0 {
		if err := p.ledger.Transfer(p.token0, owner, p.addr, amount0); err != nil {
			return err
		}
	}
	if amount1.Sign() > 0 {
		if err := p.ledger.Transfer(p.token1, owner, p.addr, amount1); err != nil {
			return err
		}
	}
	return nil
}

type clSnapshot struct {
	virtual0  *big.Int
	virtual1  *big.Int
	liquidity *big.Int
	nextID    uint64
	positions map[uint64]*Position
}

// TakeSnapshot implements chain.Snapshotter.
func (p *ConcentratedPool) TakeSnapshot() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := make(map[uint64]*Position, len(p.positions))
	for id, pos := range p.positions {
		positions[id] = &Position{
			ID:         pos.ID,
			Owner:      pos.Owner,
			TickLower:  pos.TickLower,
			TickUpper:  pos.TickUpper,
			Liquidity:  new(big.Int).Set(pos.Liquidity),
			principal0: new(big.Int).Set(pos.principal0),
			principal1: new(big.Int).Set(pos.principal1),
			owed0:      new(big.Int).Set(pos.owed0),
			owed1:      new(big.Int).Set(pos.owed1),
		}
	}
	return &clSnapshot{
		virtual0:  new(big.Int).Set(p.virtual0),
		virtual1:  new(big.Int).Set(p.virtual1),
		liquidity: new(big.Int).Set(p.liquidity),
		nextID:    p.nextID,
		positions: positions,
	}
}

// RestoreSnapshot implements chain.Snapshotter.
func (p *ConcentratedPool) RestoreSnapshot(snap interface{}) {
	s, ok := snap.(*clSnapshot)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.virtual0 = new(big.Int).Set(s.virtual0)
	p.virtual1 = new(big.Int).Set(s.virtual1)
	p.liquidity = new(big.Int).Set(s.liquidity)
	p.nextID = s.nextID
	p.positions = make(map[uint64]*Position, len(s.positions))
	for id, pos := range s.positions {
		p.positions[id] = &Position{
			ID:         pos.ID,
			Owner:      pos.Owner,
			TickLower:  pos.TickLower,
			TickUpper:  pos.TickUpper,
			Liquidity:  new(big.Int).Set(pos.Liquidity),
			principal0: new(big.Int).Set(pos.principal0),
			principal1: new(big.Int).Set(pos.principal1),
			owed0:      new(big.Int).Set(pos.owed0),
			owed1:      new(big.Int).Set(pos.owed1),
		}
	}
}
