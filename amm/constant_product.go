package amm

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashjit/chain"
)

var (
	big997  = big.NewInt(997)
	big1000 = big.NewInt(1000)
)

// ConstantProductPool is an x*y=k pair with a 30-bps swap fee and the
// push-then-pull settlement convention: callers transfer the input token to
// the pool address first, then call Swap/Mint, and the pool works off the
// balance delta against its tracked reserves.
type ConstantProductPool struct {
	addr   common.Address
	token0 common.Address
	token1 common.Address
	ledger *chain.Ledger

	mu          sync.Mutex
	reserve0    *big.Int
	reserve1    *big.Int
	totalSupply *big.Int
	lp          map[common.Address]*big.Int
}

func NewConstantProductPool(addr, token0, token1 common.Address, ledger *chain.Ledger) *ConstantProductPool {
	if token1.Hex() < token0.Hex() {
		token0, token1 = token1, token0
	}
	return &ConstantProductPool{
		addr:        addr,
		token0:      token0,
		token1:      token1,
		ledger:      ledger,
		reserve0:    big.NewInt(0),
		reserve1:    big.NewInt(0),
		totalSupply: big.NewInt(0),
		lp:          make(map[common.Address]*big.Int),
	}
}

func (p *ConstantProductPool) Address() common.Address { return p.addr }
func (p *ConstantProductPool) Token0() common.Address  { return p.token0 }
func (p *ConstantProductPool) Token1() common.Address  { return p.token1 }

// Reserves returns copies of the tracked reserves.
func (p *ConstantProductPool) Reserves() (*big.Int, *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.reserve0), new(big.Int).Set(p.reserve1)
}

// Swap settles a swap whose input has already been pushed to the pool.
// zeroForOne selects the direction; the output is transferred to `to` and
// the amount returned.
func (p *ConstantProductPool) Swap(zeroForOne bool, to common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tokenIn, tokenOut := p.token0, p.token1
	reserveIn, reserveOut := p.reserve0, p.reserve1
	if !zeroForOne {
		tokenIn, tokenOut = p.token1, p.token0
		reserveIn, reserveOut = p.reserve1, p.reserve0
	}

	amountIn := new(big.Int).Sub(p.ledger.BalanceOf(tokenIn, p.addr), reserveIn)
	if amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("swap input not transferred to pool %s", p.addr.Hex())
	}

	amountOut := getAmountOut(amountIn, reserveIn, reserveOut)
	if amountOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("insufficient liquidity in pool %s", p.addr.Hex())
	}

	if err := p.ledger.Transfer(tokenOut, p.addr, to, amountOut); err != nil {
		return nil, err
	}

	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, amountOut)
	return amountOut, nil
}

// Mint issues LP shares for amounts pushed to the pool since the last sync.
func (p *ConstantProductPool) Mint(to common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	amount0 := new(big.Int).Sub(p.ledger.BalanceOf(p.token0, p.addr), p.reserve0)
	amount1 := new(big.Int).Sub(p.ledger.BalanceOf(p.token1, p.addr), p.reserve1)
	if amount0.Sign() <= 0 || amount1.Sign() <= 0 {
		return nil, fmt.Errorf("mint amounts not transferred to pool %s", p.addr.Hex())
	}

	var liquidity *big.Int
	if p.totalSupply.Sign() == 0 {
		liquidity = new(big.Int).Sqrt(new(big.Int).Mul(amount0, amount1))
	} else {
		l0 := new(big.Int).Div(new(big.Int).Mul(amount0, p.totalSupply), p.reserve0)
		l1 := new(big.Int).Div(new(big.Int).Mul(amount1, p.totalSupply), p.reserve1)
		liquidity = l0
		if l1.Cmp(l0) < 0 {
			liquidity = l1
		}
	}
	if liquidity.Sign() <= 0 {
		return nil, fmt.Errorf("insufficient liquidity minted")
	}

	p.totalSupply.Add(p.totalSupply, liquidity)
	bal, ok := p.lp[to]
	if !ok {
		bal = big.NewInt(0)
		p.lp[to] = bal
	}
	bal.Add(bal, liquidity)

	p.reserve0.Add(p.reserve0, amount0)
	p.reserve1.Add(p.reserve1, amount1)
	return new(big.Int).Set(liquidity), nil
}

// Burn redeems liquidity shares held by owner for the pro-rata share of both
// reserves, paid out to owner.
func (p *ConstantProductPool) Burn(owner common.Address, liquidity *big.Int) (*big.Int, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bal, ok := p.lp[owner]
	if !ok || bal.Cmp(liquidity) < 0 {
		return nil, nil, fmt.Errorf("insufficient LP balance for %s", owner.Hex())
	}
	if liquidity.Sign() <= 0 {
		return nil, nil, fmt.Errorf("invalid liquidity amount")
	}

	amount0 := new(big.Int).Div(new(big.Int).Mul(liquidity, p.reserve0), p.totalSupply)
	amount1 := new(big.Int).Div(new(big.Int).Mul(liquidity, p.reserve1), p.totalSupply)
	if amount0.Sign() <= 0 || amount1.Sign() <= 0 {
		return nil, nil, fmt.Errorf("insufficient liquidity burned")
	}

	if err := p.ledger.Transfer(p.token0, p.addr, owner, amount0); err != nil {
		return nil, nil, err
	}
	if err := p.ledger.Transfer(p.token1, p.addr, owner, amount1); err != nil {
		return nil, nil, err
	}

	bal.Sub(bal, liquidity)
	p.totalSupply.Sub(p.totalSupply, liquidity)
	p.reserve0.Sub(p.reserve0, amount0)
	p.reserve1.Sub(p.reserve1, amount1)
	return amount0, amount1, nil
}

// LPBalance returns the LP shares held by owner.
func (p *ConstantProductPool) LPBalance(owner common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bal, ok := p.lp[owner]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

type cpSnapshot struct {
	reserve0    *big.Int
	reserve1    *big.Int
	totalSupply *big.Int
	lp          map[common.Address]*big.Int
}

// TakeSnapshot implements chain.Snapshotter.
func (p *ConstantProductPool) TakeSnapshot() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	lp := make(map[common.Address]*big.Int, len(p.lp))
	for owner, bal := range p.lp {
		lp[owner] = new(big.Int).Set(bal)
	}
	return &cpSnapshot{
		reserve0:    new(big.Int).Set(p.reserve0),
		reserve1:    new(big.Int).Set(p.reserve1),
		totalSupply: new(big.Int).Set(p.totalSupply),
		lp:          lp,
	}
}

// RestoreSnapshot implements chain.Snapshotter.
func (p *ConstantProductPool) RestoreSnapshot(snap interface{}) {
	s, ok := snap.(*cpSnapshot)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.reserve0 = new(big.Int).Set(s.reserve0)
	p.reserve1 = new(big.Int).Set(s.reserve1)
	p.totalSupply = new(big.Int).Set(s.totalSupply)
	p.lp = make(map[common.Address]*big.Int, len(s.lp))
	for owner, bal := range s.lp {
		p.lp[owner] = new(big.Int).Set(bal)
	}
}

// getAmountOut applies the 0.3% fee constant-product formula.
func getAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	amountInWithFee := new(big.Int).Mul(amountIn, big997)
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big1000),
		amountInWithFee,
	)
	return new(big.Int).Div(numerator, denominator)
}
