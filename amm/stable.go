package amm

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashjit/chain"
)

// StablePool is a two-coin stable-swap pool with an amplified invariant.
// Exchange is index-based and returns the output amount directly; there is no
// settlement callback. Fee is 4 bps.
type StablePool struct {
	addr   common.Address
	coins  [2]common.Address
	amp    *big.Int
	feeBps int64
	ledger *chain.Ledger

	mu       sync.Mutex
	balances [2]*big.Int
}

func NewStablePool(addr common.Address, coin0, coin1 common.Address, amp int64, ledger *chain.Ledger) *StablePool {
	return &StablePool{
		addr:     addr,
		coins:    [2]common.Address{coin0, coin1},
		amp:      big.NewInt(amp),
		feeBps:   4,
		ledger:   ledger,
		balances: [2]*big.Int{big.NewInt(0), big.NewInt(0)},
	}
}

func (p *StablePool) Address() common.Address { return p.addr }

// Coin returns the token at index i.
func (p *StablePool) Coin(i int) (common.Address, error) {
	if i < 0 || i > 1 {
		return common.Address{}, fmt.Errorf("coin index %d out of range", i)
	}
	return p.coins[i], nil
}

// IndexOf returns the coin index of token.
func (p *StablePool) IndexOf(token common.Address) (int, error) {
	for i, coin := range p.coins {
		if coin == token {
			return i, nil
		}
	}
	return 0, fmt.Errorf("token %s not in pool %s", token.Hex(), p.addr.Hex())
}

// AddBalance seeds pool reserves from a funding account.
func (p *StablePool) AddBalance(from common.Address, i int, amount *big.Int) error {
	if i < 0 || i > 1 {
		return fmt.Errorf("coin index %d out of range", i)
	}
	if err := p.ledger.Transfer(p.coins[i], from, p.addr, amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[i].Add(p.balances[i], amount)
	return nil
}

// Exchange swaps dx of coin i for coin j, paid out to `to`.
func (p *StablePool) Exchange(i, j int, dx *big.Int, minDy *big.Int, from common.Address) (*big.Int, error) {
	if i == j || i < 0 || i > 1 || j < 0 || j > 1 {
		return nil, fmt.Errorf("invalid coin indexes %d/%d", i, j)
	}
	if dx == nil || dx.Sign() <= 0 {
		return nil, fmt.Errorf("invalid exchange amount")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	x := new(big.Int).Add(p.balances[i], dx)
	y := p.getY(x, p.balances[j])
	dy := new(big.Int).Sub(p.balances[j], y)
	dy.Sub(dy, big.NewInt(1)) // round in the pool's favor

	fee := new(big.Int).Mul(dy, big.NewInt(p.feeBps))
	fee.Div(fee, big.NewInt(10000))
	dy.Sub(dy, fee)

	if dy.Sign() <= 0 {
		return nil, fmt.Errorf("exchange output is zero")
	}
	if minDy != nil && dy.Cmp(minDy) < 0 {
		return nil, fmt.Errorf("exchange output %s below minimum %s", dy, minDy)
	}

	if err := p.ledger.Transfer(p.coins[i], from, p.addr, dx); err != nil {
		return nil, err
	}
	if err := p.ledger.Transfer(p.coins[j], p.addr, from, dy); err != nil {
		return nil, err
	}

	p.balances[i].Add(p.balances[i], dx)
	p.balances[j].Sub(p.balances[j], dy)
	return dy, nil
}

// getD computes the stable-swap invariant by Newton iteration.
func (p *StablePool) getD(xp [2]*big.Int) *big.Int {
	n := big.NewInt(2)
	s := new(big.Int).Add(xp[0], xp[1])
	if s.Sign() == 0 {
		return big.NewInt(0)
	}

	d := new(big.Int).Set(s)
	ann := new(big.Int).Mul(p.amp, n)
	for iter := 0; iter < 255; iter++ {
		dp := new(big.Int).Set(d)
		for _, x := range xp {
			dp.Mul(dp, d)
			dp.Div(dp, new(big.Int).Mul(x, n))
		}
		dPrev := new(big.Int).Set(d)

		// d = (ann*s + dp*n) * d / ((ann-1)*d + (n+1)*dp)
		num := new(big.Int).Mul(ann, s)
		num.Add(num, new(big.Int).Mul(dp, n))
		num.Mul(num, d)
		den := new(big.Int).Mul(new(big.Int).Sub(ann, big.NewInt(1)), d)
		den.Add(den, new(big.Int).Mul(new(big.Int).Add(n, big.NewInt(1)), dp))
		d.Div(num, den)

		diff := new(big.Int).Sub(d, dPrev)
		if diff.CmpAbs(big.NewInt(1)) <= 0 {
			break
		}
	}
	return d
}

// getY solves for the output-side balance given the new input-side balance.
func (p *StablePool) getY(x, yBal *big.Int) *big.Int {
	n := big.NewInt(2)
	d := p.getD(p.currentXP())
	ann := new(big.Int).Mul(p.amp, n)

	// c = d^3 / (x * n^2 * ann), b = x + d/ann
	c := new(big.Int).Mul(d, d)
	c.Div(c, new(big.Int).Mul(x, n))
	c.Mul(c, d)
	c.Div(c, new(big.Int).Mul(ann, n))
	b := new(big.Int).Add(x, new(big.Int).Div(d, ann))

	y := new(big.Int).Set(d)
	for iter := 0; iter < 255; iter++ {
		yPrev := new(big.Int).Set(y)
		// y = (y^2 + c) / (2y + b - d)
		num := new(big.Int).Mul(y, y)
		num.Add(num, c)
		den := new(big.Int).Mul(y, big.NewInt(2))
		den.Add(den, b)
		den.Sub(den, d)
		y.Div(num, den)

		diff := new(big.Int).Sub(y, yPrev)
		if diff.CmpAbs(big.NewInt(1)) <= 0 {
			break
		}
	}
	return y
}

func (p *StablePool) currentXP() [2]*big.Int {
	return [2]*big.Int{
		new(big.Int).Set(p.balances[0]),
		new(big.Int).Set(p.balances[1]),
	}
}

type stableSnapshot struct {
	balances [2]*big.Int
}

// TakeSnapshot implements chain.Snapshotter.
func (p *StablePool) TakeSnapshot() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &stableSnapshot{
		balances: [2]*big.Int{
			new(big.Int).Set(p.balances[0]),
			new(big.Int).Set(p.balances[1]),
		},
	}
}

// RestoreSnapshot implements chain.Snapshotter.
func (p *StablePool) RestoreSnapshot(snap interface{}) {
	s, ok := snap.(*stableSnapshot)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[0] = new(big.Int).Set(s.balances[0])
	p.balances[1] = new(big.Int).Set(s.balances[1])
}
