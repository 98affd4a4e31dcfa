package chain

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger tracks token balances per holder. It is the settlement layer every
// pool, provider and the execution engine move funds through, so reverting a
// ledger snapshot undoes all capital movement of an invocation.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int // token -> holder -> balance
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// BalanceOf returns a copy of the holder's balance for token.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if holders, ok := l.balances[token]; ok {
		if bal, ok := holders[holder]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return big.NewInt(0)
}

// Mint credits amount of token to holder. Used to seed provider treasuries
// and pool reserves.
func (l *Ledger) Mint(token, holder common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		l.balances[token] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = big.NewInt(0)
		holders[holder] = bal
	}
	bal.Add(bal, amount)
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	holders, ok := l.balances[token]
	if !ok {
		return fmt.Errorf("insufficient balance: token %s holder %s", token.Hex(), from.Hex())
	}
	fromBal, ok := holders[from]
	if !ok || fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance: token %s holder %s", token.Hex(), from.Hex())
	}

	fromBal.Sub(fromBal, amount)
	toBal, ok := holders[to]
	if !ok {
		toBal = big.NewInt(0)
		holders[to] = toBal
	}
	toBal.Add(toBal, amount)
	return nil
}

// TakeSnapshot implements Snapshotter.
func (l *Ledger) TakeSnapshot() interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := make(map[common.Address]map[common.Address]*big.Int, len(l.balances))
	for token, holders := range l.balances {
		hs := make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			hs[holder] = new(big.Int).Set(bal)
		}
		snap[token] = hs
	}
	return snap
}

// RestoreSnapshot implements Snapshotter.
func (l *Ledger) RestoreSnapshot(snap interface{}) {
	balances, ok := snap.(map[common.Address]map[common.Address]*big.Int)
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	restored := make(map[common.Address]map[common.Address]*big.Int, len(balances))
	for token, holders := range balances {
		hs := make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			hs[holder] = new(big.Int).Set(bal)
		}
		restored[token] = hs
	}
	l.balances = restored
}
