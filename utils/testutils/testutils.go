// Package testutils holds the shared fixtures of the package test suites:
// funded substrates, deterministic addresses, and a pre-wired config store.
package testutils

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flashjit/chain"
	"github.com/michaelpento.lv/flashjit/config"
)

// Addr returns a deterministic address with b as its last byte.
func Addr(b byte) common.Address {
	var a common.Address
	a[common.AddressLength-1] = b
	return a
}

// Eth returns n scaled to 18 decimals.
func Eth(n int64) *big.Int {
	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return wei.Mul(wei, big.NewInt(n))
}

// NewState returns an empty substrate.
func NewState() *chain.State {
	return chain.NewState()
}

// Fund mints amount of token to holder.
func Fund(state *chain.State, token, holder common.Address, amount *big.Int) {
	state.Ledger.Mint(token, holder, amount)
}

// NewStore builds a config store with authority as the single admin and all
// execution modes enabled.
func NewStore(t *testing.T, authority common.Address) *config.Store {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Authority = authority.Hex()
	cfg.UltraAggressiveEnabled = true
	cfg.BatchEnabled = true

	store, err := config.NewStore(cfg)
	require.NoError(t, err)
	return store
}
