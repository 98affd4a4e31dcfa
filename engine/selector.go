package engine

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashjit/config"
)

// LiquiditySource answers whether a capital source can lend a token at all.
type LiquiditySource interface {
	HasLiquidity(token common.Address, amount *big.Int) bool
}

// TokenSelector picks which of two required tokens to flash-borrow. The
// order is fully deterministic: provider liquidity membership first, then the
// injected token-class preference (wrapped-native > stables > majors >
// unranked), ties broken by lower rank, equal rank defaults to the first
// parameter position. This is a hand-tuned heuristic, injected as policy so
// it can be replaced per deployment.
type TokenSelector struct {
	ranking map[common.Address]config.RankedToken
}

func NewTokenSelector(ranking []config.RankedToken) *TokenSelector {
	m := make(map[common.Address]config.RankedToken, len(ranking))
	for _, r := range ranking {
		m[r.Token] = r
	}
	return &TokenSelector{ranking: m}
}

// Pick returns the token to borrow and its amount. When only one amount is
// positive there is nothing to choose.
func (s *TokenSelector) Pick(token0, token1 common.Address, amount0, amount1 *big.Int, src LiquiditySource) (common.Address, *big.Int) {
	zero0 := amount0 == nil || amount0.Sign() == 0
	zero1 := amount1 == nil || amount1.Sign() == 0
	switch {
	case zero0 && zero1:
		return token0, big.NewInt(0)
	case zero0:
		return token1, amount1
	case zero1:
		return token0, amount0
	}

	if src != nil {
		has0 := src.HasLiquidity(token0, amount0)
		has1 := src.HasLiquidity(token1, amount1)
		if has0 != has1 {
			if has0 {
				return token0, amount0
			}
			return token1, amount1
		}
	}

	class0, rank0 := s.lookup(token0)
	class1, rank1 := s.lookup(token1)
	if class0 != class1 {
		if class0 < class1 {
			return token0, amount0
		}
		return token1, amount1
	}
	if rank1 < rank0 {
		return token1, amount1
	}
	// Lower rank wins; equal rank defaults to the first parameter position.
	return token0, amount0
}

func (s *TokenSelector) lookup(token common.Address) (config.TokenClass, int) {
	if r, ok := s.ranking[token]; ok {
		return r.Class, r.Rank
	}
	return config.ClassUnranked, math.MaxInt
}
