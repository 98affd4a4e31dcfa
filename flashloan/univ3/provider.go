// Package univ3 sources flash loans directly from a concentrated-liquidity
// pool. The pool itself is the lender, so the provider identity is the pool
// address and the fee follows the pool's fee tier.
package univ3

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashjit/amm"
	"github.com/michaelpento.lv/flashjit/flashloan"
)

type Provider struct {
	pool     *amm.ConcentratedPool
	receiver flashloan.PairLoanReceiver
	logger   *zap.Logger
}

func NewProvider(pool *amm.ConcentratedPool, receiver flashloan.PairLoanReceiver, logger *zap.Logger) *Provider {
	return &Provider{pool: pool, receiver: receiver, logger: logger}
}

// Address is the pool address; callbacks authenticate against it.
func (p *Provider) Address() common.Address { return p.pool.Address() }
func (p *Provider) String() string          { return "univ3" }

func (p *Provider) FlashFee(_ common.Address, amount *big.Int) *big.Int {
	return p.pool.FlashFee(amount)
}

// HasLiquidity reports whether the pool carries the token at all; the pool
// itself rejects amounts above its holdings during Flash.
func (p *Provider) HasLiquidity(token common.Address, amount *big.Int) bool {
	return token == p.pool.Token0() || token == p.pool.Token1()
}

// Borrow maps the single-token request onto the pool's two-sided flash and
// forwards the pair callback. The pool verifies repayment itself.
func (p *Provider) Borrow(ctx context.Context, token common.Address, amount *big.Int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	zero := big.NewInt(0)
	var amount0, amount1 *big.Int
	switch token {
	case p.pool.Token0():
		amount0, amount1 = amount, zero
	case p.pool.Token1():
		amount0, amount1 = zero, amount
	default:
		return fmt.Errorf("%w: pool %s does not hold %s",
			flashloan.ErrAssetMismatch, p.pool.Address().Hex(), token.Hex())
	}

	err := p.pool.Flash(p.receiver.Account(), amount0, amount1, data, p)
	if err != nil {
		return err
	}
	p.logger.Debug("pool flash repaid",
		zap.String("pool", p.pool.Address().Hex()),
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()))
	return nil
}

// FlashSettle forwards the pool callback to the receiver with the pool
// address as sender.
func (p *Provider) FlashSettle(pool common.Address, fee0, fee1 *big.Int, data []byte) error {
	if pool != p.pool.Address() {
		return fmt.Errorf("%w: callback from %s", flashloan.ErrSpoofedCallback, pool.Hex())
	}
	return p.receiver.FlashCallback(pool, fee0, fee1, data)
}
