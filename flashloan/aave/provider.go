// Package aave adapts the vectorized pool lending convention: the pool
// transfers the assets out, invokes ExecuteOperation with per-asset premiums,
// and requires principal plus premium back before the call returns.
package aave

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashjit/chain"
	"github.com/michaelpento.lv/flashjit/flashloan"
	flashmath "github.com/michaelpento.lv/flashjit/utils/math"
)

// premiumBps is the flash loan premium in basis points.
const premiumBps = 9

type Provider struct {
	addr     common.Address
	ledger   *chain.Ledger
	receiver flashloan.VectorLoanReceiver
	logger   *zap.Logger
}

func NewProvider(addr common.Address, ledger *chain.Ledger, receiver flashloan.VectorLoanReceiver, logger *zap.Logger) *Provider {
	return &Provider{addr: addr, ledger: ledger, receiver: receiver, logger: logger}
}

func (p *Provider) Address() common.Address { return p.addr }
func (p *Provider) String() string          { return "aave" }

// FlashFee returns the premium owed for borrowing amount.
func (p *Provider) FlashFee(_ common.Address, amount *big.Int) *big.Int {
	return flashmath.BpsFee(amount, premiumBps)
}

func (p *Provider) HasLiquidity(token common.Address, amount *big.Int) bool {
	return p.ledger.BalanceOf(token, p.addr).Cmp(amount) >= 0
}

// Borrow delivers the asset, runs the callback, and verifies the pool ends
// up holding at least principal plus premium more than it started with.
func (p *Provider) Borrow(ctx context.Context, token common.Address, amount *big.Int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.HasLiquidity(token, amount) {
		return fmt.Errorf("pool cannot lend %s of %s", amount, token.Hex())
	}

	premium := p.FlashFee(token, amount)
	before := p.ledger.BalanceOf(token, p.addr)
	borrower := p.receiver.Account()

	if err := p.ledger.Transfer(token, p.addr, borrower, amount); err != nil {
		return fmt.Errorf("loan transfer failed: %w", err)
	}

	err := p.receiver.ExecuteOperation(p.addr,
		[]common.Address{token},
		[]*big.Int{amount},
		[]*big.Int{premium},
		borrower, data)
	if err != nil {
		return err
	}

	after := p.ledger.BalanceOf(token, p.addr)
	owed := new(big.Int).Add(before, premium)
	if after.Cmp(owed) < 0 {
		return fmt.Errorf("%w: pool holds %s, expected %s", flashloan.ErrRepaymentShortfall, after, owed)
	}

	p.logger.Debug("flash loan repaid",
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()),
		zap.String("premium", premium.String()))
	return nil
}
