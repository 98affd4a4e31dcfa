// Package balancer adapts the vault lending convention: single asset, zero
// fee, principal returned by the end of the callback.
package balancer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashjit/chain"
	"github.com/michaelpento.lv/flashjit/flashloan"
)

type Provider struct {
	addr     common.Address
	ledger   *chain.Ledger
	receiver flashloan.SingleLoanReceiver
	logger   *zap.Logger
}

func NewProvider(addr common.Address, ledger *chain.Ledger, receiver flashloan.SingleLoanReceiver, logger *zap.Logger) *Provider {
	return &Provider{addr: addr, ledger: ledger, receiver: receiver, logger: logger}
}

func (p *Provider) Address() common.Address { return p.addr }
func (p *Provider) String() string          { return "balancer" }

// FlashFee is always zero; the vault charges no loan fee.
func (p *Provider) FlashFee(common.Address, *big.Int) *big.Int {
	return big.NewInt(0)
}

func (p *Provider) HasLiquidity(token common.Address, amount *big.Int) bool {
	return p.ledger.BalanceOf(token, p.addr).Cmp(amount) >= 0
}

// Borrow delivers the asset and verifies the vault balance is restored once
// the callback returns.
func (p *Provider) Borrow(ctx context.Context, token common.Address, amount *big.Int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.HasLiquidity(token, amount) {
		return fmt.Errorf("vault cannot lend %s of %s", amount, token.Hex())
	}

	before := p.ledger.BalanceOf(token, p.addr)
	borrower := p.receiver.Account()

	if err := p.ledger.Transfer(token, p.addr, borrower, amount); err != nil {
		return fmt.Errorf("loan transfer failed: %w", err)
	}

	if err := p.receiver.ReceiveFlashLoan(p.addr, token, amount, big.NewInt(0), data); err != nil {
		return err
	}

	after := p.ledger.BalanceOf(token, p.addr)
	if after.Cmp(before) < 0 {
		return fmt.Errorf("%w: vault holds %s, expected %s", flashloan.ErrRepaymentShortfall, after, before)
	}

	p.logger.Debug("flash loan repaid",
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()))
	return nil
}
