package univ3

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashjit/amm"
	"github.com/michaelpento.lv/flashjit/chain"
	"github.com/michaelpento.lv/flashjit/flashloan"
)

var (
	poolAddr = common.HexToAddress("0x0200")
	lpUser   = common.HexToAddress("0xb0")
	borrower = common.HexToAddress("0x20")
	tok0     = common.HexToAddress("0x01")
	tok1     = common.HexToAddress("0x02")
)

// fakeReceiver repays the borrowed side plus the reported fee.
type fakeReceiver struct {
	ledger   *chain.Ledger
	borrowed *big.Int
	repay    bool

	gotFee0 *big.Int
	gotFee1 *big.Int
}

func (f *fakeReceiver) Account() common.Address { return borrower }

func (f *fakeReceiver) FlashCallback(sender common.Address, fee0, fee1 *big.Int, data []byte) error {
	f.gotFee0, f.gotFee1 = fee0, fee1
	if !f.repay {
		return nil
	}
	if fee0.Sign() > 0 {
		return f.ledger.Transfer(tok0, borrower, sender, new(big.Int).Add(f.borrowed, fee0))
	}
	return f.ledger.Transfer(tok1, borrower, sender, new(big.Int).Add(f.borrowed, fee1))
}

func newProvider(t *testing.T, repay bool) (*Provider, *chain.Ledger, *fakeReceiver) {
	t.Helper()
	ledger := chain.NewLedger()
	pool := amm.NewConcentratedPool(poolAddr, tok0, tok1, 3000, ledger)

	ledger.Mint(tok0, lpUser, big.NewInt(1_000_000))
	ledger.Mint(tok1, lpUser, big.NewInt(1_000_000))
	_, err := pool.Mint(lpUser, -60, 60, big.NewInt(1_000_000), big.NewInt(1_000_000))
	require.NoError(t, err)

	receiver := &fakeReceiver{ledger: ledger, borrowed: big.NewInt(100_000), repay: repay}
	return NewProvider(pool, receiver, zaptest.NewLogger(t)), ledger, receiver
}

func TestAddressIsPoolAddress(t *testing.T) {
	p, _, _ := newProvider(t, true)
	assert.Equal(t, poolAddr, p.Address())
}

func TestFlashFeeFollowsPoolTier(t *testing.T) {
	p, _, _ := newProvider(t, true)
	assert.Equal(t, int64(300), p.FlashFee(tok0, big.NewInt(100_000)).Int64())
}

func TestHasLiquidity(t *testing.T) {
	p, _, _ := newProvider(t, true)
	assert.True(t, p.HasLiquidity(tok0, big.NewInt(1)))
	assert.True(t, p.HasLiquidity(tok1, big.NewInt(1)))
	assert.False(t, p.HasLiquidity(common.HexToAddress("0x03"), big.NewInt(1)))
}

func TestBorrowToken0(t *testing.T) {
	p, ledger, receiver := newProvider(t, true)
	// The borrower funds the pool fee out of pocket.
	ledger.Mint(tok0, borrower, big.NewInt(300))

	require.NoError(t, p.Borrow(context.Background(), tok0, big.NewInt(100_000), nil))
	assert.Equal(t, int64(300), receiver.gotFee0.Int64())
	assert.Equal(t, int64(0), receiver.gotFee1.Int64())
	assert.Equal(t, int64(1_000_300), ledger.BalanceOf(tok0, poolAddr).Int64())
}

func TestBorrowToken1(t *testing.T) {
	p, ledger, receiver := newProvider(t, true)
	ledger.Mint(tok1, borrower, big.NewInt(300))

	require.NoError(t, p.Borrow(context.Background(), tok1, big.NewInt(100_000), nil))
	assert.Equal(t, int64(0), receiver.gotFee0.Int64())
	assert.Equal(t, int64(300), receiver.gotFee1.Int64())
}

func TestBorrowForeignToken(t *testing.T) {
	p, _, _ := newProvider(t, true)
	err := p.Borrow(context.Background(), common.HexToAddress("0x03"), big.NewInt(1), nil)
	assert.ErrorIs(t, err, flashloan.ErrAssetMismatch)
}

func TestBorrowNotRepaid(t *testing.T) {
	p, _, _ := newProvider(t, false)
	err := p.Borrow(context.Background(), tok0, big.NewInt(100_000), nil)
	assert.Error(t, err)
}

func TestFlashSettleRejectsSpoofedPool(t *testing.T) {
	p, _, _ := newProvider(t, true)
	err := p.FlashSettle(common.HexToAddress("0x99"), big.NewInt(0), big.NewInt(0), nil)
	assert.ErrorIs(t, err, flashloan.ErrSpoofedCallback)
}
