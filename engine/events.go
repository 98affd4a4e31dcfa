package engine

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashjit/codec"
)

// EventType names the success events of an invocation.
type EventType string

const (
	EventLoanExecuted      EventType = "loan_executed"
	EventLiquidityAdded    EventType = "liquidity_added"
	EventLiquidityRemoved  EventType = "liquidity_removed"
	EventArbitrageExecuted EventType = "arbitrage_executed"
)

// Event is one success event. Events are buffered on the result and only
// published once the loan is repaid; aborted invocations publish nothing.
type Event struct {
	Type    EventType
	Mode    codec.Mode
	Token0  common.Address
	Token1  common.Address
	Amount0 *big.Int
	Amount1 *big.Int
	Fee0    *big.Int
	Fee1    *big.Int
	Profit  *big.Int
	Elapsed time.Duration
}
