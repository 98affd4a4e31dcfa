package codec

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Mode selects the engine's execution branch. It is always the first payload
// byte.
type Mode uint8

const (
	ModeStandard        Mode = 1
	ModeUltraAggressive Mode = 2
	ModeBatch           Mode = 3
)

// Family discriminates the two operation families sharing the payload format.
type Family uint8

const (
	FamilyJIT Family = 1
	FamilyArb Family = 2
)

// PoolType identifies the liquidity pool protocol of a JIT operation.
type PoolType uint8

const (
	PoolTypeUniswapV2 PoolType = 0
	PoolTypeSushiV2   PoolType = 1
	PoolTypeUniswapV3 PoolType = 2
)

// DexType identifies the swap protocol of an arbitrage step.
type DexType uint8

const (
	DexConstantProduct DexType = 0
	DexConcentrated    DexType = 1
	DexStable          DexType = 2
)

// JITParams is the fixed-shape parameter block of a JIT operation.
type JITParams struct {
	Token0         common.Address
	Token1         common.Address
	Amount0        *big.Int
	Amount1        *big.Int
	Pool           common.Address
	PoolType       PoolType
	MinFeeExpected *big.Int
}

// V3PositionParams describes the concentrated-liquidity position to use.
// A zero TokenID means create a new position.
type V3PositionParams struct {
	FeeTier   uint32
	TickLower int32
	TickUpper int32
	TokenID   *big.Int
}

// SwapStep is one hop of an arbitrage path.
type SwapStep struct {
	Pool         common.Address
	Dex          DexType
	ZeroForOne   bool
	I            uint8 // stable-pool input coin index
	J            uint8 // stable-pool output coin index
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
}

// ArbParams is the variable-length parameter block of an arbitrage operation.
type ArbParams struct {
	StartToken   common.Address
	BorrowAmount *big.Int
	Swaps        []SwapStep
}

// Trailer carries the mode-specific suffix. Nil for mode 1.
type Trailer struct {
	// Mode 2
	CompetitorRef      common.Hash
	PriorityMultiplier *big.Int
	// Mode 3
	BatchIndex *big.Int
	BatchSize  *big.Int
}

// Payload is the decoded form of the loan callback data.
type Payload struct {
	Mode     Mode
	Family   Family
	JIT      *JITParams
	Position *V3PositionParams
	Arb      *ArbParams
	Trailer  *Trailer
}
