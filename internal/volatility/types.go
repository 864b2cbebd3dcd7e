package volatility

import "github.com/holiman/uint256"

// PoolMetadata holds the slow-moving facts about a pool. The engine treats a
// PoolMetadata as a read-only snapshot; callers refresh it on a coarse
// cadence.
type PoolMetadata struct {
	// MaxSecondsAgo is the age of the oldest observation the pool's oracle
	// still holds.
	MaxSecondsAgo uint32
	// Gamma0 and Gamma1 are the fee fractions retained per unit traded of
	// token0 and token1, in parts per million.
	Gamma0 uint32
	Gamma1 uint32
	// TickSpacing is the minimum distance between initialized ticks.
	TickSpacing int32
}

// PoolData is one instantaneous observation of pool state. Every field must
// come from the same pool and the same observation; the engine does not
// cross-check them.
type PoolData struct {
	// SqrtPriceX96 is the current sqrt price as UQ64.96.
	SqrtPriceX96 uint256.Int
	// CurrentTick is the tick the pool currently trades at.
	CurrentTick int32
	// ArithmeticMeanTick is the time-weighted mean tick over the lookback
	// window.
	ArithmeticMeanTick int32
	// SecondsPerLiquidityX128 is the UQ128 seconds-per-liquidity
	// accumulator delta over the lookback window.
	SecondsPerLiquidityX128 uint256.Int
	// OracleLookback is the lookback window length in seconds.
	OracleLookback uint32
	// TickLiquidity is the liquidity in range at the current tick.
	TickLiquidity uint256.Int
}

// FeeGrowthGlobals is a snapshot of the pool's two per-liquidity fee growth
// accumulators (UQ128 counters, monotonic mod 2^256) and the time the
// snapshot was read.
type FeeGrowthGlobals struct {
	FeeGrowth0X128 uint256.Int
	FeeGrowth1X128 uint256.Int
	Timestamp      uint32
}
