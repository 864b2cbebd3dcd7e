package volatility

import (
	"github.com/holiman/uint256"

	"github.com/Flip-Liquid/valorem-oracles/internal/tickmath"
)

const secondsPerDay = 86400

var (
	one        = uint256.NewInt(1)
	oneMillion = uint256.NewInt(1_000_000)
	twoE18     = uint256.NewInt(2e18)
	maxUint128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(one, 128), one)
)

// Estimator converts pool accumulator snapshots into 24-hour implied
// volatility figures. It holds no state beyond its primitives, so a single
// Estimator is safe for concurrent use.
type Estimator struct {
	prim Primitives
}

// NewEstimator builds an Estimator. A nil prim selects StdPrimitives.
func NewEstimator(prim Primitives) *Estimator {
	if prim == nil {
		prim = StdPrimitives{}
	}
	return &Estimator{prim: prim}
}

// Estimate24H estimates the price volatility of the pool over the window
// between the two fee growth snapshots, normalized to a 24-hour basis. The
// result is dimensionless and scaled by 1e18.
//
// The snapshots must come from the same pool as data, and b must have been
// read strictly after a; a non-increasing timestamp pair is a caller bug and
// panics. A pool with zero liquidity at the current tick estimates to zero.
func (e *Estimator) Estimate24H(metadata PoolMetadata, data PoolData, a, b FeeGrowthGlobals) (*uint256.Int, error) {
	if b.Timestamp <= a.Timestamp {
		panic("volatility: fee growth snapshots are not strictly ordered in time")
	}

	// Cross-weighting is deliberate: token0 revenue carries token1's
	// gamma and vice versa, approximating two-sided volume from
	// one-sided fee accounting.
	revenue0Gamma1 := e.revenueGamma(&a.FeeGrowth0X128, &b.FeeGrowth0X128, &data.SecondsPerLiquidityX128, data.OracleLookback, metadata.Gamma1)
	revenue1Gamma0 := e.revenueGamma(&a.FeeGrowth1X128, &b.FeeGrowth1X128, &data.SecondsPerLiquidityX128, data.OracleLookback, metadata.Gamma0)

	converted, err := e.Amount0ToAmount1(revenue0Gamma1, data.ArithmeticMeanTick)
	if err != nil {
		return nil, err
	}
	volumeGamma0Gamma1 := new(uint256.Int).Add(revenue1Gamma0, converted)

	tickTVL, err := e.TickTVLx64(metadata.TickSpacing, data.CurrentTick, &data.SqrtPriceX96, &data.TickLiquidity)
	if err != nil {
		return nil, err
	}

	// UQ32 after halving the Q64 TVL scale.
	sqrtTickTVL := e.prim.Sqrt(tickTVL)
	if sqrtTickTVL.IsZero() {
		return new(uint256.Int), nil
	}

	// Scale the measured window onto a canonical 24-hour basis, UQ32.
	elapsed := uint64(b.Timestamp - a.Timestamp)
	basis := new(uint256.Int).Lsh(uint256.NewInt(secondsPerDay), 64)
	basis.Div(basis, uint256.NewInt(elapsed))
	timeAdjustment := e.prim.Sqrt(basis)

	// The UQ32 factors cancel: timeAdjustment against sqrt(tickTVL). The
	// intermediates stay under 2^256 for in-range inputs, so plain
	// wrapping arithmetic matches the accounting model.
	estimate := new(uint256.Int).Mul(twoE18, timeAdjustment)
	estimate.Mul(estimate, e.prim.Sqrt(volumeGamma0Gamma1))
	return estimate.Div(estimate, sqrtTickTVL), nil
}

// TickTVLx64 values the liquidity at the current tick as if it were a single
// position spanning one tick-spacing band around the price, denominated in
// token1 and left-shifted 64 bits for precision headroom.
//
// The current sqrt price must lie inside the band of its own floored tick; a
// violation means the inputs came from different reads and panics.
func (e *Estimator) TickTVLx64(tickSpacing, tick int32, sqrtPriceX96, liquidity *uint256.Int) (*uint256.Int, error) {
	floored := e.prim.FloorTick(tick, tickSpacing)

	sqrtLower, err := e.prim.SqrtRatioAtTick(floored)
	if err != nil {
		return nil, err
	}
	sqrtUpper, err := e.prim.SqrtRatioAtTick(floored + tickSpacing)
	if err != nil {
		return nil, err
	}

	if sqrtPriceX96.Lt(sqrtLower) || sqrtUpper.Lt(sqrtPriceX96) {
		panic("volatility: sqrt price is outside its own tick band")
	}

	// Each of value0 and value1 fits in 192 bits for realistic pool
	// liquidity; that is a precondition, not something enforced here.
	numerator, _ := e.prim.MulDiv(sqrtPriceX96, new(uint256.Int).Sub(sqrtUpper, sqrtPriceX96), sqrtUpper)
	value0, _ := e.prim.MulDiv(liquidity, numerator, tickmath.Q96)
	value1, _ := e.prim.MulDiv(liquidity, new(uint256.Int).Sub(sqrtPriceX96, sqrtLower), tickmath.Q96)

	tvl := new(uint256.Int).Add(value0, value1)
	return tvl.Lsh(tvl, 64), nil
}

// Amount0ToAmount1 expresses a token0 amount in token1 units at the price of
// the given tick. The square of the sqrt price is taken through the wide
// multiply-divide so no precision is lost squaring a 160-bit value.
func (e *Estimator) Amount0ToAmount1(amount0 *uint256.Int, tick int32) (*uint256.Int, error) {
	sqrtRatio, err := e.prim.SqrtRatioAtTick(tick)
	if err != nil {
		return nil, err
	}
	priceX96, _ := e.prim.MulDiv(sqrtRatio, sqrtRatio, tickmath.Q96)
	amount1, _ := e.prim.MulDiv(amount0, priceX96, tickmath.Q96)
	return amount1, nil
}

// revenueGamma turns a pair of fee growth readings into realized volume for
// one side of the pool over the lookback window, scaled down by gamma.
//
// The accumulators are monotonic counters mod 2^256, so the delta is a
// wrapping subtract. The scaled result saturates at 2^128-1 instead of
// overflowing; saturation signals "beyond representable", it is not an error.
func (e *Estimator) revenueGamma(early, late, secondsPerLiquidityX128 *uint256.Int, secondsAgo uint32, gamma uint32) *uint256.Int {
	delta := new(uint256.Int).Sub(late, early)

	scale := uint256.NewInt(uint64(secondsAgo) * uint64(gamma))
	denominator := new(uint256.Int).Mul(secondsPerLiquidityX128, oneMillion)

	out, overflow := e.prim.MulDiv(delta, scale, denominator)
	if overflow || out.Gt(maxUint128) {
		return new(uint256.Int).Set(maxUint128)
	}
	return out
}
