package volatility

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Flip-Liquid/valorem-oracles/internal/tickmath"
)

func fromDec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	n := new(uint256.Int)
	require.NoError(t, n.SetFromDecimal(s))
	return n
}

// referenceScenario is a self-consistent pool read: 1e18 liquidity at tick 0,
// a one-hour oracle lookback with matching seconds-per-liquidity, and both
// sides earning 5e15 in fees over a one-hour window at a 0.3% fee tier.
func referenceScenario(t *testing.T) (PoolMetadata, PoolData, FeeGrowthGlobals, FeeGrowthGlobals) {
	t.Helper()

	meta := PoolMetadata{
		MaxSecondsAgo: 7200,
		Gamma0:        997000,
		Gamma1:        997000,
		TickSpacing:   60,
	}

	data := PoolData{
		CurrentTick:        0,
		ArithmeticMeanTick: 0,
		OracleLookback:     3600,
	}
	data.SqrtPriceX96.Set(tickmath.Q96)
	// 3600 seconds of 1e18 liquidity, X128.
	data.SecondsPerLiquidityX128.Set(fromDec(t, "1225016520915378468468148"))
	data.TickLiquidity.Set(fromDec(t, "1000000000000000000"))

	// 5e15 of fees per 1e18 liquidity, X128.
	delta := fromDec(t, "1701411834604692317316873037158841057")

	a := FeeGrowthGlobals{Timestamp: 1000}
	a.FeeGrowth0X128.SetUint64(1000)
	a.FeeGrowth1X128.SetUint64(2000)

	b := FeeGrowthGlobals{Timestamp: 4600}
	b.FeeGrowth0X128.Add(&a.FeeGrowth0X128, delta)
	b.FeeGrowth1X128.Add(&a.FeeGrowth1X128, delta)

	return meta, data, a, b
}

func TestEstimate24H(t *testing.T) {
	e := NewEstimator(nil)

	t.Run("reference scenario", func(t *testing.T) {
		// The same scenario must come out identical through the
		// production primitives and the math/big reference.
		for name, prim := range map[string]Primitives{
			"uint256":           StdPrimitives{},
			"big.Int reference": bigIntPrimitives{},
		} {
			meta, data, a, b := referenceScenario(t)
			got, err := NewEstimator(prim).Estimate24H(meta, data, a, b)
			require.NoError(t, err, name)
			assert.Equal(t, fromDec(t, "17875534925576335913"), got, name)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		meta, data, a, b := referenceScenario(t)
		first, err := e.Estimate24H(meta, data, a, b)
		require.NoError(t, err)
		second, err := e.Estimate24H(meta, data, a, b)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("shorter window reads higher", func(t *testing.T) {
		meta, data, a, b := referenceScenario(t)
		full, err := e.Estimate24H(meta, data, a, b)
		require.NoError(t, err)

		b.Timestamp = a.Timestamp + 1800
		half, err := e.Estimate24H(meta, data, a, b)
		require.NoError(t, err)
		assert.True(t, full.Lt(half), "same fees over half the time must read higher")
	})

	t.Run("more fees read higher", func(t *testing.T) {
		meta, data, a, b := referenceScenario(t)
		base, err := e.Estimate24H(meta, data, a, b)
		require.NoError(t, err)

		extra := new(uint256.Int).Sub(&b.FeeGrowth0X128, &a.FeeGrowth0X128)
		b.FeeGrowth0X128.Add(&b.FeeGrowth0X128, extra)
		b.FeeGrowth1X128.Add(&b.FeeGrowth1X128, extra)
		busy, err := e.Estimate24H(meta, data, a, b)
		require.NoError(t, err)
		assert.True(t, base.Lt(busy))
	})

	t.Run("zero liquidity estimates zero", func(t *testing.T) {
		meta, data, a, b := referenceScenario(t)
		data.TickLiquidity.Clear()
		got, err := e.Estimate24H(meta, data, a, b)
		require.NoError(t, err)
		assert.True(t, got.IsZero())
	})

	t.Run("panics on non-increasing timestamps", func(t *testing.T) {
		meta, data, a, b := referenceScenario(t)
		b.Timestamp = a.Timestamp
		require.Panics(t, func() {
			_, _ = e.Estimate24H(meta, data, a, b)
		})
	})

	t.Run("propagates out-of-bounds tick", func(t *testing.T) {
		meta, data, a, b := referenceScenario(t)
		data.ArithmeticMeanTick = tickmath.MaxTick + 1
		_, err := e.Estimate24H(meta, data, a, b)
		assert.ErrorIs(t, err, tickmath.ErrTickOutOfBounds)
	})
}

func TestRevenueGamma(t *testing.T) {
	e := NewEstimator(nil)

	t.Run("exact", func(t *testing.T) {
		// 4985e12 fees at gamma over a one-hour window of 1e18 liquidity.
		early := fromDec(t, "1000")
		late := new(uint256.Int).Add(early, fromDec(t, "1701411834604692317316873037158841057"))
		spl := fromDec(t, "1225016520915378468468148")
		got := e.revenueGamma(early, late, spl, 3600, 997000)
		assert.Equal(t, fromDec(t, "4985000000000000"), got)
	})

	t.Run("wraps across accumulator overflow", func(t *testing.T) {
		// early near the top of the counter, late just past zero: the
		// true delta is 8.
		early := new(uint256.Int).Sub(new(uint256.Int), uint256.NewInt(5))
		late := uint256.NewInt(3)
		got := e.revenueGamma(early, late, one, 1, 1_000_000)
		assert.Equal(t, uint256.NewInt(8), got)
	})

	t.Run("saturates at max uint128", func(t *testing.T) {
		early := new(uint256.Int)
		late := new(uint256.Int).Sub(new(uint256.Int), one)
		got := e.revenueGamma(early, late, one, 4_000_000_000, 1_000_000)
		assert.Equal(t, maxUint128, got)
	})

	t.Run("zero delta is zero", func(t *testing.T) {
		fg := fromDec(t, "123456789")
		got := e.revenueGamma(fg, fg, one, 3600, 997000)
		assert.True(t, got.IsZero())
	})
}

func TestTickTVLx64(t *testing.T) {
	e := NewEstimator(nil)

	t.Run("price at lower band edge", func(t *testing.T) {
		liquidity := fromDec(t, "1000000000000000000")
		got, err := e.TickTVLx64(60, 0, tickmath.Q96, liquidity)
		require.NoError(t, err)
		assert.Equal(t, fromDec(t, "55254546281603716231267042700820480"), got)
	})

	t.Run("zero liquidity is zero", func(t *testing.T) {
		got, err := e.TickTVLx64(60, 0, tickmath.Q96, new(uint256.Int))
		require.NoError(t, err)
		assert.True(t, got.IsZero())
	})

	t.Run("errors when band exceeds max tick", func(t *testing.T) {
		price, err := tickmath.GetSqrtRatioAtTick(tickmath.MaxTick)
		require.NoError(t, err)
		_, err = e.TickTVLx64(60, tickmath.MaxTick, price, one)
		assert.ErrorIs(t, err, tickmath.ErrTickOutOfBounds)
	})

	t.Run("panics when price left its band", func(t *testing.T) {
		price, err := tickmath.GetSqrtRatioAtTick(100)
		require.NoError(t, err)
		require.Panics(t, func() {
			_, _ = e.TickTVLx64(60, 0, price, one)
		})
	})
}

func TestAmount0ToAmount1(t *testing.T) {
	e := NewEstimator(nil)
	amount := fromDec(t, "1000000000000000000")

	t.Run("identity at tick zero", func(t *testing.T) {
		got, err := e.Amount0ToAmount1(amount, 0)
		require.NoError(t, err)
		assert.Equal(t, amount, got)
	})

	t.Run("monotonic in tick", func(t *testing.T) {
		lo, err := e.Amount0ToAmount1(amount, -6932) // roughly price 0.5
		require.NoError(t, err)
		hi, err := e.Amount0ToAmount1(amount, 6932) // roughly price 2
		require.NoError(t, err)
		assert.True(t, lo.Lt(amount))
		assert.True(t, amount.Lt(hi))
	})

	t.Run("errors out of bounds", func(t *testing.T) {
		_, err := e.Amount0ToAmount1(amount, tickmath.MinTick-1)
		assert.ErrorIs(t, err, tickmath.ErrTickOutOfBounds)
	})
}
