package volatility

import (
	"github.com/holiman/uint256"

	"github.com/Flip-Liquid/valorem-oracles/internal/tickmath"
)

// Primitives are the exact integer operations the estimator is built on.
// They are injectable so the estimator can run against independent reference
// implementations in tests.
type Primitives interface {
	// MulDiv returns floor(x * y / d) computed over a 512-bit intermediate
	// product, and reports whether the quotient exceeded 256 bits. It
	// panics when d is zero.
	MulDiv(x, y, d *uint256.Int) (*uint256.Int, bool)
	// Sqrt returns the floor of the square root of x.
	Sqrt(x *uint256.Int) *uint256.Int
	// SqrtRatioAtTick returns the UQ64.96 sqrt price at tick. The mapping
	// is monotonic in tick.
	SqrtRatioAtTick(tick int32) (*uint256.Int, error)
	// FloorTick rounds tick toward negative infinity to a multiple of
	// spacing.
	FloorTick(tick, spacing int32) int32
}

// StdPrimitives implements Primitives with tickmath for the price grid and
// uint256's 512-bit multiply-divide and integer square root. All operations
// are exact, so results are bit-identical on every platform.
type StdPrimitives struct{}

func (StdPrimitives) MulDiv(x, y, d *uint256.Int) (*uint256.Int, bool) {
	// uint256 division by zero yields zero; a zero denominator here is a
	// caller bug and must not be silently absorbed.
	if d.IsZero() {
		panic("volatility: mulDiv denominator is zero")
	}
	return new(uint256.Int).MulDivOverflow(x, y, d)
}

func (StdPrimitives) Sqrt(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(x)
}

func (StdPrimitives) SqrtRatioAtTick(tick int32) (*uint256.Int, error) {
	return tickmath.GetSqrtRatioAtTick(tick)
}

func (StdPrimitives) FloorTick(tick, spacing int32) int32 {
	return tickmath.FloorTick(tick, spacing)
}
