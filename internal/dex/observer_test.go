package dex

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestPoolABIMethods(t *testing.T) {
	poolABI, err := V3PoolABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	for _, method := range []string{
		"token0", "token1", "fee", "tickSpacing", "liquidity",
		"feeGrowthGlobal0X128", "feeGrowthGlobal1X128",
		"slot0", "observe", "observations",
	} {
		if _, ok := poolABI.Methods[method]; !ok {
			t.Fatalf("pool abi missing method %s", method)
		}
	}

	factoryABI, err := V3FactoryABI()
	if err != nil {
		t.Fatalf("factory abi parse: %v", err)
	}
	if _, ok := factoryABI.Methods["getPool"]; !ok {
		t.Fatalf("factory abi missing getPool")
	}
}

func TestComputeGammas(t *testing.T) {
	cases := []struct {
		fee          uint32
		feeProtocol  uint8
		want0, want1 uint32
	}{
		{3000, 0x00, 3000, 3000},
		{3000, 0x04, 2250, 3000},
		{3000, 0x40, 3000, 2250},
		{3000, 0x66, 2500, 2500},
		{500, 0xaa, 450, 450},
		{10000, 0x4a, 9000, 7500},
	}
	for _, tc := range cases {
		g0, g1 := computeGammas(tc.fee, tc.feeProtocol)
		if g0 != tc.want0 || g1 != tc.want1 {
			t.Fatalf("computeGammas(%d, %#x) = (%d, %d), want (%d, %d)",
				tc.fee, tc.feeProtocol, g0, g1, tc.want0, tc.want1)
		}
	}
}

func TestMeanTickFromDelta(t *testing.T) {
	cases := []struct {
		delta  int64
		window uint32
		want   int32
	}{
		{0, 3600, 0},
		{7200, 3600, 2},
		{7201, 3600, 2},
		{-7200, 3600, -2},
		{-7201, 3600, -3},
		{-1, 3600, -1},
	}
	for _, tc := range cases {
		got, err := meanTickFromDelta(tc.delta, tc.window)
		if err != nil {
			t.Fatalf("meanTickFromDelta(%d, %d): %v", tc.delta, tc.window, err)
		}
		if got != tc.want {
			t.Fatalf("meanTickFromDelta(%d, %d) = %d, want %d", tc.delta, tc.window, got, tc.want)
		}
	}

	if _, err := meanTickFromDelta(100, 0); err == nil {
		t.Fatalf("expected error for zero window")
	}
	if _, err := meanTickFromDelta(int64(1<<23)*3600, 3600); err == nil {
		t.Fatalf("expected error for mean tick above int24 range")
	}
}

func TestWrapSub160(t *testing.T) {
	earlier := new(uint256.Int).Sub(
		new(uint256.Int).Lsh(uint256.NewInt(1), 160),
		uint256.NewInt(5),
	)
	later := uint256.NewInt(3)

	got := wrapSub160(later, earlier)
	if !got.Eq(uint256.NewInt(8)) {
		t.Fatalf("wrapSub160 across overflow = %s, want 8", got.Dec())
	}

	got = wrapSub160(uint256.NewInt(100), uint256.NewInt(40))
	if !got.Eq(uint256.NewInt(60)) {
		t.Fatalf("wrapSub160(100, 40) = %s, want 60", got.Dec())
	}
}

func TestInt24FromBig(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 1<<23 - 1, -1 << 23} {
		got, err := int24FromBig(big.NewInt(v))
		if err != nil {
			t.Fatalf("int24FromBig(%d): %v", v, err)
		}
		if int64(got) != v {
			t.Fatalf("int24FromBig(%d) = %d", v, got)
		}
	}
	if _, err := int24FromBig(big.NewInt(1 << 23)); err == nil {
		t.Fatalf("expected overflow above int24 max")
	}
	if _, err := int24FromBig(big.NewInt(-1<<23 - 1)); err == nil {
		t.Fatalf("expected overflow below int24 min")
	}
}
