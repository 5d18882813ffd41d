package clmm

import (
	"math/big"
)

// Tick bounds of a Raydium CLMM pool.
const (
	MinTick int32 = -443636
	MaxTick int32 = 443636
)

var (
	// Q64 is 2^64, the Q64.64 unit.
	Q64 = new(big.Int).Lsh(big.NewInt(1), 64)

	q128       = new(big.Int).Lsh(big.NewInt(1), 128)
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	// tickFactors[i] = 2^128 / sqrt(1.0001^(2^i))
	tickFactors = []*big.Int{
		mustParseHex("fffcb933bd6fad37aa2d162d1a594001"),
		mustParseHex("fff97272373d413259a46990580e213a"),
		mustParseHex("fff2e50f5f656932ef12357cf3c7fdcc"),
		mustParseHex("ffe5caca7e10e4e61c3624eaa0941cd0"),
		mustParseHex("ffcb9843d60f6159c9db58835c926644"),
		mustParseHex("ff973b41fa98c081472e6896dfb254c0"),
		mustParseHex("ff2ea16466c96a3843ec78b326b52861"),
		mustParseHex("fe5dee046a99a2a811c461f1969c3053"),
		mustParseHex("fcbe86c7900a88aedcffc83b479aa3a4"),
		mustParseHex("f987a7253ac413176f2b074cf7815e54"),
		mustParseHex("f3392b0822b70005940c7a398e4b70f3"),
		mustParseHex("e7159475a2c29b7443b29c7fa6e889d9"),
		mustParseHex("d097f3bdfd2022b8845ad8f792aa5825"),
		mustParseHex("a9f746462d870fdf8a65dc1f90e061e5"),
		mustParseHex("70d869a156d2a1b890bb3df62baf32f7"),
		mustParseHex("31be135f97d08fd981231505542fcfa6"),
		mustParseHex("9aa508b5b7a84e1c677de54f3e99bc9"),
		mustParseHex("5d6af8dedb81196699c329225ee604"),
		mustParseHex("2216e584f5fa1ea926041bedfe98"),
	}
)

func mustParseHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("clmm: bad hex constant " + s)
	}
	return n
}

// SqrtPriceX64AtTick returns sqrt(1.0001^tick) in Q64.64, rounded up.
func SqrtPriceX64AtTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, ErrInvalidTick
	}

	absTick := tick
	if tick < 0 {
		absTick = -tick
	}

	// ratio is 1/sqrt(1.0001^absTick) in Q128.
	ratio := new(big.Int).Set(q128)
	for i, factor := range tickFactors {
		if absTick&(1<<uint(i)) != 0 {
			ratio.Mul(ratio, factor)
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	rem := new(big.Int).Mod(ratio, Q64)
	ratio.Rsh(ratio, 64)
	if rem.Sign() != 0 {
		ratio.Add(ratio, big.NewInt(1))
	}
	return ratio, nil
}

// TickRange returns the spacing-aligned [lower, upper) range containing tick.
// Lower is floor-aligned so negative ticks land in the range below zero.
func TickRange(tick int32, spacing uint16) (lower, upper int32, err error) {
	if spacing == 0 {
		return 0, 0, ErrInvalidTickSpacing
	}
	s := int32(spacing)
	lower = tick / s * s
	if tick%s != 0 && tick < 0 {
		lower -= s
	}
	upper = lower + s

	if lower < MinTick {
		lower = MinTick
	}
	if upper > MaxTick {
		upper = MaxTick
	}
	return lower, upper, nil
}

// X64ToFloat converts a Q64.64 value to a big.Float at the given precision.
func X64ToFloat(x *big.Int, prec uint) *big.Float {
	f := new(big.Float).SetPrec(prec).SetInt(x)
	return f.Quo(f, new(big.Float).SetPrec(prec).SetInt(Q64))
}
