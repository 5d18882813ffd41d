package clmm

import (
	"math/big"
)

// Amount0Delta returns the token0 amount between two Q64.64 sqrt prices:
// liquidity * (sqrtB - sqrtA) / (sqrtA * sqrtB).
func Amount0Delta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	if sqrtA.Sign() <= 0 {
		return new(big.Int)
	}

	numerator1 := new(big.Int).Lsh(liquidity, 64)
	numerator2 := new(big.Int).Sub(sqrtB, sqrtA)

	if roundUp {
		return divRoundingUp(mulDivRoundingUp(numerator1, numerator2, sqrtB), sqrtA)
	}

	out := new(big.Int).Mul(numerator1, numerator2)
	out.Quo(out, sqrtB)
	return out.Quo(out, sqrtA)
}

// Amount1Delta returns the token1 amount between two Q64.64 sqrt prices:
// liquidity * (sqrtB - sqrtA).
func Amount1Delta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}

	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return mulDivRoundingUp(liquidity, diff, Q64)
	}

	out := new(big.Int).Mul(liquidity, diff)
	return out.Rsh(out, 64)
}

func mulDivRoundingUp(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return divRoundingUp(product, denominator)
}

func divRoundingUp(a, denominator *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, denominator, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
