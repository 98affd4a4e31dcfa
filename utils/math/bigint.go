// Package math holds the big.Int arithmetic shared by the pool and loan
// layers: basis-point fees, ceiling division, and bounded deltas.
package math

import "math/big"

// BpsFee returns amount * bps / 10000, rounded down. Nil or non-positive
// amounts yield zero.
func BpsFee(amount *big.Int, bps int64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(bps))
	return fee.Div(fee, big.NewInt(10000))
}

// CeilDiv returns x / y rounded up. y must be positive.
func CeilDiv(x, y *big.Int) *big.Int {
	q := new(big.Int).Add(x, new(big.Int).Sub(y, big.NewInt(1)))
	return q.Div(q, y)
}

// PositiveDelta returns a - b clamped at zero.
func PositiveDelta(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	if d.Sign() < 0 {
		return big.NewInt(0)
	}
	return d
}

// Min returns the smaller of x and y without aliasing either.
func Min(x, y *big.Int) *big.Int {
	if x.Cmp(y) <= 0 {
		return new(big.Int).Set(x)
	}
	return new(big.Int).Set(y)
}

// Max returns the larger of x and y without aliasing either.
func Max(x, y *big.Int) *big.Int {
	if x.Cmp(y) >= 0 {
		return new(big.Int).Set(x)
	}
	return new(big.Int).Set(y)
}
