package clmm

import (
	"errors"
	"math/big"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// pricePrec is the big.Float mantissa width used for all price arithmetic.
const pricePrec = 256

// FeeRateDenominator converts trade_fee_rate (ppm) to a fraction.
const FeeRateDenominator = 1_000_000

// Model turns pool state into a best bid/ask.
type Model interface {
	Quote(pool *PoolState) (quote.BestQuote, error)
}

// FeeRate returns the pool's trade fee as a fraction, e.g. 0.0004 for 400 ppm.
func FeeRate(cfg *AmmConfig) float64 {
	return float64(cfg.TradeFeeRate) / FeeRateDenominator
}

// TickModel prices the full depth of the active tick range: the ask walks the
// price up to the range's upper bound and the bid walks it down to the lower bound.
// Liquidity beyond the active range is not modeled.
type TickModel struct{}

// Quote implements Model.
func (TickModel) Quote(pool *PoolState) (quote.BestQuote, error) {
	return TickQuote(pool)
}

// TickQuote prices pool with the tick-boundary model.
func TickQuote(pool *PoolState) (quote.BestQuote, error) {
	if pool.SqrtPriceX64 == nil || pool.SqrtPriceX64.Sign() <= 0 {
		return quote.BestQuote{}, ErrInvalidSqrtPrice
	}
	if pool.Liquidity == nil || pool.Liquidity.Sign() == 0 {
		return quote.BestQuote{}, ErrNoLiquidity
	}

	lower, upper, err := TickRange(pool.TickCurrent, pool.TickSpacing)
	if err != nil {
		return quote.BestQuote{}, err
	}
	sqrtLower, err := SqrtPriceX64AtTick(lower)
	if err != nil {
		return quote.BestQuote{}, err
	}
	sqrtUpper, err := SqrtPriceX64AtTick(upper)
	if err != nil {
		return quote.BestQuote{}, err
	}

	s := pool.SqrtPriceX64
	// tick_current is floor(log(price)), so s can sit a rounding step outside the range.
	if s.Cmp(sqrtLower) < 0 {
		sqrtLower = s
	}
	if s.Cmp(sqrtUpper) > 0 {
		sqrtUpper = s
	}

	scale := decimalScale(pool.MintDecimals0, pool.MintDecimals1)
	baseUnit := pow10(int(pool.MintDecimals0))
	liquidity := pool.Liquidity

	// Ask: buy base with quote, price moves up to sqrtUpper.
	askBase, askQuote := exactAmounts(s, sqrtUpper, liquidity)
	askPrice := sidePrice(askQuote, askBase, s, sqrtUpper, scale)
	askSize := units(Amount0Delta(s, sqrtUpper, liquidity, false), baseUnit)

	// Bid: sell base for quote, price moves down to sqrtLower.
	bidBase, bidQuote := exactAmounts(sqrtLower, s, liquidity)
	bidPrice := sidePrice(bidQuote, bidBase, s, sqrtLower, scale)
	bidSize := units(Amount0Delta(sqrtLower, s, liquidity, true), baseUnit)

	return quote.BestQuote{
		BidPrice: bidPrice,
		BidSize:  bidSize,
		AskPrice: askPrice,
		AskSize:  askSize,
	}, nil
}

// exactAmounts returns the unrounded token0 and token1 amounts exchanged when
// the sqrt price moves between lo and hi:
// base = L * (1/lo - 1/hi), quote = L * (hi - lo), both in raw token units.
func exactAmounts(lo, hi, liquidity *big.Int) (base, quoteAmt *big.Float) {
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	diff := newFloat().SetInt(new(big.Int).Sub(hi, lo))
	l := newFloat().SetInt(liquidity)
	q64 := newFloat().SetInt(Q64)

	quoteAmt = newFloat().Mul(l, diff)
	quoteAmt.Quo(quoteAmt, q64)

	base = newFloat().Mul(l, diff)
	base.Mul(base, q64)
	base.Quo(base, newFloat().SetInt(new(big.Int).Mul(lo, hi)))
	return base, quoteAmt
}

// sidePrice is quoteAmt / baseAmt * scale. An empty side (current price on the
// range boundary) reports the marginal price s * bound instead.
func sidePrice(quoteAmt, baseAmt *big.Float, s, bound *big.Int, scale *big.Float) float64 {
	var p *big.Float
	if baseAmt.Sign() == 0 {
		p = newFloat().Mul(X64ToFloat(s, pricePrec), X64ToFloat(bound, pricePrec))
	} else {
		p = newFloat().Quo(quoteAmt, baseAmt)
	}
	p.Mul(p, scale)
	f, _ := p.Float64()
	return f
}

// MidSpreadModel reports mid ± HalfSpreadBps with zero size. It only needs
// the sqrt price, so it still works when range data is unusable.
type MidSpreadModel struct {
	HalfSpreadBps float64
}

// Quote implements Model.
func (m MidSpreadModel) Quote(pool *PoolState) (quote.BestQuote, error) {
	mid, err := MidPrice(pool)
	if err != nil {
		return quote.BestQuote{}, err
	}
	half := mid * m.HalfSpreadBps / 10_000
	return quote.BestQuote{
		BidPrice: mid - half,
		AskPrice: mid + half,
	}, nil
}

// MidPrice returns (sqrt_price_x64 / 2^64)^2 * 10^(decimals0 - decimals1).
func MidPrice(pool *PoolState) (float64, error) {
	if pool.SqrtPriceX64 == nil || pool.SqrtPriceX64.Sign() <= 0 {
		return 0, ErrInvalidSqrtPrice
	}
	s := X64ToFloat(pool.SqrtPriceX64, pricePrec)
	p := newFloat().Mul(s, s)
	p.Mul(p, decimalScale(pool.MintDecimals0, pool.MintDecimals1))
	f, _ := p.Float64()
	return f, nil
}

// Pricer uses Primary and drops to Fallback when the pool has no usable
// liquidity range.
type Pricer struct {
	Primary  Model
	Fallback Model

	// OnFallback, if set, is called with the primary model's error each time
	// the fallback is used.
	OnFallback func(err error)
}

// NewPricer returns the tick-boundary model backed by a mid/half-spread fallback.
func NewPricer(halfSpreadBps float64) *Pricer {
	return &Pricer{
		Primary:  TickModel{},
		Fallback: MidSpreadModel{HalfSpreadBps: halfSpreadBps},
	}
}

// Quote implements Model.
func (p *Pricer) Quote(pool *PoolState) (quote.BestQuote, error) {
	q, err := p.Primary.Quote(pool)
	if err == nil {
		return q, nil
	}
	if p.Fallback == nil || !(errors.Is(err, ErrNoLiquidity) || errors.Is(err, ErrInvalidTickSpacing)) {
		return quote.BestQuote{}, err
	}
	if p.OnFallback != nil {
		p.OnFallback(err)
	}
	return p.Fallback.Quote(pool)
}

func newFloat() *big.Float {
	return new(big.Float).SetPrec(pricePrec)
}

func pow10(n int) *big.Float {
	return newFloat().SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil))
}

func decimalScale(dec0, dec1 uint8) *big.Float {
	exp := int(dec0) - int(dec1)
	if exp >= 0 {
		return pow10(exp)
	}
	return newFloat().Quo(newFloat().SetInt64(1), pow10(-exp))
}

func units(raw *big.Int, unit *big.Float) float64 {
	f := newFloat().SetInt(raw)
	f.Quo(f, unit)
	out, _ := f.Float64()
	return out
}
