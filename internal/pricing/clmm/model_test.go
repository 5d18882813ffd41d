package clmm

import (
	"errors"
	"math"
	"math/big"
	"testing"
)

func mustSqrtAt(t *testing.T, tick int32) *big.Int {
	t.Helper()
	s, err := SqrtPriceX64AtTick(tick)
	if err != nil {
		t.Fatalf("SqrtPriceX64AtTick(%d): %v", tick, err)
	}
	return s
}

func testPool(sqrt *big.Int, tick int32, spacing uint16) *PoolState {
	return &PoolState{
		MintDecimals0: 6,
		MintDecimals1: 6,
		TickSpacing:   spacing,
		Liquidity:     big.NewInt(5_000_000_000_000),
		SqrtPriceX64:  sqrt,
		TickCurrent:   tick,
	}
}

func TestMidPrice(t *testing.T) {
	tests := []struct {
		name       string
		dec0, dec1 uint8
		sqrt       *big.Int
		want       float64
	}{
		{"unit price", 6, 6, Q64, 1},
		{"decimals shift up", 9, 6, Q64, 1000},
		{"decimals shift down", 6, 9, Q64, 0.001},
		{"sqrt two", 6, 6, new(big.Int).Lsh(Q64, 1), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MidPrice(&PoolState{MintDecimals0: tt.dec0, MintDecimals1: tt.dec1, SqrtPriceX64: tt.sqrt})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > tt.want*1e-12 {
				t.Errorf("MidPrice = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTickQuote_BracketsMid(t *testing.T) {
	tests := []struct {
		name    string
		tick    int32
		spacing uint16
	}{
		{"inside negative range", -5, 10},
		{"on lower boundary", 0, 10},
		{"wide range", 17, 60},
		{"narrow range", -15423, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := testPool(mustSqrtAt(t, tt.tick), tt.tick, tt.spacing)
			q, err := TickQuote(pool)
			if err != nil {
				t.Fatalf("TickQuote failed: %v", err)
			}
			mid, _ := MidPrice(pool)

			if !(q.BidPrice <= mid && mid < q.AskPrice) {
				t.Errorf("want bid <= mid < ask, got bid=%v mid=%v ask=%v", q.BidPrice, mid, q.AskPrice)
			}
			if q.AskSize <= 0 {
				t.Errorf("AskSize = %v, want > 0", q.AskSize)
			}
			if q.BidSize < 0 {
				t.Errorf("BidSize = %v, want >= 0", q.BidSize)
			}
		})
	}
}

func TestTickQuote_BoundaryBidIsMarginal(t *testing.T) {
	// Price sits exactly on the range's lower tick, so there is nothing to sell into.
	pool := testPool(new(big.Int).Set(Q64), 0, 10)
	q, err := TickQuote(pool)
	if err != nil {
		t.Fatalf("TickQuote failed: %v", err)
	}
	if q.BidPrice != 1 {
		t.Errorf("BidPrice = %v, want 1", q.BidPrice)
	}
	if q.BidSize != 0 {
		t.Errorf("BidSize = %v, want 0", q.BidSize)
	}
	wantAsk := math.Pow(1.0001, 5) // geometric mean of 1 and 1.0001^10
	if math.Abs(q.AskPrice-wantAsk) > 1e-9 {
		t.Errorf("AskPrice = %v, want %v", q.AskPrice, wantAsk)
	}
}

func TestTickQuote_SpreadNarrowsWithSpacing(t *testing.T) {
	sqrt := mustSqrtAt(t, -3)
	prev := math.Inf(1)
	for _, spacing := range []uint16{60, 10, 1} {
		q, err := TickQuote(testPool(sqrt, -3, spacing))
		if err != nil {
			t.Fatalf("spacing %d: %v", spacing, err)
		}
		spread := q.AskPrice - q.BidPrice
		if spread >= prev {
			t.Errorf("spacing %d: spread %v did not narrow from %v", spacing, spread, prev)
		}
		prev = spread
	}
}

func TestTickQuote_SizeScalesWithLiquidity(t *testing.T) {
	sqrt := mustSqrtAt(t, -5)
	small := testPool(sqrt, -5, 10)
	large := testPool(sqrt, -5, 10)
	large.Liquidity = new(big.Int).Mul(small.Liquidity, big.NewInt(10))

	qs, _ := TickQuote(small)
	ql, _ := TickQuote(large)
	if math.Abs(ql.AskSize/qs.AskSize-10) > 1e-6 {
		t.Errorf("ask size ratio = %v, want 10", ql.AskSize/qs.AskSize)
	}
	if math.Abs(ql.AskPrice-qs.AskPrice) > 1e-12 {
		t.Errorf("ask price changed with liquidity: %v vs %v", qs.AskPrice, ql.AskPrice)
	}
}

func TestTickQuote_Errors(t *testing.T) {
	tests := []struct {
		name    string
		pool    *PoolState
		wantErr error
	}{
		{"zero liquidity", &PoolState{TickSpacing: 10, Liquidity: new(big.Int), SqrtPriceX64: Q64}, ErrNoLiquidity},
		{"zero sqrt", &PoolState{TickSpacing: 10, Liquidity: big.NewInt(1), SqrtPriceX64: new(big.Int)}, ErrInvalidSqrtPrice},
		{"zero spacing", &PoolState{TickSpacing: 0, Liquidity: big.NewInt(1), SqrtPriceX64: Q64}, ErrInvalidTickSpacing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := TickQuote(tt.pool); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPricer_Fallback(t *testing.T) {
	var fallbacks []error
	p := NewPricer(2.0)
	p.OnFallback = func(err error) { fallbacks = append(fallbacks, err) }

	pool := &PoolState{MintDecimals0: 6, MintDecimals1: 6, TickSpacing: 10, Liquidity: new(big.Int), SqrtPriceX64: Q64}
	q, err := p.Quote(pool)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if math.Abs(q.BidPrice-0.9998) > 1e-12 || math.Abs(q.AskPrice-1.0002) > 1e-12 {
		t.Errorf("got bid=%v ask=%v, want 0.9998/1.0002", q.BidPrice, q.AskPrice)
	}
	if q.BidSize != 0 || q.AskSize != 0 {
		t.Errorf("fallback sizes = %v/%v, want 0", q.BidSize, q.AskSize)
	}
	if len(fallbacks) != 1 || !errors.Is(fallbacks[0], ErrNoLiquidity) {
		t.Errorf("OnFallback calls = %v", fallbacks)
	}
}

func TestPricer_NoFallbackForBadPrice(t *testing.T) {
	p := NewPricer(2.0)
	pool := &PoolState{TickSpacing: 10, Liquidity: big.NewInt(1), SqrtPriceX64: new(big.Int)}
	if _, err := p.Quote(pool); !errors.Is(err, ErrInvalidSqrtPrice) {
		t.Errorf("expected ErrInvalidSqrtPrice, got %v", err)
	}
}

func TestPricer_UsesPrimary(t *testing.T) {
	called := false
	p := NewPricer(2.0)
	p.OnFallback = func(error) { called = true }

	pool := testPool(mustSqrtAt(t, -5), -5, 10)
	got, err := p.Quote(pool)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	want, _ := TickQuote(pool)
	if got != want {
		t.Errorf("Pricer quote %+v differs from TickQuote %+v", got, want)
	}
	if called {
		t.Error("fallback used for a healthy pool")
	}
}

func TestFeeRate(t *testing.T) {
	tests := []struct {
		ppm  uint32
		want float64
	}{
		{100, 0.0001},
		{400, 0.0004},
		{2500, 0.0025},
		{0, 0},
	}
	for _, tt := range tests {
		if got := FeeRate(&AmmConfig{TradeFeeRate: tt.ppm}); math.Abs(got-tt.want) > 1e-15 {
			t.Errorf("FeeRate(%d) = %v, want %v", tt.ppm, got, tt.want)
		}
	}
}
