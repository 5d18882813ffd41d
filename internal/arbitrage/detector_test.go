package arbitrage

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

const eps = 1e-9

var solUSDC = quote.NewInstrument("SOL", "USDC")

func update(venue string, ts int64, q quote.BestQuote, fee float64) quote.Update {
	return quote.Update{TS: ts, Venue: quote.NewVenue(venue), Instrument: solUSDC, Quote: q, FeeRate: fee}
}

func fixedDetector(minSpread float64, nowMs int64) *Detector {
	d := NewDetector(DetectorConfig{MinSpread: minSpread})
	d.now = func() time.Time { return time.UnixMilli(nowMs) }
	n := 0
	d.newID = func() string {
		n++
		return "opp-" + string(rune('0'+n))
	}
	return d
}

func TestEvaluate_BuyOnASellOnB(t *testing.T) {
	a := update("A", 1000, quote.BestQuote{BidPrice: 99, BidSize: 2, AskPrice: 100, AskSize: 3}, 0.0005)
	b := update("B", 1200, quote.BestQuote{BidPrice: 101, BidSize: 1, AskPrice: 99.5, AskSize: 4}, 0.0005)

	got := fixedDetector(0.01, 1500).Evaluate(a, b)
	if len(got) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(got))
	}
	opp := got[0]

	if opp.BuyVenue.Name != "A" || opp.SellVenue.Name != "B" {
		t.Errorf("direction = %s -> %s, want A -> B", opp.BuyVenue, opp.SellVenue)
	}
	checks := []struct {
		name      string
		got, want float64
	}{
		{"buy price", opp.BuyPrice, 100},
		{"sell price", opp.SellPrice, 101},
		{"spread", opp.Spread, 1.0},
		{"trade size", opp.TradeSize, 1},
		{"total fee", opp.TotalFee, 0.1},
		{"net spread", opp.NetSpread, 0.9},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > eps {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if opp.TS != 1000 {
		t.Errorf("ts = %d, want earlier quote ts 1000", opp.TS)
	}
	if opp.StalenessMs != 500 {
		t.Errorf("staleness = %d, want 500", opp.StalenessMs)
	}
	if opp.ID != "opp-1" {
		t.Errorf("id = %q", opp.ID)
	}
}

func TestEvaluate_ReverseRoles(t *testing.T) {
	a := update("A", 1000, quote.BestQuote{BidPrice: 99, BidSize: 2, AskPrice: 100, AskSize: 3}, 0.0005)
	b := update("B", 1000, quote.BestQuote{BidPrice: 101, BidSize: 1, AskPrice: 99.5, AskSize: 4}, 0.0005)

	// Swapping arguments must find the same single direction.
	got := fixedDetector(0.01, 1000).Evaluate(b, a)
	if len(got) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(got))
	}
	if got[0].BuyVenue.Name != "A" || got[0].SellVenue.Name != "B" {
		t.Errorf("direction = %s -> %s, want A -> B", got[0].BuyVenue, got[0].SellVenue)
	}
}

func TestEvaluate_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		a, b      quote.BestQuote
		minSpread float64
		want      int
	}{
		{
			name:      "no dislocation",
			a:         quote.BestQuote{BidPrice: 99, BidSize: 1, AskPrice: 100, AskSize: 1},
			b:         quote.BestQuote{BidPrice: 99.5, BidSize: 1, AskPrice: 100.5, AskSize: 1},
			minSpread: 0,
			want:      0,
		},
		{
			name:      "spread equal to threshold",
			a:         quote.BestQuote{BidPrice: 99, BidSize: 1, AskPrice: 100, AskSize: 1},
			b:         quote.BestQuote{BidPrice: 100.5, BidSize: 1, AskPrice: 101, AskSize: 1},
			minSpread: 0.5,
			want:      0,
		},
		{
			name:      "spread above threshold",
			a:         quote.BestQuote{BidPrice: 99, BidSize: 1, AskPrice: 100, AskSize: 1},
			b:         quote.BestQuote{BidPrice: 100.5, BidSize: 1, AskPrice: 101, AskSize: 1},
			minSpread: 0.4,
			want:      1,
		},
		{
			name:      "both directions on crossed quotes",
			a:         quote.BestQuote{BidPrice: 102, BidSize: 1, AskPrice: 98, AskSize: 1},
			b:         quote.BestQuote{BidPrice: 101, BidSize: 1, AskPrice: 99, AskSize: 1},
			minSpread: 0.5,
			want:      2,
		},
		{
			name:      "empty side",
			a:         quote.BestQuote{},
			b:         quote.BestQuote{BidPrice: 101, BidSize: 1, AskPrice: 102, AskSize: 1},
			minSpread: 200,
			want:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fixedDetector(tt.minSpread, 0).Evaluate(update("A", 0, tt.a, 0.001), update("B", 0, tt.b, 0.001))
			if len(got) != tt.want {
				t.Errorf("got %d opportunities, want %d", len(got), tt.want)
			}
		})
	}
}

func TestEvaluate_GrossThresholdIgnoresFees(t *testing.T) {
	a := update("A", 0, quote.BestQuote{BidPrice: 99, BidSize: 1, AskPrice: 100, AskSize: 1}, 0.01)
	b := update("B", 0, quote.BestQuote{BidPrice: 100.5, BidSize: 1, AskPrice: 101, AskSize: 1}, 0.01)

	got := fixedDetector(0.1, 0).Evaluate(a, b)
	if len(got) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(got))
	}
	if got[0].NetSpread >= 0 {
		t.Errorf("net spread = %v, want negative (fees 2.0 exceed spread 0.5)", got[0].NetSpread)
	}
}

func TestCompare_Staleness(t *testing.T) {
	a := quote.Update{TS: 5000, Quote: quote.BestQuote{AskPrice: 100, AskSize: 1}}
	b := quote.Update{TS: 4200, Quote: quote.BestQuote{BidPrice: 101, BidSize: 1}}

	tests := []struct {
		name  string
		nowMs int64
		want  int64
	}{
		{"now after both", 6000, 1800},
		{"now equals oldest", 4200, 0},
		{"clock behind", 4000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(a, b, 0, 0, 0, tt.nowMs)
			if len(got) != 1 {
				t.Fatalf("got %d opportunities, want 1", len(got))
			}
			if got[0].TS != 4200 {
				t.Errorf("ts = %d, want 4200", got[0].TS)
			}
			if got[0].StalenessMs != tt.want {
				t.Errorf("staleness = %d, want %d", got[0].StalenessMs, tt.want)
			}
		})
	}
}

func TestOpportunity_FormatOutput(t *testing.T) {
	opp := &Opportunity{
		TS:          1700000000000,
		StalenessMs: 42,
		BuyVenue:    quote.NewVenue("raydium_clmm"),
		SellVenue:   quote.NewVenue("binance"),
		BuyPrice:    142.123456,
		SellPrice:   142.5,
		Spread:      0.376544,
		TotalFee:    0.07592,
		TradeSize:   3.25,
	}

	want := "[Arb] ts=1700000000000 staleness=42ms | Buy raydium_clmm @ 142.1235, Sell binance @ 142.5000, Spread 0.3765, Fees 0.0759, Size 3.2500"
	if got := opp.FormatOutput(); got != want {
		t.Errorf("FormatOutput =\n%s\nwant\n%s", got, want)
	}
}

func TestParseOpportunity(t *testing.T) {
	opp := &Opportunity{
		ID:         "abc",
		Instrument: solUSDC,
		BuyVenue:   quote.NewVenue("A"),
		SellVenue:  quote.NewVenue("B"),
		Spread:     1,
		NetSpread:  0.9,
	}
	data, err := opp.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !strings.Contains(string(data), `"net_spread":0.9`) {
		t.Errorf("json missing net_spread: %s", data)
	}

	got, err := ParseOpportunity(data)
	if err != nil {
		t.Fatalf("ParseOpportunity: %v", err)
	}
	if got.ID != "abc" || got.Instrument != solUSDC || got.BuyVenue.Name != "A" {
		t.Errorf("parsed = %+v", got)
	}

	if _, err := ParseOpportunity([]byte(`{"opportunity_id":"x"}`)); err == nil {
		t.Error("expected error for opportunity without venues")
	}
	if _, err := ParseOpportunity([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid json")
	}
}
