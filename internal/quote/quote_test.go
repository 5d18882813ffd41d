package quote

import "testing"

func TestInstrument_Symbols(t *testing.T) {
	tests := []struct {
		base, quote string
		symbol      string
		stream      string
	}{
		{"SOL", "USDC", "SOL-USDC", "solusdc"},
		{"sol", "usdc", "SOL-USDC", "solusdc"},
		{"Eth", "Usdt", "ETH-USDT", "ethusdt"},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			inst := NewInstrument(tt.base, tt.quote)
			if got := inst.Symbol(); got != tt.symbol {
				t.Errorf("Symbol() = %q, want %q", got, tt.symbol)
			}
			if got := inst.StreamSymbol(); got != tt.stream {
				t.Errorf("StreamSymbol() = %q, want %q", got, tt.stream)
			}
		})
	}
}

func TestInstrument_MapKey(t *testing.T) {
	m := map[Instrument]int{NewInstrument("SOL", "USDC"): 1}
	if m[Instrument{Base: "SOL", Quote: "USDC"}] != 1 {
		t.Fatal("instruments with equal base and quote must hash equally")
	}
}

func TestVenue_Equality(t *testing.T) {
	if NewVenue("binance") != NewVenue("binance") {
		t.Error("venues with the same name must be equal")
	}
	if NewVenue("binance") == NewVenue("raydium") {
		t.Error("venues with different names must differ")
	}
}

func TestBestQuote_Mid(t *testing.T) {
	q := BestQuote{BidPrice: 99, AskPrice: 101}
	if got := q.Mid(); got != 100 {
		t.Errorf("Mid() = %v, want 100", got)
	}
}
