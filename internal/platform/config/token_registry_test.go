package config

import (
	"testing"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/blockchain"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

func TestParsePair(t *testing.T) {
	tests := []struct {
		name      string
		pair      string
		wantBase  string
		wantQuote string
		wantErr   bool
	}{
		{"SOL-USDC", "SOL-USDC", "SOL", "USDC", false},
		{"lowercase", "sol-usdt", "SOL", "USDT", false},
		{"RAY-USDC", "RAY-USDC", "RAY", "USDC", false},
		{"no separator", "SOLUSDC", "", "", true},
		{"too many parts", "SOL-USDC-USDT", "", "", true},
		{"same token", "USDC-USDC", "", "", true},
		{"unknown base", "DOGE-USDC", "", "", true},
		{"unknown quote", "SOL-EUR", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, quoteToken, err := ParsePair(tt.pair)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePair(%s) expected error", tt.pair)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePair(%s) failed: %v", tt.pair, err)
			}
			if base.Symbol != tt.wantBase || quoteToken.Symbol != tt.wantQuote {
				t.Errorf("got %s/%s, want %s/%s", base.Symbol, quoteToken.Symbol, tt.wantBase, tt.wantQuote)
			}
		})
	}
}

func TestTokenRegistry_MintsParse(t *testing.T) {
	for symbol, info := range TokenRegistry {
		if _, err := blockchain.ParsePublicKey(info.Mint); err != nil {
			t.Errorf("%s mint %s does not parse: %v", symbol, info.Mint, err)
		}
		if info.Symbol != symbol {
			t.Errorf("registry key %s holds symbol %s", symbol, info.Symbol)
		}
	}
}

func TestTokenRegistry_Decimals(t *testing.T) {
	tests := map[string]uint8{"SOL": 9, "usdc": 6, "USDT": 6}
	for symbol, want := range tests {
		got, ok := Decimals(symbol)
		if !ok || got != want {
			t.Errorf("Decimals(%s) = %d,%v want %d", symbol, got, ok, want)
		}
	}
	if _, ok := Decimals("NOPE"); ok {
		t.Error("unknown symbol reported as known")
	}
}

func TestCheckPoolMints(t *testing.T) {
	sol := blockchain.MustParsePublicKey(TokenRegistry["SOL"].Mint)
	usdc := blockchain.MustParsePublicKey(TokenRegistry["USDC"].Mint)
	usdt := blockchain.MustParsePublicKey(TokenRegistry["USDT"].Mint)
	inst := quote.NewInstrument("SOL", "USDC")

	tests := []struct {
		name         string
		inst         quote.Instrument
		mint0, mint1 blockchain.PublicKey
		wantInverted bool
		wantReason   bool
	}{
		{"matching", inst, sol, usdc, false, false},
		{"inverted", inst, usdc, sol, true, true},
		{"other pool", inst, sol, usdt, false, true},
		{"unknown pair", quote.NewInstrument("FOO", "BAR"), sol, usdc, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckPoolMints(tt.inst, tt.mint0, tt.mint1)
			if got.Inverted != tt.wantInverted {
				t.Errorf("Inverted = %v, want %v", got.Inverted, tt.wantInverted)
			}
			if (got.Reason != "") != tt.wantReason {
				t.Errorf("Reason = %q, want reason: %v", got.Reason, tt.wantReason)
			}
		})
	}
}
