package config

import (
	"fmt"
	"strings"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/blockchain"
	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// TokenInfo describes an SPL token mint.
type TokenInfo struct {
	Symbol       string
	Mint         string // base58 mint address
	Decimals     uint8
	IsStablecoin bool
}

// TokenRegistry maps symbols to well-known Solana mainnet mints. SOL is the
// wrapped SOL mint that CLMM pools hold.
var TokenRegistry = map[string]TokenInfo{
	"SOL": {
		Symbol:   "SOL",
		Mint:     "So11111111111111111111111111111111111111112",
		Decimals: 9,
	},
	"RAY": {
		Symbol:   "RAY",
		Mint:     "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R",
		Decimals: 6,
	},
	"JUP": {
		Symbol:   "JUP",
		Mint:     "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN",
		Decimals: 6,
	},
	"USDC": {
		Symbol:       "USDC",
		Mint:         "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:     6,
		IsStablecoin: true,
	},
	"USDT": {
		Symbol:       "USDT",
		Mint:         "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
		Decimals:     6,
		IsStablecoin: true,
	},
}

// ParsePair parses "SOL-USDC" into registry entries for base and quote.
func ParsePair(pairName string) (base TokenInfo, quoteToken TokenInfo, err error) {
	parts := strings.Split(pairName, "-")
	if len(parts) != 2 {
		return TokenInfo{}, TokenInfo{}, fmt.Errorf("invalid pair format: %s (expected BASE-QUOTE like SOL-USDC)", pairName)
	}

	baseSymbol, quoteSymbol := strings.ToUpper(parts[0]), strings.ToUpper(parts[1])
	if baseSymbol == quoteSymbol {
		return TokenInfo{}, TokenInfo{}, fmt.Errorf("base and quote tokens must be different: %s", pairName)
	}

	base, ok := TokenRegistry[baseSymbol]
	if !ok {
		return TokenInfo{}, TokenInfo{}, fmt.Errorf("unknown base token: %s", baseSymbol)
	}
	quoteToken, ok = TokenRegistry[quoteSymbol]
	if !ok {
		return TokenInfo{}, TokenInfo{}, fmt.Errorf("unknown quote token: %s", quoteSymbol)
	}

	return base, quoteToken, nil
}

// MintMismatch describes how a pool's mints differ from an instrument.
type MintMismatch struct {
	Inverted bool   // pool holds quote as token0 and base as token1
	Reason   string // empty when the pool matches or the pair is unknown
}

// CheckPoolMints compares a pool's token0/token1 against inst. Pools priced
// as token1 per token0 must hold the base as token0. Unknown symbols are not
// an error: the registry only covers common tokens.
func CheckPoolMints(inst quote.Instrument, mint0, mint1 blockchain.PublicKey) MintMismatch {
	base, quoteToken, err := ParsePair(inst.Symbol())
	if err != nil {
		return MintMismatch{}
	}

	m0, m1 := mint0.String(), mint1.String()
	switch {
	case m0 == base.Mint && m1 == quoteToken.Mint:
		return MintMismatch{}
	case m0 == quoteToken.Mint && m1 == base.Mint:
		return MintMismatch{Inverted: true, Reason: fmt.Sprintf("pool quotes %s per %s", base.Symbol, quoteToken.Symbol)}
	default:
		return MintMismatch{Reason: fmt.Sprintf("pool mints %s/%s are not %s", m0, m1, inst.Symbol())}
	}
}

// Decimals returns the registry decimals for symbol, if known.
func Decimals(symbol string) (uint8, bool) {
	info, ok := TokenRegistry[strings.ToUpper(symbol)]
	return info.Decimals, ok
}
