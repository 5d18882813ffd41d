package clmm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/blockchain"
)

// poolFixture builds raw PoolState bytes through the layout table.
type poolFixture struct {
	ammConfig   blockchain.PublicKey
	mint0       blockchain.PublicKey
	dec0, dec1  uint8
	tickSpacing uint16
	liquidity   *big.Int
	sqrtPrice   *big.Int
	tick        int32
	trailing    int
}

func (f poolFixture) bytes(t *testing.T) []byte {
	t.Helper()
	l := PoolStateLayout
	buf := make([]byte, l.Size()+f.trailing)
	copy(buf, l.Discriminator[:])

	put := func(name string) int {
		off, ok := l.Offset(name)
		if !ok {
			t.Fatalf("layout has no field %s", name)
		}
		return off
	}

	buf[put("bump")] = 254
	copy(buf[put("amm_config"):], f.ammConfig[:])
	copy(buf[put("token_mint_0"):], f.mint0[:])
	buf[put("mint_decimals_0")] = f.dec0
	buf[put("mint_decimals_1")] = f.dec1
	binary.LittleEndian.PutUint16(buf[put("tick_spacing"):], f.tickSpacing)
	putU128(buf[put("liquidity"):], f.liquidity)
	putU128(buf[put("sqrt_price_x64"):], f.sqrtPrice)
	binary.LittleEndian.PutUint32(buf[put("tick_current"):], uint32(f.tick))
	return buf
}

func putU128(dst []byte, v *big.Int) {
	be := v.FillBytes(make([]byte, 16))
	for i := 0; i < 16; i++ {
		dst[i] = be[15-i]
	}
}

func ammConfigBytes(tradeFeeRate uint32) []byte {
	l := AmmConfigLayout
	buf := make([]byte, l.Size())
	copy(buf, l.Discriminator[:])
	off, _ := l.Offset("index")
	binary.LittleEndian.PutUint16(buf[off:], 3)
	off, _ = l.Offset("protocol_fee_rate")
	binary.LittleEndian.PutUint32(buf[off:], 120000)
	off, _ = l.Offset("trade_fee_rate")
	binary.LittleEndian.PutUint32(buf[off:], tradeFeeRate)
	off, _ = l.Offset("tick_spacing")
	binary.LittleEndian.PutUint16(buf[off:], 1)
	return buf
}

func TestLayoutSizes(t *testing.T) {
	// 8 discriminator + 1 bump + 7*32 keys + 2 decimals + 2 spacing + 2*16 + 4
	if got := PoolStateLayout.Size(); got != 273 {
		t.Errorf("PoolState size = %d, want 273", got)
	}
	if off, _ := PoolStateLayout.Offset("sqrt_price_x64"); off != 253 {
		t.Errorf("sqrt_price_x64 offset = %d, want 253", off)
	}
	if off, _ := PoolStateLayout.Offset("tick_current"); off != 269 {
		t.Errorf("tick_current offset = %d, want 269", off)
	}
	if off, _ := AmmConfigLayout.Offset("trade_fee_rate"); off != 47 {
		t.Errorf("trade_fee_rate offset = %d, want 47", off)
	}
}

func TestAccountDiscriminator(t *testing.T) {
	// Anchor tag of raydium-clmm PoolState: f7ede3f5d7c3de46
	want := [8]byte{0xf7, 0xed, 0xe3, 0xf5, 0xd7, 0xc3, 0xde, 0x46}
	if got := AccountDiscriminator("PoolState"); got != want {
		t.Errorf("discriminator = %x, want %x", got, want)
	}
}

func TestDecodePoolState(t *testing.T) {
	cfgKey := blockchain.PublicKey{1, 2, 3}
	liq := new(big.Int).SetUint64(123456789012345)
	sqrt, _ := new(big.Int).SetString("8507059173023461586", 10)

	data := poolFixture{
		ammConfig:   cfgKey,
		dec0:        9,
		dec1:        6,
		tickSpacing: 1,
		liquidity:   liq,
		sqrtPrice:   sqrt,
		tick:        -15423,
		trailing:    1271,
	}.bytes(t)

	pool, err := DecodePoolState(data)
	if err != nil {
		t.Fatalf("DecodePoolState failed: %v", err)
	}

	if pool.Bump != 254 {
		t.Errorf("Bump = %d, want 254", pool.Bump)
	}
	if pool.AmmConfig != cfgKey {
		t.Errorf("AmmConfig = %s, want %s", pool.AmmConfig, cfgKey)
	}
	if pool.MintDecimals0 != 9 || pool.MintDecimals1 != 6 {
		t.Errorf("decimals = %d/%d, want 9/6", pool.MintDecimals0, pool.MintDecimals1)
	}
	if pool.TickSpacing != 1 {
		t.Errorf("TickSpacing = %d, want 1", pool.TickSpacing)
	}
	if pool.Liquidity.Cmp(liq) != 0 {
		t.Errorf("Liquidity = %s, want %s", pool.Liquidity, liq)
	}
	if pool.SqrtPriceX64.Cmp(sqrt) != 0 {
		t.Errorf("SqrtPriceX64 = %s, want %s", pool.SqrtPriceX64, sqrt)
	}
	if pool.TickCurrent != -15423 {
		t.Errorf("TickCurrent = %d, want -15423", pool.TickCurrent)
	}
}

func TestDecodePoolState_U128FullWidth(t *testing.T) {
	max128 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	data := poolFixture{tickSpacing: 1, liquidity: max128, sqrtPrice: Q64}.bytes(t)

	pool, err := DecodePoolState(data)
	if err != nil {
		t.Fatalf("DecodePoolState failed: %v", err)
	}
	if pool.Liquidity.Cmp(max128) != 0 {
		t.Errorf("Liquidity = %s, want 2^128-1", pool.Liquidity)
	}
}

func TestDecodePoolState_TooShort(t *testing.T) {
	full := poolFixture{tickSpacing: 1, liquidity: big.NewInt(1), sqrtPrice: Q64}.bytes(t)

	tests := []struct {
		name  string
		n     int
		field string
	}{
		{"empty", 0, "discriminator"},
		{"partial discriminator", 5, "discriminator"},
		{"discriminator only", 8, "bump"},
		{"cut inside liquidity", 240, "liquidity"},
		{"one byte short", PoolStateLayout.Size() - 1, "tick_current"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePoolState(full[:tt.n])
			if !errors.Is(err, ErrTooShort) {
				t.Fatalf("expected ErrTooShort, got %v", err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
			if de.Field != tt.field {
				t.Errorf("Field = %q, want %q", de.Field, tt.field)
			}
		})
	}
}

func TestDecodePoolState_WrongDiscriminator(t *testing.T) {
	data := poolFixture{tickSpacing: 1, liquidity: big.NewInt(1), sqrtPrice: Q64}.bytes(t)
	data = data[:PoolStateLayout.Size()]
	data[0] ^= 0xff

	_, err := DecodePoolState(data)
	if !errors.Is(err, ErrUnexpectedLayout) {
		t.Fatalf("expected ErrUnexpectedLayout, got %v", err)
	}
	if errors.Is(err, ErrTooShort) {
		t.Error("exact-length buffer must not report ErrTooShort")
	}
}

func TestDecodePoolState_RejectsAmmConfig(t *testing.T) {
	// An AmmConfig padded to PoolState length still carries the wrong tag.
	data := make([]byte, PoolStateLayout.Size())
	copy(data, ammConfigBytes(2500))

	if _, err := DecodePoolState(data); !errors.Is(err, ErrUnexpectedLayout) {
		t.Fatalf("expected ErrUnexpectedLayout, got %v", err)
	}
}

func TestDecodeAmmConfig(t *testing.T) {
	cfg, err := DecodeAmmConfig(ammConfigBytes(2500))
	if err != nil {
		t.Fatalf("DecodeAmmConfig failed: %v", err)
	}
	if cfg.TradeFeeRate != 2500 {
		t.Errorf("TradeFeeRate = %d, want 2500", cfg.TradeFeeRate)
	}
	if cfg.ProtocolFeeRate != 120000 {
		t.Errorf("ProtocolFeeRate = %d, want 120000", cfg.ProtocolFeeRate)
	}
	if cfg.Index != 3 {
		t.Errorf("Index = %d, want 3", cfg.Index)
	}
	if got := FeeRate(cfg); got != 0.0025 {
		t.Errorf("FeeRate = %v, want 0.0025", got)
	}
}

func TestDecodePayload(t *testing.T) {
	raw := ammConfigBytes(400)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	enc.Close()

	tests := []struct {
		name     string
		data     string
		encoding string
		wantErr  error
	}{
		{"base64", base64.StdEncoding.EncodeToString(raw), EncodingBase64, nil},
		{"base64+zstd", base64.StdEncoding.EncodeToString(compressed), EncodingBase64Zstd, nil},
		{"bad base64", "not*base64!", EncodingBase64, ErrEncoding},
		{"unknown encoding", base64.StdEncoding.EncodeToString(raw), "jsonParsed", ErrEncoding},
		{"not zstd", base64.StdEncoding.EncodeToString(raw), EncodingBase64Zstd, ErrCompression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := DecodeAmmConfigPayload(tt.data, tt.encoding)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.TradeFeeRate != 400 {
				t.Errorf("TradeFeeRate = %d, want 400", cfg.TradeFeeRate)
			}
		})
	}
}
