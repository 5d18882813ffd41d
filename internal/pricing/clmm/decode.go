package clmm

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/blockchain"
)

// Account data encodings understood by DecodePayload.
const (
	EncodingBase64     = "base64"
	EncodingBase64Zstd = "base64+zstd"
)

// PoolState is the decoded head of a Raydium CLMM pool account.
type PoolState struct {
	Bump           uint8
	AmmConfig      blockchain.PublicKey
	Owner          blockchain.PublicKey
	TokenMint0     blockchain.PublicKey
	TokenMint1     blockchain.PublicKey
	TokenVault0    blockchain.PublicKey
	TokenVault1    blockchain.PublicKey
	ObservationKey blockchain.PublicKey
	MintDecimals0  uint8
	MintDecimals1  uint8
	TickSpacing    uint16
	Liquidity      *big.Int // u128
	SqrtPriceX64   *big.Int // u128, Q64.64
	TickCurrent    int32
}

// AmmConfig is the decoded head of a Raydium CLMM fee configuration account.
type AmmConfig struct {
	Bump            uint8
	Index           uint16
	Owner           blockchain.PublicKey
	ProtocolFeeRate uint32
	TradeFeeRate    uint32 // parts per million
	TickSpacing     uint16
	FundFeeRate     uint32
}

var (
	zstdOnce    sync.Once
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func sharedZstdDecoder() (*zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdDecoder, zstdErr
}

// DecodePayload reverses the transport encoding of account data.
func DecodePayload(data, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingBase64, EncodingBase64Zstd:
	default:
		return nil, &DecodeError{Kind: ErrEncoding, Err: fmt.Errorf("unsupported encoding %q", encoding)}
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, &DecodeError{Kind: ErrEncoding, Err: err}
	}
	if encoding == EncodingBase64 {
		return raw, nil
	}

	dec, err := sharedZstdDecoder()
	if err != nil {
		return nil, &DecodeError{Kind: ErrCompression, Err: err}
	}
	out, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, &DecodeError{Kind: ErrCompression, Err: err}
	}
	return out, nil
}

// reader pulls typed fields out of a buffer that has already been checked
// against its layout's size and discriminator.
type reader struct {
	layout *Layout
	data   []byte
}

func newReader(l *Layout, data []byte) (*reader, error) {
	if len(data) < l.Size() {
		return nil, &DecodeError{
			Kind:   ErrTooShort,
			Layout: l.Name,
			Field:  l.firstShortField(len(data)),
			Err:    fmt.Errorf("got %d bytes, need %d", len(data), l.Size()),
		}
	}
	if !bytes.Equal(data[:DiscriminatorSize], l.Discriminator[:]) {
		return nil, &DecodeError{
			Kind:   ErrUnexpectedLayout,
			Layout: l.Name,
			Field:  "discriminator",
			Err:    fmt.Errorf("got %x, want %x", data[:DiscriminatorSize], l.Discriminator[:]),
		}
	}
	return &reader{layout: l, data: data}, nil
}

func (r *reader) u8(name string) uint8 {
	return r.data[r.layout.position(name, U8)]
}

func (r *reader) u16(name string) uint16 {
	off := r.layout.position(name, U16)
	return binary.LittleEndian.Uint16(r.data[off:])
}

func (r *reader) u32(name string) uint32 {
	off := r.layout.position(name, U32)
	return binary.LittleEndian.Uint32(r.data[off:])
}

func (r *reader) i32(name string) int32 {
	off := r.layout.position(name, I32)
	return int32(binary.LittleEndian.Uint32(r.data[off:]))
}

func (r *reader) u128(name string) *big.Int {
	off := r.layout.position(name, U128)
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[15-i] = r.data[off+i]
	}
	return new(big.Int).SetBytes(be)
}

func (r *reader) pubkey(name string) blockchain.PublicKey {
	off := r.layout.position(name, Pubkey)
	var pk blockchain.PublicKey
	copy(pk[:], r.data[off:off+blockchain.PublicKeySize])
	return pk
}

// DecodePoolState parses raw PoolState account bytes.
func DecodePoolState(data []byte) (*PoolState, error) {
	r, err := newReader(PoolStateLayout, data)
	if err != nil {
		return nil, err
	}

	return &PoolState{
		Bump:           r.u8("bump"),
		AmmConfig:      r.pubkey("amm_config"),
		Owner:          r.pubkey("owner"),
		TokenMint0:     r.pubkey("token_mint_0"),
		TokenMint1:     r.pubkey("token_mint_1"),
		TokenVault0:    r.pubkey("token_vault_0"),
		TokenVault1:    r.pubkey("token_vault_1"),
		ObservationKey: r.pubkey("observation_key"),
		MintDecimals0:  r.u8("mint_decimals_0"),
		MintDecimals1:  r.u8("mint_decimals_1"),
		TickSpacing:    r.u16("tick_spacing"),
		Liquidity:      r.u128("liquidity"),
		SqrtPriceX64:   r.u128("sqrt_price_x64"),
		TickCurrent:    r.i32("tick_current"),
	}, nil
}

// DecodeAmmConfig parses raw AmmConfig account bytes.
func DecodeAmmConfig(data []byte) (*AmmConfig, error) {
	r, err := newReader(AmmConfigLayout, data)
	if err != nil {
		return nil, err
	}

	return &AmmConfig{
		Bump:            r.u8("bump"),
		Index:           r.u16("index"),
		Owner:           r.pubkey("owner"),
		ProtocolFeeRate: r.u32("protocol_fee_rate"),
		TradeFeeRate:    r.u32("trade_fee_rate"),
		TickSpacing:     r.u16("tick_spacing"),
		FundFeeRate:     r.u32("fund_fee_rate"),
	}, nil
}

// DecodePoolStatePayload is DecodePayload followed by DecodePoolState.
func DecodePoolStatePayload(data, encoding string) (*PoolState, error) {
	raw, err := DecodePayload(data, encoding)
	if err != nil {
		return nil, err
	}
	return DecodePoolState(raw)
}

// DecodeAmmConfigPayload is DecodePayload followed by DecodeAmmConfig.
func DecodeAmmConfigPayload(data, encoding string) (*AmmConfig, error) {
	raw, err := DecodePayload(data, encoding)
	if err != nil {
		return nil, err
	}
	return DecodeAmmConfig(raw)
}
