// Package clmm decodes Raydium concentrated-liquidity pool accounts and prices
// the tick range around the current price.
package clmm

import (
	"crypto/sha256"
	"fmt"
)

// DiscriminatorSize is the length of the Anchor account tag.
const DiscriminatorSize = 8

// FieldKind is the wire type of one layout field. All integers are little-endian.
type FieldKind int

const (
	U8 FieldKind = iota
	U16
	U32
	I32
	U64
	U128
	Pubkey
)

// Size returns the encoded width in bytes.
func (k FieldKind) Size() int {
	switch k {
	case U8:
		return 1
	case U16:
		return 2
	case U32, I32:
		return 4
	case U64:
		return 8
	case U128:
		return 16
	case Pubkey:
		return 32
	default:
		panic(fmt.Sprintf("clmm: unknown field kind %d", k))
	}
}

func (k FieldKind) String() string {
	switch k {
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case I32:
		return "i32"
	case U64:
		return "u64"
	case U128:
		return "u128"
	case Pubkey:
		return "pubkey"
	default:
		return "unknown"
	}
}

// Field is one named, fixed-width entry in a layout.
type Field struct {
	Name string
	Kind FieldKind
}

// Layout describes the leading fixed-offset part of an account: an 8-byte
// discriminator followed by packed fields with no alignment padding.
// Trailing account bytes past the last field are ignored.
type Layout struct {
	Name          string
	Discriminator [DiscriminatorSize]byte
	Fields        []Field

	index map[string]fieldPos
	size  int
}

type fieldPos struct {
	offset int
	kind   FieldKind
}

// NewLayout builds a layout whose discriminator is sha256("account:<name>")[:8].
func NewLayout(name string, fields ...Field) *Layout {
	l := &Layout{
		Name:          name,
		Discriminator: AccountDiscriminator(name),
		Fields:        fields,
		index:         make(map[string]fieldPos, len(fields)),
	}

	off := DiscriminatorSize
	for _, f := range fields {
		if _, dup := l.index[f.Name]; dup {
			panic(fmt.Sprintf("clmm: duplicate field %q in layout %s", f.Name, name))
		}
		l.index[f.Name] = fieldPos{offset: off, kind: f.Kind}
		off += f.Kind.Size()
	}
	l.size = off

	return l
}

// AccountDiscriminator returns the Anchor account discriminator for name.
func AccountDiscriminator(name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// Size is the minimum number of bytes needed to decode every field.
func (l *Layout) Size() int {
	return l.size
}

// Offset returns the byte offset of the named field.
func (l *Layout) Offset(name string) (int, bool) {
	pos, ok := l.index[name]
	return pos.offset, ok
}

// position returns where the named field lives. Layout tables are static,
// so a missing name or a kind mismatch is a programming error.
func (l *Layout) position(name string, kind FieldKind) int {
	pos, ok := l.index[name]
	if !ok {
		panic(fmt.Sprintf("clmm: layout %s has no field %q", l.Name, name))
	}
	if pos.kind != kind {
		panic(fmt.Sprintf("clmm: field %s.%s is %s, read as %s", l.Name, name, pos.kind, kind))
	}
	return pos.offset
}

// firstShortField names the first field whose end lies past n bytes.
func (l *Layout) firstShortField(n int) string {
	if n < DiscriminatorSize {
		return "discriminator"
	}
	for _, f := range l.Fields {
		if l.index[f.Name].offset+f.Kind.Size() > n {
			return f.Name
		}
	}
	return ""
}

// PoolStateLayout is the prefix of the Raydium CLMM PoolState account up to tick_current.
var PoolStateLayout = NewLayout("PoolState",
	Field{"bump", U8},
	Field{"amm_config", Pubkey},
	Field{"owner", Pubkey},
	Field{"token_mint_0", Pubkey},
	Field{"token_mint_1", Pubkey},
	Field{"token_vault_0", Pubkey},
	Field{"token_vault_1", Pubkey},
	Field{"observation_key", Pubkey},
	Field{"mint_decimals_0", U8},
	Field{"mint_decimals_1", U8},
	Field{"tick_spacing", U16},
	Field{"liquidity", U128},
	Field{"sqrt_price_x64", U128},
	Field{"tick_current", I32},
)

// AmmConfigLayout is the prefix of the Raydium CLMM AmmConfig account up to fund_fee_rate.
var AmmConfigLayout = NewLayout("AmmConfig",
	Field{"bump", U8},
	Field{"index", U16},
	Field{"owner", Pubkey},
	Field{"protocol_fee_rate", U32},
	Field{"trade_fee_rate", U32},
	Field{"tick_spacing", U16},
	Field{"fund_fee_rate", U32},
)
