package clmm

import (
	"errors"
	"fmt"
)

// Decode failure kinds. A *DecodeError matches exactly one of these with errors.Is.
var (
	ErrTooShort         = errors.New("account data too short")
	ErrUnexpectedLayout = errors.New("unexpected account layout")
	ErrEncoding         = errors.New("malformed account encoding")
	ErrCompression      = errors.New("account decompression failed")
)

// DecodeError reports why an account payload could not be turned into a record.
type DecodeError struct {
	Kind   error  // one of ErrTooShort, ErrUnexpectedLayout, ErrEncoding, ErrCompression
	Layout string // layout being decoded, empty for payload errors
	Field  string // first field that could not be read, if any
	Err    error  // underlying cause, may be nil
}

func (e *DecodeError) Error() string {
	msg := e.Kind.Error()
	if e.Layout != "" {
		msg = fmt.Sprintf("%s: %s", e.Layout, msg)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field %s)", msg, e.Field)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Sentinel errors for pricing.
var (
	ErrInvalidTick        = errors.New("tick out of bounds")
	ErrInvalidSqrtPrice   = errors.New("sqrt price must be positive")
	ErrInvalidTickSpacing = errors.New("tick spacing must be positive")
	ErrNoLiquidity        = errors.New("pool has no active liquidity")
)
