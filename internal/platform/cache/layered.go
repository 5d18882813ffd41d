package cache

import (
	"context"
	"errors"
	"time"
)

// Layer names reported to LayeredCache.OnLookup.
const (
	LayerL1 = "l1"
	LayerL2 = "l2"
)

// LayeredCache is a two-tier cache: a fast local L1 in front of a shared L2.
// Either layer may be nil.
type LayeredCache struct {
	l1, l2 Cache

	// L1MaxTTL caps how long values live in L1 so instances converge on L2.
	L1MaxTTL time.Duration

	// OnLookup, if set, is called for every layer consulted by Get.
	OnLookup func(layer string, hit bool)
}

// NewLayeredCache creates a new layered cache
func NewLayeredCache(l1, l2 Cache) *LayeredCache {
	return &LayeredCache{l1: l1, l2: l2, L1MaxTTL: time.Minute}
}

func (lc *LayeredCache) observe(layer string, hit bool) {
	if lc.OnLookup != nil {
		lc.OnLookup(layer, hit)
	}
}

func (lc *LayeredCache) l1TTL(ttl time.Duration) time.Duration {
	if lc.L1MaxTTL > 0 && ttl > lc.L1MaxTTL {
		return lc.L1MaxTTL
	}
	return ttl
}

// Get checks L1 then L2, backfilling L1 on an L2 hit. L2 errors other than
// ErrNotFound are returned so callers can tell an outage from a miss.
func (lc *LayeredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if lc.l1 != nil {
		if val, err := lc.l1.Get(ctx, key); err == nil {
			lc.observe(LayerL1, true)
			return val, nil
		}
		lc.observe(LayerL1, false)
	}

	if lc.l2 == nil {
		return nil, ErrNotFound
	}

	val, err := lc.l2.Get(ctx, key)
	if err != nil {
		lc.observe(LayerL2, false)
		return nil, err
	}
	lc.observe(LayerL2, true)

	if lc.l1 != nil {
		_ = lc.l1.Set(ctx, key, val, lc.l1TTL(time.Minute))
	}
	return val, nil
}

// Set writes through to both layers. It fails only if every present layer fails.
func (lc *LayeredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var l1Err, l2Err error
	if lc.l1 != nil {
		l1Err = lc.l1.Set(ctx, key, value, lc.l1TTL(ttl))
	}
	if lc.l2 != nil {
		l2Err = lc.l2.Set(ctx, key, value, ttl)
	}

	switch {
	case lc.l2 != nil && l2Err != nil && (lc.l1 == nil || l1Err != nil):
		return l2Err
	case lc.l2 == nil && l1Err != nil:
		return l1Err
	}
	return nil
}

// Delete removes key from both layers.
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	var errs []error
	if lc.l1 != nil {
		errs = append(errs, lc.l1.Delete(ctx, key))
	}
	if lc.l2 != nil {
		errs = append(errs, lc.l2.Delete(ctx, key))
	}
	return errors.Join(errs...)
}

// Close closes both layers.
func (lc *LayeredCache) Close() error {
	var errs []error
	if lc.l1 != nil {
		errs = append(errs, lc.l1.Close())
	}
	if lc.l2 != nil {
		errs = append(errs, lc.l2.Close())
	}
	return errors.Join(errs...)
}
