// Package oracle is the read-only price feed contract the engine falls back
// to when one side of the book has no liquidity. The core never writes
// through it; a missing, zero, or stale rate means "no fallback available".
package oracle

import (
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/acmedex/matchbook/pkg/util"
)

// Rate is a timestamped reference price, quote per base at WAD scale.
type Rate struct {
	Price     *uint256.Int
	Timestamp int64 // unix seconds
}

// Feed yields the latest reference rate. ok is false when no usable rate
// exists under the feed's staleness policy.
type Feed interface {
	Latest() (Rate, bool)
}

// MemoryFeed is a writable in-process feed with a max-age staleness policy.
// An external price writer pushes rates in; readers get (rate, false) once
// the last write is older than maxAge.
type MemoryFeed struct {
	mu     sync.RWMutex
	rate   Rate
	maxAge time.Duration
	clock  util.Clock
}

func NewMemoryFeed(maxAge time.Duration, clock util.Clock) *MemoryFeed {
	return &MemoryFeed{maxAge: maxAge, clock: clock}
}

// Write records a new reference price at the current time.
func (f *MemoryFeed) Write(price *uint256.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = Rate{Price: price.Clone(), Timestamp: f.clock.Now().Unix()}
}

// Latest returns the most recent rate, or ok=false when the feed is unset,
// zero, or stale.
func (f *MemoryFeed) Latest() (Rate, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.rate.Price == nil || f.rate.Price.IsZero() {
		return Rate{}, false
	}
	if f.maxAge > 0 {
		age := f.clock.Now().Unix() - f.rate.Timestamp
		if age > int64(f.maxAge/time.Second) {
			return Rate{}, false
		}
	}
	return Rate{Price: f.rate.Price.Clone(), Timestamp: f.rate.Timestamp}, true
}
