// Package memory provides the in-process pool state cache shared between the
// ingestion feed (writer) and the scheduler (reader). It is the only mutable
// state the two sides share, so all synchronization lives here.
package memory

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// numStripes is a power of two so the stripe index reduces to a mask.
const numStripes = 32

type stripe struct {
	mu    sync.RWMutex
	pools map[solana.PublicKey]domain.PoolState
}

// PoolCache is a striped concurrent map of pool address to last observed
// state. Updates to pools on different stripes never contend; a snapshot
// locks one stripe at a time so writers are never blocked for longer than
// one stripe copy. Entries are never removed: stale pools stay visible with
// their age derivable from ObservedAt.
type PoolCache struct {
	stripes [numStripes]stripe
	size    atomic.Int64
	logger  *slog.Logger
}

// NewPoolCache creates an empty cache.
func NewPoolCache(logger *slog.Logger) *PoolCache {
	c := &PoolCache{
		logger: logger.With(slog.String("component", "pool_cache")),
	}
	for i := range c.stripes {
		c.stripes[i].pools = make(map[solana.PublicKey]domain.PoolState)
	}
	return c
}

func (c *PoolCache) stripeFor(address solana.PublicKey) *stripe {
	idx := binary.BigEndian.Uint64(address[:8]) & (numStripes - 1)
	return &c.stripes[idx]
}

// Upsert applies state if its slot is strictly newer than the stored
// observation. Older and duplicate slots are dropped silently: streaming
// ingestion delivers out-of-order and duplicate updates as a matter of
// course.
func (c *PoolCache) Upsert(address solana.PublicKey, state domain.PoolState) {
	st := c.stripeFor(address)
	st.mu.Lock()
	defer st.mu.Unlock()

	prev, exists := st.pools[address]
	if exists && state.Slot <= prev.Slot {
		return
	}
	state.Address = address
	st.pools[address] = state
	if !exists {
		c.size.Add(1)
		c.logger.Debug("pool tracked",
			slog.String("address", address.String()),
			slog.String("dex", string(state.Dex)),
			slog.Uint64("slot", state.Slot),
		)
	}
}

// Snapshot returns an immutable copy of every entry, ordered by address
// ascending. Each entry is copied under its stripe's read lock; writers to
// other stripes proceed concurrently. The returned value is owned by the
// caller and never mutated by the cache.
func (c *PoolCache) Snapshot() (domain.PoolCacheSnapshot, error) {
	entries := make([]domain.PoolState, 0, c.size.Load())
	for i := range c.stripes {
		st := &c.stripes[i]
		st.mu.RLock()
		for _, p := range st.pools {
			entries = append(entries, p)
		}
		st.mu.RUnlock()
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Address[:], entries[j].Address[:]) < 0
	})
	return domain.PoolCacheSnapshot{
		TakenAt: time.Now().UTC(),
		Entries: entries,
	}, nil
}

// Len reports how many pools are tracked.
func (c *PoolCache) Len() int {
	return int(c.size.Load())
}

var _ domain.PoolCache = (*PoolCache)(nil)
