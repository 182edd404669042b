package domain

import "github.com/gagliardetto/solana-go"

// PoolCache is the live view of on-chain pool state. Writers are the
// ingestion feed (one goroutine per connection), the reader is the scheduler
// taking one snapshot per trading tick.
type PoolCache interface {
	// Upsert applies state only if its Slot is newer than the stored
	// observation for the address. Stale and duplicate updates are a
	// silent no-op: late feed data is expected, not an error.
	Upsert(address solana.PublicKey, state PoolState)

	// Snapshot returns a consistent, immutable copy-on-read view ordered
	// by address. The error reports cache-level failure, not emptiness.
	Snapshot() (PoolCacheSnapshot, error)

	// Len reports the number of tracked pools.
	Len() int
}
